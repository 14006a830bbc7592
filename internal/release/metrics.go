package release

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RolloutStatus represents the rollout phase for the status gauge.
type RolloutStatus int

const (
	// RolloutStatusNone indicates no rollout is in progress.
	RolloutStatusNone RolloutStatus = 0
	// RolloutStatusRolling indicates a rollout is in progress.
	RolloutStatusRolling RolloutStatus = 1
	// RolloutStatusReleased indicates the last rollout released.
	RolloutStatusReleased RolloutStatus = 2
	// RolloutStatusFailed indicates the last rollout failed.
	RolloutStatusFailed RolloutStatus = 3
	// RolloutStatusCompensating indicates compensation is running.
	RolloutStatusCompensating RolloutStatus = 4
)

var (
	// rolloutStatusGauge tracks the current rollout status per project.
	rolloutStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "release",
			Subsystem: "rollout",
			Name:      "status",
			Help:      "Current rollout status per project (0=none, 1=rolling, 2=released, 3=failed, 4=compensating)",
		},
		[]string{"project"},
	)

	// rolloutDurationHistogram tracks the total duration of project rollouts.
	rolloutDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "release",
			Subsystem: "rollout",
			Name:      "duration_seconds",
			Help:      "Total duration of project rollouts in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"project", "version"},
	)

	// operationsTotal counts graph operations by kind and terminal status.
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "release",
			Subsystem: "rollout",
			Name:      "operations_total",
			Help:      "Total graph operations by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	// compensationErrorsTotal counts best-effort compensation failures.
	compensationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "release",
			Subsystem: "rollout",
			Name:      "compensation_errors_total",
			Help:      "Total errors during best-effort compensation, by project",
		},
		[]string{"project"},
	)
)

func init() {
	prometheus.MustRegister(
		rolloutStatusGauge,
		rolloutDurationHistogram,
		operationsTotal,
		compensationErrorsTotal,
	)
}

// Metrics records rollout metrics for one project.
type Metrics struct {
	project string
	version string
	began   time.Time
}

// NewMetrics constructs a metrics recorder for a project rollout.
func NewMetrics(project, version string) *Metrics {
	return &Metrics{project: project, version: version}
}

// RolloutBegan marks the rollout as in progress.
func (m *Metrics) RolloutBegan() {
	m.began = time.Now()
	rolloutStatusGauge.WithLabelValues(m.project).Set(float64(RolloutStatusRolling))
}

// RolloutDecided records the terminal rollout decision.
func (m *Metrics) RolloutDecided(result Result) {
	status := RolloutStatusReleased
	if result == ResultFailed {
		status = RolloutStatusFailed
	}
	rolloutStatusGauge.WithLabelValues(m.project).Set(float64(status))
	if !m.began.IsZero() {
		rolloutDurationHistogram.WithLabelValues(m.project, m.version).Observe(time.Since(m.began).Seconds())
	}
}

// CompensationBegan marks compensation as in progress.
func (m *Metrics) CompensationBegan() {
	rolloutStatusGauge.WithLabelValues(m.project).Set(float64(RolloutStatusCompensating))
}

// Done restores the status gauge to its terminal value after compensation.
func (m *Metrics) Done(result Result) {
	status := RolloutStatusReleased
	if result == ResultFailed {
		status = RolloutStatusFailed
	}
	rolloutStatusGauge.WithLabelValues(m.project).Set(float64(status))
}

func observeOperation(op *Operation) {
	operationsTotal.WithLabelValues(string(op.Kind), string(op.Status)).Inc()
}

func observeCompensationError(project string) {
	compensationErrorsTotal.WithLabelValues(project).Inc()
}
