package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/SecureCloud-biz/autopi-core/internal/runlock"
)

// DaemonCmd runs reconciliation cycles on a schedule and serves Prometheus
// metrics. The manifest is reloaded at every tick, so edits take effect on
// the next cycle without a restart.
type DaemonCmd struct {
	ManifestFile string        `kong:"required,name='manifest',help='Path to the HCL release manifest.'"`
	Schedule     string        `kong:"optional,name='schedule',default='@every 5m',help='Cron schedule for reconciliation cycles.'"`
	MetricsAddr  string        `kong:"optional,name='metrics-addr',default=':9090',help='Listen address for the /metrics endpoint.'"`
	LockFile     string        `kong:"optional,name='lock-file',default='/var/run/rollout-engine.pid',help='Pidfile serializing reconciliation runs on this host.'"`
	DockerBinary string        `kong:"optional,name='docker-binary',default='docker',help='Container runtime CLI binary.'"`
	CallTimeout  time.Duration `kong:"optional,name='call-timeout',default='5m',help='Deadline for a single runtime call.'"`
	Verbose      bool          `kong:"optional,name='verbose',short='v',help='Show debug messages.'"`
	JSONLog      bool          `kong:"optional,name='json-log',help='Emit logs as JSON lines.'"`
}

// Run schedules reconciliation cycles until the context is cancelled, then
// waits for the in-flight cycle to finish.
func (cmd DaemonCmd) Run(ctx context.Context) error {
	logger, flush, err := newLogger(cmd.Verbose, cmd.JSONLog)
	if err != nil {
		return err
	}
	defer flush()

	// Fail at startup on a broken manifest instead of at the first tick.
	if _, err := loadManifest(cmd.ManifestFile); err != nil {
		return err
	}

	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger.WithName("cron")),
	))
	if _, err := scheduler.AddFunc(cmd.Schedule, func() { cmd.cycle(ctx, logger) }); err != nil {
		return err
	}

	server := &http.Server{Addr: cmd.MetricsAddr, Handler: metricsMux()}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "Metrics server error")
		}
	}()

	logger.Info("Daemon started", "schedule", cmd.Schedule, "metrics_addr", cmd.MetricsAddr)
	scheduler.Start()

	<-ctx.Done()
	logger.Info("Shutting down, waiting for in-flight cycle")
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	return nil
}

// cycle runs one scheduled reconciliation. Failures are logged, never fatal;
// the next tick gets a fresh attempt.
func (cmd DaemonCmd) cycle(ctx context.Context, logger logr.Logger) {
	m, err := loadManifest(cmd.ManifestFile)
	if err != nil {
		logger.Error(err, "Failed to load manifest, skipping cycle")
		return
	}

	lock, err := runlock.Acquire(logger.WithName("lock"), cmd.LockFile)
	if err != nil {
		logger.Error(err, "Failed to acquire run lock, skipping cycle")
		return
	}
	defer func() { _ = lock.Release() }()

	summary, err := runCycle(ctx, logger, m, cycleOptions{
		dockerBinary: cmd.DockerBinary,
		callTimeout:  cmd.CallTimeout,
	})
	if err != nil {
		logger.Error(err, "Reconciliation cycle aborted")
		return
	}
	logger.Info("Reconciliation cycle finished", "summary", summary.String())
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}
