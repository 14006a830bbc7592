package reconcile

import (
	"fmt"
	"strings"

	"github.com/SecureCloud-biz/autopi-core/internal/release"
)

// Summary aggregates the per-project outcomes of one reconciliation cycle.
type Summary struct {
	Outcomes []release.Outcome
}

// NewSummary wraps the outcomes of one cycle.
func NewSummary(outcomes []release.Outcome) Summary {
	return Summary{Outcomes: outcomes}
}

// Failed reports whether any project failed to release.
func (s Summary) Failed() bool {
	for _, outcome := range s.Outcomes {
		if !outcome.Released() {
			return true
		}
	}
	return false
}

// Released returns the names of the projects that released successfully.
func (s Summary) Released() []string {
	var names []string
	for _, outcome := range s.Outcomes {
		if outcome.Released() {
			names = append(names, outcome.Project.Name)
		}
	}
	return names
}

// FailedProjects returns the names of the projects that did not release.
func (s Summary) FailedProjects() []string {
	var names []string
	for _, outcome := range s.Outcomes {
		if !outcome.Released() {
			names = append(names, outcome.Project.Name)
		}
	}
	return names
}

// String renders a one-line summary suitable for CLI output.
func (s Summary) String() string {
	if len(s.Outcomes) == 0 {
		return "no projects declared"
	}

	var parts []string
	for _, outcome := range s.Outcomes {
		switch {
		case outcome.Released():
			parts = append(parts, fmt.Sprintf("%s: released", outcome.Project.Name))
		case outcome.FailedOperation != nil:
			parts = append(parts, fmt.Sprintf("%s: failed (%s)", outcome.Project.Name, outcome.FailedOperation.ID))
		default:
			parts = append(parts, fmt.Sprintf("%s: failed", outcome.Project.Name))
		}
	}
	return strings.Join(parts, ", ")
}
