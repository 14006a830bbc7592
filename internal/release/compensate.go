package release

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/SecureCloud-biz/autopi-core/internal/logging"
	"github.com/SecureCloud-biz/autopi-core/internal/manifest"
	"github.com/SecureCloud-biz/autopi-core/internal/runtime"
)

// Compensator applies the post-rollout actions for a project's outcome.
//
// On Released it removes the containers the new version declared obsolete.
// On Failed it stops every container of the project, whether or not it
// actually started, so no partially-started project is left running, then
// restarts the declared fallback containers. Everything here is
// best-effort cleanup: individual errors are reported and do not re-open the
// rollout decision, and each fallback start is attempted independently.
type Compensator struct {
	runtime runtime.Client
	logger  logr.Logger
}

// NewCompensator constructs a Compensator.
func NewCompensator(logger logr.Logger, rt runtime.Client) *Compensator {
	return &Compensator{runtime: rt, logger: logger}
}

// Compensate applies the compensation for one project's outcome.
func (c *Compensator) Compensate(ctx context.Context, project *manifest.Project, outcome Outcome) {
	if outcome.Released() {
		c.removeObsolete(ctx, project)
		return
	}
	c.stopProject(ctx, project)
	c.startFallbacks(ctx, project)
}

// removeObsolete force-removes the previous version's containers after the
// new version is confirmed running. Forced removal does not error when the
// container is already gone.
func (c *Compensator) removeObsolete(ctx context.Context, project *manifest.Project) {
	for _, name := range project.ObsoleteContainers {
		if err := c.runtime.RemoveContainer(ctx, name, true); err != nil {
			c.logger.Error(err, "Failed to remove obsolete container", "project", project.Name, "container", name)
			observeCompensationError(project.Name)
			continue
		}
		logging.LogAuditEvent(c.logger, logging.EventContainerRemoved, map[string]string{
			"project":   project.Name,
			"container": name,
			"reason":    "obsolete",
		})
	}
}

// stopProject stops every declared container of the project with
// error-on-absent disabled: containers that never started stop silently.
func (c *Compensator) stopProject(ctx context.Context, project *manifest.Project) {
	for _, name := range project.ContainerNames() {
		if err := c.runtime.StopContainer(ctx, name, false); err != nil {
			c.logger.Error(err, "Failed to stop container during compensation", "project", project.Name, "container", name)
			observeCompensationError(project.Name)
			continue
		}
		logging.LogAuditEvent(c.logger, logging.EventContainerStopped, map[string]string{
			"project":   project.Name,
			"container": name,
			"reason":    "rollout_failed",
		})
	}
}

// startFallbacks restarts the known-good fallback containers. A missing or
// already-running fallback is not an error that aborts the loop.
func (c *Compensator) startFallbacks(ctx context.Context, project *manifest.Project) {
	for _, name := range project.FallbackContainers {
		if err := c.runtime.RunModule(ctx, "start", map[string]any{"name": name}); err != nil {
			c.logger.Error(err, "Failed to start fallback container", "project", project.Name, "container", name)
			observeCompensationError(project.Name)
			continue
		}
		logging.LogAuditEvent(c.logger, logging.EventFallbackStarted, map[string]string{
			"project":   project.Name,
			"container": name,
		})
	}
}
