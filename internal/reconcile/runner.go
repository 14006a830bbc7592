// Package reconcile drives one full reconciliation cycle: computing what
// each declared project needs and applying the ordered phase sequence that
// converges the host onto it.
//
// The phase order per cycle is fixed: registry login, image verification,
// image pulls for all projects, fleet pruning, then per project in declared
// order: stop obsolete containers, rotate purge directories, start the new
// containers, and compensate for the outcome. Projects are independent; one
// project's failure never blocks another's rollout.
package reconcile

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/SecureCloud-biz/autopi-core/internal/archive"
	"github.com/SecureCloud-biz/autopi-core/internal/fleet"
	"github.com/SecureCloud-biz/autopi-core/internal/logging"
	"github.com/SecureCloud-biz/autopi-core/internal/manifest"
	"github.com/SecureCloud-biz/autopi-core/internal/release"
	"github.com/SecureCloud-biz/autopi-core/internal/revision"
	"github.com/SecureCloud-biz/autopi-core/internal/rotate"
	"github.com/SecureCloud-biz/autopi-core/internal/runtime"
	"github.com/SecureCloud-biz/autopi-core/internal/security"
)

// Verifier verifies an image signature and returns the resolved digest.
// Satisfied by security.ImageVerifier; injectable for tests.
type Verifier interface {
	Verify(ctx context.Context, imageRef, publicKey string, ignoreTlog bool) (string, error)
}

// RunnerOptions carries the optional collaborators of a Runner.
type RunnerOptions struct {
	// Filesystem backs directory rotation. Defaults to the OS filesystem.
	Filesystem rotate.Filesystem
	// Archiver uploads displaced purge directories before rotation.
	// Nil disables archiving.
	Archiver *archive.Archiver
	// Verifier checks image signatures when the manifest declares a public
	// key. Nil with a declared key constructs the default cosign verifier.
	Verifier Verifier
}

// Runner orchestrates one reconciliation cycle over all declared projects.
// At most one Runner may execute at a time against a given host; callers
// serialize via the run lock.
type Runner struct {
	manifest    *manifest.Manifest
	runtime     runtime.Client
	rotator     *rotate.Rotator
	executor    *release.Executor
	compensator *release.Compensator
	pruner      *fleet.Pruner
	archiver    *archive.Archiver
	verifier    Verifier
	logger      logr.Logger
}

// NewRunner constructs a Runner for one manifest snapshot.
func NewRunner(logger logr.Logger, rt runtime.Client, m *manifest.Manifest, opts RunnerOptions) *Runner {
	fs := opts.Filesystem
	if fs == nil {
		fs = rotate.OSFilesystem{}
	}
	verifier := opts.Verifier
	if verifier == nil && m.Verify != nil {
		verifier = security.NewImageVerifier(logger.WithName("verify"), m.Registry)
	}

	return &Runner{
		manifest:    m,
		runtime:     rt,
		rotator:     rotate.NewRotator(logger.WithName("rotate"), fs),
		executor:    release.NewExecutor(logger.WithName("rollout"), rt),
		compensator: release.NewCompensator(logger.WithName("compensate"), rt),
		pruner:      fleet.NewPruner(logger.WithName("prune"), rt),
		archiver:    opts.Archiver,
		verifier:    verifier,
		logger:      logger,
	}
}

// Run executes one reconciliation cycle and returns one outcome per project,
// in declared order. A returned error means the cycle could not run at all
// (login failure, cancellation); per-project failures are reported in the
// outcomes, not as an error.
func (r *Runner) Run(ctx context.Context) ([]release.Outcome, error) {
	if r.manifest.Registry != nil {
		if err := r.runtime.Login(ctx); err != nil {
			return nil, fmt.Errorf("registry login failed: %w", err)
		}
	}

	// Build each project's graph up front; preflight failures recorded here
	// surface as Failed outcomes in the per-project phase.
	graphs := make(map[string]*release.Graph, len(r.manifest.Projects))
	preflight := make(map[string]*release.Operation)
	for _, project := range r.manifest.Projects {
		graphs[project.Name] = release.BuildGraph(project)
		if op := r.verifyProject(ctx, project); op != nil {
			preflight[project.Name] = op
		}
	}

	// Pull every project's images before anything is stopped or started.
	for _, project := range r.manifest.Projects {
		if _, failed := preflight[project.Name]; failed {
			continue
		}
		r.executor.ExecutePulls(ctx, graphs[project.Name])
	}

	if r.manifest.RemoveUnknownContainers {
		if err := r.pruner.Prune(ctx, r.manifest.Projects); err != nil {
			// Pruning is opportunistic cleanup; the rollout phases proceed.
			r.logger.Error(err, "Fleet pruning failed")
		}
	}

	outcomes := make([]release.Outcome, 0, len(r.manifest.Projects))
	for _, project := range r.manifest.Projects {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, r.reconcileProject(ctx, project, graphs[project.Name], preflight[project.Name]))
	}
	return outcomes, nil
}

// reconcileProject runs the per-project phases and always leaves the project
// compensated: obsolete containers removed on release, everything stopped
// and fallbacks restarted on failure.
func (r *Runner) reconcileProject(ctx context.Context, project *manifest.Project, g *release.Graph, preflightFailure *release.Operation) release.Outcome {
	rev := revision.ProjectRevision(project.Name, project.Version, project.Images())
	logger := r.logger.WithValues("project", project.Name, "version", project.Version, "revision", rev)
	metrics := release.NewMetrics(project.Name, project.Version)
	metrics.RolloutBegan()

	var outcome release.Outcome
	switch {
	case preflightFailure != nil:
		outcome = release.Outcome{Project: project, Result: release.ResultFailed, FailedOperation: preflightFailure}
	default:
		outcome = r.rollout(ctx, project, g, rev, logger)
	}
	metrics.RolloutDecided(outcome.Result)

	// Compensation runs to completion even when the cycle is cancelled;
	// stopping it halfway is exactly the half-running state it prevents.
	compensateCtx := context.WithoutCancel(ctx)
	metrics.CompensationBegan()
	r.compensator.Compensate(compensateCtx, project, outcome)
	metrics.Done(outcome.Result)

	if outcome.Released() {
		logger.Info("Project released")
		logging.LogAuditEvent(logger, logging.EventProjectReleased, map[string]string{
			"project": project.Name,
			"version": project.Version,
		})
	} else {
		fields := map[string]string{
			"project": project.Name,
			"version": project.Version,
		}
		if outcome.FailedOperation != nil {
			fields["failed_operation"] = outcome.FailedOperation.ID
		}
		logger.Info("Project rollout failed")
		logging.LogAuditEvent(logger, logging.EventProjectFailed, fields)
	}
	return outcome
}

// rollout runs the stop-obsolete, rotate, and start phases for one project.
func (r *Runner) rollout(ctx context.Context, project *manifest.Project, g *release.Graph, rev string, logger logr.Logger) release.Outcome {
	// Stop the previous version's containers first so they release ports
	// and other host resources the new containers will claim. Absence is
	// expected; failures are best-effort.
	for _, name := range project.ObsoleteContainers {
		if err := r.runtime.StopContainer(ctx, name, false); err != nil {
			logger.Error(err, "Failed to stop obsolete container", "container", name)
		}
	}

	for _, dir := range project.PurgeDirectories {
		if r.archiver != nil {
			if err := r.archiver.ArchiveDirectory(ctx, project.Name, project.Version, rev, dir); err != nil {
				// Archiving is best-effort; rotation proceeds.
				logger.Error(err, "Failed to archive purge directory", "path", dir)
			}
		}
		if err := r.rotator.Rotate(dir); err != nil {
			logger.Error(err, "Failed to rotate purge directory", "path", dir)
			// Fail closed: do not start containers against a directory
			// state that failed to rotate.
			return release.Outcome{
				Project: project,
				Result:  release.ResultFailed,
				FailedOperation: &release.Operation{
					ID:     fmt.Sprintf("rotate/%s", dir),
					Kind:   release.OpDirectoryRename,
					Target: dir,
					Status: release.StatusFailed,
					Err:    err,
				},
			}
		}
	}

	return r.executor.Execute(ctx, project, g)
}

// verifyProject checks every run-tag image signature for a project. It
// returns a synthetic failed operation when verification is enabled and any
// image fails, nil otherwise.
func (r *Runner) verifyProject(ctx context.Context, project *manifest.Project) *release.Operation {
	if r.verifier == nil || r.manifest.Verify == nil {
		return nil
	}

	for _, container := range project.Containers {
		ref := container.RunRef()
		if _, err := r.verifier.Verify(ctx, ref, r.manifest.Verify.PublicKey, r.manifest.Verify.IgnoreTlog); err != nil {
			r.logger.Error(err, "Image signature verification failed", "project", project.Name, "ref", ref)
			return &release.Operation{
				ID:     fmt.Sprintf("verify/%s", ref),
				Kind:   release.OpImagePull,
				Target: ref,
				Status: release.StatusFailed,
				Err:    err,
			}
		}
	}
	return nil
}
