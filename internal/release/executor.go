package release

import (
	"context"
	"sync"

	"github.com/go-logr/logr"

	"github.com/SecureCloud-biz/autopi-core/internal/manifest"
	"github.com/SecureCloud-biz/autopi-core/internal/runtime"
)

// Executor walks a rollout graph and applies its operations through the
// runtime client. Image pulls with no dependencies run concurrently; starts
// run strictly in chain order, each attempted only once all its dependencies
// have succeeded.
type Executor struct {
	runtime runtime.Client
	logger  logr.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(logger logr.Logger, rt runtime.Client) *Executor {
	return &Executor{runtime: rt, logger: logger}
}

// ExecutePulls dispatches every pending ImagePull concurrently and waits for
// all of them. Pulls are independent and idempotent; the daemon serializes
// and resource-manages them itself. Failures are recorded on the operations,
// not returned: whether a failed pull matters is decided by the start chain.
func (e *Executor) ExecutePulls(ctx context.Context, g *Graph) {
	var wg sync.WaitGroup
	for _, op := range g.Pulls() {
		if op.Status != StatusPending {
			continue
		}
		op.Status = StatusRunning

		wg.Add(1)
		go func(op *Operation) {
			defer wg.Done()
			if err := e.runtime.PullImage(ctx, op.Image, op.Tag); err != nil {
				e.logger.Error(err, "Image pull failed", "ref", op.Target)
				op.Status = StatusFailed
				op.Err = err
				observeOperation(op)
				return
			}
			op.Status = StatusSucceeded
			observeOperation(op)
		}(op)
	}
	wg.Wait()
}

// Execute drives the graph to completion and decides the project's outcome.
// Any pulls still pending are executed first. The first start that fails,
// or whose pull failed, fails the whole rollout; every
// start after it in the chain is marked Skipped and never attempted.
//
// Cancellation is honored between operations: an in-flight start is allowed
// to finish (the per-call timeout still applies), then the remaining chain
// is skipped and the rollout is Failed so that compensation stops whatever
// was partially started.
func (e *Executor) Execute(ctx context.Context, project *manifest.Project, g *Graph) Outcome {
	e.ExecutePulls(ctx, g)

	var failed *Operation
	cancelled := false
	for _, op := range g.Starts() {
		if failed != nil || cancelled {
			op.Status = StatusSkipped
			observeOperation(op)
			continue
		}
		if ctx.Err() != nil {
			e.logger.Info("Rollout cancelled", "project", project.Name, "container", op.Target)
			cancelled = true
			op.Status = StatusSkipped
			observeOperation(op)
			continue
		}

		if blocker := e.blockedBy(g, op); blocker != nil {
			e.logger.Info("Skipping container start, dependency failed",
				"project", project.Name,
				"container", op.Target,
				"failed_dependency", blocker.ID,
			)
			op.Status = StatusSkipped
			observeOperation(op)
			failed = blocker
			continue
		}

		op.Status = StatusRunning
		container := op.Container
		// The single in-flight start completes even if the run is cancelled
		// underneath it; a killed create/start leaves the container in limbo.
		startCtx := context.WithoutCancel(ctx)
		if err := e.runtime.StartContainer(startCtx, container.QualifiedName, container.Image, container.Tag, container.StartupParameters); err != nil {
			e.logger.Error(err, "Container start failed", "project", project.Name, "container", op.Target)
			op.Status = StatusFailed
			op.Err = err
			observeOperation(op)
			failed = op
			continue
		}
		op.Status = StatusSucceeded
		observeOperation(op)
		e.logger.V(1).Info("Container started", "project", project.Name, "container", op.Target)
	}

	if failed != nil || cancelled {
		return Outcome{Project: project, Result: ResultFailed, FailedOperation: failed}
	}
	return Outcome{Project: project, Result: ResultReleased}
}

// blockedBy returns the failed dependency blocking op, or nil if all
// dependencies succeeded. The chain shape means the blocker is always the
// operation's own pull or the immediately preceding start.
func (e *Executor) blockedBy(g *Graph, op *Operation) *Operation {
	for _, depID := range op.DependsOn {
		dep := g.Operation(depID)
		if dep != nil && dep.Status != StatusSucceeded {
			return dep
		}
	}
	return nil
}
