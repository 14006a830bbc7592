package release

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SecureCloud-biz/autopi-core/internal/manifest"
	"github.com/SecureCloud-biz/autopi-core/internal/runtime/runtimetest"
)

func chainProject(names ...string) *manifest.Project {
	p := &manifest.Project{Name: "web", Version: "2.0.0"}
	for _, name := range names {
		p.Containers = append(p.Containers, &manifest.ContainerSpec{
			QualifiedName: name,
			Image:         "registry.example.com/web/" + name,
			Tag:           "2.0.0",
		})
	}
	return p
}

func TestExecuteReleasesWhenAllStartsSucceed(t *testing.T) {
	rt := runtimetest.NewFake()
	project := chainProject("web-db", "web-api", "web-worker")
	g := BuildGraph(project)

	outcome := NewExecutor(logr.Discard(), rt).Execute(context.Background(), project, g)

	assert.Equal(t, ResultReleased, outcome.Result)
	assert.Nil(t, outcome.FailedOperation)
	assert.Equal(t, []string{"web-db", "web-api", "web-worker"}, rt.CallsTo("StartContainer"))
	for _, op := range g.Operations() {
		assert.Equal(t, StatusSucceeded, op.Status, op.ID)
	}
}

func TestExecuteStartsInDeclarationOrder(t *testing.T) {
	rt := runtimetest.NewFake()
	project := chainProject("web-db", "web-api")
	g := BuildGraph(project)

	NewExecutor(logr.Discard(), rt).Execute(context.Background(), project, g)

	// All pulls complete before any start is attempted, and the starts
	// follow declaration order.
	var sequence []string
	for _, call := range rt.Calls() {
		sequence = append(sequence, call.Method+" "+call.Target)
	}
	assert.Equal(t, "StartContainer web-db", sequence[len(sequence)-2])
	assert.Equal(t, "StartContainer web-api", sequence[len(sequence)-1])
}

func TestExecuteFailFast(t *testing.T) {
	rt := runtimetest.NewFake()
	rt.StartErrs = map[string]error{"web-api": errors.New("port is already allocated")}
	project := chainProject("web-db", "web-api", "web-worker")
	g := BuildGraph(project)

	outcome := NewExecutor(logr.Discard(), rt).Execute(context.Background(), project, g)

	assert.Equal(t, ResultFailed, outcome.Result)
	require.NotNil(t, outcome.FailedOperation)
	assert.Equal(t, StartID("web-api"), outcome.FailedOperation.ID)

	// The container after the failure is never attempted.
	assert.Equal(t, []string{"web-db", "web-api"}, rt.CallsTo("StartContainer"))
	assert.Equal(t, StatusSucceeded, g.Operation(StartID("web-db")).Status)
	assert.Equal(t, StatusFailed, g.Operation(StartID("web-api")).Status)
	assert.Equal(t, StatusSkipped, g.Operation(StartID("web-worker")).Status)
}

func TestExecuteAttributesPullFailure(t *testing.T) {
	rt := runtimetest.NewFake()
	rt.PullErrs = map[string]error{
		"registry.example.com/web/web-api:2.0.0": errors.New("manifest unknown"),
	}
	project := chainProject("web-db", "web-api")
	g := BuildGraph(project)

	outcome := NewExecutor(logr.Discard(), rt).Execute(context.Background(), project, g)

	assert.Equal(t, ResultFailed, outcome.Result)
	require.NotNil(t, outcome.FailedOperation)
	assert.Equal(t, OpImagePull, outcome.FailedOperation.Kind)
	assert.Equal(t, PullID("registry.example.com/web/web-api", "2.0.0"), outcome.FailedOperation.ID)

	// The start blocked by the failed pull is skipped, not attempted.
	assert.Equal(t, []string{"web-db"}, rt.CallsTo("StartContainer"))
	assert.Equal(t, StatusSkipped, g.Operation(StartID("web-api")).Status)
}

func TestExecuteEmptyGraphReleases(t *testing.T) {
	rt := runtimetest.NewFake()
	project := &manifest.Project{Name: "web", Version: "1.0.0"}
	g := BuildGraph(project)

	outcome := NewExecutor(logr.Discard(), rt).Execute(context.Background(), project, g)

	assert.Equal(t, ResultReleased, outcome.Result)
	assert.Empty(t, rt.Calls())
}

func TestExecuteCancellationSkipsRemainingStarts(t *testing.T) {
	rt := runtimetest.NewFake()
	project := chainProject("web-db", "web-api")
	g := BuildGraph(project)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome := NewExecutor(logr.Discard(), rt).Execute(ctx, project, g)

	assert.Equal(t, ResultFailed, outcome.Result)
	assert.Nil(t, outcome.FailedOperation)
	assert.Empty(t, rt.CallsTo("StartContainer"))
	assert.Equal(t, StatusSkipped, g.Operation(StartID("web-db")).Status)
	assert.Equal(t, StatusSkipped, g.Operation(StartID("web-api")).Status)
}

func TestExecutePullsIdempotent(t *testing.T) {
	rt := runtimetest.NewFake()
	project := chainProject("web-db")
	g := BuildGraph(project)
	executor := NewExecutor(logr.Discard(), rt)

	executor.ExecutePulls(context.Background(), g)
	// A second pass finds no pending pulls and issues nothing.
	executor.ExecutePulls(context.Background(), g)

	assert.Equal(t, []string{"registry.example.com/web/web-db:2.0.0"}, rt.CallsTo("PullImage"))
}
