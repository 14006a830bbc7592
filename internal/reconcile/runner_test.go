package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SecureCloud-biz/autopi-core/internal/manifest"
	"github.com/SecureCloud-biz/autopi-core/internal/release"
	"github.com/SecureCloud-biz/autopi-core/internal/runtime/runtimetest"
)

func testContainer(name, image, tag string) *manifest.ContainerSpec {
	return &manifest.ContainerSpec{QualifiedName: name, Image: image, Tag: tag}
}

// chainedProject declares a project whose containers form one start chain.
func chainedProject(name, version string, containers ...string) *manifest.Project {
	p := &manifest.Project{Name: name, Version: version}
	for _, c := range containers {
		p.Containers = append(p.Containers, testContainer(c, "registry.example.com/"+c, version))
	}
	return p
}

// indexOf returns the position of the first call matching method and target,
// or -1 when absent.
func indexOf(calls []runtimetest.Call, method, target string) int {
	for i, c := range calls {
		if c.Method == method && c.Target == target {
			return i
		}
	}
	return -1
}

type fakeVerifier struct {
	errs  map[string]error
	calls []string
}

func (f *fakeVerifier) Verify(ctx context.Context, imageRef, publicKey string, ignoreTlog bool) (string, error) {
	f.calls = append(f.calls, imageRef)
	if err := f.errs[imageRef]; err != nil {
		return "", err
	}
	return "sha256:0000000000000000000000000000000000000000000000000000000000000000", nil
}

// brokenFilesystem reports every path as missing, which Rotate treats as an
// interrupted rotation.
type brokenFilesystem struct{}

func (brokenFilesystem) PathExists(string) (bool, error) { return false, nil }
func (brokenFilesystem) RemoveAll(string) error          { return nil }
func (brokenFilesystem) Rename(string, string) error     { return nil }

func TestRunPhaseOrdering(t *testing.T) {
	rt := runtimetest.NewFake()
	alpha := chainedProject("alpha", "2", "alpha-db", "alpha-api")
	alpha.ObsoleteContainers = []string{"alpha-db-v1"}
	beta := chainedProject("beta", "2", "beta-web")

	m := &manifest.Manifest{
		RemoveUnknownContainers: true,
		Registry:                &manifest.RegistryConfig{Host: "registry.example.com", Username: "ci", Password: "secret"},
		Projects:                []*manifest.Project{alpha, beta},
	}

	outcomes, err := NewRunner(logr.Discard(), rt, m, RunnerOptions{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Released())
	assert.True(t, outcomes[1].Released())

	calls := rt.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "Login", calls[0].Method, "login must precede everything else")

	// Every pull, for every project, happens before the prune listing and
	// before any container is touched.
	list := indexOf(calls, "ListRunningContainerNames", "")
	require.GreaterOrEqual(t, list, 0)
	for _, ref := range []string{"registry.example.com/alpha-db:2", "registry.example.com/alpha-api:2", "registry.example.com/beta-web:2"} {
		pull := indexOf(calls, "PullImage", ref)
		require.GreaterOrEqual(t, pull, 0, ref)
		assert.Less(t, pull, list, "pulls precede pruning")
	}

	// Per-project: obsolete containers stop before the new chain starts,
	// and the chain starts in declared order.
	stopObsolete := indexOf(calls, "StopContainer", "alpha-db-v1")
	startDB := indexOf(calls, "StartContainer", "alpha-db")
	startAPI := indexOf(calls, "StartContainer", "alpha-api")
	startWeb := indexOf(calls, "StartContainer", "beta-web")
	require.GreaterOrEqual(t, stopObsolete, 0)
	require.GreaterOrEqual(t, startDB, 0)
	require.GreaterOrEqual(t, startAPI, 0)
	require.GreaterOrEqual(t, startWeb, 0)
	assert.Less(t, list, stopObsolete, "pruning precedes the per-project phases")
	assert.Less(t, stopObsolete, startDB)
	assert.Less(t, startDB, startAPI)
	assert.Less(t, startAPI, startWeb, "projects are visited in declared order")
}

func TestRunZeroContainerProject(t *testing.T) {
	rt := runtimetest.NewFake()
	project := &manifest.Project{Name: "empty", Version: "3", ObsoleteContainers: []string{"empty-old"}}
	m := &manifest.Manifest{Projects: []*manifest.Project{project}}

	outcomes, err := NewRunner(logr.Discard(), rt, m, RunnerOptions{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Released(), "a project with no containers trivially releases")

	assert.Empty(t, rt.CallsTo("StartContainer"))
	assert.Equal(t, []string{"empty-old"}, rt.CallsTo("RemoveContainer"), "obsolete containers are removed after release")
}

func TestRunProjectFailureIsContained(t *testing.T) {
	rt := runtimetest.NewFake()
	rt.PullErrs = map[string]error{
		"registry.example.com/alpha-api:2": errors.New("manifest unknown"),
	}
	alpha := chainedProject("alpha", "2", "alpha-db", "alpha-api")
	alpha.FallbackContainers = []string{"alpha-v1"}
	beta := chainedProject("beta", "2", "beta-web")
	m := &manifest.Manifest{Projects: []*manifest.Project{alpha, beta}}

	outcomes, err := NewRunner(logr.Discard(), rt, m, RunnerOptions{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	failed := outcomes[0]
	assert.False(t, failed.Released())
	require.NotNil(t, failed.FailedOperation)
	assert.Equal(t, release.PullID("registry.example.com/alpha-api", "2"), failed.FailedOperation.ID)

	// The failed project is fully compensated: every declared container
	// stopped, fallbacks restarted.
	calls := rt.Calls()
	for _, name := range []string{"alpha-db", "alpha-api"} {
		i := indexOf(calls, "StopContainer", name)
		require.GreaterOrEqual(t, i, 0, name)
		assert.False(t, calls[i].ErrorOnAbsent)
	}
	fallback := indexOf(calls, "RunModule", "start")
	require.GreaterOrEqual(t, fallback, 0)
	assert.Equal(t, map[string]any{"name": "alpha-v1"}, calls[fallback].Params)

	// The sibling project is unaffected.
	assert.True(t, outcomes[1].Released())
	assert.GreaterOrEqual(t, indexOf(calls, "StartContainer", "beta-web"), 0)
}

func TestRunRotateFailureFailsClosed(t *testing.T) {
	rt := runtimetest.NewFake()
	project := chainedProject("web", "4", "web-app")
	project.PurgeDirectories = []string{"/var/lib/web/cache"}
	m := &manifest.Manifest{Projects: []*manifest.Project{project}}

	outcomes, err := NewRunner(logr.Discard(), rt, m, RunnerOptions{Filesystem: brokenFilesystem{}}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	outcome := outcomes[0]
	assert.False(t, outcome.Released())
	require.NotNil(t, outcome.FailedOperation)
	assert.Equal(t, release.OpDirectoryRename, outcome.FailedOperation.Kind)
	assert.Equal(t, "/var/lib/web/cache", outcome.FailedOperation.Target)

	assert.Empty(t, rt.CallsTo("StartContainer"), "no container starts against an unrotated directory")
	assert.Equal(t, []string{"web-app"}, rt.CallsTo("StopContainer"), "failure compensation stops the project")
}

func TestRunVerificationFailureFailsClosed(t *testing.T) {
	rt := runtimetest.NewFake()
	verifier := &fakeVerifier{errs: map[string]error{
		"registry.example.com/api-server:5": errors.New("no matching signatures"),
	}}
	project := chainedProject("api", "5", "api-server")
	m := &manifest.Manifest{
		Verify:   &manifest.VerifyConfig{PublicKey: "-----BEGIN PUBLIC KEY-----"},
		Projects: []*manifest.Project{project},
	}

	outcomes, err := NewRunner(logr.Discard(), rt, m, RunnerOptions{Verifier: verifier}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	outcome := outcomes[0]
	assert.False(t, outcome.Released())
	require.NotNil(t, outcome.FailedOperation)
	assert.Equal(t, "verify/registry.example.com/api-server:5", outcome.FailedOperation.ID)

	assert.Empty(t, rt.CallsTo("PullImage"), "unverified images are never pulled")
	assert.Empty(t, rt.CallsTo("StartContainer"))
}

func TestRunVerificationPassesThrough(t *testing.T) {
	rt := runtimetest.NewFake()
	verifier := &fakeVerifier{}
	project := chainedProject("api", "5", "api-server")
	m := &manifest.Manifest{
		Verify:   &manifest.VerifyConfig{PublicKey: "-----BEGIN PUBLIC KEY-----"},
		Projects: []*manifest.Project{project},
	}

	outcomes, err := NewRunner(logr.Discard(), rt, m, RunnerOptions{Verifier: verifier}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Released())
	assert.Equal(t, []string{"registry.example.com/api-server:5"}, verifier.calls)
}

func TestRunLoginFailureAbortsCycle(t *testing.T) {
	rt := runtimetest.NewFake()
	rt.LoginErr = errors.New("401 unauthorized")
	m := &manifest.Manifest{
		Registry: &manifest.RegistryConfig{Host: "registry.example.com", Username: "ci", Password: "bad"},
		Projects: []*manifest.Project{chainedProject("web", "1", "web-app")},
	}

	outcomes, err := NewRunner(logr.Discard(), rt, m, RunnerOptions{}).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, outcomes)
	assert.Empty(t, rt.CallsTo("PullImage"))
}

func TestRunPruningIsGated(t *testing.T) {
	rt := runtimetest.NewFake()
	rt.Running = []string{"stray"}
	m := &manifest.Manifest{Projects: []*manifest.Project{chainedProject("web", "1", "web-app")}}

	_, err := NewRunner(logr.Discard(), rt, m, RunnerOptions{}).Run(context.Background())
	require.NoError(t, err)

	for _, c := range rt.Calls() {
		assert.NotEqual(t, "ListRunningContainerNames", c.Method, "pruning must not run without the flag")
	}
	assert.Empty(t, rt.CallsTo("RemoveContainer"))
}

func TestRunPruneFailureDoesNotBlockRollout(t *testing.T) {
	rt := runtimetest.NewFake()
	rt.ListErr = errors.New("daemon unavailable")
	m := &manifest.Manifest{
		RemoveUnknownContainers: true,
		Projects:                []*manifest.Project{chainedProject("web", "1", "web-app")},
	}

	outcomes, err := NewRunner(logr.Discard(), rt, m, RunnerOptions{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Released())
}

func TestRunCancellationStopsBetweenProjects(t *testing.T) {
	rt := runtimetest.NewFake()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &manifest.Manifest{Projects: []*manifest.Project{chainedProject("web", "1", "web-app")}}
	outcomes, err := NewRunner(logr.Discard(), rt, m, RunnerOptions{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, outcomes)
	assert.Empty(t, rt.CallsTo("StartContainer"))
}
