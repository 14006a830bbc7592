package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enginerrors "github.com/SecureCloud-biz/autopi-core/internal/errors"
)

type recordedCall struct {
	stdin string
	args  []string
}

func newTestClient(respond func(args []string) (string, error)) (*DockerClient, *[]recordedCall) {
	calls := &[]recordedCall{}
	client := NewDockerClient(logr.Discard(), DockerOptions{
		RegistryHost: "registry.example.com",
		Username:     "ci",
		Password:     "hunter2",
	})
	client.run = func(ctx context.Context, stdin, binary string, args ...string) (string, error) {
		*calls = append(*calls, recordedCall{stdin: stdin, args: args})
		if respond != nil {
			return respond(args)
		}
		return "", nil
	}
	return client, calls
}

func TestLoginSendsPasswordOnStdin(t *testing.T) {
	client, calls := newTestClient(nil)

	require.NoError(t, client.Login(context.Background()))

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, []string{"login", "--username", "ci", "--password-stdin", "registry.example.com"}, call.args)
	assert.Equal(t, "hunter2", call.stdin)
	assert.NotContains(t, call.args, "hunter2")
}

func TestLoginSkippedWithoutRegistry(t *testing.T) {
	client, calls := newTestClient(nil)
	client.opts.RegistryHost = ""

	require.NoError(t, client.Login(context.Background()))
	assert.Empty(t, *calls)
}

func TestPullImage(t *testing.T) {
	client, calls := newTestClient(nil)

	require.NoError(t, client.PullImage(context.Background(), "registry.example.com/web/db", "2.0.0"))

	require.Len(t, *calls, 1)
	assert.Equal(t, []string{"pull", "registry.example.com/web/db:2.0.0"}, (*calls)[0].args)
}

func TestPullImageErrorIsClassified(t *testing.T) {
	client, _ := newTestClient(func(args []string) (string, error) {
		return "", errors.New("manifest unknown")
	})

	err := client.PullImage(context.Background(), "registry.example.com/web/db", "2.0.0")
	assert.ErrorIs(t, err, enginerrors.ErrImagePull)
}

func TestStartContainerArgs(t *testing.T) {
	client, calls := newTestClient(nil)

	err := client.StartContainer(context.Background(), "web-db", "registry.example.com/web/db", "2.0.0", map[string]any{
		"restart_policy": "unless-stopped",
		"ports":          []any{"5432:5432", "5433:5433"},
		"env":            []any{"PGDATA=/data"},
		"privileged":     true,
		"read_only":      false,
		"memory":         int64(512),
		"command":        []any{"postgres", "-c", "max_connections=200"},
	})
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	assert.Equal(t, []string{
		"run", "--detach", "--name", "web-db",
		"--env", "PGDATA=/data",
		"--memory", "512",
		"--publish", "5432:5432",
		"--publish", "5433:5433",
		"--privileged",
		"--restart", "unless-stopped",
		"registry.example.com/web/db:2.0.0",
		"postgres", "-c", "max_connections=200",
	}, (*calls)[0].args)
}

func TestStartContainerErrorIsClassified(t *testing.T) {
	client, _ := newTestClient(func(args []string) (string, error) {
		return "", errors.New("port is already allocated")
	})

	err := client.StartContainer(context.Background(), "web-api", "registry.example.com/web/api", "2.0.0", nil)
	assert.ErrorIs(t, err, enginerrors.ErrContainerStart)
}

func TestStopContainerAbsentTolerance(t *testing.T) {
	absent := func(args []string) (string, error) {
		return "Error response from daemon: No such container: web-db", errors.New("exit status 1")
	}

	t.Run("absent tolerated when error_on_absent disabled", func(t *testing.T) {
		client, _ := newTestClient(absent)
		assert.NoError(t, client.StopContainer(context.Background(), "web-db", false))
	})

	t.Run("absent reported when error_on_absent enabled", func(t *testing.T) {
		client, _ := newTestClient(absent)
		err := client.StopContainer(context.Background(), "web-db", true)
		assert.ErrorIs(t, err, enginerrors.ErrContainerStop)
	})

	t.Run("real failure always reported", func(t *testing.T) {
		client, _ := newTestClient(func(args []string) (string, error) {
			return "", errors.New("daemon unavailable")
		})
		err := client.StopContainer(context.Background(), "web-db", false)
		assert.ErrorIs(t, err, enginerrors.ErrContainerStop)
	})
}

func TestRemoveContainer(t *testing.T) {
	t.Run("forced remove passes --force", func(t *testing.T) {
		client, calls := newTestClient(nil)
		require.NoError(t, client.RemoveContainer(context.Background(), "web-v1-api", true))
		assert.Equal(t, []string{"rm", "--force", "web-v1-api"}, (*calls)[0].args)
	})

	t.Run("forced remove tolerates absence", func(t *testing.T) {
		client, _ := newTestClient(func(args []string) (string, error) {
			return "Error: No such container: web-v1-api", errors.New("exit status 1")
		})
		assert.NoError(t, client.RemoveContainer(context.Background(), "web-v1-api", true))
	})

	t.Run("unforced remove reports absence", func(t *testing.T) {
		client, _ := newTestClient(func(args []string) (string, error) {
			return "Error: No such container: web-v1-api", errors.New("exit status 1")
		})
		err := client.RemoveContainer(context.Background(), "web-v1-api", false)
		assert.ErrorIs(t, err, enginerrors.ErrContainerRemove)
	})
}

func TestListRunningContainerNames(t *testing.T) {
	client, calls := newTestClient(func(args []string) (string, error) {
		return "web-db\nweb-api\n\n", nil
	})

	names, err := client.ListRunningContainerNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"web-db", "web-api"}, names)
	assert.Equal(t, []string{"ps", "--format", "{{.Names}}"}, (*calls)[0].args)
}

func TestRunModule(t *testing.T) {
	client, calls := newTestClient(nil)

	err := client.RunModule(context.Background(), "start", map[string]any{"name": "web-v1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "web-v1"}, (*calls)[0].args)
}

func TestCallTimeoutIsClassified(t *testing.T) {
	client, _ := newTestClient(nil)
	client.opts.CallTimeout = time.Millisecond
	client.run = func(ctx context.Context, stdin, binary string, args ...string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	err := client.PullImage(context.Background(), "registry.example.com/web/db", "2.0.0")
	assert.True(t, enginerrors.IsTimeout(err))
}
