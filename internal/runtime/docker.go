package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	enginerrors "github.com/SecureCloud-biz/autopi-core/internal/errors"
)

const (
	// DefaultCallTimeout bounds a single daemon round-trip. Pulls of large
	// images are the slowest call this has to accommodate.
	DefaultCallTimeout = 5 * time.Minute
	// DefaultCallsPerSecond smooths bursts against the daemon. The daemon
	// serializes heavy work itself; this only keeps the CLI fork rate sane.
	DefaultCallsPerSecond = 10
)

// DockerOptions configures the exec-based docker client.
type DockerOptions struct {
	// Binary is the docker CLI binary. Defaults to "docker".
	Binary string
	// CallTimeout is the per-call deadline. Defaults to DefaultCallTimeout.
	CallTimeout time.Duration
	// RegistryHost, Username, and Password are used by Login.
	RegistryHost string
	Username     string
	Password     string
}

// runCommand executes a CLI invocation and returns its combined output.
// Injectable for tests.
type runCommand func(ctx context.Context, stdin, binary string, args ...string) (string, error)

// DockerClient is a Client backed by the docker CLI. It shells out rather
// than speaking the API socket directly, so it works against any daemon the
// local CLI is configured for (including remote DOCKER_HOST setups).
type DockerClient struct {
	logger  logr.Logger
	opts    DockerOptions
	limiter *rate.Limiter
	run     runCommand
}

// NewDockerClient constructs a DockerClient.
func NewDockerClient(logger logr.Logger, opts DockerOptions) *DockerClient {
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	return &DockerClient{
		logger:  logger,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(DefaultCallsPerSecond), 1),
		run:     execCommand,
	}
}

func execCommand(ctx context.Context, stdin, binary string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w: %s", binary, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// call runs one daemon round-trip under the rate limiter and per-call
// deadline. A deadline hit is reported as a timeout error.
func (c *DockerClient) call(ctx context.Context, stdin string, args ...string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	out, err := c.run(callCtx, stdin, c.opts.Binary, args...)
	if err != nil && callCtx.Err() == context.DeadlineExceeded {
		return out, enginerrors.WrapTimeout(err)
	}
	return out, err
}

// Login authenticates against the configured registry. The password travels
// on stdin, never in argv.
func (c *DockerClient) Login(ctx context.Context) error {
	if c.opts.RegistryHost == "" {
		return nil
	}

	c.logger.Info("Logging in to registry", "host", c.opts.RegistryHost, "username", c.opts.Username)
	_, err := c.call(ctx, c.opts.Password, "login", "--username", c.opts.Username, "--password-stdin", c.opts.RegistryHost)
	if err != nil {
		return fmt.Errorf("registry login failed: %w", err)
	}
	return nil
}

// PullImage pulls image:tag.
func (c *DockerClient) PullImage(ctx context.Context, image, tag string) error {
	ref := fmt.Sprintf("%s:%s", image, tag)
	c.logger.V(1).Info("Pulling image", "ref", ref)

	if _, err := c.call(ctx, "", "pull", ref); err != nil {
		return enginerrors.WrapImagePull(err)
	}
	return nil
}

// StartContainer creates and starts a detached container.
func (c *DockerClient) StartContainer(ctx context.Context, name, image, tag string, params map[string]any) error {
	args := []string{"run", "--detach", "--name", name}
	flags, command, err := startupArgs(params)
	if err != nil {
		return enginerrors.WrapContainerStart(fmt.Errorf("container %q: %w", name, err))
	}
	args = append(args, flags...)
	args = append(args, fmt.Sprintf("%s:%s", image, tag))
	args = append(args, command...)

	c.logger.V(1).Info("Starting container", "name", name, "image", image, "tag", tag)
	if _, err := c.call(ctx, "", args...); err != nil {
		return enginerrors.WrapContainerStart(err)
	}
	return nil
}

// StopContainer stops the named container.
func (c *DockerClient) StopContainer(ctx context.Context, name string, errorOnAbsent bool) error {
	c.logger.V(1).Info("Stopping container", "name", name, "error_on_absent", errorOnAbsent)

	out, err := c.call(ctx, "", "stop", name)
	if err != nil {
		if !errorOnAbsent && isAbsentError(out, err) {
			c.logger.V(1).Info("Container already absent", "name", name)
			return nil
		}
		return enginerrors.WrapContainerStop(err)
	}
	return nil
}

// RemoveContainer removes the named container.
func (c *DockerClient) RemoveContainer(ctx context.Context, name string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, name)

	c.logger.V(1).Info("Removing container", "name", name, "force", force)
	out, err := c.call(ctx, "", args...)
	if err != nil {
		if force && isAbsentError(out, err) {
			return nil
		}
		return enginerrors.WrapContainerRemove(err)
	}
	return nil
}

// ListRunningContainerNames returns the names of all running containers.
func (c *DockerClient) ListRunningContainerNames(ctx context.Context) ([]string, error) {
	out, err := c.call(ctx, "", "ps", "--format", "{{.Names}}")
	if err != nil {
		return nil, fmt.Errorf("failed to list running containers: %w", err)
	}

	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// RunModule invokes an arbitrary docker subcommand. The "name" kwarg is
// passed as the positional argument; everything else becomes flags.
func (c *DockerClient) RunModule(ctx context.Context, module string, kwargs map[string]any) error {
	args := []string{module}

	keys := make([]string, 0, len(kwargs))
	for key := range kwargs {
		if key != "name" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		flags, err := flagValues(key, kwargs[key])
		if err != nil {
			return fmt.Errorf("module %q: %w", module, err)
		}
		args = append(args, flags...)
	}
	if name, ok := kwargs["name"]; ok {
		args = append(args, fmt.Sprint(name))
	}

	c.logger.V(1).Info("Running runtime module", "module", module, "args", args)
	if _, err := c.call(ctx, "", args...); err != nil {
		return err
	}
	return nil
}

func isAbsentError(out string, err error) bool {
	msg := strings.ToLower(out + " " + err.Error())
	return strings.Contains(msg, "no such container") ||
		strings.Contains(msg, "is not running")
}
