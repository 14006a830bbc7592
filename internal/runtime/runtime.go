// Package runtime defines the interface to the container runtime daemon and
// an exec-based docker implementation. Every call is a blocking round-trip
// to the daemon, carries a per-call timeout, and treats a timeout as an
// operation failure.
package runtime

import "context"

// Client is the engine's view of the container runtime. Implementations must
// be safe for concurrent use: independent image pulls are dispatched
// concurrently during the pull phase.
type Client interface {
	// Login authenticates against the configured registry.
	Login(ctx context.Context) error

	// PullImage pulls image:tag. Pulling an already-present tag succeeds.
	PullImage(ctx context.Context, image, tag string) error

	// StartContainer creates and starts a container from image:tag under the
	// given name, passing startup parameters through to the runtime.
	StartContainer(ctx context.Context, name, image, tag string, params map[string]any) error

	// StopContainer stops the named container. When errorOnAbsent is false,
	// a missing container is silently treated as success.
	StopContainer(ctx context.Context, name string, errorOnAbsent bool) error

	// RemoveContainer removes the named container. When force is true, a
	// running container is removed and a missing one is not an error.
	RemoveContainer(ctx context.Context, name string, force bool) error

	// ListRunningContainerNames returns the names of all running containers.
	ListRunningContainerNames(ctx context.Context) ([]string, error)

	// RunModule invokes an arbitrary runtime subcommand with keyword
	// arguments. Used for best-effort actions outside the container
	// lifecycle verbs, such as restarting fallback containers.
	RunModule(ctx context.Context, module string, kwargs map[string]any) error
}
