package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Rollout errors abort the failing project's rollout but are contained
// locally; other projects in the same reconciliation cycle continue.

// ErrImagePull indicates an image pull failure (network, auth, missing tag).
var ErrImagePull = errors.New("image pull error")

// ErrContainerStart indicates the runtime rejected a container start
// (invalid configuration, port conflict, missing image).
var ErrContainerStart = errors.New("container start error")

// Best-effort errors are reported but do not re-open a rollout decision.

// ErrContainerStop indicates a container stop failure. Absence of the
// container is not an error when error-on-absent is disabled.
var ErrContainerStop = errors.New("container stop error")

// ErrContainerRemove indicates a container remove failure. A forced remove
// of an absent container is not an error.
var ErrContainerRemove = errors.New("container remove error")

// ErrDirectoryOperation indicates a purge-directory rotation failure
// (permission, path in use, or an inconsistent half-rotated state). It fails
// the project closed before any container is started.
var ErrDirectoryOperation = errors.New("directory operation error")

// ErrTimeout indicates a runtime call exceeded its per-call deadline. It is
// treated exactly like an explicit runtime error on the same operation.
var ErrTimeout = errors.New("operation timed out")

// IsTimeout checks if an error is a timeout, either our sentinel, a context
// deadline, or a net.Error that timed out.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "deadline exceeded")
}

// WrapImagePull wraps an error as an image pull error.
func WrapImagePull(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrImagePull, err)
}

// WrapContainerStart wraps an error as a container start error.
func WrapContainerStart(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrContainerStart, err)
}

// WrapContainerStop wraps an error as a container stop error.
func WrapContainerStop(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrContainerStop, err)
}

// WrapContainerRemove wraps an error as a container remove error.
func WrapContainerRemove(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrContainerRemove, err)
}

// WrapDirectoryOperation wraps an error as a directory operation error.
func WrapDirectoryOperation(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrDirectoryOperation, err)
}

// WrapTimeout wraps an error as a timeout error. If the error is already a
// timeout, it is returned as-is.
func WrapTimeout(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrTimeout) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTimeout, err)
}

// IsRolloutFatal checks if an error aborts a project's rollout. Pull, start,
// directory, and timeout errors all fail the rollout; stop and remove errors
// during compensation and cleanup do not.
func IsRolloutFatal(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrImagePull) ||
		errors.Is(err, ErrContainerStart) ||
		errors.Is(err, ErrDirectoryOperation) ||
		IsTimeout(err)
}
