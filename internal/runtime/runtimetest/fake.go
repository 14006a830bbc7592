// Package runtimetest provides a recording fake of the runtime client for
// unit tests. Calls are recorded in order across all methods so tests can
// assert cross-operation sequencing, and per-target errors can be injected.
package runtimetest

import (
	"context"
	"fmt"
	"sync"
)

// Call records one invocation against the fake runtime.
type Call struct {
	// Method is the Client method name ("PullImage", "StartContainer", ...).
	Method string
	// Target is the image:tag ref for pulls, the container name for
	// lifecycle calls, and the module name for RunModule.
	Target string
	// Force mirrors the force flag on RemoveContainer.
	Force bool
	// ErrorOnAbsent mirrors the flag on StopContainer.
	ErrorOnAbsent bool
	// Params carries StartContainer parameters or RunModule kwargs.
	Params map[string]any
}

// Fake is a Client that records calls and serves injected results.
type Fake struct {
	mu    sync.Mutex
	calls []Call

	// Running is returned by ListRunningContainerNames.
	Running []string

	// LoginErr is returned by Login.
	LoginErr error
	// PullErrs maps image:tag refs to injected pull errors.
	PullErrs map[string]error
	// StartErrs maps container names to injected start errors.
	StartErrs map[string]error
	// StopErrs maps container names to injected stop errors.
	StopErrs map[string]error
	// RemoveErrs maps container names to injected remove errors.
	RemoveErrs map[string]error
	// ModuleErrs maps "module/name" to injected RunModule errors.
	ModuleErrs map[string]error
	// ListErr is returned by ListRunningContainerNames.
	ListErr error
}

// NewFake constructs an empty recording fake.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// Calls returns a copy of all recorded calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the ordered targets of all calls to the given method.
func (f *Fake) CallsTo(method string) []string {
	var targets []string
	for _, c := range f.Calls() {
		if c.Method == method {
			targets = append(targets, c.Target)
		}
	}
	return targets
}

func (f *Fake) Login(ctx context.Context) error {
	f.record(Call{Method: "Login"})
	return f.LoginErr
}

func (f *Fake) PullImage(ctx context.Context, image, tag string) error {
	ref := fmt.Sprintf("%s:%s", image, tag)
	f.record(Call{Method: "PullImage", Target: ref})
	return f.PullErrs[ref]
}

func (f *Fake) StartContainer(ctx context.Context, name, image, tag string, params map[string]any) error {
	f.record(Call{Method: "StartContainer", Target: name, Params: params})
	return f.StartErrs[name]
}

func (f *Fake) StopContainer(ctx context.Context, name string, errorOnAbsent bool) error {
	f.record(Call{Method: "StopContainer", Target: name, ErrorOnAbsent: errorOnAbsent})
	return f.StopErrs[name]
}

func (f *Fake) RemoveContainer(ctx context.Context, name string, force bool) error {
	f.record(Call{Method: "RemoveContainer", Target: name, Force: force})
	return f.RemoveErrs[name]
}

func (f *Fake) ListRunningContainerNames(ctx context.Context) ([]string, error) {
	f.record(Call{Method: "ListRunningContainerNames"})
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]string, len(f.Running))
	copy(out, f.Running)
	return out, nil
}

func (f *Fake) RunModule(ctx context.Context, module string, kwargs map[string]any) error {
	f.record(Call{Method: "RunModule", Target: module, Params: kwargs})
	if name, ok := kwargs["name"]; ok {
		return f.ModuleErrs[fmt.Sprintf("%s/%v", module, name)]
	}
	return f.ModuleErrs[module]
}
