package wasmplugintest

import (
	"context"
	"fmt"
	"sync"

	"github.com/nanoem/pluginwasm/runtime"
)

// Runtime is a runtime.Runtime that instantiates registered guests. A
// binary selects its guest by content, so tests write any unique bytes to
// a plugin file and register the guest under them.
type Runtime struct {
	mu     sync.Mutex
	guests map[string]*Guest
	caps   []runtime.Capabilities
	opened int
	closed int
}

var _ runtime.Runtime = (*Runtime)(nil)

// NewRuntime returns an empty fake runtime.
func NewRuntime() *Runtime {
	return &Runtime{guests: map[string]*Guest{}}
}

// Register binds binary to g.
func (r *Runtime) Register(binary []byte, g *Guest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guests[string(binary)] = g
}

// Factory returns a runtime.Factory handing out r for every plugin.
func (r *Runtime) Factory() runtime.Factory {
	return func(runtime.Config) (runtime.Runtime, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.opened++
		return r, nil
	}
}

// Capabilities returns the capabilities of every instantiation in order.
func (r *Runtime) Capabilities() []runtime.Capabilities {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runtime.Capabilities(nil), r.caps...)
}

// Open returns how many factory handouts have not been closed.
func (r *Runtime) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened - r.closed
}

type compiled struct {
	guest *Guest
}

func (compiled) Close(context.Context) error { return nil }

// Compile implements runtime.Runtime.
func (r *Runtime) Compile(_ context.Context, binary []byte) (runtime.CompiledModule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guests[string(binary)]
	if !ok {
		return nil, fmt.Errorf("no guest registered for %d bytes: %w", len(binary), runtime.ErrModuleCompileFailed)
	}
	return compiled{guest: g}, nil
}

// Instantiate implements runtime.Runtime.
func (r *Runtime) Instantiate(_ context.Context, module runtime.CompiledModule, caps runtime.Capabilities) (runtime.ModuleInstance, runtime.Context, error) {
	c, ok := module.(compiled)
	if !ok {
		return nil, nil, fmt.Errorf("foreign compiled module %T: %w", module, runtime.ErrModuleInstantiateFailed)
	}
	r.mu.Lock()
	r.caps = append(r.caps, caps.Clone())
	r.mu.Unlock()
	return c.guest.instantiate(), noContext{}, nil
}

// Close implements runtime.Runtime.
func (r *Runtime) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

type noContext struct{}

func (noContext) WithRuntimeContext(ctx context.Context) context.Context { return ctx }
func (noContext) Close(context.Context) error                            { return nil }
