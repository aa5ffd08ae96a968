// Package wasmplugin hosts WebAssembly plugins that transform the models and
// motions of a 3-D character editor.
package wasmplugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nanoem/pluginwasm/runtime"
	_ "github.com/nanoem/pluginwasm/runtime/wazero" // Register Wazero runtime
)

// State is a step of the per-plugin lifecycle.
type State uint8

const (
	StateUninstantiated State = iota
	StateInstantiated
	StateInitialized
	StateCreated
	StateFunctionSet
	StateExecuted
	StateDestroyed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninstantiated:
		return "uninstantiated"
	case StateInstantiated:
		return "instantiated"
	case StateInitialized:
		return "initialized"
	case StateCreated:
		return "created"
	case StateFunctionSet:
		return "function_set"
	case StateExecuted:
		return "executed"
	case StateDestroyed:
		return "destroyed"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Plugin wraps one instantiated guest module and its opaque handle.
// A Plugin is not safe for concurrent use; Controller serialises access.
type Plugin struct {
	id      ulid.ULID
	path    string
	kind    Kind
	logger  *zap.Logger
	metrics *Metrics

	runtime  runtime.Runtime
	rtctx    runtime.Context
	compiled runtime.CompiledModule
	module   runtime.ModuleInstance
	mem      *guestMemory

	state     State
	handle    uint32
	hasHandle bool
	// failed is set while the last execute reported a non-zero status.
	failed bool
	// trap is the first engine error; the handle is presumed invalid after it.
	trap   error
	closed bool
}

// PluginInfo describes a loaded plugin.
type PluginInfo struct {
	ID          string
	Path        string
	Kind        Kind
	State       State
	Name        string
	Version     string
	Description string
	ABIVersion  ABIVersion
	Functions   []string
	Trapped     bool
}

// LoadPlugin reads the module at path and instantiates it.
func LoadPlugin(ctx context.Context, path string, kind Kind, opts ...Option) (*Plugin, error) {
	o := newOptions(opts)
	return loadPlugin(ctx, path, kind, &o)
}

// NewPlugin compiles, instantiates and validates binary. path identifies the
// plugin; two paths are two plugins even when the bytes are identical.
func NewPlugin(ctx context.Context, path string, binary []byte, kind Kind, opts ...Option) (*Plugin, error) {
	o := newOptions(opts)
	return newPlugin(ctx, path, binary, kind, &o)
}

func loadPlugin(ctx context.Context, path string, kind Kind, o *options) (*Plugin, error) {
	binary, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wasm: error reading module: %w", err)
	}
	return newPlugin(ctx, path, binary, kind, o)
}

func newPlugin(ctx context.Context, path string, binary []byte, kind Kind, o *options) (*Plugin, error) {
	rt, err := o.newRuntime()
	if err != nil {
		return nil, fmt.Errorf("wasm: error creating runtime: %w", err)
	}

	p := &Plugin{
		id:      ulid.Make(),
		path:    path,
		kind:    kind,
		metrics: o.metrics,
		runtime: rt,
	}
	p.logger = o.logger.Named("plugin").With(
		zap.String("id", p.id.String()),
		zap.String("path", path),
		zap.Stringer("kind", kind),
	)

	if err := p.instantiate(ctx, binary, o); err != nil {
		if cerr := p.Close(ctx); cerr != nil {
			p.logger.Warn("failed to release rejected plugin", zap.Error(cerr))
		}
		return nil, err
	}
	p.logger.Debug("plugin instantiated")
	return p, nil
}

func (p *Plugin) instantiate(ctx context.Context, binary []byte, o *options) error {
	compiled, err := p.runtime.Compile(ctx, binary)
	if err != nil {
		return fmt.Errorf("wasm: error compiling module: %w", err)
	}
	p.compiled = compiled

	caps := o.capabilities.Clone()
	if caps.Name == "" {
		caps.Name = filepath.Base(p.path)
	}
	if o.capabilityBuilder != nil {
		o.capabilityBuilder(p.path, &caps)
	}

	module, rtctx, err := p.runtime.Instantiate(ctx, compiled, caps)
	if err != nil {
		return fmt.Errorf("wasm: error instantiating module: %w", err)
	}
	p.module, p.rtctx = module, rtctx

	if err := Validate(module, p.kind); err != nil {
		return err
	}
	p.mem = &guestMemory{
		memory: module.ExportedMemory(guestExportMemory),
		call:   p.call,
	}
	p.state = StateInstantiated
	return nil
}

func (p *Plugin) ID() string    { return p.id.String() }
func (p *Plugin) Path() string  { return p.path }
func (p *Plugin) Kind() Kind    { return p.kind }
func (p *Plugin) State() State  { return p.state }
func (p *Plugin) Failed() bool  { return p.failed }
func (p *Plugin) Trapped() bool { return p.trap != nil }

// Handle returns the opaque guest handle and whether create has set it.
func (p *Plugin) Handle() (uint32, bool) { return p.handle, p.hasHandle }

// call invokes an export. Any engine error is a trap and poisons the plugin.
func (p *Plugin) call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := p.module.Function(name)
	if fn == nil {
		return nil, missingExportError(name)
	}
	label := strings.TrimPrefix(name, p.kind.Prefix())
	p.metrics.guestCall(p.kind, label)
	res, err := fn.Call(p.rtctx.WithRuntimeContext(ctx), params...)
	if err != nil {
		p.metrics.guestTrap(p.kind, label)
		if p.trap == nil {
			p.trap = err
			p.logger.Warn("guest trapped", zap.String("export", name), zap.Error(err))
		}
		return nil, fmt.Errorf("wasm: %s trapped: %w: %w", name, ErrGuestTrap, err)
	}
	return res, nil
}

func (p *Plugin) exported(suffix string) bool {
	return p.module.Function(p.kind.Export(suffix)) != nil
}

// usable rejects every operation on a plugin that is gone or poisoned.
func (p *Plugin) usable() error {
	switch {
	case p.closed || p.state >= StateDestroyed:
		return fmt.Errorf("wasm: %s: %w", p.path, ErrPluginDestroyed)
	case p.trap != nil:
		return fmt.Errorf("wasm: %s trapped earlier: %w: %w", p.path, ErrGuestTrap, p.trap)
	case p.state == StateUninstantiated:
		return fmt.Errorf("wasm: %s: %w", p.path, ErrInvalidState)
	}
	return nil
}

func (p *Plugin) require(op string, states ...State) error {
	if err := p.usable(); err != nil {
		return err
	}
	if !slices.Contains(states, p.state) {
		return fmt.Errorf("wasm: %s in state %s: %w", op, p.state, ErrInvalidState)
	}
	return nil
}

// Initialize runs the optional process-wide initializer once.
func (p *Plugin) Initialize(ctx context.Context) error {
	if err := p.require("initialize", StateInstantiated); err != nil {
		return err
	}
	if err := p.callLifecycle(ctx, ExportInitialize); err != nil {
		return err
	}
	p.state = StateInitialized
	return nil
}

// Create asks the guest for its opaque handle.
func (p *Plugin) Create(ctx context.Context) error {
	if err := p.require("create", StateInstantiated, StateInitialized); err != nil {
		return err
	}
	handle, err := p.createOpaque(ctx)
	if err != nil {
		return err
	}
	p.handle, p.hasHandle = handle, true
	p.state = StateCreated
	return nil
}

// Destroy releases the opaque handle. Guest traps are logged, not returned,
// so teardown always completes.
func (p *Plugin) Destroy(ctx context.Context) error {
	if p.closed || p.state >= StateDestroyed {
		return fmt.Errorf("wasm: %s: %w", p.path, ErrPluginDestroyed)
	}
	defer func() {
		p.state = StateDestroyed
		p.handle, p.hasHandle = 0, false
	}()
	if !p.hasHandle {
		return nil
	}
	if p.trap != nil {
		p.logger.Warn("skipping destroy of trapped plugin")
		return nil
	}
	p.destroyOpaque(ctx)
	return nil
}

// Terminate runs the optional process-wide finalizer. The handle must have
// been destroyed first.
func (p *Plugin) Terminate(ctx context.Context) error {
	if p.closed || p.state == StateTerminated {
		return fmt.Errorf("wasm: %s: %w", p.path, ErrPluginDestroyed)
	}
	if p.hasHandle {
		return fmt.Errorf("wasm: terminate before destroy: %w", ErrInvalidState)
	}
	defer func() { p.state = StateTerminated }()
	if p.trap != nil || p.state == StateUninstantiated {
		return nil
	}
	return p.callLifecycle(ctx, ExportTerminate)
}

// Close drops the instance, its compiled module and its engine.
func (p *Plugin) Close(ctx context.Context) error {
	if p.closed {
		return nil
	}
	p.closed = true

	var err error
	if p.module != nil {
		err = multierr.Append(err, p.module.Close(ctx))
	}
	if p.rtctx != nil {
		err = multierr.Append(err, p.rtctx.Close(ctx))
	}
	if p.compiled != nil {
		err = multierr.Append(err, p.compiled.Close(ctx))
	}
	if p.runtime != nil {
		err = multierr.Append(err, p.runtime.Close(ctx))
	}
	if err != nil {
		return fmt.Errorf("wasm: error closing plugin: %w", err)
	}
	return nil
}

// retire tears the plugin down as far as its state allows and closes it.
// Errors are logged.
func (p *Plugin) retire(ctx context.Context) {
	if p.state < StateDestroyed && !p.closed {
		if err := p.Destroy(ctx); err != nil {
			p.logger.Warn("failed to destroy plugin", zap.Error(err))
		}
	}
	if p.state == StateDestroyed && !p.closed {
		if err := p.Terminate(ctx); err != nil {
			p.logger.Warn("failed to terminate plugin", zap.Error(err))
		}
	}
	if err := p.Close(ctx); err != nil {
		p.logger.Warn("failed to close plugin", zap.Error(err))
	}
}

// Info reads the plugin metadata from the guest.
func (p *Plugin) Info(ctx context.Context) (PluginInfo, error) {
	info := PluginInfo{
		ID:      p.ID(),
		Path:    p.path,
		Kind:    p.kind,
		State:   p.state,
		Trapped: p.Trapped(),
	}
	var err error
	if info.Name, err = p.Name(ctx); err != nil {
		return info, err
	}
	if info.Version, err = p.Version(ctx); err != nil {
		return info, err
	}
	if info.Description, err = p.Description(ctx); err != nil {
		return info, err
	}
	if info.ABIVersion, err = p.ABIVersion(ctx); err != nil {
		return info, err
	}
	if info.Functions, err = p.Functions(ctx); err != nil {
		return info, err
	}
	return info, nil
}
