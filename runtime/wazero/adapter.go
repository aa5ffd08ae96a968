package wazero

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/stealthrocket/wasi-go"
	wasigo "github.com/stealthrocket/wasi-go/imports"
	"github.com/stealthrocket/wasi-go/imports/wasi_snapshot_preview1"
	"github.com/stealthrocket/wazergo"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/nanoem/pluginwasm/runtime"
)

// reactorStart is the start function of a WASI reactor module.
const reactorStart = "_initialize"

// wazeroRuntime implements runtime.Runtime using Wazero
type wazeroRuntime struct {
	runtime wazero.Runtime
	config  runtime.Config
}

// wazeroCompiledModule implements runtime.CompiledModule for Wazero
type wazeroCompiledModule struct {
	module wazero.CompiledModule
}

// wazeroModuleInstance implements runtime.ModuleInstance for Wazero
type wazeroModuleInstance struct {
	instance api.Module
}

// wazeroFunctionInstance implements runtime.FunctionInstance for Wazero
type wazeroFunctionInstance struct {
	name     string
	function api.Function
}

// wazeroMemory implements runtime.Memory for Wazero
type wazeroMemory struct {
	memory api.Memory
}

// wazeroContext implements runtime.Context for Wazero
type wazeroContext struct {
	sys              wasi.System
	wasiP1HostModule *wasi_snapshot_preview1.Module
	devNull          *os.File
}

// Compile compiles the given Wasm binary into a CompiledModule
func (r *wazeroRuntime) Compile(ctx context.Context, binary []byte) (runtime.CompiledModule, error) {
	compiled, err := r.runtime.CompileModule(ctx, binary)
	if err != nil {
		return nil, fmt.Errorf("wazero compile error: %w: %w", runtime.ErrModuleCompileFailed, err)
	}
	return &wazeroCompiledModule{module: compiled}, nil
}

// Instantiate sets up WASI from caps and instantiates the guest as a reactor.
func (r *wazeroRuntime) Instantiate(ctx context.Context, module runtime.CompiledModule, caps runtime.Capabilities) (runtime.ModuleInstance, runtime.Context, error) {
	wazeroModule, ok := module.(*wazeroCompiledModule)
	if !ok {
		return nil, nil, fmt.Errorf("invalid module type for wazero runtime: %w", runtime.ErrInvalidConfiguration)
	}

	builder := wasigo.NewBuilder().
		WithName(caps.Name).
		WithArgs(caps.Args...).
		WithEnv(caps.Env...).
		WithDirs(caps.Dirs...)

	var (
		stdout  io.Writer = os.Stdout
		stderr  io.Writer = os.Stderr
		devNull *os.File
	)
	if !caps.InheritStdio {
		f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s for guest stdio: %w", os.DevNull, err)
		}
		devNull = f
		fd := int(f.Fd())
		builder = builder.WithStdio(fd, fd, fd)
		stdout, stderr = io.Discard, io.Discard
	}

	ctx, sys, err := builder.Instantiate(ctx, r.runtime)
	if err != nil {
		closeQuietly(devNull)
		return nil, nil, fmt.Errorf("wasi instantiation failed: %w: %w", runtime.ErrModuleInstantiateFailed, err)
	}

	// Extract the wasi host module instance from the context as a workaround
	// to avoid panic when calling wasi functions with different context than the one used to instantiate the host module.
	wasiP1HostModule, ok := moduleInstanceFor[*wasi_snapshot_preview1.Module](ctx)
	if !ok {
		sys.Close(ctx)
		closeQuietly(devNull)
		return nil, nil, fmt.Errorf("failed to retrieve wasi host module instance: %w", runtime.ErrInvalidConfiguration)
	}

	config := wazero.NewModuleConfig().
		WithStartFunctions(reactorStart).
		WithStdout(stdout).
		WithStderr(stderr)

	instance, err := r.runtime.InstantiateModule(ctx, wazeroModule.module, config)
	if err != nil {
		sys.Close(ctx)
		closeQuietly(devNull)
		return nil, nil, fmt.Errorf("guest module instantiation failed: %w: %w", runtime.ErrModuleInstantiateFailed, err)
	}

	runtimeCtx := &wazeroContext{
		sys:              sys,
		wasiP1HostModule: wasiP1HostModule,
		devNull:          devNull,
	}
	return &wazeroModuleInstance{instance: instance}, runtimeCtx, nil
}

// Close closes the runtime and releases all resources
func (r *wazeroRuntime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

// Close releases the resources associated with the compiled module
func (m *wazeroCompiledModule) Close(ctx context.Context) error {
	return m.module.Close(ctx)
}

// Function returns a handle to an exported function
func (m *wazeroModuleInstance) Function(name string) runtime.FunctionInstance {
	fn := m.instance.ExportedFunction(name)
	if fn == nil {
		return nil
	}
	return &wazeroFunctionInstance{name: name, function: fn}
}

// ExportedMemory returns the memory exported under name
func (m *wazeroModuleInstance) ExportedMemory(name string) runtime.Memory {
	memory := m.instance.ExportedMemory(name)
	if memory == nil {
		return nil
	}
	return &wazeroMemory{memory: memory}
}

// Close closes the instance and releases its resources
func (m *wazeroModuleInstance) Close(ctx context.Context) error {
	return m.instance.Close(ctx)
}

func (f *wazeroFunctionInstance) Definition() runtime.FunctionDefinition {
	def := f.function.Definition()
	return runtime.FunctionDefinition{
		Name:        f.name,
		ParamTypes:  fromAPIValueTypes(def.ParamTypes()),
		ResultTypes: fromAPIValueTypes(def.ResultTypes()),
	}
}

// Call executes the function with the given parameters
func (f *wazeroFunctionInstance) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	return f.function.Call(ctx, params...)
}

func (mem *wazeroMemory) Size() uint32 {
	return mem.memory.Size()
}

// Read reads 'size' bytes from the memory at 'offset'
func (mem *wazeroMemory) Read(offset uint32, size uint32) ([]byte, bool) {
	return mem.memory.Read(offset, size)
}

// Write writes 'data' to the memory at 'offset'
func (mem *wazeroMemory) Write(offset uint32, data []byte) bool {
	return mem.memory.Write(offset, data)
}

func (mem *wazeroMemory) ReadUint32Le(offset uint32) (uint32, bool) {
	return mem.memory.ReadUint32Le(offset)
}

func (mem *wazeroMemory) WriteUint32Le(offset uint32, v uint32) bool {
	return mem.memory.WriteUint32Le(offset, v)
}

// Close releases runtime-specific resources
func (c *wazeroContext) Close(ctx context.Context) error {
	err := c.sys.Close(ctx)
	if c.devNull != nil {
		// wasi-go may already have closed the descriptor it was handed.
		if cerr := c.devNull.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) && err == nil {
			err = cerr
		}
	}
	return err
}

// WithRuntimeContext returns a context configured for runtime-specific operations
func (c *wazeroContext) WithRuntimeContext(ctx context.Context) context.Context {
	return withModuleInstance(ctx, c.wasiP1HostModule)
}

func closeQuietly(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}

func fromAPIValueTypes(types []api.ValueType) []runtime.ValueType {
	out := make([]runtime.ValueType, len(types))
	for i, vt := range types {
		out[i] = fromAPIValueType(vt)
	}
	return out
}

// fromAPIValueType converts api.ValueType to runtime.ValueType
func fromAPIValueType(vt api.ValueType) runtime.ValueType {
	switch vt {
	case api.ValueTypeI32:
		return runtime.ValueTypeI32
	case api.ValueTypeI64:
		return runtime.ValueTypeI64
	case api.ValueTypeF32:
		return runtime.ValueTypeF32
	case api.ValueTypeF64:
		return runtime.ValueTypeF64
	default:
		return runtime.ValueType(-1)
	}
}

// moduleInstanceFor returns the module instance from the context that contains the internal
// state required for WASI host functions.
// NOTE: wasi-go returns context containing internal state when initializing the host module,
// and the same context is required when calling wasi functions exposed by wasi-go.
func moduleInstanceFor[T wazergo.Module](ctx context.Context) (res T, ok bool) {
	res, ok = ctx.Value((*wazergo.ModuleInstance[T])(nil)).(T)
	return
}

// withModuleInstance returns a Go context inheriting from ctx and containing the
// state needed for module instantiated from wazero host module to properly bind
// their methods to their receiver (e.g. the module instance).
func withModuleInstance[T wazergo.Module](ctx context.Context, instance T) context.Context {
	return context.WithValue(ctx, (*wazergo.ModuleInstance[T])(nil), instance)
}
