// Package runtime provides an abstraction layer for WebAssembly runtime engines.
package runtime

import "context"

// Runtime represents a Wasm runtime engine
type Runtime interface {
	// Compile compiles the given Wasm binary into a CompiledModule
	Compile(ctx context.Context, binary []byte) (CompiledModule, error)
	// Instantiate links the guest against the WASI host configured from caps
	// and instantiates it as a reactor module.
	Instantiate(ctx context.Context, module CompiledModule, caps Capabilities) (ModuleInstance, Context, error)
	// Close closes the runtime and releases all resources
	Close(ctx context.Context) error
}

// CompiledModule represents a compiled Wasm module, ready for instantiation
type CompiledModule interface {
	// Close releases the resources associated with the compiled module
	Close(ctx context.Context) error
}

// ModuleInstance represents an instantiated Wasm module
type ModuleInstance interface {
	// Function returns a handle to an exported function
	// Returns nil if the function is not found
	Function(name string) FunctionInstance
	// ExportedMemory returns the memory exported under name
	// Returns nil if the module does not export it
	ExportedMemory(name string) Memory
	// Close closes the instance and releases its resources
	Close(ctx context.Context) error
}

// FunctionInstance represents an exported function from a Wasm module
type FunctionInstance interface {
	// Definition describes the signature of the function
	Definition() FunctionDefinition
	// Call executes the function with the given parameters
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// Memory represents the linear memory of a Wasm module instance
type Memory interface {
	// Size returns the size in bytes available
	Size() uint32
	// Read reads 'size' bytes from the memory at 'offset'
	Read(offset uint32, size uint32) ([]byte, bool)
	// Write writes 'data' to the memory at 'offset'
	Write(offset uint32, data []byte) bool
	// ReadUint32Le reads a little-endian uint32 at 'offset'
	ReadUint32Le(offset uint32) (uint32, bool)
	// WriteUint32Le writes a little-endian uint32 at 'offset'
	WriteUint32Le(offset uint32, v uint32) bool
}

// Context holds runtime-specific state (WASI, host modules, etc.)
// This is opaque to wasmplugin and managed entirely by runtime adapters
type Context interface {
	// WithRuntimeContext returns ctx decorated with whatever the adapter
	// needs to be present while guest functions run.
	WithRuntimeContext(ctx context.Context) context.Context
	// Close releases runtime-specific resources
	Close(ctx context.Context) error
}
