// Package wasmbin assembles small WebAssembly binaries for tests.
//
// Modules are described declaratively and encoded with wabin. Only the
// subset fixture guests need is covered: one memory, i32 globals, defined
// functions, exports and active data segments.
package wasmbin

import (
	"fmt"

	"github.com/tetratelabs/wabin/binary"
	"github.com/tetratelabs/wabin/wasm"
)

// ValType is a WebAssembly value type.
type ValType = wasm.ValueType

const (
	I32 = wasm.ValueTypeI32
	I64 = wasm.ValueTypeI64
	F32 = wasm.ValueTypeF32
	F64 = wasm.ValueTypeF64
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Func is a function defined by the module. Index is its position in
// Module.Funcs.
type Func struct {
	// Export is the export name. Empty keeps the function private.
	Export string
	Type   FuncType
	Locals []ValType
	// Body is the instruction stream without the trailing end opcode.
	Body []byte
}

// Global is a mutable or immutable i32 global.
type Global struct {
	Mutable bool
	Init    int32
}

// Data is an active data segment for memory 0.
type Data struct {
	Offset uint32
	Bytes  []byte
}

// Module describes the binary to assemble.
type Module struct {
	// MemoryPages is the minimum size of memory 0. Zero omits the memory.
	MemoryPages uint32
	// ExportMemory names the memory export. Empty keeps it private.
	ExportMemory string
	Globals      []Global
	Funcs        []Func
	Data         []Data
}

// Build returns the wabin form of m. Functions with the same signature
// share one type entry.
func (m *Module) Build() *wasm.Module {
	out := &wasm.Module{}

	typeIndex := map[string]wasm.Index{}
	for i, fn := range m.Funcs {
		key := fmt.Sprint(fn.Type.Params, fn.Type.Results)
		idx, ok := typeIndex[key]
		if !ok {
			idx = wasm.Index(len(out.TypeSection))
			typeIndex[key] = idx
			out.TypeSection = append(out.TypeSection, &wasm.FunctionType{
				Params:  fn.Type.Params,
				Results: fn.Type.Results,
			})
		}
		out.FunctionSection = append(out.FunctionSection, idx)
		out.CodeSection = append(out.CodeSection, &wasm.Code{
			LocalTypes: fn.Locals,
			Body:       Code(fn.Body, []byte{opEnd}),
		})
		if fn.Export != "" {
			out.ExportSection = append(out.ExportSection, &wasm.Export{
				Type:  wasm.ExternTypeFunc,
				Name:  fn.Export,
				Index: wasm.Index(i),
			})
		}
	}

	if m.MemoryPages > 0 {
		out.MemorySection = &wasm.Memory{Min: m.MemoryPages}
		if m.ExportMemory != "" {
			out.ExportSection = append(out.ExportSection, &wasm.Export{
				Type: wasm.ExternTypeMemory,
				Name: m.ExportMemory,
			})
		}
	}

	for _, g := range m.Globals {
		out.GlobalSection = append(out.GlobalSection, &wasm.Global{
			Type: &wasm.GlobalType{ValType: wasm.ValueTypeI32, Mutable: g.Mutable},
			Init: i32ConstExpr(g.Init),
		})
	}

	for _, d := range m.Data {
		out.DataSection = append(out.DataSection, &wasm.DataSegment{
			OffsetExpression: i32ConstExpr(int32(d.Offset)),
			Init:             d.Bytes,
		})
	}
	return out
}

// Encode returns the binary form of m.
func (m *Module) Encode() []byte {
	return binary.EncodeModule(m.Build())
}

func i32ConstExpr(v int32) *wasm.ConstantExpression {
	return &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: SLEB128(v)}
}
