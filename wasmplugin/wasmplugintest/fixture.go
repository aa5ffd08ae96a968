package wasmplugintest

import (
	"github.com/nanoem/pluginwasm/internal/wasmbin"
)

// Fixture memory layout.
const (
	fixtureName               = 16
	fixtureVersion            = 64
	fixtureFunction0          = 80
	fixtureFailureReason      = 96
	fixtureRecoverySuggestion = 112
	fixtureFunction1          = 144
	fixtureHeap               = 1024
)

// Fixture globals.
const (
	gHeap uint32 = iota
	gAllocations
	gReleases
	gInputPtr
	gInputLen
	gSelected
)

// Fixture strings.
const (
	FixtureModelName          = "plugin_wasm_test_model_minimum"
	FixtureMotionName         = "plugin_wasm_test_motion_minimum"
	FixtureVersion            = "1.2.3"
	FixtureFailureReason      = "Failure Reason"
	FixtureRecoverySuggestion = "Recovery Suggestion"
	FixtureABIVersion         = 2 << 16
)

// Fixture counter exports.
const (
	FixtureAllocations = "fixture_allocations"
	FixtureReleases    = "fixture_releases"
)

var (
	tVoid = wasmbin.FuncType{}
	tRI   = wasmbin.FuncType{Results: []wasmbin.ValType{wasmbin.I32}}
	tH    = wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.I32}}
	tHI   = wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.I32}, Results: []wasmbin.ValType{wasmbin.I32}}
	tHH   = wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.I32, wasmbin.I32}}
	tHHI  = wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.I32, wasmbin.I32}, Results: []wasmbin.ValType{wasmbin.I32}}
	tHHH  = wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.I32, wasmbin.I32, wasmbin.I32}}
	tHHHH = wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.I32, wasmbin.I32, wasmbin.I32, wasmbin.I32}}
)

// store writes value to the address held in local ptr.
func store(ptr uint32, value []byte) []byte {
	return wasmbin.Code(wasmbin.LocalGet(ptr), value, wasmbin.I32Store(0))
}

func ok(ptr uint32) []byte { return store(ptr, wasmbin.I32Const(0)) }

// bump advances the heap by the byte count on the stack, 8-aligned.
func bump(size []byte) []byte {
	return wasmbin.Code(
		wasmbin.GlobalGet(gHeap), size, wasmbin.I32Add(),
		wasmbin.I32Const(7), wasmbin.I32Add(), wasmbin.I32Const(-8), wasmbin.I32And(),
		wasmbin.GlobalSet(gHeap),
	)
}

// FixtureModule assembles a real WebAssembly guest for prefix. It offers
// "function0", which succeeds, and "function1", whose execute reports
// ERROR_REFER_REASON. Output data echoes the last input data.
// SetAudioDescription traps. The allocator counts its calls in the
// FixtureAllocations and FixtureReleases exports.
func FixtureModule(prefix string) []byte {
	name := FixtureModelName
	input, output, outputSize := "SetInputModelData", "GetOutputModelData", "GetOutputModelDataSize"
	if prefix == MotionPrefix {
		name = FixtureMotionName
		input, output, outputSize = "SetInputMotionData", "GetOutputMotionData", "GetOutputMotionDataSize"
	}

	fn := func(suffix string, t wasmbin.FuncType, body ...[]byte) wasmbin.Func {
		return wasmbin.Func{Export: prefix + suffix, Type: t, Body: wasmbin.Code(body...)}
	}

	m := wasmbin.Module{
		MemoryPages:  4,
		ExportMemory: "memory",
		Globals: []wasmbin.Global{
			gHeap:        {Mutable: true, Init: fixtureHeap},
			gAllocations: {Mutable: true},
			gReleases:    {Mutable: true},
			gInputPtr:    {Mutable: true},
			gInputLen:    {Mutable: true},
			gSelected:    {Mutable: true},
		},
		Funcs: []wasmbin.Func{
			{Export: "allocate", Type: tHI, Body: wasmbin.Code(
				wasmbin.GlobalGet(gHeap),
				bump(wasmbin.LocalGet(0)),
				wasmbin.GlobalGet(gAllocations), wasmbin.I32Const(1), wasmbin.I32Add(), wasmbin.GlobalSet(gAllocations),
			)},
			{Export: "release", Type: tH, Body: wasmbin.Code(
				wasmbin.GlobalGet(gReleases), wasmbin.I32Const(1), wasmbin.I32Add(), wasmbin.GlobalSet(gReleases),
			)},
			{Export: FixtureAllocations, Type: tRI, Body: wasmbin.GlobalGet(gAllocations)},
			{Export: FixtureReleases, Type: tRI, Body: wasmbin.GlobalGet(gReleases)},

			fn("Initialize", tVoid),
			fn("Terminate", tVoid),
			fn("Create", tRI, wasmbin.I32Const(1)),
			fn("Destroy", tH),
			fn("GetABIVersion", tRI, wasmbin.I32Const(FixtureABIVersion)),
			fn("GetName", tHI, wasmbin.I32Const(fixtureName)),
			fn("GetVersion", tHI, wasmbin.I32Const(fixtureVersion)),
			fn("GetFailureReason", tHI, wasmbin.I32Const(fixtureFailureReason)),
			fn("GetRecoverySuggestion", tHI, wasmbin.I32Const(fixtureRecoverySuggestion)),
			fn("SetLanguage", tHH),
			fn("CountAllFunctions", tHI, wasmbin.I32Const(2)),
			fn("GetFunctionName", tHHI, wasmbin.LocalGet(1), wasmbin.IfElseI32(wasmbin.I32Const(fixtureFunction1), wasmbin.I32Const(fixtureFunction0))),
			fn("SetFunction", tHHH, wasmbin.LocalGet(1), wasmbin.GlobalSet(gSelected), ok(2)),
			fn(input, tHHHH,
				wasmbin.GlobalGet(gHeap), wasmbin.GlobalSet(gInputPtr),
				wasmbin.LocalGet(2), wasmbin.GlobalSet(gInputLen),
				bump(wasmbin.LocalGet(2)),
				wasmbin.GlobalGet(gInputPtr), wasmbin.LocalGet(1), wasmbin.LocalGet(2), wasmbin.MemoryCopy(),
				ok(3),
			),
			fn("Execute", tHH, store(1, wasmbin.Code(wasmbin.GlobalGet(gSelected), wasmbin.IfElseI32(wasmbin.I32Const(-3), wasmbin.I32Const(0))))),
			fn(outputSize, tHH, store(1, wasmbin.GlobalGet(gInputLen))),
			fn(output, tHHHH, wasmbin.LocalGet(1), wasmbin.GlobalGet(gInputPtr), wasmbin.LocalGet(2), wasmbin.MemoryCopy(), ok(3)),
			fn("SetAudioDescription", tHHHH, wasmbin.Unreachable()),
		},
		Data: []wasmbin.Data{
			{Offset: fixtureName, Bytes: cstr(name)},
			{Offset: fixtureVersion, Bytes: cstr(FixtureVersion)},
			{Offset: fixtureFunction0, Bytes: cstr("function0")},
			{Offset: fixtureFailureReason, Bytes: cstr(FixtureFailureReason)},
			{Offset: fixtureRecoverySuggestion, Bytes: cstr(FixtureRecoverySuggestion)},
			{Offset: fixtureFunction1, Bytes: cstr("function1")},
		},
	}
	return m.Encode()
}

func cstr(s string) []byte {
	return append([]byte(s), 0)
}
