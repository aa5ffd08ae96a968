package wazero

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoem/pluginwasm/internal/wasmbin"
	"github.com/nanoem/pluginwasm/runtime"
)

func buildEchoModule() []byte {
	m := &wasmbin.Module{
		MemoryPages:  1,
		ExportMemory: "memory",
		Funcs: []wasmbin.Func{
			{
				Export: "add",
				Type:   wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.I32, wasmbin.I32}, Results: []wasmbin.ValType{wasmbin.I32}},
				Body:   wasmbin.Code(wasmbin.LocalGet(0), wasmbin.LocalGet(1), wasmbin.I32Add()),
			},
			{
				Export: "store",
				Type:   wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.I32, wasmbin.I32}},
				Body:   wasmbin.Code(wasmbin.LocalGet(0), wasmbin.LocalGet(1), wasmbin.I32Store(0)),
			},
			{
				Export: "trap",
				Type:   wasmbin.FuncType{},
				Body:   wasmbin.Unreachable(),
			},
		},
		Data: []wasmbin.Data{{Offset: 8, Bytes: []byte("hello\x00")}},
	}
	return m.Encode()
}

func newTestRuntime(t *testing.T, cfg runtime.Config) runtime.Runtime {
	t.Helper()
	rt, err := runtime.NewRuntime(runtime.TypeWazero, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, rt.Close(context.Background()))
	})
	return rt
}

func instantiate(t *testing.T, rt runtime.Runtime, binary []byte) (runtime.ModuleInstance, runtime.Context) {
	t.Helper()
	ctx := context.Background()
	compiled, err := rt.Compile(ctx, binary)
	require.NoError(t, err)
	mod, rtctx, err := rt.Instantiate(ctx, compiled, runtime.Capabilities{Name: "echo"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = rtctx.Close(context.Background())
	})
	return mod, rtctx
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, runtime.List(), runtime.TypeWazero)
}

func TestCompileRejectsGarbage(t *testing.T) {
	rt := newTestRuntime(t, runtime.Config{})
	_, err := rt.Compile(context.Background(), []byte("not wasm"))
	require.Error(t, err)
	assert.ErrorIs(t, err, runtime.ErrModuleCompileFailed)
}

func TestNewRuntimeRejectsInvalidMode(t *testing.T) {
	_, err := runtime.NewRuntime(runtime.TypeWazero, runtime.Config{Mode: "jit"})
	assert.ErrorIs(t, err, runtime.ErrInvalidConfiguration)
}

func TestInstantiateAndCall(t *testing.T) {
	for _, mode := range []runtime.Mode{runtime.ModeInterpreter, runtime.ModeCompiled} {
		t.Run(string(mode), func(t *testing.T) {
			rt := newTestRuntime(t, runtime.Config{Mode: mode, MemoryLimitPages: 4})
			mod, rtctx := instantiate(t, rt, buildEchoModule())
			ctx := rtctx.WithRuntimeContext(context.Background())

			add := mod.Function("add")
			require.NotNil(t, add)
			def := add.Definition()
			assert.Equal(t, "add", def.Name)
			assert.True(t, def.Matches(
				[]runtime.ValueType{runtime.ValueTypeI32, runtime.ValueTypeI32},
				[]runtime.ValueType{runtime.ValueTypeI32},
			))
			assert.Equal(t, "(i32, i32) -> (i32)", def.Signature())

			res, err := add.Call(ctx, 40, 2)
			require.NoError(t, err)
			assert.Equal(t, []uint64{42}, res)

			assert.Nil(t, mod.Function("missing"))
		})
	}
}

func TestExportedMemory(t *testing.T) {
	rt := newTestRuntime(t, runtime.Config{})
	mod, rtctx := instantiate(t, rt, buildEchoModule())
	ctx := rtctx.WithRuntimeContext(context.Background())

	assert.Nil(t, mod.ExportedMemory("heap"))
	mem := mod.ExportedMemory("memory")
	require.NotNil(t, mem)
	assert.Equal(t, uint32(65536), mem.Size())

	b, ok := mem.Read(8, 6)
	require.True(t, ok)
	assert.Equal(t, []byte("hello\x00"), b)

	_, err := mod.Function("store").Call(ctx, 128, 0xdeadbeef)
	require.NoError(t, err)
	v, ok := mem.ReadUint32Le(128)
	require.True(t, ok)
	assert.Equal(t, uint32(0xdeadbeef), v)

	require.True(t, mem.WriteUint32Le(256, 7))
	b, ok = mem.Read(256, 4)
	require.True(t, ok)
	assert.Equal(t, []byte{7, 0, 0, 0}, b)

	_, ok = mem.Read(mem.Size()-2, 4)
	assert.False(t, ok)
}

func TestTrapIsReturnedAsError(t *testing.T) {
	rt := newTestRuntime(t, runtime.Config{})
	mod, rtctx := instantiate(t, rt, buildEchoModule())
	_, err := mod.Function("trap").Call(rtctx.WithRuntimeContext(context.Background()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestCompilationCacheSharedAcrossRuntimes(t *testing.T) {
	a, err := compilationCache("")
	require.NoError(t, err)
	b, err := compilationCache("")
	require.NoError(t, err)
	assert.True(t, a == b, "runtimes without a cache directory share one in-memory cache")

	dir := t.TempDir()
	c, err := compilationCache(dir)
	require.NoError(t, err)
	assert.False(t, a == c)
}

func TestInstancesNeedTheirOwnRuntime(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, runtime.Config{})
	instantiate(t, rt, buildEchoModule())

	compiled, err := rt.Compile(ctx, buildEchoModule())
	require.NoError(t, err)
	_, _, err = rt.Instantiate(ctx, compiled, runtime.Capabilities{Name: "second"})
	assert.ErrorIs(t, err, runtime.ErrModuleInstantiateFailed, "the WASI host module is bound once per runtime")
}
