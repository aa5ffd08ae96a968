package wasmplugin

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nanoem/pluginwasm/runtime"
	"github.com/nanoem/pluginwasm/wasmplugin/wasmplugintest"
)

func TestPluginLifecycleTrace(t *testing.T) {
	for _, kind := range []Kind{KindModelIO, KindMotionIO} {
		t.Run(kind.String(), func(t *testing.T) {
			ctx := context.Background()
			g := wasmplugintest.NewGuest(prefixOf(kind))
			p := newFakeHost(t).plugin(kind, g)
			inst := g.Last()
			assert.Equal(t, StateInstantiated, p.State())

			require.NoError(t, p.Initialize(ctx))
			require.NoError(t, p.Create(ctx))
			handle, ok := p.Handle()
			assert.True(t, ok)
			assert.Equal(t, uint32(1), handle)

			name, err := p.Name(ctx)
			require.NoError(t, err)
			assert.Equal(t, "fake", name)
			functions, err := p.Functions(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"function0", "function1"}, functions)

			require.NoError(t, p.SetFunction(ctx, 1))
			assert.Equal(t, StateFunctionSet, p.State())
			assert.Equal(t, int32(1), inst.Selected())
			require.NoError(t, p.Execute(ctx))
			assert.Equal(t, StateExecuted, p.State())
			require.NoError(t, p.Destroy(ctx))
			assert.Equal(t, StateDestroyed, p.State())
			require.NoError(t, p.Terminate(ctx))
			assert.Equal(t, StateTerminated, p.State())

			assert.Equal(t, []string{
				"Initialize", "Create", "GetName",
				"CountAllFunctions", "GetFunctionName", "GetFunctionName",
				"SetFunction", "Execute", "Destroy", "Terminate",
			}, inst.Suffixes())
			requireBalanced(t, inst)
		})
	}
}

func TestPluginInfo(t *testing.T) {
	g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
	p, _ := newFakeHost(t).created(KindModelIO, g)

	info, err := p.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p.ID(), info.ID)
	assert.Equal(t, "fake", info.Name)
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, "scripted guest", info.Description)
	assert.Equal(t, NewABIVersion(2, 0), info.ABIVersion)
	assert.Equal(t, uint16(CurrentABIMajor), info.ABIVersion.Major())
	assert.Equal(t, []string{"function0", "function1"}, info.Functions)
	assert.Equal(t, StateCreated, info.State)
	assert.False(t, info.Trapped)
}

func TestPluginBeforeCreateIsLenient(t *testing.T) {
	ctx := context.Background()
	g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
	p := newFakeHost(t).plugin(KindModelIO, g)

	name, err := p.Name(ctx)
	require.NoError(t, err)
	assert.Empty(t, name)
	n, err := p.CountAllFunctions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, p.SetLanguage(ctx, 1))
	require.NoError(t, p.SetInputData(ctx, []byte{1, 2, 3}))
	require.NoError(t, p.SetFunction(ctx, 0))

	assert.Empty(t, g.Last().Suffixes())
	assert.Equal(t, StateInstantiated, p.State())

	err = p.Execute(ctx)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPluginStateErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("execute before set function", func(t *testing.T) {
		p, _ := newFakeHost(t).created(KindModelIO, wasmplugintest.NewGuest(wasmplugintest.ModelPrefix))
		require.ErrorIs(t, p.Execute(ctx), ErrInvalidState)
	})
	t.Run("output before execute", func(t *testing.T) {
		p, _ := newFakeHost(t).selected(KindModelIO, wasmplugintest.NewGuest(wasmplugintest.ModelPrefix))
		_, err := p.OutputData(ctx)
		require.ErrorIs(t, err, ErrInvalidState)
	})
	t.Run("initialize twice", func(t *testing.T) {
		p, _ := newFakeHost(t).created(KindModelIO, wasmplugintest.NewGuest(wasmplugintest.ModelPrefix))
		require.ErrorIs(t, p.Initialize(ctx), ErrInvalidState)
	})
	t.Run("terminate before destroy", func(t *testing.T) {
		p, _ := newFakeHost(t).created(KindModelIO, wasmplugintest.NewGuest(wasmplugintest.ModelPrefix))
		require.ErrorIs(t, p.Terminate(ctx), ErrInvalidState)
	})
	t.Run("negative function index", func(t *testing.T) {
		p, _ := newFakeHost(t).created(KindModelIO, wasmplugintest.NewGuest(wasmplugintest.ModelPrefix))
		_, err := p.FunctionName(ctx, -1)
		require.ErrorIs(t, err, ErrFunctionIndexOutOfBounds)
		require.ErrorIs(t, p.SetFunction(ctx, -1), ErrFunctionIndexOutOfBounds)
	})
}

func TestPluginAfterDestroy(t *testing.T) {
	ctx := context.Background()
	p, inst := newFakeHost(t).selected(KindModelIO, wasmplugintest.NewGuest(wasmplugintest.ModelPrefix))
	require.NoError(t, p.Destroy(ctx))
	calls := len(inst.Calls())

	_, err := p.Name(ctx)
	require.ErrorIs(t, err, ErrPluginDestroyed)
	require.ErrorIs(t, p.SetInputData(ctx, []byte{1}), ErrPluginDestroyed)
	require.ErrorIs(t, p.Execute(ctx), ErrPluginDestroyed)
	require.ErrorIs(t, p.SetFunction(ctx, 0), ErrPluginDestroyed)
	require.ErrorIs(t, p.Destroy(ctx), ErrPluginDestroyed)
	_, err = p.OutputData(ctx)
	require.ErrorIs(t, err, ErrPluginDestroyed)
	_, ok := p.Handle()
	assert.False(t, ok)
	assert.Len(t, inst.Calls(), calls)

	require.NoError(t, p.Terminate(ctx))
	require.ErrorIs(t, p.Terminate(ctx), ErrPluginDestroyed)
}

func TestPluginMissingLifecycleExports(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
	g.Omit["Initialize"] = true
	g.Omit["Terminate"] = true
	p := newFakeHost(t).plugin(KindModelIO, g, WithLogger(zap.New(core)))

	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Create(ctx))
	require.NoError(t, p.Destroy(ctx))
	require.NoError(t, p.Terminate(ctx))

	absent := logs.FilterMessage("optional lifecycle export is absent").All()
	require.Len(t, absent, 2)
	assert.Equal(t, "plugin", absent[0].LoggerName)
	assert.Equal(t, "plugins/fake.wasm", absent[0].ContextMap()["path"])
	assert.Equal(t, []string{"Create", "Destroy"}, g.Last().Suffixes())
}

func TestPluginSetInputData(t *testing.T) {
	ctx := context.Background()
	for _, kind := range []Kind{KindModelIO, KindMotionIO} {
		t.Run(kind.String(), func(t *testing.T) {
			p, inst := newFakeHost(t).selected(kind, wasmplugintest.NewGuest(prefixOf(kind)))
			data := make([]byte, 4096)
			for i := range data {
				data[i] = byte(i * 7)
			}
			require.NoError(t, p.SetInputData(ctx, data))

			rec, ok := inst.Recorded(kind.inputData())
			require.True(t, ok)
			assert.Equal(t, data, rec.Data)
			assert.Equal(t, uint32(len(data)), rec.Length)
			assert.Zero(t, rec.InitialStatus)
			requireBalanced(t, inst)
		})
	}
}

func TestPluginSetInt32sRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, inst := newFakeHost(t).selected(KindModelIO, wasmplugintest.NewGuest(wasmplugintest.ModelPrefix))
	indices := []int32{1, 4, 9, 16, 25, math.MaxInt32}
	require.NoError(t, p.SetInt32s(ctx, ExportSetAllSelectedVertexObjectIndices, indices))

	rec, ok := inst.Recorded(ExportSetAllSelectedVertexObjectIndices)
	require.True(t, ok)
	assert.Equal(t, uint32(6), rec.Length)
	assert.Zero(t, rec.InitialStatus)
	got := make([]int32, len(rec.Data)/4)
	for i := range got {
		got[i] = int32(binary.LittleEndian.Uint32(rec.Data[i*4:]))
	}
	assert.Equal(t, []int32{1, 4, 9, 16, 25, 2147483647}, got)
	requireBalanced(t, inst)
}

func TestPluginSetNamedUint32s(t *testing.T) {
	ctx := context.Background()
	p, inst := newFakeHost(t).selected(KindMotionIO, wasmplugintest.NewGuest(wasmplugintest.MotionPrefix))
	require.NoError(t, p.SetNamedUint32s(ctx, ExportSetAllNamedSelectedMorphKeyframes, "まばたき", []uint32{0, 30, 60}))

	rec, ok := inst.Recorded(ExportSetAllNamedSelectedMorphKeyframes)
	require.True(t, ok)
	assert.Equal(t, append([]byte("まばたき"), 0), rec.RawName)
	assert.Equal(t, uint32(3), rec.Length)
	assert.Equal(t, uint32sToBytes([]uint32{0, 30, 60}), rec.Data)
	assert.Equal(t, []string{"allocate", "allocate", "allocate", "release", "release", "release"}, allocOps(inst)[2:])
	requireBalanced(t, inst)

	err := p.SetNamedUint32s(ctx, ExportSetAllNamedSelectedBoneKeyframes, "a\x00b", []uint32{1})
	require.ErrorIs(t, err, ErrMarshal)
}

func allocOps(inst *wasmplugintest.Instance) []string {
	var ops []string
	for _, e := range inst.AllocatorLog() {
		ops = append(ops, e.Op)
	}
	return ops
}

func TestPluginOptionalSetterAbsent(t *testing.T) {
	ctx := context.Background()
	g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
	g.Omit[ExportSetAllSelectedSoftBodyObjectIndices] = true
	p, inst := newFakeHost(t).selected(KindModelIO, g)
	calls, allocs := len(inst.Calls()), inst.Allocs()

	require.NoError(t, p.SetInt32s(ctx, ExportSetAllSelectedSoftBodyObjectIndices, []int32{1}))
	assert.Len(t, inst.Calls(), calls)
	assert.Equal(t, allocs, inst.Allocs())
}

func TestPluginOutputData(t *testing.T) {
	ctx := context.Background()
	g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
	g.Output = []byte("transformed model")
	p, inst := newFakeHost(t).selected(KindModelIO, g)
	require.NoError(t, p.Execute(ctx))
	n := len(inst.Calls())

	out, err := p.OutputData(ctx)
	require.NoError(t, err)
	assert.Equal(t, g.Output, out)
	assert.Equal(t, []string{ExportGetOutputModelDataSize, ExportGetOutputModelData}, since(inst, n))
	dataCall := inst.Calls()[n+1]
	assert.Equal(t, uint64(len(out)), dataCall.Params[2])

	again, err := p.OutputData(ctx)
	require.NoError(t, err)
	assert.Equal(t, out, again)
	requireBalanced(t, inst)
}

func TestPluginExecuteFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("refer reason", func(t *testing.T) {
		g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
		g.Statuses["Execute"] = int32(StatusErrorReferReason)
		p, inst := newFakeHost(t).selected(KindModelIO, g)
		n := len(inst.Calls())

		err := p.Execute(ctx)
		require.ErrorIs(t, err, ErrGuestReportedFailure)
		var gerr *GuestReportedError
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, StatusErrorReferReason, gerr.Status)
		assert.Equal(t, "Failure Reason", gerr.Reason)
		assert.Equal(t, "Recovery Suggestion", gerr.Suggestion)
		assert.Equal(t, "wasm: nanoemApplicationPluginModelIOExecute returned ERROR_REFER_REASON: Failure Reason", err.Error())
		assert.Equal(t, []string{"Execute", "GetFailureReason", "GetRecoverySuggestion"}, since(inst, n))

		assert.True(t, p.Failed())
		assert.Equal(t, StateFunctionSet, p.State())
		_, err = p.OutputData(ctx)
		require.ErrorIs(t, err, ErrInvalidState)

		g.Statuses["Execute"] = 0
		require.NoError(t, p.Execute(ctx))
		assert.False(t, p.Failed())
		requireBalanced(t, inst)
	})

	t.Run("unknown option", func(t *testing.T) {
		g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
		g.Statuses["SetFunction"] = int32(StatusErrorUnknownOption)
		p, inst := newFakeHost(t).created(KindModelIO, g)
		n := len(inst.Calls())

		err := p.SetFunction(ctx, 5)
		var gerr *GuestReportedError
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, StatusErrorUnknownOption, gerr.Status)
		assert.Empty(t, gerr.Reason)
		assert.Equal(t, []string{"SetFunction"}, since(inst, n))
		assert.Equal(t, StateCreated, p.State())
	})

	t.Run("setter status", func(t *testing.T) {
		g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
		g.Statuses[ExportSetInputModelData] = int32(StatusErrorNullObject)
		p, inst := newFakeHost(t).selected(KindModelIO, g)

		err := p.SetInputData(ctx, []byte{1})
		var gerr *GuestReportedError
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, StatusErrorNullObject, gerr.Status)
		requireBalanced(t, inst)
	})
}

func TestPluginTrap(t *testing.T) {
	ctx := context.Background()
	g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
	g.Traps["Execute"] = true
	p, inst := newFakeHost(t).selected(KindModelIO, g)

	err := p.Execute(ctx)
	require.ErrorIs(t, err, ErrGuestTrap)
	require.ErrorIs(t, err, wasmplugintest.ErrTrap)
	assert.True(t, p.Trapped())
	requireBalanced(t, inst)

	_, err = p.Name(ctx)
	require.ErrorIs(t, err, ErrGuestTrap)
	require.ErrorIs(t, p.SetInputData(ctx, nil), ErrGuestTrap)

	n := len(inst.Calls())
	require.NoError(t, p.Destroy(ctx))
	require.NoError(t, p.Terminate(ctx))
	assert.Len(t, inst.Calls(), n, "a trapped guest is not called again")
	require.NoError(t, p.Close(ctx))
	assert.True(t, inst.Closed())
}

func TestPluginDestroyTrapIsLogged(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
	g.Traps["Destroy"] = true
	p, _ := newFakeHost(t).created(KindModelIO, g, WithLogger(zap.New(core)))

	require.NoError(t, p.Destroy(ctx))
	assert.Equal(t, StateDestroyed, p.State())
	assert.Equal(t, 1, logs.FilterMessage("guest trapped in destroy").Len())
}

func TestPluginUIWindowLayout(t *testing.T) {
	ctx := context.Background()
	g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
	g.UILayout = []byte(`{"window":"ui_window"}`)
	g.Reload = true
	p, inst := newFakeHost(t).selected(KindModelIO, g)
	n := len(inst.Calls())

	require.NoError(t, p.LoadUIWindowLayout(ctx))
	layout, err := p.UIWindowLayout(ctx)
	require.NoError(t, err)
	assert.Equal(t, g.UILayout, layout)
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	reload, err := p.SetUIComponentLayout(ctx, "ui_window", payload)
	require.NoError(t, err)
	assert.True(t, reload)

	assert.Equal(t, []string{
		"LoadUIWindowLayout", "GetUIWindowLayoutDataSize", "GetUIWindowLayoutData", "SetUIComponentLayoutData",
	}, since(inst, n))
	rec, ok := inst.Recorded("SetUIComponentLayoutData")
	require.True(t, ok)
	assert.Equal(t, []byte("ui_window\x00"), rec.RawName)
	assert.Equal(t, payload, rec.Data)
	assert.Equal(t, uint32(len(payload)), rec.Length)
	requireBalanced(t, inst)

	g.Reload = false
	reload, err = p.SetUIComponentLayout(ctx, "ui_window", payload)
	require.NoError(t, err)
	assert.False(t, reload)
}

func TestPluginUIWindowLayoutAbsent(t *testing.T) {
	ctx := context.Background()
	g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
	for _, s := range []string{"LoadUIWindowLayout", "GetUIWindowLayoutDataSize", "GetUIWindowLayoutData", "SetUIComponentLayoutData"} {
		g.Omit[s] = true
	}
	p, _ := newFakeHost(t).selected(KindModelIO, g)

	require.NoError(t, p.LoadUIWindowLayout(ctx))
	layout, err := p.UIWindowLayout(ctx)
	require.NoError(t, err)
	assert.Nil(t, layout)
	reload, err := p.SetUIComponentLayout(ctx, "id", nil)
	require.NoError(t, err)
	assert.False(t, reload)
}

func TestPluginMalformedName(t *testing.T) {
	g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
	g.InvalidUTF8Name = true
	p, _ := newFakeHost(t).created(KindModelIO, g)

	_, err := p.Name(context.Background())
	require.ErrorIs(t, err, ErrMalformedString)
	require.ErrorIs(t, err, ErrMarshal)
}

func TestPluginCapabilities(t *testing.T) {
	h := newFakeHost(t)
	g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
	var seen string
	h.plugin(KindModelIO, g,
		WithCapabilities(runtime.Capabilities{Args: []string{"--verbose"}}),
		WithCapabilityBuilder(func(path string, caps *runtime.Capabilities) {
			seen = path
			caps.Env = append(caps.Env, "PLUGIN=1")
		}),
	)

	assert.Equal(t, "plugins/fake.wasm", seen)
	caps := h.rt.Capabilities()
	require.Len(t, caps, 1)
	assert.Equal(t, "fake.wasm", caps[0].Name)
	assert.Equal(t, []string{"--verbose"}, caps[0].Args)
	assert.Equal(t, []string{"PLUGIN=1"}, caps[0].Env)
}

func TestPluginRejectedModuleIsClosed(t *testing.T) {
	h := newFakeHost(t)
	g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
	g.Omit["Execute"] = true

	_, err := NewPlugin(context.Background(), "bad.wasm", h.binary("bad", g), KindModelIO, h.options()...)
	require.ErrorIs(t, err, ErrMissingExport)
	assert.True(t, g.Last().Closed())
	assert.Zero(t, h.rt.Open())
}

func TestPluginUnknownBinary(t *testing.T) {
	h := newFakeHost(t)
	_, err := NewPlugin(context.Background(), "x.wasm", []byte("nope"), KindModelIO, h.options()...)
	require.Error(t, err)
	assert.True(t, errors.Is(err, runtime.ErrModuleCompileFailed))
	assert.Zero(t, h.rt.Open())
}
