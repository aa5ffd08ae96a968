package wasmplugin

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoem/pluginwasm/wasmplugin/wasmplugintest"
)

func minimumGuest() *wasmplugintest.Guest {
	g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
	g.Name = wasmplugintest.FixtureModelName
	g.Version = wasmplugintest.FixtureVersion
	g.Functions = []string{"function0"}
	return g
}

func createdController(t *testing.T, g *wasmplugintest.Guest) (*Controller, *wasmplugintest.Instance) {
	t.Helper()
	ctx := context.Background()
	c := newFakeHost(t).controller([]*wasmplugintest.Guest{g})
	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.Create(ctx))
	return c, g.Last()
}

func TestScenarioLifecycle(t *testing.T) {
	ctx := context.Background()
	c, inst := createdController(t, minimumGuest())

	assert.Equal(t, []string{
		"Initialize", "Create", "GetName", "GetVersion", "CountAllFunctions", "GetFunctionName",
	}, inst.Suffixes())

	n, err := c.CountAllFunctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	name, err := c.FunctionName(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "plugin_wasm_test_model_minimum: function0 (1.2.3)", name)
	assert.Len(t, inst.Calls(), 6, "the index is served without guest calls")

	require.NoError(t, c.Destroy(ctx))
	require.NoError(t, c.Terminate(ctx))
	assert.Equal(t, []string{"Destroy", "Terminate"}, since(inst, 6))
	requireBalanced(t, inst)
}

func TestScenarioExecuteWithPayload(t *testing.T) {
	ctx := context.Background()
	g := minimumGuest()
	c, inst := createdController(t, g)

	input := make([]byte, 4096)
	_, err := rand.Read(input)
	require.NoError(t, err)
	g.Output = append([]byte(nil), input[:1000]...)

	require.NoError(t, c.SetFunction(ctx, 0))
	require.NoError(t, c.SetInputData(ctx, input))
	require.NoError(t, c.Execute(ctx))
	out, err := c.OutputData(ctx)
	require.NoError(t, err)

	rec, ok := inst.Recorded(ExportSetInputModelData)
	require.True(t, ok)
	assert.Equal(t, input, rec.Data)
	assert.Equal(t, uint32(len(input)), rec.Length)

	calls := inst.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, ExportGetOutputModelData, last.Suffix)
	assert.Equal(t, uint64(len(out)), last.Params[2])
	assert.Equal(t, g.Output, out)
	requireBalanced(t, inst)
}

func TestScenarioSelectionIndices(t *testing.T) {
	ctx := context.Background()
	c, inst := createdController(t, minimumGuest())
	require.NoError(t, c.SetFunction(ctx, 0))

	require.NoError(t, c.SetInt32s(ctx, ExportSetAllSelectedVertexObjectIndices, []int32{1, 4, 9, 16, 25, 2147483647}))
	rec, ok := inst.Recorded(ExportSetAllSelectedVertexObjectIndices)
	require.True(t, ok)
	assert.Equal(t, int32sToBytes([]int32{1, 4, 9, 16, 25, 2147483647}), rec.Data)
	assert.Equal(t, uint32(6), rec.Length)
	assert.Zero(t, rec.InitialStatus)
	requireBalanced(t, inst)
}

func TestScenarioNamedMorphKeyframes(t *testing.T) {
	ctx := context.Background()
	c, inst := createdController(t, wasmplugintest.NewGuest(wasmplugintest.MotionPrefix))
	assert.Equal(t, KindMotionIO, c.Kind())
	require.NoError(t, c.SetFunction(ctx, 0))

	require.NoError(t, c.SetNamedUint32s(ctx, ExportSetAllNamedSelectedMorphKeyframes, "まばたき", []uint32{0, 30, 60}))
	rec, ok := inst.Recorded(ExportSetAllNamedSelectedMorphKeyframes)
	require.True(t, ok)
	assert.Equal(t, "まばたき\x00", string(rec.RawName))
	assert.Equal(t, uint32sToBytes([]uint32{0, 30, 60}), rec.Data)
	assert.Equal(t, uint32(3), rec.Length)
	requireBalanced(t, inst)
}

func TestScenarioUIRoundTrip(t *testing.T) {
	ctx := context.Background()
	g := minimumGuest()
	g.UILayout = []byte("layout")
	g.Reload = true
	c, inst := createdController(t, g)
	require.NoError(t, c.SetFunction(ctx, 0))
	n := len(inst.Calls())

	require.NoError(t, c.LoadUIWindowLayout(ctx))
	layout, err := c.UIWindowLayout(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("layout"), layout)
	reload, err := c.SetUIComponentLayout(ctx, "ui_window", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.True(t, reload)

	assert.Equal(t, []string{
		"LoadUIWindowLayout", "GetUIWindowLayoutDataSize", "GetUIWindowLayoutData", "SetUIComponentLayoutData",
	}, since(inst, n))
	requireBalanced(t, inst)
}

func TestScenarioFailurePath(t *testing.T) {
	ctx := context.Background()
	g := minimumGuest()
	g.Statuses["Execute"] = int32(StatusErrorReferReason)
	c, inst := createdController(t, g)
	require.NoError(t, c.SetFunction(ctx, 0))

	err := c.Execute(ctx)
	require.ErrorIs(t, err, ErrGuestReportedFailure)
	assert.Equal(t, "Failure Reason", c.FailureReason())
	assert.Equal(t, "Recovery Suggestion", c.RecoverySuggestion())

	require.NoError(t, c.SetInputData(ctx, []byte{0}))
	assert.Empty(t, c.FailureReason())
	assert.Empty(t, c.RecoverySuggestion())
	requireBalanced(t, inst)
}
