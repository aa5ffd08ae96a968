package modelio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoem/pluginwasm/wasmplugin"
	"github.com/nanoem/pluginwasm/wasmplugin/wasmplugintest"
)

func newController(t *testing.T) (*Controller, *wasmplugintest.Guest) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	rt := wasmplugintest.NewRuntime()
	g := wasmplugintest.NewGuest(wasmplugintest.ModelPrefix)
	bin := []byte("modelio test guest")
	rt.Register(bin, g)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guest.wasm"), bin, 0o644))

	c, err := FromPath(ctx, dir, wasmplugin.WithRuntimeFactory(rt.Factory()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	require.NoError(t, c.Create(ctx))
	require.NoError(t, c.SetFunction(ctx, 0))
	return c, g
}

func TestSelectionSetters(t *testing.T) {
	ctx := context.Background()
	c, g := newController(t)

	tests := []struct {
		category Category
		set      func(context.Context, []int32) error
		export   string
	}{
		{Vertex, c.SetAllSelectedVertexIndices, wasmplugin.ExportSetAllSelectedVertexObjectIndices},
		{Material, c.SetAllSelectedMaterialIndices, wasmplugin.ExportSetAllSelectedMaterialObjectIndices},
		{Bone, c.SetAllSelectedBoneIndices, wasmplugin.ExportSetAllSelectedBoneObjectIndices},
		{Morph, c.SetAllSelectedMorphIndices, wasmplugin.ExportSetAllSelectedMorphObjectIndices},
		{Label, c.SetAllSelectedLabelIndices, wasmplugin.ExportSetAllSelectedLabelObjectIndices},
		{RigidBody, c.SetAllSelectedRigidBodyIndices, wasmplugin.ExportSetAllSelectedRigidBodyObjectIndices},
		{Joint, c.SetAllSelectedJointIndices, wasmplugin.ExportSetAllSelectedJointObjectIndices},
		{SoftBody, c.SetAllSelectedSoftBodyIndices, wasmplugin.ExportSetAllSelectedSoftBodyObjectIndices},
	}
	for i, tt := range tests {
		t.Run(tt.category.String(), func(t *testing.T) {
			indices := []int32{int32(i), -1, 1 << 20}
			require.NoError(t, tt.set(ctx, indices))

			rec, ok := g.Last().Recorded(tt.export)
			require.True(t, ok)
			assert.Equal(t, uint32(3), rec.Length)
			assert.Equal(t, []byte{byte(i), 0, 0, 0, 0xff, 0xff, 0xff, 0xff, 0, 0, 0x10, 0}, rec.Data)
		})
	}
	assert.Equal(t, g.Last().Allocs(), g.Last().Releases())
}

func TestSetSelectedIndicesUnknownCategory(t *testing.T) {
	c, _ := newController(t)
	err := c.SetSelectedIndices(context.Background(), Category(42), []int32{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Category(42)")
}

func TestSetInputModelData(t *testing.T) {
	c, g := newController(t)
	require.NoError(t, c.SetInputModelData(context.Background(), []byte("PMX ")))

	rec, ok := g.Last().Recorded(wasmplugin.ExportSetInputModelData)
	require.True(t, ok)
	assert.Equal(t, []byte("PMX "), rec.Data)
}

func TestNew(t *testing.T) {
	_, err := New(wasmplugin.NewController(wasmplugin.KindMotionIO, nil))
	require.Error(t, err)

	c, err := New(wasmplugin.NewController(wasmplugin.KindModelIO, nil))
	require.NoError(t, err)
	assert.Zero(t, c.Len())
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "rigid_body", RigidBody.String())
	assert.Equal(t, "soft_body", SoftBody.String())
}
