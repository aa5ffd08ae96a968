package wasmplugin

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanoem/pluginwasm/wasmplugin/wasmplugintest"
)

func prefixOf(kind Kind) string {
	if kind == KindMotionIO {
		return wasmplugintest.MotionPrefix
	}
	return wasmplugintest.ModelPrefix
}

// fakeHost binds scripted guests to plugin binaries.
type fakeHost struct {
	t  *testing.T
	rt *wasmplugintest.Runtime
}

func newFakeHost(t *testing.T) *fakeHost {
	return &fakeHost{t: t, rt: wasmplugintest.NewRuntime()}
}

func (h *fakeHost) options(opts ...Option) []Option {
	return append([]Option{WithRuntimeFactory(h.rt.Factory())}, opts...)
}

// binary returns unique module bytes for g.
func (h *fakeHost) binary(name string, g *wasmplugintest.Guest) []byte {
	bin := []byte("fake:" + h.t.Name() + ":" + name)
	h.rt.Register(bin, g)
	return bin
}

func (h *fakeHost) plugin(kind Kind, g *wasmplugintest.Guest, opts ...Option) *Plugin {
	h.t.Helper()
	p, err := NewPlugin(context.Background(), filepath.Join("plugins", "fake.wasm"), h.binary("fake", g), kind, h.options(opts...)...)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

// created returns a plugin past Create with the trace cleared.
func (h *fakeHost) created(kind Kind, g *wasmplugintest.Guest, opts ...Option) (*Plugin, *wasmplugintest.Instance) {
	h.t.Helper()
	ctx := context.Background()
	p := h.plugin(kind, g, opts...)
	require.NoError(h.t, p.Initialize(ctx))
	require.NoError(h.t, p.Create(ctx))
	return p, g.Last()
}

// selected returns a plugin with function 0 set.
func (h *fakeHost) selected(kind Kind, g *wasmplugintest.Guest, opts ...Option) (*Plugin, *wasmplugintest.Instance) {
	h.t.Helper()
	p, inst := h.created(kind, g, opts...)
	require.NoError(h.t, p.SetFunction(context.Background(), 0))
	return p, inst
}

// since returns the suffixes called after the first n calls.
func since(inst *wasmplugintest.Instance, n int) []string {
	return inst.Suffixes()[n:]
}

func requireBalanced(t *testing.T, inst *wasmplugintest.Instance) {
	t.Helper()
	require.Equal(t, inst.Allocs(), inst.Releases(), "allocations and releases must pair up")
	require.Zero(t, inst.Live())
}
