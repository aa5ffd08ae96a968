package wasmplugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gobwas/glob"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Controller presents every plugin of one kind as a single plugin whose
// functions are the concatenation of theirs. Exactly one plugin is current
// at a time; per-function operations go to it.
//
// Controller is safe for concurrent use. Guest calls are serialised.
type Controller struct {
	kind    Kind
	opts    options
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *Metrics

	// mu guards everything below and is held across guest calls.
	mu         sync.Mutex
	plugins    []*Plugin
	generation uint64
	// phase is the lifecycle step the controller has broadcast so far.
	phase       State
	language    int32
	hasLanguage bool
	current     *Plugin
	reason      string
	suggestion  string
	closed      bool

	index           []functionEntry
	indexGeneration uint64

	watcher *Watcher
}

type functionEntry struct {
	plugin   *Plugin
	function int
	name     string
}

// NewController takes ownership of already loaded plugins of kind.
func NewController(kind Kind, plugins []*Plugin, opts ...Option) *Controller {
	o := newOptions(opts)
	return newController(kind, plugins, o)
}

func newController(kind Kind, plugins []*Plugin, o options) *Controller {
	c := &Controller{
		kind:    kind,
		opts:    o,
		logger:  o.logger.Named("controller").With(zap.Stringer("kind", kind)),
		tracer:  o.tracer,
		metrics: o.metrics,
		plugins: plugins,
		phase:   StateInstantiated,
	}
	c.metrics.loaded(kind, len(plugins))
	return c
}

// FromPath loads every file in dir whose name matches the pattern option.
// Files that fail to load are logged and skipped; dir is not searched
// recursively.
func FromPath(ctx context.Context, dir string, kind Kind, opts ...Option) (*Controller, error) {
	if kind == KindUnknown {
		return nil, errors.New("wasm: unknown plugin kind")
	}
	o := newOptions(opts)
	c := newController(kind, nil, o)
	paths, err := discover(dir, o.pattern)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		p, err := loadPlugin(ctx, path, kind, &c.opts)
		if err != nil {
			c.logger.Warn("skipping plugin", zap.String("path", path), zap.Error(err))
			continue
		}
		c.plugins = append(c.plugins, p)
	}
	c.logger.Info("plugins loaded", zap.String("dir", dir), zap.Int("count", len(c.plugins)))
	c.metrics.loaded(kind, len(c.plugins))
	return c, nil
}

// NewControllerFromConfig validates cfg, loads its directory and starts
// watching it when cfg.Watch is set. opts override the configuration.
func NewControllerFromConfig(ctx context.Context, cfg *Config, opts ...Option) (*Controller, error) {
	cfg.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := FromPath(ctx, cfg.Dir, cfg.PluginKind(), append(cfg.Options(), opts...)...)
	if err != nil {
		return nil, err
	}
	if cfg.Watch {
		if err := c.Watch(ctx, cfg.Dir); err != nil {
			return nil, multierr.Append(err, c.Close(ctx))
		}
	}
	return c, nil
}

func discover(dir, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("wasm: invalid pattern %q: %w", pattern, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("wasm: error reading plugin directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !g.Match(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

func (c *Controller) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "Controller."+op,
		trace.WithAttributes(attribute.String("plugin.kind", c.kind.String())))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (c *Controller) usable() error {
	if c.closed || c.phase == StateTerminated {
		return ErrControllerTerminated
	}
	return nil
}

// Kind returns the plugin kind the controller hosts.
func (c *Controller) Kind() Kind { return c.kind }

// Len returns the number of plugins.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.plugins)
}

// Initialize runs every plugin's initializer and stops at the first error.
func (c *Controller) Initialize(ctx context.Context) (err error) {
	ctx, span := c.start(ctx, "Initialize")
	defer func() { endSpan(span, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	for _, p := range c.plugins {
		if err := p.Initialize(ctx); err != nil {
			return err
		}
	}
	c.phase = StateInitialized
	return nil
}

// Create creates every plugin's handle, stopping at the first error, and
// builds the function index.
func (c *Controller) Create(ctx context.Context) (err error) {
	ctx, span := c.start(ctx, "Create")
	defer func() { endSpan(span, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	for _, p := range c.plugins {
		if err := p.Create(ctx); err != nil {
			return err
		}
	}
	c.phase = StateCreated
	c.buildIndex(ctx)
	return nil
}

// buildIndex lists the functions of every created plugin in plugin order.
// Plugins whose metadata cannot be read are left out; trapped plugins are
// retired.
func (c *Controller) buildIndex(ctx context.Context) {
	c.reapTrapped(ctx)
	c.index = c.index[:0]
	for _, p := range c.plugins {
		entries, err := indexPlugin(ctx, p)
		if err != nil {
			p.logger.Warn("leaving plugin out of the function index", zap.Error(err))
			continue
		}
		c.index = append(c.index, entries...)
	}
	c.reapTrapped(ctx)
	c.indexGeneration = c.generation
}

// noteTrap takes a plugin poisoned by a trap out of routing. It leaves the
// plugin list at the next index rebuild.
func (c *Controller) noteTrap(p *Plugin) {
	if !p.Trapped() {
		return
	}
	if c.current == p {
		c.current = nil
	}
	c.generation++
}

// reapTrapped removes trapped plugins from the list and retires them.
func (c *Controller) reapTrapped(ctx context.Context) {
	kept := c.plugins[:0]
	for _, p := range c.plugins {
		if !p.Trapped() {
			kept = append(kept, p)
			continue
		}
		p.logger.Warn("retiring trapped plugin")
		p.retire(ctx)
		if c.current == p {
			c.current = nil
		}
	}
	if len(kept) == len(c.plugins) {
		return
	}
	clear(c.plugins[len(kept):])
	c.plugins = kept
	c.metrics.loaded(c.kind, len(c.plugins))
}

func indexPlugin(ctx context.Context, p *Plugin) ([]functionEntry, error) {
	if _, ok := p.Handle(); !ok {
		return nil, nil
	}
	name, err := p.Name(ctx)
	if err != nil {
		return nil, err
	}
	version, err := p.Version(ctx)
	if err != nil {
		return nil, err
	}
	functions, err := p.Functions(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]functionEntry, len(functions))
	for i, fn := range functions {
		entries[i] = functionEntry{
			plugin:   p,
			function: i,
			name:     fmt.Sprintf("%s: %s (%s)", name, fn, version),
		}
	}
	return entries, nil
}

// ensureIndex rebuilds the index after the plugin list changed.
func (c *Controller) ensureIndex(ctx context.Context) {
	if c.phase >= StateCreated && c.phase < StateDestroyed && c.indexGeneration != c.generation {
		c.buildIndex(ctx)
	}
}

// SetLanguage forwards the UI language to every plugin and remembers it
// for plugins loaded later.
func (c *Controller) SetLanguage(ctx context.Context, language int32) (err error) {
	ctx, span := c.start(ctx, "SetLanguage")
	defer func() { endSpan(span, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	c.language, c.hasLanguage = language, true
	for _, p := range c.plugins {
		if err := p.SetLanguage(ctx, language); err != nil {
			c.noteTrap(p)
			return err
		}
	}
	return c.route(nil)
}

// CountAllFunctions returns the size of the function index.
func (c *Controller) CountAllFunctions(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return 0, err
	}
	c.ensureIndex(ctx)
	return len(c.index), c.route(nil)
}

// FunctionName returns "{plugin}: {function} ({version})" for entry i.
func (c *Controller) FunctionName(ctx context.Context, i int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.entry(ctx, i)
	if err != nil {
		return "", err
	}
	return e.name, c.route(nil)
}

// Functions returns every function index entry name.
func (c *Controller) Functions(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return nil, err
	}
	c.ensureIndex(ctx)
	names := make([]string, len(c.index))
	for i, e := range c.index {
		names[i] = e.name
	}
	return names, c.route(nil)
}

func (c *Controller) entry(ctx context.Context, i int) (functionEntry, error) {
	if err := c.usable(); err != nil {
		return functionEntry{}, err
	}
	c.ensureIndex(ctx)
	if i < 0 || i >= len(c.index) {
		return functionEntry{}, fmt.Errorf("wasm: function %d of %d: %w", i, len(c.index), ErrFunctionIndexOutOfBounds)
	}
	return c.index[i], nil
}

// SetFunction selects entry i. On success its plugin becomes current.
func (c *Controller) SetFunction(ctx context.Context, i int) (err error) {
	ctx, span := c.start(ctx, "SetFunction")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int("function.index", i))

	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.entry(ctx, i)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("plugin.path", e.plugin.Path()))
	if err := c.route(e.plugin.SetFunction(ctx, e.function)); err != nil {
		c.noteTrap(e.plugin)
		return err
	}
	c.current = e.plugin
	return nil
}

// route records the failure strings carried by err. Any successful
// operation and failures without a guest explanation clear them.
func (c *Controller) route(err error) error {
	c.reason, c.suggestion = "", ""
	var gerr *GuestReportedError
	if errors.As(err, &gerr) && gerr.Status == StatusErrorReferReason {
		c.reason, c.suggestion = gerr.Reason, gerr.Suggestion
	}
	return err
}

// withCurrent runs fn against the current plugin and routes its result.
func (c *Controller) withCurrent(ctx context.Context, op string, fn func(context.Context, *Plugin) error) (err error) {
	ctx, span := c.start(ctx, op)
	defer func() { endSpan(span, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	if c.current == nil {
		return ErrNoCurrentPlugin
	}
	p := c.current
	span.SetAttributes(attribute.String("plugin.path", p.Path()))
	err = c.route(fn(ctx, p))
	c.noteTrap(p)
	return err
}

// SetInputData feeds the model or motion to the current plugin.
func (c *Controller) SetInputData(ctx context.Context, data []byte) error {
	return c.withCurrent(ctx, "SetInputData", func(ctx context.Context, p *Plugin) error {
		return p.SetInputData(ctx, data)
	})
}

// SetData feeds bytes to the current plugin's suffix setter.
func (c *Controller) SetData(ctx context.Context, suffix string, data []byte) error {
	return c.withCurrent(ctx, "SetData", func(ctx context.Context, p *Plugin) error {
		return p.SetData(ctx, suffix, data)
	})
}

func (c *Controller) SetInt32s(ctx context.Context, suffix string, values []int32) error {
	return c.withCurrent(ctx, "SetInt32s", func(ctx context.Context, p *Plugin) error {
		return p.SetInt32s(ctx, suffix, values)
	})
}

func (c *Controller) SetUint32s(ctx context.Context, suffix string, values []uint32) error {
	return c.withCurrent(ctx, "SetUint32s", func(ctx context.Context, p *Plugin) error {
		return p.SetUint32s(ctx, suffix, values)
	})
}

func (c *Controller) SetNamedUint32s(ctx context.Context, suffix, name string, values []uint32) error {
	return c.withCurrent(ctx, "SetNamedUint32s", func(ctx context.Context, p *Plugin) error {
		return p.SetNamedUint32s(ctx, suffix, name, values)
	})
}

// SetAudioDescription, SetCameraDescription, SetLightDescription and
// SetInputAudioData feed editor context to the current plugin. Guests
// without the export ignore them.
func (c *Controller) SetAudioDescription(ctx context.Context, data []byte) error {
	return c.SetData(ctx, ExportSetAudioDescription, data)
}

func (c *Controller) SetCameraDescription(ctx context.Context, data []byte) error {
	return c.SetData(ctx, ExportSetCameraDescription, data)
}

func (c *Controller) SetLightDescription(ctx context.Context, data []byte) error {
	return c.SetData(ctx, ExportSetLightDescription, data)
}

func (c *Controller) SetInputAudioData(ctx context.Context, data []byte) error {
	return c.SetData(ctx, ExportSetInputAudioData, data)
}

// Execute runs the selected function of the current plugin.
func (c *Controller) Execute(ctx context.Context) error {
	return c.withCurrent(ctx, "Execute", func(ctx context.Context, p *Plugin) error {
		return p.Execute(ctx)
	})
}

// OutputData returns what the last Execute produced.
func (c *Controller) OutputData(ctx context.Context) ([]byte, error) {
	var out []byte
	err := c.withCurrent(ctx, "OutputData", func(ctx context.Context, p *Plugin) (err error) {
		out, err = p.OutputData(ctx)
		return err
	})
	return out, err
}

func (c *Controller) LoadUIWindowLayout(ctx context.Context) error {
	return c.withCurrent(ctx, "LoadUIWindowLayout", func(ctx context.Context, p *Plugin) error {
		return p.LoadUIWindowLayout(ctx)
	})
}

func (c *Controller) UIWindowLayout(ctx context.Context) ([]byte, error) {
	var out []byte
	err := c.withCurrent(ctx, "UIWindowLayout", func(ctx context.Context, p *Plugin) (err error) {
		out, err = p.UIWindowLayout(ctx)
		return err
	})
	return out, err
}

// SetUIComponentLayout reports whether the guest asked for a reload.
func (c *Controller) SetUIComponentLayout(ctx context.Context, id string, data []byte) (bool, error) {
	var reload bool
	err := c.withCurrent(ctx, "SetUIComponentLayout", func(ctx context.Context, p *Plugin) (err error) {
		reload, err = p.SetUIComponentLayout(ctx, id, data)
		return err
	})
	return reload, err
}

// FailureReason returns the explanation of the last failed call, if the
// guest gave one.
func (c *Controller) FailureReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Controller) RecoverySuggestion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suggestion
}

// Destroy releases every handle in reverse load order. Every plugin is
// visited; errors are combined.
func (c *Controller) Destroy(ctx context.Context) (err error) {
	ctx, span := c.start(ctx, "Destroy")
	defer func() { endSpan(span, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	for i := len(c.plugins) - 1; i >= 0; i-- {
		err = multierr.Append(err, c.plugins[i].Destroy(ctx))
	}
	c.phase = StateDestroyed
	c.current = nil
	c.index = nil
	return err
}

// Terminate finalizes every plugin in reverse load order and releases
// them. Plugins still holding a handle are destroyed first. Every later
// operation returns ErrControllerTerminated.
func (c *Controller) Terminate(ctx context.Context) (err error) {
	ctx, span := c.start(ctx, "Terminate")
	defer func() { endSpan(span, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	for i := len(c.plugins) - 1; i >= 0; i-- {
		p := c.plugins[i]
		if p.State() < StateDestroyed {
			err = multierr.Append(err, p.Destroy(ctx))
		}
		err = multierr.Append(err, p.Terminate(ctx))
		err = multierr.Append(err, p.Close(ctx))
	}
	c.phase = StateTerminated
	c.current = nil
	c.index = nil
	return err
}

// Plugins describes every plugin in load order.
func (c *Controller) Plugins(ctx context.Context) ([]PluginInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return nil, err
	}
	infos := make([]PluginInfo, 0, len(c.plugins))
	var err error
	for _, p := range c.plugins {
		info, ierr := p.Info(ctx)
		err = multierr.Append(err, ierr)
		infos = append(infos, info)
	}
	return infos, err
}

// Close stops watching and tears down every plugin whatever its state.
func (c *Controller) Close(ctx context.Context) error {
	var err error
	if w := c.stopWatching(); w != nil {
		err = w.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return err
	}
	c.closed = true
	for i := len(c.plugins) - 1; i >= 0; i-- {
		c.plugins[i].retire(ctx)
	}
	c.plugins = nil
	c.current = nil
	c.index = nil
	c.metrics.loaded(c.kind, 0)
	return err
}

func (c *Controller) stopWatching() *Watcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.watcher
	c.watcher = nil
	return w
}
