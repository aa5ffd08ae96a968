package wasmplugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

// Watcher reloads a controller's plugins when files in its directory
// change. Bursts are not debounced; the last successful load wins.
type Watcher struct {
	c       *Controller
	dir     string
	pattern glob.Glob
	fsw     *fsnotify.Watcher
	logger  *zap.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Watch starts reloading plugins from dir until ctx is done or the
// controller is closed.
func (c *Controller) Watch(ctx context.Context, dir string) error {
	pattern, err := glob.Compile(c.opts.pattern)
	if err != nil {
		return fmt.Errorf("wasm: invalid pattern %q: %w", c.opts.pattern, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	if c.watcher != nil {
		return errors.New("wasm: controller is already watching")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("wasm: error creating watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("wasm: error watching %s: %w", dir, err)
	}

	w := &Watcher{
		c:       c,
		dir:     filepath.Clean(dir),
		pattern: pattern,
		fsw:     fsw,
		logger:  c.logger.Named("watcher").With(zap.String("dir", dir)),
		done:    make(chan struct{}),
	}
	c.watcher = w
	w.wg.Add(1)
	go w.run(ctx)
	w.logger.Debug("watching plugin directory")
	return nil
}

// Close stops the watcher and waits for an in-flight reload to finish.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeErr = w.fsw.Close()
		w.wg.Wait()
	})
	return w.closeErr
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if filepath.Dir(path) != w.dir || !w.pattern.Match(filepath.Base(path)) {
		return
	}
	var (
		event string
		err   error
	)
	switch {
	case ev.Has(fsnotify.Create):
		event = "create"
		err = w.c.upsert(ctx, path)
	case ev.Has(fsnotify.Write):
		event = "write"
		err = w.c.upsert(ctx, path)
	case ev.Has(fsnotify.Remove):
		event = "remove"
		w.c.remove(ctx, path)
	case ev.Has(fsnotify.Rename):
		event = "rename"
		w.c.remove(ctx, path)
	default:
		return
	}
	w.c.metrics.reload(w.c.kind, event, err)
	if err != nil {
		w.logger.Warn("failed to reload plugin", zap.String("path", path), zap.String("event", event), zap.Error(err))
	}
}

// upsert loads path, brings it to the controller's phase and swaps it in
// for the plugin previously loaded from path, if any.
func (c *Controller) upsert(ctx context.Context, path string) error {
	c.mu.Lock()
	if err := c.acceptsPlugins(); err != nil {
		c.mu.Unlock()
		return err
	}
	phase, language, hasLanguage := c.phase, c.language, c.hasLanguage
	c.mu.Unlock()

	p, err := loadPlugin(ctx, path, c.kind, &c.opts)
	if err != nil {
		return err
	}
	if err := prepare(ctx, p, phase, language, hasLanguage); err != nil {
		p.retire(ctx)
		return err
	}

	c.mu.Lock()
	if err := c.acceptsPlugins(); err != nil {
		c.mu.Unlock()
		p.retire(ctx)
		return err
	}
	// The controller may have advanced while the plugin was loading.
	if c.phase != phase || c.language != language || c.hasLanguage != hasLanguage {
		if err := prepare(ctx, p, c.phase, c.language, c.hasLanguage); err != nil {
			c.mu.Unlock()
			p.retire(ctx)
			return err
		}
	}
	var old *Plugin
	if i := c.indexOf(path); i >= 0 {
		old = c.plugins[i]
		c.plugins[i] = p
	} else {
		c.plugins = append(c.plugins, p)
	}
	if old != nil && c.current == old {
		c.current = nil
	}
	c.generation++
	c.metrics.loaded(c.kind, len(c.plugins))
	c.mu.Unlock()

	if old != nil {
		old.retire(ctx)
		p.logger.Info("plugin reloaded")
	} else {
		p.logger.Info("plugin added")
	}
	return nil
}

func (c *Controller) acceptsPlugins() error {
	if err := c.usable(); err != nil {
		return err
	}
	if c.phase >= StateDestroyed {
		return fmt.Errorf("wasm: controller is %s: %w", c.phase, ErrInvalidState)
	}
	return nil
}

// prepare runs the lifecycle steps p is missing to reach phase.
func prepare(ctx context.Context, p *Plugin, phase State, language int32, hasLanguage bool) error {
	if phase >= StateInitialized && p.State() == StateInstantiated {
		if err := p.Initialize(ctx); err != nil {
			return err
		}
	}
	if phase >= StateCreated && p.State() < StateCreated {
		if err := p.Create(ctx); err != nil {
			return err
		}
	}
	if hasLanguage {
		return p.SetLanguage(ctx, language)
	}
	return nil
}

// remove drops and retires every plugin loaded from path.
func (c *Controller) remove(ctx context.Context, path string) {
	c.mu.Lock()
	var removed []*Plugin
	kept := c.plugins[:0]
	for _, p := range c.plugins {
		if filepath.Clean(p.Path()) == path {
			removed = append(removed, p)
			continue
		}
		kept = append(kept, p)
	}
	c.plugins = kept
	for _, p := range removed {
		if c.current == p {
			c.current = nil
		}
	}
	if len(removed) > 0 {
		c.generation++
	}
	c.metrics.loaded(c.kind, len(c.plugins))
	c.mu.Unlock()

	for _, p := range removed {
		p.retire(ctx)
		p.logger.Info("plugin removed")
	}
}

func (c *Controller) indexOf(path string) int {
	for i, p := range c.plugins {
		if filepath.Clean(p.Path()) == path {
			return i
		}
	}
	return -1
}
