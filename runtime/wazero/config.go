package wazero

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"

	"github.com/nanoem/pluginwasm/runtime"
)

var (
	cachesMu sync.Mutex
	// caches outlive every runtime built from them; a plugin reload reuses
	// the compiled code of an unchanged binary.
	caches = map[string]wazero.CompilationCache{}
)

func compilationCache(dir string) (wazero.CompilationCache, error) {
	cachesMu.Lock()
	defer cachesMu.Unlock()

	if cache, ok := caches[dir]; ok {
		return cache, nil
	}
	var (
		cache wazero.CompilationCache
		err   error
	)
	if dir == "" {
		cache = wazero.NewCompilationCache()
	} else if cache, err = wazero.NewCompilationCacheWithDir(dir); err != nil {
		return nil, fmt.Errorf("compilation cache %s: %w", dir, err)
	}
	caches[dir] = cache
	return cache, nil
}

// newWazeroRuntime creates a new Wazero runtime instance
func newWazeroRuntime(config runtime.Config) (runtime.Runtime, error) {
	config.Default()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var wrc wazero.RuntimeConfig
	switch config.Mode {
	case runtime.ModeCompiled:
		wrc = wazero.NewRuntimeConfigCompiler()
	default:
		wrc = wazero.NewRuntimeConfigInterpreter()
	}

	if config.MemoryLimitPages > 0 {
		wrc = wrc.WithMemoryLimitPages(config.MemoryLimitPages)
	}
	if config.CloseOnContextDone {
		wrc = wrc.WithCloseOnContextDone(true)
	}

	cache, err := compilationCache(config.CompilationCacheDir)
	if err != nil {
		return nil, err
	}
	wrc = wrc.WithCompilationCache(cache)

	return &wazeroRuntime{
		runtime: wazero.NewRuntimeWithConfig(context.Background(), wrc),
		config:  config,
	}, nil
}
