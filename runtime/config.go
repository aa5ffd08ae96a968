package runtime

import "fmt"

// Mode selects how an engine executes guest code.
type Mode string

const (
	// ModeInterpreter runs guests in the engine's interpreter.
	ModeInterpreter Mode = "interpreter"
	// ModeCompiled compiles guests to native code ahead of execution.
	ModeCompiled Mode = "compiled"
)

// TypeWazero is the name the wazero adapter registers under.
const TypeWazero = "wazero"

// Config is passed to a Factory when a runtime is created.
type Config struct {
	// Mode is either interpreter or compiled. Empty means interpreter.
	Mode Mode `mapstructure:"mode"`

	// MemoryLimitPages caps guest linear memory in 64KiB pages. Zero keeps
	// the engine default.
	MemoryLimitPages uint32 `mapstructure:"memory_limit_pages"`

	// CompilationCacheDir persists compiled modules across processes.
	// Empty keeps an in-memory cache shared by every runtime of the process.
	CompilationCacheDir string `mapstructure:"compilation_cache_dir"`

	// CloseOnContextDone aborts running guest code when the call context
	// is cancelled.
	CloseOnContextDone bool `mapstructure:"close_on_context_done"`
}

// Default fills zero values.
func (c *Config) Default() {
	if c.Mode == "" {
		c.Mode = ModeInterpreter
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case "", ModeInterpreter, ModeCompiled:
	default:
		return fmt.Errorf("invalid runtime mode %q: %w", c.Mode, ErrInvalidConfiguration)
	}
	if c.MemoryLimitPages > 65536 {
		return fmt.Errorf("memory_limit_pages %d exceeds 65536: %w", c.MemoryLimitPages, ErrInvalidConfiguration)
	}
	return nil
}
