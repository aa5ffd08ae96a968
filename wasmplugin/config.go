package wasmplugin

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-viper/mapstructure/v2"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/nanoem/pluginwasm/runtime"
)

// RuntimeConfig selects and configures the engine every plugin runs on.
type RuntimeConfig struct {
	// Type is a registered runtime name. Empty means wazero.
	Type string `mapstructure:"type"`

	runtime.Config `mapstructure:",squash"`
}

// CapabilitiesConfig describes what guests may reach through WASI.
type CapabilitiesConfig struct {
	Args []string          `mapstructure:"args"`
	Env  map[string]string `mapstructure:"env"`

	// InheritEnv passes the host environment before Env.
	InheritEnv bool `mapstructure:"inherit_env"`

	// Dirs are preopened for every guest.
	Dirs []string `mapstructure:"dirs"`

	InheritStdio bool `mapstructure:"inherit_stdio"`
}

// Config defines where plugins come from and how they run.
type Config struct {
	// Dir is scanned for plugin modules.
	Dir string `mapstructure:"dir"`

	// Kind is "model" or "motion".
	Kind string `mapstructure:"kind"`

	// Pattern is the glob file names must match.
	Pattern string `mapstructure:"pattern"`

	// Watch reloads plugins when files in Dir change.
	Watch bool `mapstructure:"watch"`

	Runtime      RuntimeConfig      `mapstructure:"runtime"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
}

// Default fills zero values.
func (cfg *Config) Default() {
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.Runtime.Type == "" {
		cfg.Runtime.Type = runtime.TypeWazero
	}
	cfg.Runtime.Config.Default()
}

// Validate validates the configuration
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Dir == "" {
		errs = append(errs, errors.New("dir is required"))
	}
	if _, err := ParseKind(cfg.Kind); err != nil {
		errs = append(errs, err)
	}
	if cfg.Pattern != "" {
		if _, err := glob.Compile(cfg.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("invalid pattern %q: %w", cfg.Pattern, err))
		}
	}
	if err := cfg.Runtime.Config.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", err, runtime.ErrInvalidConfiguration)
	}
	return nil
}

// PluginKind returns the parsed Kind.
func (cfg *Config) PluginKind() Kind {
	k, _ := ParseKind(cfg.Kind)
	return k
}

// capabilities converts the capabilities section to the engine form.
func (cfg *Config) capabilities() runtime.Capabilities {
	c := cfg.Capabilities
	caps := runtime.Capabilities{
		Args:         append([]string(nil), c.Args...),
		Dirs:         append([]string(nil), c.Dirs...),
		InheritStdio: c.InheritStdio,
	}
	if c.InheritEnv {
		caps.Env = append(caps.Env, os.Environ()...)
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		caps.Env = append(caps.Env, k+"="+c.Env[k])
	}
	return caps
}

// Options turns the configuration into plugin options. Options given
// later override these.
func (cfg *Config) Options() []Option {
	return []Option{
		WithRuntime(cfg.Runtime.Type, cfg.Runtime.Config),
		WithCapabilities(cfg.capabilities()),
		WithPattern(cfg.Pattern),
	}
}

// DecodeConfig decodes a generic map, such as one read from a larger
// configuration file, into a defaulted Config. Unknown keys are errors.
func DecodeConfig(input map[string]any) (*Config, error) {
	cfg := &Config{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(input); err != nil {
		return nil, fmt.Errorf("decoding plugin config: %w: %w", err, runtime.ErrInvalidConfiguration)
	}
	cfg.Default()
	return cfg, nil
}

// LoadConfigFile reads a YAML file and decodes it with DecodeConfig.
func LoadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plugin config: %w", err)
	}
	var input map[string]any
	if err := yaml.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("parsing plugin config %s: %w: %w", path, err, runtime.ErrInvalidConfiguration)
	}
	return DecodeConfig(input)
}
