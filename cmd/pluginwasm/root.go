package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nanoem/pluginwasm/wasmplugin"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	dir        string
	kind       string
	pattern    string
	logFormat  string
	logLevel   string
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "pluginwasm",
		Short: "Host model and motion WebAssembly plugins",
		Long: `pluginwasm loads the WebAssembly plugins of a model or motion editor
from a directory, lists their functions, runs them against files and
reloads them as they change.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "YAML plugin config file")
	pf.StringVar(&flags.dir, "dir", "", "plugin directory (overrides config)")
	pf.StringVar(&flags.kind, "kind", "", "plugin kind: model or motion (overrides config)")
	pf.StringVar(&flags.pattern, "pattern", "", "plugin file name glob (overrides config)")
	pf.StringVar(&flags.logFormat, "log-format", "console", "log format: console or json")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level")

	cmd.AddCommand(newListCmd(flags))
	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newValidateCmd(flags))
	cmd.AddCommand(newWatchCmd(flags))

	return cmd
}

// config merges the config file with the flags that override it.
func (f *globalFlags) config() (*wasmplugin.Config, error) {
	cfg := &wasmplugin.Config{}
	if f.configFile != "" {
		var err error
		if cfg, err = wasmplugin.LoadConfigFile(f.configFile); err != nil {
			return nil, err
		}
	}
	if f.dir != "" {
		cfg.Dir = f.dir
	}
	if f.kind != "" {
		cfg.Kind = f.kind
	}
	if f.pattern != "" {
		cfg.Pattern = f.pattern
	}
	cfg.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// pluginOptions resolves the kind and engine options without requiring a
// plugin directory.
func (f *globalFlags) pluginOptions() (wasmplugin.Kind, []wasmplugin.Option, error) {
	cfg := &wasmplugin.Config{}
	if f.configFile != "" {
		var err error
		if cfg, err = wasmplugin.LoadConfigFile(f.configFile); err != nil {
			return wasmplugin.KindUnknown, nil, err
		}
	}
	if f.kind != "" {
		cfg.Kind = f.kind
	}
	cfg.Default()
	kind, err := wasmplugin.ParseKind(cfg.Kind)
	if err != nil {
		return wasmplugin.KindUnknown, nil, err
	}
	return kind, cfg.Options(), nil
}

func (f *globalFlags) logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(f.logLevel)
	if err != nil {
		return nil, err
	}
	var zc zap.Config
	switch f.logFormat {
	case "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: must be 'json' or 'console'", f.logFormat)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// errPluginsFailed is returned after per-plugin errors were reported.
var errPluginsFailed = errors.New("one or more plugins failed")
