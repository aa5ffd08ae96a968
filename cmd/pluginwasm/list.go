package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nanoem/pluginwasm/wasmplugin"
)

type listConfig struct {
	jsonOutput bool
}

// listedPlugin is the JSON form of a plugin.
type listedPlugin struct {
	ID          string   `json:"id"`
	Path        string   `json:"path"`
	Kind        string   `json:"kind"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	ABIVersion  string   `json:"abi_version"`
	Functions   []string `json:"functions"`
}

func newListCmd(g *globalFlags) *cobra.Command {
	cfg := &listConfig{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plugins and the functions they offer",
		Long: `Load every plugin in the plugin directory, create it and print its
metadata together with the function index the editor menu shows.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, g, cfg)
		},
	}
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output plugins as JSON")

	return cmd
}

// openController loads and creates the configured plugins.
func openController(ctx context.Context, g *globalFlags, logger *zap.Logger, opts ...wasmplugin.Option) (*wasmplugin.Controller, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	c, err := wasmplugin.NewControllerFromConfig(ctx, cfg, append([]wasmplugin.Option{wasmplugin.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := c.Initialize(ctx); err != nil {
		return nil, multierr.Append(err, c.Close(ctx))
	}
	if err := c.Create(ctx); err != nil {
		return nil, multierr.Append(err, c.Close(ctx))
	}
	return c, nil
}

// closeController tears c down in lifecycle order.
func closeController(ctx context.Context, c *wasmplugin.Controller) error {
	err := c.Destroy(ctx)
	err = multierr.Append(err, c.Terminate(ctx))
	return multierr.Append(err, c.Close(ctx))
}

func runList(cmd *cobra.Command, g *globalFlags, cfg *listConfig) (err error) {
	ctx := cmd.Context()
	logger, err := g.logger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	c, err := openController(ctx, g, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeController(ctx, c)) }()

	infos, err := c.Plugins(ctx)
	if err != nil {
		return err
	}
	functions, err := c.Functions(ctx)
	if err != nil {
		return err
	}

	if cfg.jsonOutput {
		listed := make([]listedPlugin, len(infos))
		for i, info := range infos {
			listed[i] = listedPlugin{
				ID:          info.ID,
				Path:        info.Path,
				Kind:        info.Kind.String(),
				Name:        info.Name,
				Version:     info.Version,
				Description: info.Description,
				ABIVersion:  info.ABIVersion.String(),
				Functions:   info.Functions,
			}
		}
		out, err := json.MarshalIndent(listed, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(w, formatPlugins(infos))
	_, _ = fmt.Fprint(w, formatFunctions(functions))
	return nil
}

func formatPlugins(infos []wasmplugin.PluginInfo) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PATH\tNAME\tVERSION\tABI\tFUNCTIONS")
	for _, info := range infos {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", info.Path, info.Name, info.Version, info.ABIVersion, len(info.Functions))
	}
	_ = w.Flush()
	return buf.String()
}

func formatFunctions(functions []string) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "INDEX\tFUNCTION")
	for i, name := range functions {
		_, _ = fmt.Fprintf(w, "%d\t%s\n", i, name)
	}
	_ = w.Flush()
	return buf.String()
}
