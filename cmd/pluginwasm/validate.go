package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nanoem/pluginwasm/wasmplugin"
)

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check that modules implement the plugin ABI",
		Long: `Instantiate each module and check its exports against the plugin ABI
of the selected kind. Only the ABI version getter runs guest code.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, g, args)
		},
	}
}

func runValidate(cmd *cobra.Command, g *globalFlags, paths []string) error {
	ctx := cmd.Context()
	logger, err := g.logger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	kind, opts, err := g.pluginOptions()
	if err != nil {
		return err
	}
	opts = append(opts, wasmplugin.WithLogger(logger))

	failed := false
	for _, path := range paths {
		p, err := wasmplugin.LoadPlugin(ctx, path, kind, opts...)
		if err != nil {
			failed = true
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", path, err)
			continue
		}
		abi, err := p.ABIVersion(ctx)
		if cerr := p.Close(ctx); cerr != nil {
			logger.Warn("failed to close plugin", zap.String("path", path), zap.Error(cerr))
		}
		if err != nil {
			failed = true
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", path, err)
			continue
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok   %s (%s, abi %s)\n", path, kind, abi)
	}
	if failed {
		return errPluginsFailed
	}
	return nil
}
