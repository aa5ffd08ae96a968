package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type runConfig struct {
	function int
	input    string
	output   string
	language int32
}

func newRunCmd(g *globalFlags) *cobra.Command {
	cfg := &runConfig{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one plugin function against a file",
		Long: `Select a function by its index in the list output, feed it the input
file and write what it produces to the output file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, g, cfg)
		},
	}
	cmd.Flags().IntVar(&cfg.function, "function", 0, "function index")
	cmd.Flags().StringVar(&cfg.input, "input", "", "model or motion file to transform")
	cmd.Flags().StringVar(&cfg.output, "output", "", "file to write the result to")
	cmd.Flags().Int32Var(&cfg.language, "language", 0, "editor UI language passed to plugins")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runRun(cmd *cobra.Command, g *globalFlags, cfg *runConfig) (err error) {
	ctx := cmd.Context()
	logger, err := g.logger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	input, err := os.ReadFile(cfg.input)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	c, err := openController(ctx, g, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeController(ctx, c)) }()

	if cmd.Flags().Changed("language") {
		if err := c.SetLanguage(ctx, cfg.language); err != nil {
			return err
		}
	}
	name, err := c.FunctionName(ctx, cfg.function)
	if err != nil {
		return err
	}
	logger.Info("running plugin function", zap.Int("index", cfg.function), zap.String("function", name))

	if err := c.SetFunction(ctx, cfg.function); err != nil {
		return explain(cmd, c.FailureReason(), c.RecoverySuggestion(), err)
	}
	if err := c.SetInputData(ctx, input); err != nil {
		return explain(cmd, c.FailureReason(), c.RecoverySuggestion(), err)
	}
	if err := c.Execute(ctx); err != nil {
		return explain(cmd, c.FailureReason(), c.RecoverySuggestion(), err)
	}
	output, err := c.OutputData(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfg.output, output, 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: wrote %d bytes to %s\n", name, len(output), cfg.output)
	return nil
}

// explain prints what the plugin said about its failure.
func explain(cmd *cobra.Command, reason, suggestion string, err error) error {
	if reason != "" {
		cmd.PrintErrf("reason: %s\n", reason)
	}
	if suggestion != "" {
		cmd.PrintErrf("suggestion: %s\n", suggestion)
	}
	return err
}
