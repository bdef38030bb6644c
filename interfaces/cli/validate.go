package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	infraconfig "github.com/felixgeelhaar/merlin-agent/infrastructure/config"
)

// validateOptions holds options for the validate command.
type validateOptions struct {
	configPath string
	strict     bool
}

func (a *App) newValidateCmd() *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Validate a merlin configuration file for correctness.

This command checks:
  - File format (YAML or JSON) and unknown keys
  - Run bounds (max_iterations, final_level, timeouts)
  - Oracle, puzzle, storage and telemetry settings
  - Environment variable references (in strict mode)

Examples:
  # Validate a configuration file
  merlin validate -c merlin.yaml

  # Strict validation (fail on missing env vars)
  merlin validate -c merlin.yaml --strict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validateConfig(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (required)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Enable strict validation (fail on missing env vars)")

	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func (a *App) validateConfig(opts *validateOptions) error {
	loader := infraconfig.NewLoaderWithOptions(
		infraconfig.WithValidation(true),
		infraconfig.WithStrictEnv(opts.strict),
	)
	cfg, err := loader.LoadFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	builder := infraconfig.NewBuilder(cfg)
	if _, err := builder.Oracle(); err != nil {
		return fmt.Errorf("configuration build failed: %w", err)
	}
	if _, err := builder.Puzzle(nil); err != nil {
		return fmt.Errorf("configuration build failed: %w", err)
	}

	fmt.Fprintf(a.stdout, "✓ Configuration is valid\n")
	if cfg.Name != "" {
		fmt.Fprintf(a.stdout, "  Name: %s\n", cfg.Name)
	}

	fmt.Fprintf(a.stdout, "\nConfiguration summary:\n")
	fmt.Fprintf(a.stdout, "  Max iterations: %d\n", cfg.Run.MaxIterations)
	fmt.Fprintf(a.stdout, "  Final level: %d\n", cfg.Run.FinalLevel)
	fmt.Fprintf(a.stdout, "  Read timeout: %dms\n", cfg.Run.ReadTimeoutMs)
	fmt.Fprintf(a.stdout, "  Submit timeout: %dms\n", cfg.Run.SubmitTimeoutMs)
	fmt.Fprintf(a.stdout, "  Oracle: %s", cfg.Oracle.Provider)
	if cfg.Oracle.Model != "" {
		fmt.Fprintf(a.stdout, " (%s)", cfg.Oracle.Model)
	}
	fmt.Fprintln(a.stdout)
	fmt.Fprintf(a.stdout, "  Puzzle: %s\n", cfg.Puzzle.Kind)
	if len(cfg.Puzzle.Levels) > 0 {
		fmt.Fprintf(a.stdout, "  Sandbox levels: %d\n", len(cfg.Puzzle.Levels))
	}
	fmt.Fprintf(a.stdout, "  Storage: %s\n", cfg.Storage.Backend)
	if cfg.Telemetry.Tracing != "none" || cfg.Telemetry.Metrics {
		fmt.Fprintf(a.stdout, "  Telemetry: tracing=%s metrics=%t\n", cfg.Telemetry.Tracing, cfg.Telemetry.Metrics)
	}
	if n := len(cfg.Notifications.Webhooks); n > 0 {
		fmt.Fprintf(a.stdout, "  Webhooks: %d\n", n)
	}

	return nil
}
