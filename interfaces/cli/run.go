package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/merlin-agent/application"
	"github.com/felixgeelhaar/merlin-agent/domain/config"
	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
	infraconfig "github.com/felixgeelhaar/merlin-agent/infrastructure/config"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/logging"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/observability"
)

// ErrRunNotSucceeded is returned when a run terminates without solving the final level.
var ErrRunNotSucceeded = errors.New("run did not succeed")

const shutdownTimeout = 5 * time.Second

// runOptions holds options for the run command.
type runOptions struct {
	configPath    string
	maxIterations int
	finalLevel    int
	readTimeout   time.Duration
	submitTimeout time.Duration
	sandbox       bool
	verbose       bool
	jsonOutput    bool
}

func (a *App) newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one puzzle session",
		Long: `Run one session against the configured puzzle interface.

Without a configuration file the built-in defaults are used: the live
browser puzzle, a scripted oracle and an in-memory run store.

Examples:
  # Run with a config file
  merlin run -c merlin.yaml

  # Run offline against the simulated puzzle
  merlin run --sandbox --final-level 2 --max-iterations 10

  # Tighter waits, JSON result
  merlin run -c merlin.yaml --read-timeout 2s --submit-timeout 1s --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSession(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().IntVar(&opts.maxIterations, "max-iterations", 0, "Maximum loop passes (overrides config)")
	cmd.Flags().IntVar(&opts.finalLevel, "final-level", 0, "Level whose solution ends the run (overrides config)")
	cmd.Flags().DurationVar(&opts.readTimeout, "read-timeout", 0, "Bounded wait for a reply (overrides config)")
	cmd.Flags().DurationVar(&opts.submitTimeout, "submit-timeout", 0, "Bounded wait for a submission verdict (overrides config)")
	cmd.Flags().BoolVar(&opts.sandbox, "sandbox", false, "Use the simulated puzzle instead of the browser")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the run result as JSON")

	return cmd
}

// loadConfig reads the configuration file, or the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := infraconfig.NewLoaderWithOptions(infraconfig.WithValidation(false)).LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (o *runOptions) apply(cfg *config.Config) {
	if o.maxIterations > 0 {
		cfg.Run.MaxIterations = o.maxIterations
	}
	if o.finalLevel > 0 {
		cfg.Run.FinalLevel = o.finalLevel
	}
	if o.readTimeout > 0 {
		cfg.Run.ReadTimeoutMs = int(o.readTimeout.Milliseconds())
	}
	if o.submitTimeout > 0 {
		cfg.Run.SubmitTimeoutMs = int(o.submitTimeout.Milliseconds())
	}
	if o.sandbox {
		cfg.Puzzle.Kind = "sandbox"
		if len(cfg.Puzzle.Levels) == 0 {
			cfg.Puzzle.Levels = sandboxLevels(cfg.Run.FinalLevel)
		}
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
}

var sandboxSecrets = []string{"COCOLOCO", "POTENTIAL", "WAVELENGTH", "ANTIDOTE", "ALPINE", "MYSTIC", "ELIXIR"}

// sandboxLevels returns a simulated puzzle of n levels.
func sandboxLevels(n int) []config.LevelConfig {
	levels := make([]config.LevelConfig, 0, n)
	for i := range n {
		secret := "LEVEL" + strconv.Itoa(i+1)
		if i < len(sandboxSecrets) {
			secret = sandboxSecrets[i]
		}
		levels = append(levels, config.LevelConfig{
			Secret:       secret,
			DefaultReply: "I am not allowed to tell you the password.",
		})
	}
	return levels
}

func (a *App) runSession(ctx context.Context, opts *runOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if err := infraconfig.Validate(cfg); err != nil {
		return err
	}

	builder := infraconfig.NewBuilder(cfg)

	lc := builder.LoggingConfig()
	lc.Output = a.stderr
	logging.Init(lc)

	provider, metrics, err := builder.Observability(ctx, Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(sctx); err != nil {
			logging.Warn().Add(logging.Component("observability")).Add(logging.ErrorField(err)).Msg("shutdown failed")
		}
	}()

	store, err := builder.Store(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Warn().Add(logging.Component("storage")).Add(logging.ErrorField(err)).Msg("close failed")
		}
	}()

	notifier := builder.Notifier()
	if notifier != nil {
		defer func() {
			if err := notifier.Close(); err != nil {
				logging.Warn().Add(logging.Component("webhook")).Add(logging.ErrorField(err)).Msg("flush failed")
			}
		}()
	}

	oracle, err := builder.Oracle()
	if err != nil {
		return err
	}
	iface, err := builder.Puzzle(func(open bool) {
		metrics.RecordCircuitBreakerStateChange(ctx, open)
	})
	if err != nil {
		return err
	}

	engine, err := application.NewEngineWithOptions(
		application.WithOracle(oracle),
		application.WithInterface(iface),
		application.WithStore(store),
		application.WithNotifier(notifier),
		application.WithMetrics(metrics),
		application.WithTracer(provider.Tracer()),
		application.WithMaxIterations(cfg.Run.MaxIterations),
		application.WithFinalLevel(cfg.Run.FinalLevel),
		application.WithReadTimeout(cfg.Run.ReadTimeout()),
		application.WithSubmitTimeout(cfg.Run.SubmitTimeout()),
		application.WithOracleTimeout(cfg.Run.OracleTimeout()),
		application.WithFallbackQuestion(cfg.Run.FallbackQuestion),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	if opts.verbose && !opts.jsonOutput {
		fmt.Fprintf(a.stdout, "Puzzle: %s\n", cfg.Puzzle.Kind)
		fmt.Fprintf(a.stdout, "Oracle: %s\n", cfg.Oracle.Provider)
		fmt.Fprintf(a.stdout, "Final level: %d\n", cfg.Run.FinalLevel)
		fmt.Fprintf(a.stdout, "Max iterations: %d\n\n", cfg.Run.MaxIterations)
	}

	result, runErr := engine.Run(ctx)
	logSnapshot(ctx, provider)

	if result.RunID != "" {
		if err := a.printResult(result, opts.jsonOutput); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	if !result.Succeeded() {
		return fmt.Errorf("%w: %s", ErrRunNotSucceeded, result.TerminationReason)
	}
	return nil
}

// logSnapshot logs the in-process metric totals of the run.
func logSnapshot(ctx context.Context, provider *observability.Provider) {
	snap, err := provider.Snapshot(ctx)
	if err != nil {
		logging.Warn().Add(logging.Component("telemetry")).Add(logging.ErrorField(err)).Msg("metrics snapshot failed")
		return
	}
	if len(snap) == 0 {
		return
	}

	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	ev := logging.Debug().Add(logging.Component("telemetry"))
	for _, name := range names {
		ev.Add(logging.Str(name, strconv.FormatFloat(snap[name], 'f', -1, 64)))
	}
	ev.Msg("run metrics")
}

func (a *App) printResult(result puzzle.RunResult, asJSON bool) error {
	if asJSON {
		return a.writeJSON(result)
	}

	fmt.Fprintf(a.stdout, "Run completed\n")
	fmt.Fprintf(a.stdout, "  Run ID: %s\n", result.RunID)
	fmt.Fprintf(a.stdout, "  Termination: %s\n", result.TerminationReason)
	if result.Reason != "" {
		fmt.Fprintf(a.stdout, "  Reason: %s\n", result.Reason)
	}
	fmt.Fprintf(a.stdout, "  Final level: %d\n", result.FinalLevel)
	fmt.Fprintf(a.stdout, "  Levels solved: %d\n", result.LevelsSolved)
	fmt.Fprintf(a.stdout, "  Iterations: %d\n", result.Iterations)
	fmt.Fprintf(a.stdout, "  Fallbacks: %d\n", result.Fallbacks)
	fmt.Fprintf(a.stdout, "  Duration: %s\n", result.Duration().Round(time.Millisecond))
	if result.LastReply != "" {
		fmt.Fprintf(a.stdout, "  Last reply: %s\n", result.LastReply)
	}
	return nil
}
