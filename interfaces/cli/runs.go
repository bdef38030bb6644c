package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
	"github.com/felixgeelhaar/merlin-agent/domain/run"
	infraconfig "github.com/felixgeelhaar/merlin-agent/infrastructure/config"
)

// runsOptions holds options shared by the runs subcommands.
type runsOptions struct {
	configPath string
	jsonOutput bool
	reasons    []string
	minLevels  int
	limit      int
	summary    bool
	entries    bool
}

func (a *App) newRunsCmd() *cobra.Command {
	opts := &runsOptions{}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Query persisted runs",
		Long: `Query the runs persisted by the configured run store.

Examples:
  # List the latest runs
  merlin runs list -c merlin.yaml --limit 10

  # Only failed runs, with aggregate statistics
  merlin runs list -c merlin.yaml --reason exhausted --reason fatal --summary

  # Show one run with its audit trail
  merlin runs show -c merlin.yaml --entries 5f0c...`,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	list := &cobra.Command{
		Use:   "list",
		Short: "List persisted runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listRuns(cmd.Context(), opts)
		},
	}
	list.Flags().StringSliceVar(&opts.reasons, "reason", nil, "Filter by termination reason (success, exhausted, fatal, cancelled)")
	list.Flags().IntVar(&opts.minLevels, "min-levels", 0, "Only runs that solved at least this many levels")
	list.Flags().IntVar(&opts.limit, "limit", 20, "Maximum number of runs (0 = all)")
	list.Flags().BoolVar(&opts.summary, "summary", false, "Print aggregate statistics")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a persisted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showRun(cmd.Context(), opts, args[0])
		},
	}
	show.Flags().BoolVar(&opts.entries, "entries", false, "Include the audit trail")

	cmd.AddCommand(list, show)
	return cmd
}

func (a *App) openStore(ctx context.Context, path string) (infraconfig.Store, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	return infraconfig.NewBuilder(cfg).Store(ctx)
}

func (o *runsOptions) filter() (run.ListFilter, error) {
	f := run.ListFilter{
		MinLevelsSolved: o.minLevels,
		Limit:           o.limit,
		OrderBy:         run.OrderByStartTime,
		Descending:      true,
	}
	for _, r := range o.reasons {
		reason := puzzle.TerminationReason(strings.ToLower(r))
		switch reason {
		case puzzle.TerminationSuccess, puzzle.TerminationExhausted, puzzle.TerminationFatal, puzzle.TerminationCancelled:
			f.Reasons = append(f.Reasons, reason)
		default:
			return f, fmt.Errorf("unknown termination reason %q", r)
		}
	}
	return f, nil
}

func (a *App) listRuns(ctx context.Context, opts *runsOptions) error {
	filter, err := opts.filter()
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	var summary *run.Summary
	if opts.summary {
		s, err := summarize(ctx, store, filter)
		if err != nil {
			return err
		}
		summary = &s
	}

	if opts.jsonOutput {
		results := make([]puzzle.RunResult, 0, len(records))
		for _, rec := range records {
			r := rec.Result
			r.History = nil
			results = append(results, r)
		}
		out := map[string]any{"runs": results}
		if summary != nil {
			out["summary"] = summary
		}
		return a.writeJSON(out)
	}

	if len(records) == 0 {
		fmt.Fprintln(a.stdout, "No runs found.")
	}
	for _, rec := range records {
		r := rec.Result
		fmt.Fprintf(a.stdout, "%s  %-9s  levels %d/%d  iterations %-3d  %s\n",
			r.RunID, r.TerminationReason, r.LevelsSolved, r.FinalLevel, r.Iterations,
			r.StartTime.Format(time.RFC3339))
	}

	if summary != nil {
		fmt.Fprintf(a.stdout, "\nSummary:\n")
		fmt.Fprintf(a.stdout, "  Total: %d\n", summary.TotalRuns)
		fmt.Fprintf(a.stdout, "  Succeeded: %d\n", summary.SucceededRuns)
		fmt.Fprintf(a.stdout, "  Exhausted: %d\n", summary.ExhaustedRuns)
		fmt.Fprintf(a.stdout, "  Fatal: %d\n", summary.FatalRuns)
		fmt.Fprintf(a.stdout, "  Cancelled: %d\n", summary.CancelledRuns)
		fmt.Fprintf(a.stdout, "  Max level solved: %d\n", summary.MaxLevelSolved)
		fmt.Fprintf(a.stdout, "  Average duration: %s\n", summary.AverageDuration.Round(time.Millisecond))
	}
	return nil
}

// summarize uses the store's own aggregation when it has one.
func summarize(ctx context.Context, store run.Store, filter run.ListFilter) (run.Summary, error) {
	filter.Limit, filter.Offset = 0, 0
	if sp, ok := store.(run.SummaryProvider); ok {
		s, err := sp.Summary(ctx, filter)
		if err != nil {
			return run.Summary{}, fmt.Errorf("failed to summarize runs: %w", err)
		}
		return s, nil
	}
	records, err := store.List(ctx, filter)
	if err != nil {
		return run.Summary{}, fmt.Errorf("failed to summarize runs: %w", err)
	}
	return run.Summarize(records, filter), nil
}

func (a *App) showRun(ctx context.Context, opts *runsOptions, id string) error {
	store, err := a.openStore(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get run %s: %w", id, err)
	}
	if !opts.entries {
		rec.Entries = nil
	}

	if opts.jsonOutput {
		return a.writeJSON(rec)
	}

	if err := a.printResult(rec.Result, false); err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "\nHistory:\n")
	for _, ex := range rec.Result.History {
		fmt.Fprintf(a.stdout, "  %3d  L%d  %s\n", ex.Index, ex.Level, describeExchange(ex))
	}

	if len(rec.Entries) > 0 {
		fmt.Fprintf(a.stdout, "\nEntries:\n")
		for _, e := range rec.Entries {
			fmt.Fprintf(a.stdout, "  %s  %-16s  %s", e.Timestamp.Format("15:04:05.000"), e.Type, e.Phase)
			if len(e.Details) > 0 {
				fmt.Fprintf(a.stdout, "  %s", e.Details)
			}
			fmt.Fprintln(a.stdout)
		}
	}
	return nil
}

func describeExchange(ex puzzle.Exchange) string {
	var b strings.Builder
	b.WriteString(ex.Action.Kind.String())
	switch ex.Action.Kind {
	case puzzle.ActionAsk:
		fmt.Fprintf(&b, " %q", ex.Action.Question)
	case puzzle.ActionSubmit:
		fmt.Fprintf(&b, " %q", ex.Action.Password)
	}
	if ex.Forced {
		b.WriteString(" [forced]")
	}
	if ex.Fallback {
		b.WriteString(" [fallback]")
	}
	if ex.Outcome == nil {
		b.WriteString(" -> pending")
		return b.String()
	}
	fmt.Fprintf(&b, " -> %s", ex.Outcome.Kind)
	switch {
	case ex.Outcome.Text != "":
		fmt.Fprintf(&b, " %q", ex.Outcome.Text)
	case ex.Outcome.Reason != "":
		fmt.Fprintf(&b, " (%s)", ex.Outcome.Reason)
	case ex.Outcome.Message != "":
		fmt.Fprintf(&b, " (%s)", ex.Outcome.Message)
	}
	return b.String()
}

func (a *App) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
