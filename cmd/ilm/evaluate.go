package main

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/ilm/pkg/cli"
	"mercator-hq/ilm/pkg/lifecycle"
)

var evaluateFlags struct {
	at     string
	stream string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Show the actions a cycle would take",
	Long: `Evaluate retention policies against the persisted index records without
changing anything.

Records come from the configured state backend. The evaluation time defaults
to now.

Examples:
  # Actions due now for every stream
  ilm evaluate

  # Actions due for the api stream at a given time
  ilm evaluate --stream api --at 2026-03-02T00:00:00Z -o json`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVar(&evaluateFlags.at, "at", "", "evaluation time (RFC3339, default now)")
	evaluateCmd.Flags().StringVar(&evaluateFlags.stream, "stream", "", "only evaluate this stream")
}

type evaluateResult struct {
	At      time.Time          `json:"at"`
	Actions []lifecycle.Action `json:"actions"`
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}

	at := time.Now().UTC()
	if evaluateFlags.at != "" {
		at, err = time.Parse(time.RFC3339, evaluateFlags.at)
		if err != nil {
			return cli.NewConfigError("at", fmt.Sprintf("invalid time %q: %v", evaluateFlags.at, err))
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	store, err := restoreSnapshot(cmd.Context(), cfg, logger.With("component", "cli"))
	if err != nil {
		return cli.NewCommandError("evaluate", err)
	}

	evaluator := lifecycle.NewEvaluator(store)
	result := evaluateResult{At: at, Actions: []lifecycle.Action{}}
	if evaluateFlags.stream != "" {
		actions, err := evaluator.Evaluate(evaluateFlags.stream, at)
		if err != nil {
			return cli.NewCommandError("evaluate", err)
		}
		result.Actions = append(result.Actions, actions...)
	} else {
		all := evaluator.EvaluateAll(at)
		for _, stream := range slices.Sorted(maps.Keys(all)) {
			result.Actions = append(result.Actions, all[stream]...)
		}
	}
	logger.Debug("evaluation finished", slog.Int("actions", len(result.Actions)))

	table := cli.NewTable("STREAM", "ACTION", "INDEX", "REASON")
	for _, a := range result.Actions {
		table.AddRow(a.Stream, a.Kind, a.Index(), a.Reason)
	}
	if f == cli.FormatText && len(result.Actions) == 0 {
		return cli.Render(cmd.OutOrStdout(), f, nil, "no actions due at "+at.Format(time.RFC3339))
	}
	return cli.Render(cmd.OutOrStdout(), f, table, result)
}
