package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/ilm/pkg/cli"
	"mercator-hq/ilm/pkg/lifecycle"
	"mercator-hq/ilm/pkg/lifecycle/journal"
)

var journalFlags struct {
	stream string
	runID  string
	kind   string
	status string
	since  string
	limit  int
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the action journal",
	Long: `Query the history of lifecycle actions recorded by the daemon.

Examples:
  # Latest 100 actions
  ilm journal

  # Failed deletes of the api stream in the last day
  ilm journal --stream api --kind delete --status failed --since 24h

  # Everything one cycle did
  ilm journal --run-id 0b6f... -o json`,
	RunE: runJournal,
}

var journalPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete journal entries older than journal.retention.days",
	RunE:  runJournalPrune,
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalPruneCmd)

	journalCmd.Flags().StringVar(&journalFlags.stream, "stream", "", "filter by stream")
	journalCmd.Flags().StringVar(&journalFlags.runID, "run-id", "", "filter by cycle run id")
	journalCmd.Flags().StringVar(&journalFlags.kind, "kind", "", "filter by action kind (rollover, delete)")
	journalCmd.Flags().StringVar(&journalFlags.status, "status", "", "filter by status (applied, already_rolled, already_deleted, failed, skipped, dry_run)")
	journalCmd.Flags().StringVar(&journalFlags.since, "since", "", "only entries newer than this (RFC3339 or a duration such as 24h)")
	journalCmd.Flags().IntVar(&journalFlags.limit, "limit", journal.DefaultLimit, "maximum number of entries")
}

func openConfiguredJournal() (journal.Journal, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Journal.Enabled {
		return nil, cli.NewConfigError("journal.enabled", "journal is disabled")
	}
	return openJournal(cfg)
}

func parseSince(s string, now time.Time) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return nil, cli.NewConfigError("since", fmt.Sprintf("invalid value %q: want RFC3339 or a positive duration", s))
	}
	t := now.Add(-d)
	return &t, nil
}

func runJournal(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	since, err := parseSince(journalFlags.since, time.Now())
	if err != nil {
		return err
	}

	j, err := openConfiguredJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Query(cmd.Context(), journal.Query{
		Stream: journalFlags.stream,
		RunID:  journalFlags.runID,
		Kind:   lifecycle.ActionKind(journalFlags.kind),
		Status: journal.Status(journalFlags.status),
		Since:  since,
		Limit:  journalFlags.limit,
	})
	if err != nil {
		return cli.NewCommandError("journal", err)
	}

	table := cli.NewTable("APPLIED_AT", "RUN", "INDEX", "ACTION", "REASON", "STATUS", "ATTEMPTS", "ERROR")
	for _, e := range entries {
		runID := e.RunID
		if len(runID) > 8 {
			runID = runID[:8]
		}
		table.AddRow(e.AppliedAt.Format(time.RFC3339), runID, e.Index, e.Kind, e.Reason,
			e.Status, e.Attempts, e.Error)
	}
	return cli.Render(cmd.OutOrStdout(), f, table, entries)
}

func runJournalPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Journal.Enabled {
		return cli.NewConfigError("journal.enabled", "journal is disabled")
	}
	j, err := openJournal(cfg)
	if err != nil {
		return cli.NewCommandError("journal prune", err)
	}
	defer j.Close()

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	pruner := journal.NewPruner(j, journal.RetentionConfig{Days: cfg.Journal.Retention.Days}, logger)
	deleted, err := pruner.Prune(cmd.Context())
	if err != nil {
		return cli.NewCommandError("journal prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d journal entries older than %d days\n", deleted, cfg.Journal.Retention.Days)
	return nil
}
