package main

import (
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/ilm/pkg/cli"
	"mercator-hq/ilm/pkg/lifecycle"
)

var recordsFlags struct {
	stream string
	state  string
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List persisted index records",
	Long: `List the index records held by the configured state backend.

Examples:
  ilm records
  ilm records --stream api --state rolled -o csv`,
	RunE: runRecords,
}

func init() {
	rootCmd.AddCommand(recordsCmd)

	recordsCmd.Flags().StringVar(&recordsFlags.stream, "stream", "", "only list this stream")
	recordsCmd.Flags().StringVar(&recordsFlags.state, "state", "", "only list records in this state (active, rolled, deleted)")
}

func runRecords(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}

	var wantState lifecycle.IndexState
	if recordsFlags.state != "" {
		wantState, err = lifecycle.ParseIndexState(recordsFlags.state)
		if err != nil {
			return cli.NewConfigError("state", err.Error())
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
		return cli.NewCommandError("records", err)
	}

	streams := store.Streams()
	if recordsFlags.stream != "" {
		streams = []string{recordsFlags.stream}
	}

	records := []lifecycle.IndexRecord{}
	for _, stream := range streams {
		for _, r := range store.ListRecords(stream) {
			if recordsFlags.state != "" && r.State != wantState {
				continue
			}
			records = append(records, r)
		}
	}

	table := cli.NewTable("INDEX", "STATE", "CREATED", "ROLLED", "DELETED", "SIZE")
	for _, r := range records {
		table.AddRow(r.Name(), r.State, r.CreatedAt.Format(time.RFC3339),
			formatTime(r.RolledAt), formatTime(r.DeletedAt), cli.FormatBytes(r.SizeBytes))
	}
	return cli.Render(cmd.OutOrStdout(), f, table, records)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
