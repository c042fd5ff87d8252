/*
Package cli provides helpers shared by the ilm commands.

Output Formatting:

Commands build a Table and render it in the format chosen with --output:

	table := cli.NewTable("STREAM", "INDEX", "STATE", "SIZE")
	table.AddRow("api", "api-000001", "rolled", cli.FormatBytes(5<<30))
	err := cli.Render(os.Stdout, cli.FormatText, table, records)

Text output is column aligned, CSV output writes the table, and JSON output
encodes the raw value instead of the table.

Errors and Exit Codes:

ConfigError and CommandError carry context for failures; ExitCode maps an
error to the process exit status.

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
