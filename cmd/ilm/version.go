package main

import (
	"runtime"

	"github.com/spf13/cobra"

	"mercator-hq/ilm/pkg/cli"
	"mercator-hq/ilm/pkg/telemetry/health"
)

// Build metadata, set with -ldflags "-X main.Version=...".
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func versionInfo() health.VersionInfo {
	return health.VersionInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
		GoVersion: runtime.Version(),
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := format()
		if err != nil {
			return err
		}
		info := versionInfo()

		table := cli.NewTable()
		table.AddRow("ilm", info.Version)
		table.AddRow("commit", info.Commit)
		table.AddRow("built", info.BuildTime)
		table.AddRow("go", info.GoVersion)
		table.AddRow("platform", runtime.GOOS+"/"+runtime.GOARCH)
		return cli.Render(cmd.OutOrStdout(), f, table, info)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
