package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/ilm/pkg/cli"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "ilm",
	Short: "Index lifecycle manager for log streams",
	Long: `ilm applies per-stream retention policies to time-series log indices.

Each stream writes into one active index. A lifecycle cycle rolls the active
index over once it exceeds rollover_max_age or rollover_max_size and deletes
rolled indices older than delete_min_age, oldest first.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return cli.ExitCode(err)
	}
	return cli.ExitOK
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and ILM_* environment when empty)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json, csv")
}

// format returns the validated --output flag.
func format() (cli.OutputFormat, error) {
	return cli.ParseFormat(outputFormat)
}
