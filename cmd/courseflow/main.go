// Package main provides the entry point for the courseflow CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raceops/courseflow/cmd/courseflow/commands"
	"github.com/raceops/courseflow/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	var (
		configPath string
		verbose    bool
		quiet      bool
	)

	rootCmd := &cobra.Command{
		Use:   "courseflow",
		Short: "Courseflow - crowd density and flow analysis for multi-event road races",
		Long: `Courseflow analyzes runner crowding and flow interactions across the
segments of a multi-event road race.

Commands:
  run       Execute an analysis request and write the artifact set
  validate  Check an analysis request without running the engines
  serve     Run the HTTP analysis service
  runs      List past analysis runs
  report    Print a run's day reports`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default .courseflow.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")

	rootCmd.AddCommand(commands.NewRunCommand(&configPath))
	rootCmd.AddCommand(commands.NewValidateCommand())
	rootCmd.AddCommand(commands.NewServeCommand(&configPath))
	rootCmd.AddCommand(commands.NewRunsCommand(&configPath))
	rootCmd.AddCommand(commands.NewReportCommand(&configPath))
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "courseflow %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
