// Package main provides the entry point for the crashtriage CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/crashtriage/cmd/crashtriage/commands"
	"github.com/Sumatoshi-tech/crashtriage/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "crashtriage",
		Short: "Crash capture and triage pipeline",
		Long: `Crashtriage detects anomalies in system logs and manages the on-disk
crash report queue.

Commands:
  anomaly     Follow system logs and hand detected anomalies to the collector
  send        Evaluate queued crash reports and upload the sendable ones
  serialize   Write sendable crash reports as structured records
  list        Show the crash report queue`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	commands.RegisterGlobalFlags(rootCmd)

	rootCmd.AddCommand(commands.NewAnomalyCommand())
	rootCmd.AddCommand(commands.NewSendCommand())
	rootCmd.AddCommand(commands.NewSerializeCommand())
	rootCmd.AddCommand(commands.NewListCommand())
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
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
