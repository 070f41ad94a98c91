package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for privscan.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "privscan",
		Short: "Privacy scanner for websites",
		Long: `privscan finds trackers, fingerprinting scripts, third-party requests and
cookies on websites and turns them into a scored privacy report.

Run "privscan serve" for the HTTP API and "privscan worker" for the scan
workers, or "privscan scan" to scan targets locally without a queue.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: privscan.yaml in current or XDG config directory)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewWorkerCmd())
	cmd.AddCommand(NewScanCmd())
	cmd.AddCommand(NewReportCmd())
	cmd.AddCommand(NewRequeueCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
