// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
	"github.com/spf13/cobra"
)

var (
	// Printer connection flags
	hostName string
	portNum  int

	configPath string
	verbose    bool

	// cfg is resolved before every command runs
	cfg Config
)

var rootCmd = &cobra.Command{
	Use:   "resinstat",
	Short: "Anycubic resin printer client",
	Long: `Resinstat - A CLI tool for monitoring and controlling Anycubic resin printers
over their TCP protocol (port 6000).

Provides one-shot queries, job control, a live monitor and an HTTP/WebSocket
bridge that polls the printer and pushes snapshots to clients.

Printer selection:
  --host 192.168.1.50 [--port 6000]

Settings are resolved in this order, later entries winning:
  defaults, the INI file given by --config, RESINSTAT_HOST / RESINSTAT_PORT,
  command-line flags.

Exit codes:
  0 - Success
  1 - Command failed or was rejected by the printer
  2 - Connection error`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger(verbose)

		var err error
		cfg, err = LoadConfig(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Printer.Host = hostName
		}
		if cmd.Flags().Changed("port") {
			cfg.Printer.Port = portNum
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&hostName, "host", "H", "", "Printer host name or IP address")
	rootCmd.PersistentFlags().IntVarP(&portNum, "port", "p", anycubic.DefaultPort, "Printer TCP port")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "INI configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps a command error to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cerr *anycubic.ConnectError
	if errors.As(err, &cerr) || isUnreachable(err) {
		return 2
	}
	return 1
}
