// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
	"github.com/Thermoquad/resinstat/pkg/coordinator"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// force skips the "already in desired state" check and sends the command as-is
var force bool

var printCmd = &cobra.Command{
	Use:   "print <file>",
	Short: "Start printing a file",
	Long: `Start printing a file. The file may be given by its display name as shown
by "resinstat files" or by its device file number (for example 3.pwms).`,
	Args: cobra.ExactArgs(1),
	RunE: jobCommand(coordinator.CommandPrint),
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the current print",
	Args:  cobra.NoArgs,
	RunE:  jobCommand(coordinator.CommandPause),
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused print",
	Args:  cobra.NoArgs,
	RunE:  jobCommand(coordinator.CommandResume),
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the current print",
	Args:  cobra.NoArgs,
	RunE:  jobCommand(coordinator.CommandStop),
}

func init() {
	for _, c := range []*cobra.Command{printCmd, pauseCmd, resumeCmd, stopCmd} {
		c.Flags().BoolVar(&force, "force", false, "Send without checking the current state first")
		rootCmd.AddCommand(c)
	}
}

// jobCommand runs a job transition through a coordinator so the current
// state and file list are checked before anything is sent
func jobCommand(command string) func(cmd *cobra.Command, args []string) error {
	return withPrinter(func(ctx context.Context, p *anycubic.Printer, args []string) error {
		fileName := ""
		if len(args) > 0 {
			fileName = args[0]
		}

		if force {
			return forceJobCommand(ctx, p, command, fileName)
		}

		c := coordinator.New(p, coordinator.WithLogger(log.Logger))
		if _, err := c.Refresh(ctx); err != nil {
			return err
		}
		if err := c.SendCommand(ctx, command, fileName); err != nil {
			return err
		}
		fmt.Printf("%s: OK\n", command)
		return nil
	})
}

func forceJobCommand(ctx context.Context, p *anycubic.Printer, command, fileName string) error {
	var (
		ok  bool
		err error
	)
	if command == coordinator.CommandPrint {
		ok, err = p.StartPrint(ctx, fileName)
	} else {
		ok, err = p.SetStatus(ctx, anycubic.Action(command))
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", coordinator.ErrRejected, command)
	}
	fmt.Printf("%s: OK\n", command)
	return nil
}
