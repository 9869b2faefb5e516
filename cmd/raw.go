// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rawIdle bool

var rawCmd = &cobra.Command{
	Use:   "raw <command> [args...]",
	Short: "Send a command and display the raw reply",
	Long: `Send an arbitrary command frame and display the reply in human-readable form.

Each argument becomes one comma-separated token, so

  resinstat raw setname "Bench Printer"

sends "setname,Bench Printer,". The raw reply is printed with non-printable
bytes escaped, followed by the decoded payload tokens.

Use --idle for commands that never send the ",end" sentinel (getPreview2).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRaw,
}

func init() {
	rawCmd.Flags().BoolVar(&rawIdle, "idle", false, "Read until the printer goes quiet instead of until ,end")
	rootCmd.AddCommand(rawCmd)
}

func runRaw(cmd *cobra.Command, args []string) error {
	if cfg.Printer.Host == "" {
		return fmt.Errorf("--host must be specified (or set %s)", envHost)
	}
	tokens := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsRune(a, anycubic.Delimiter) {
			return fmt.Errorf("argument %q must not contain %q", a, anycubic.Delimiter)
		}
		encoded, err := anycubic.EncodeText(a)
		if err != nil {
			return err
		}
		tokens[i] = string(encoded)
	}

	transport := anycubic.NewTCPTransport(fmt.Sprintf("%s:%d", cfg.Printer.Host, cfg.Printer.Port))
	transport.ConnectTimeout = cfg.Printer.ConnectTimeout
	transport.ReadTimeout = cfg.Printer.ReadTimeout
	transport.Logger = log.Logger

	mode := anycubic.ReadUntilSentinel
	if rawIdle {
		mode = anycubic.ReadUntilIdle
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	frame := anycubic.BuildFrame(tokens...)
	fmt.Printf("-> %s\n", anycubic.FormatFrame(frame))

	raw, err := transport.Send(ctx, frame, mode)
	if len(raw) > 0 {
		fmt.Printf("<- %s (%d bytes)\n", anycubic.FormatFrame(raw), len(raw))
	}
	if err != nil {
		return err
	}
	if rawIdle {
		return nil
	}

	payload, err := anycubic.DecodeResponse(raw, tokens...)
	if err != nil {
		return err
	}
	for i, t := range payload {
		fmt.Printf("  [%d] %s\n", i, t)
	}
	return nil
}
