// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var jsonOutput bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the printer state and current job",
	Args:  cobra.NoArgs,
	RunE: withPrinter(func(ctx context.Context, p *anycubic.Printer, args []string) error {
		status, err := p.Status(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(status)
		}
		fmt.Print(anycubic.FormatStatus(status))
		return nil
	}),
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show model, firmware, identifier and Wi-Fi network",
	Args:  cobra.NoArgs,
	RunE: withPrinter(func(ctx context.Context, p *anycubic.Printer, args []string) error {
		info, err := p.SystemInfo(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(info)
		}
		fmt.Print(anycubic.FormatSystemInfo(info))
		return nil
	}),
}

var nameCmd = &cobra.Command{
	Use:   "name [new-name]",
	Short: "Show or change the printer name",
	Args:  cobra.MaximumNArgs(1),
	RunE: withPrinter(func(ctx context.Context, p *anycubic.Printer, args []string) error {
		if len(args) == 0 {
			name, err := p.Name(ctx)
			if err != nil {
				return err
			}
			fmt.Println(name)
			return nil
		}

		ok, err := p.SetName(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("printer rejected the new name")
		}
		fmt.Printf("Printer renamed to %s\n", args[0])
		return nil
	}),
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List the files on the printer's USB drive",
	Args:  cobra.NoArgs,
	RunE: withPrinter(func(ctx context.Context, p *anycubic.Printer, args []string) error {
		files, err := p.Files(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(files)
		}
		fmt.Printf("%d file(s)\n", len(files))
		fmt.Print(anycubic.FormatFiles(files))
		return nil
	}),
}

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Dump the raw getpara values",
	Args:  cobra.NoArgs,
	RunE: withPrinter(func(ctx context.Context, p *anycubic.Printer, args []string) error {
		params, err := p.Params(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(params)
		}
		for i, v := range params {
			fmt.Printf("  [%d] %s\n", i, v)
		}
		return nil
	}),
}

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Show the getmode value",
	Args:  cobra.NoArgs,
	RunE: withPrinter(func(ctx context.Context, p *anycubic.Printer, args []string) error {
		mode, err := p.Mode(ctx)
		if err != nil {
			return err
		}
		fmt.Println(mode)
		return nil
	}),
}

var previewOutput string

var previewCmd = &cobra.Command{
	Use:   "preview <file-number>",
	Short: "Fetch the preview image data of a file",
	Long: `Fetch the preview of a file by its device file number (for example 0.pwms).

The reply is written exactly as received, including the echoed command. Use
-o - to write to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: withPrinter(func(ctx context.Context, p *anycubic.Printer, args []string) error {
		data, err := p.Preview(ctx, args[0])
		if err != nil {
			return err
		}
		if previewOutput == "-" {
			_, err := os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(previewOutput, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", previewOutput, err)
		}
		fmt.Printf("Wrote %d bytes to %s\n", len(data), previewOutput)
		return nil
	}),
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, infoCmd, filesCmd, paramsCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(nameCmd, modeCmd, previewCmd)
	previewCmd.Flags().StringVarP(&previewOutput, "output", "o", "preview.bin", "Output file (- for stdout)")
}

// printerFunc is the body of a command that talks to one printer
type printerFunc func(ctx context.Context, p *anycubic.Printer, args []string) error

// withPrinter opens the printer and runs fn with a context cancelled on interrupt
func withPrinter(fn printerFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		p, connInfo, err := OpenPrinter()
		if err != nil {
			return err
		}
		log.Debug().Str("command", cmd.Name()).Msg(connInfo)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return fn(ctx, p, args)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
