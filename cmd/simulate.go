// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
	"github.com/Thermoquad/resinstat/pkg/printersim"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	simListen        string
	simNoMedia       bool
	simLayerInterval time.Duration
	simName          string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated printer for testing",
	Long: `Run a TCP server that speaks the printer protocol.

The simulated printer has two files on its USB drive, accepts job commands
and advances a running print by one layer every --layer-interval. Point any
other command at it with --host 127.0.0.1.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simListen, "listen", fmt.Sprintf(":%d", anycubic.DefaultPort), "TCP listen address")
	simulateCmd.Flags().BoolVar(&simNoMedia, "no-media", false, "Simulate a printer without a USB drive")
	simulateCmd.Flags().DurationVar(&simLayerInterval, "layer-interval", time.Second, "Time per simulated layer (0 to advance manually)")
	simulateCmd.Flags().StringVar(&simName, "name", "", "Printer name (default \"Simulated Printer\")")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	simCfg := printersim.DefaultConfig()
	simCfg.NoMedia = simNoMedia
	if simName != "" {
		simCfg.Name = simName
	}

	sim := printersim.New(simCfg, log.Logger.With().Str("component", "simulator").Logger())
	if err := sim.Listen(simListen); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", simListen, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if simLayerInterval > 0 {
		go func() {
			ticker := time.NewTicker(simLayerInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					sim.Advance(1)
				}
			}
		}()
	}

	log.Info().
		Str("addr", sim.Addr()).
		Str("model", simCfg.Model).
		Bool("no_media", simNoMedia).
		Msg("simulated printer listening")

	return sim.Serve(ctx)
}
