// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
	"github.com/Thermoquad/resinstat/pkg/coordinator"
	"github.com/spf13/cobra"
)

var (
	pingTimeout time.Duration
	pingCount   int
)

// errPingLoss is returned when at least one ping went unanswered
var errPingLoss = errors.New("one or more pings failed")

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the printer answers getstatus",
	Long: `Send getstatus to the printer --count times and report the round trip time
of each reply.

This is useful for verifying:
  - The printer is reachable on its TCP port
  - The printer answers with a well-formed reply
  - The read timeout is long enough for this network

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: withPrinter(runPing),
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 5*time.Second, "Timeout for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(ctx context.Context, p *anycubic.Printer, args []string) error {
	if pingCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}

	fmt.Printf("Resinstat - Ping\n")
	fmt.Printf("Printer: %s\n", p.Addr())
	fmt.Printf("Timeout: %v per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	stats := coordinator.NewStatistics()
	var lastConnectErr error

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		startTime := time.Now()
		status, err := p.Status(pingCtx)
		rtt := time.Since(startTime)
		cancel()
		stats.Update(err)

		var cerr *anycubic.ConnectError
		switch {
		case err == nil:
			fmt.Printf("reply state=%s, rtt=%v\n", status.Code.Label(), rtt.Round(time.Millisecond))
		case errors.As(err, &cerr):
			fmt.Printf("CONNECT FAILED: %v\n", err)
			lastConnectErr = err
		case errors.Is(err, context.DeadlineExceeded):
			fmt.Printf("TIMEOUT (no response in %v)\n", pingTimeout)
		default:
			fmt.Printf("FAILED: %v\n", err)
		}

		if ctx.Err() != nil {
			break
		}
		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	printPingSummary(stats)
	// Never reachable: report it as a connection error
	if stats.Succeeded == 0 && lastConnectErr != nil {
		return lastConnectErr
	}
	if stats.Errors() > 0 {
		return errPingLoss
	}
	return nil
}

func printPingSummary(stats *coordinator.Statistics) {
	if stats.Total == 0 {
		return
	}
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		stats.Total, stats.Succeeded, float64(stats.Errors())/float64(stats.Total)*100)
	if verbose {
		fmt.Print(stats.String())
	}
}
