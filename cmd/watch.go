// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/resinstat/pkg/bridge"
	"github.com/spf13/cobra"
)

var (
	watchURL      string
	watchUsername string
	watchDuration time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print snapshots pushed by a bridge",
	Long: `Connect to the /ws endpoint of a running "resinstat serve" and print every
snapshot it pushes for --duration. Useful for checking that a bridge is
polling the printer and that authentication works.

Exit codes:
  0 - Watch completed normally
  1 - The stream failed before the duration elapsed
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchURL, "url", "ws://localhost:8080/ws", "Bridge WebSocket URL")
	watchCmd.Flags().StringVar(&watchUsername, "username", "", "Bridge username for HTTP Basic auth")
	watchCmd.Flags().DurationVar(&watchDuration, "duration", 30*time.Second, "How long to watch")
	watchCmd.Flags().BoolVar(&noSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification for wss://")
}

// bridgeUnreachableError marks a failed bridge dial so it maps to exit code 2
type bridgeUnreachableError struct {
	err error
}

func (e *bridgeUnreachableError) Error() string { return e.err.Error() }
func (e *bridgeUnreachableError) Unwrap() error { return e.err }

func runWatch(cmd *cobra.Command, args []string) error {
	password := ""
	if watchUsername != "" {
		var err error
		if password, err = GetPassword(); err != nil {
			return err
		}
	}

	stream, err := OpenBridgeStream(watchURL, watchUsername, password, noSSLVerify)
	if err != nil {
		return &bridgeUnreachableError{err: err}
	}
	defer stream.Close()

	fmt.Printf("Resinstat - Bridge Watch\n")
	fmt.Printf("Bridge: %s\n", watchURL)
	fmt.Printf("Duration: %v\n\n", watchDuration)

	type result struct {
		view *bridge.SnapshotView
		err  error
	}
	results := make(chan result)
	go func() {
		for {
			view, err := stream.Next()
			results <- result{view: view, err: err}
			if err != nil {
				return
			}
		}
	}()

	start := time.Now()
	deadline := time.After(watchDuration)
	received := 0

	for {
		select {
		case r := <-results:
			if r.err != nil {
				fmt.Printf("\n[%s] Stream error: %v\n", time.Now().Format("15:04:05.000"), r.err)
				printWatchSummary(time.Since(start), received, "FAILED (stream closed)")
				return fmt.Errorf("bridge stream failed: %w", r.err)
			}
			received++
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), formatSnapshotLine(r.view.Snapshot))

		case <-deadline:
			// Unblock the reader goroutine
			stream.Close()
			go func() {
				for r := range results {
					if r.err != nil {
						return
					}
				}
			}()
			printWatchSummary(watchDuration, received, "PASSED")
			return nil
		}
	}
}

func printWatchSummary(elapsed time.Duration, received int, outcome string) {
	fmt.Printf("\n--- Watch Results ---\n")
	fmt.Printf("Duration: %v\n", elapsed.Round(time.Second))
	fmt.Printf("Snapshots received: %d\n", received)
	fmt.Printf("Result: %s\n", outcome)
}

// isUnreachable reports whether err means the printer or bridge could not be reached
func isUnreachable(err error) bool {
	var berr *bridgeUnreachableError
	return errors.As(err, &berr)
}
