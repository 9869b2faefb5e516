// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
	"github.com/Thermoquad/resinstat/pkg/coordinator"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	monitorInterval time.Duration
	monitorURL      string
	monitorUsername string
	noSSLVerify     bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live printer dashboard",
	Long: `Show a live view of the printer state and current job.

By default the printer given by --host is polled directly every --interval.
With --url the snapshots are read from a running "resinstat serve" bridge
instead, reconnecting automatically when the bridge goes away.

Keys (direct mode):
  r      refresh now
  p      pause or resume the current print
  s      stop the current print (asks for confirmation)
  q      quit

When stdout is not a terminal one line is printed per snapshot.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 5*time.Second, "Polling interval in direct mode")
	monitorCmd.Flags().StringVar(&monitorURL, "url", "", "Bridge WebSocket URL (e.g. ws://host:8080/ws)")
	monitorCmd.Flags().StringVar(&monitorUsername, "username", "", "Bridge username for HTTP Basic auth")
	monitorCmd.Flags().BoolVar(&noSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification for wss://")
	rootCmd.AddCommand(monitorCmd)
}

// monitorSink receives feed messages. *tea.Program satisfies it.
type monitorSink interface {
	Send(msg tea.Msg)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	if interactive {
		// Log output would corrupt the alt screen; errors are shown in the event log
		log.Logger = zerolog.Nop()
	}

	var (
		feed     func(ctx context.Context, sink monitorSink)
		coord    *coordinator.Coordinator
		connInfo string
	)

	if monitorURL != "" {
		password := ""
		if monitorUsername != "" {
			var err error
			if password, err = GetPassword(); err != nil {
				return err
			}
		}
		bf := &bridgeFeed{url: monitorURL, username: monitorUsername, password: password, skipVerify: noSSLVerify}
		// Fail fast when the bridge is unreachable at startup
		stream, err := bf.open()
		if err != nil {
			return err
		}
		connInfo = fmt.Sprintf("Bridge: %s", monitorURL)
		feed = func(ctx context.Context, sink monitorSink) { bf.run(ctx, stream, sink) }
	} else {
		p, info, err := OpenPrinter()
		if err != nil {
			return err
		}
		connInfo = info
		coord = coordinator.New(p,
			coordinator.WithInterval(monitorInterval),
			coordinator.WithLogger(log.Logger),
		)
		feed = func(ctx context.Context, sink monitorSink) { pollPrinter(ctx, coord, sink) }
	}

	if !interactive {
		fmt.Printf("Resinstat - Monitor\n")
		fmt.Printf("%s\n", connInfo)
		fmt.Printf("Press Ctrl+C to exit\n\n")
		feed(ctx, &textSink{})
		return nil
	}

	m := initialMonitorModel(coord, connInfo)
	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	feedCtx, cancelFeed := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		feed(feedCtx, prog)
	}()

	_, err := prog.Run()
	cancelFeed()
	wg.Wait()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// pollPrinter refreshes the coordinator every interval until ctx is done
func pollPrinter(ctx context.Context, c *coordinator.Coordinator, sink monitorSink) {
	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	for {
		sink.Send(refreshMsg(ctx, c))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// refreshMsg runs one refresh and wraps the outcome as a feed message
func refreshMsg(ctx context.Context, c *coordinator.Coordinator) tea.Msg {
	snap, err := c.Refresh(ctx)
	if err != nil {
		return refreshErrorMsg{err: err}
	}
	return snapshotMsg{snapshot: snap}
}

// bridgeFeed reads snapshots from a bridge and reconnects when it goes away
type bridgeFeed struct {
	url        string
	username   string
	password   string
	skipVerify bool
}

func (f *bridgeFeed) open() (*BridgeStream, error) {
	return OpenBridgeStream(f.url, f.username, f.password, f.skipVerify)
}

func (f *bridgeFeed) run(ctx context.Context, stream *BridgeStream, sink monitorSink) {
	for {
		f.read(ctx, stream, sink)
		if ctx.Err() != nil {
			return
		}

		sink.Send(connectionLostMsg{})
		stream = f.reconnect(ctx)
		if stream == nil {
			return
		}
		sink.Send(reconnectedMsg{connInfo: fmt.Sprintf("Bridge: %s", f.url)})
	}
}

// read forwards snapshots until the stream fails or ctx is done
func (f *bridgeFeed) read(ctx context.Context, stream *BridgeStream, sink monitorSink) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-done:
		}
	}()

	for {
		view, err := stream.Next()
		if err != nil {
			stream.Close()
			return
		}
		sink.Send(snapshotMsg{snapshot: view.Snapshot})
	}
}

// reconnect retries with exponential backoff. It returns nil if ctx ends first.
func (f *bridgeFeed) reconnect(ctx context.Context) *BridgeStream {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		stream, err := f.open()
		if err == nil {
			return stream
		}
		log.Debug().Err(err).Dur("backoff", backoff).Msg("bridge reconnect failed")

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// textSink prints one line per feed message
type textSink struct {
	mu sync.Mutex
}

func (t *textSink) Send(msg tea.Msg) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().Format("15:04:05")
	switch msg := msg.(type) {
	case snapshotMsg:
		fmt.Printf("%s %s\n", now, formatSnapshotLine(msg.snapshot))
	case refreshErrorMsg:
		fmt.Printf("%s [ERROR] %v\n", now, msg.err)
	case connectionLostMsg:
		fmt.Printf("%s connection lost - reconnecting...\n", now)
	case reconnectedMsg:
		fmt.Printf("%s reconnected to %s\n", now, msg.connInfo)
	}
}

// formatSnapshotLine renders a snapshot as a single status line
func formatSnapshotLine(snap *coordinator.Snapshot) string {
	if snap == nil {
		return "no data"
	}
	line := fmt.Sprintf("%-8s", snap.StateLabel())
	if snap.Name != "" {
		line = fmt.Sprintf("[%s] %s", snap.Name, line)
	}
	if pct, ok := snap.JobPercentage(); ok {
		line += fmt.Sprintf(" %3d%%", pct)
	}
	if snap.Status != nil && snap.Status.Job != nil {
		job := snap.Status.Job
		line += fmt.Sprintf(" %s layer %d/%d, %s left",
			job.FileName, job.CurrentLayer, job.TotalLayers, anycubic.FormatDuration(job.TimeRemaining))
	}
	return line
}
