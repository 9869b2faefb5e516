// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cirello.io/oversight"
	"github.com/Thermoquad/resinstat/pkg/bridge"
	"github.com/Thermoquad/resinstat/pkg/coordinator"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	serveListen   string
	serveInterval time.Duration
	serveNATSURL  string
	serveUsername string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the printer and serve snapshots over HTTP and WebSocket",
	Long: `Poll the printer every --interval and expose the latest snapshot.

Endpoints:
  GET  /health              liveness and last refresh result
  GET  /api/snapshot        latest snapshot with derived values
  POST /api/refresh         refresh now
  POST /api/command         {"command": "print|pause|resume|stop", "file_name": "..."}
  POST /api/name            {"name": "..."}
  GET  /api/files           file listing from the latest snapshot
  GET  /api/preview/:file   raw preview data
  GET  /ws?encoding=json    snapshot pushes (json or cbor)

With --username every endpoint except /health requires HTTP Basic auth. The
password is read from RESINSTAT_PASSWORD or prompted for.

With --nats-url every snapshot is also published as JSON on
resinstat.<identifier>.snapshot.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (default from config, :8080)")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "Polling interval (default from config, 60s)")
	serveCmd.Flags().StringVar(&serveNATSURL, "nats-url", "", "Publish snapshots to this NATS server")
	serveCmd.Flags().StringVar(&serveUsername, "username", "", "Require HTTP Basic auth with this username")
}

func runServe(cmd *cobra.Command, args []string) error {
	server := cfg.Server
	if cmd.Flags().Changed("listen") {
		server.Listen = serveListen
	}
	if cmd.Flags().Changed("interval") {
		server.Interval = serveInterval
	}
	if cmd.Flags().Changed("nats-url") {
		server.NATSURL = serveNATSURL
	}
	if cmd.Flags().Changed("username") {
		server.Username = serveUsername
	}

	p, connInfo, err := OpenPrinter()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coordOpts := []coordinator.Option{
		coordinator.WithInterval(server.Interval),
		coordinator.WithLogger(log.Logger.With().Str("component", "coordinator").Logger()),
	}

	if server.NATSURL != "" {
		nc, err := nats.Connect(server.NATSURL, nats.Name("resinstat"))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Close()
		log.Info().Str("url", server.NATSURL).Msg("connected to NATS")
		coordOpts = append(coordOpts, coordinator.WithPublisher(nc))
	}

	var serverOpts []bridge.Option
	if server.Username != "" {
		password, err := GetPassword()
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, bridge.WithBasicAuth(server.Username, password))
	}

	coord := coordinator.New(p, coordOpts...)

	gin.SetMode(gin.ReleaseMode)
	srv := bridge.New(coord, log.Logger.With().Str("component", "bridge").Logger(), serverOpts...)

	tree := oversight.New(
		oversight.WithRestartStrategy(oversight.OneForOne()),
		oversight.WithLogger(supervisorLogger{log.Logger.With().Str("component", "supervisor").Logger()}),
	)
	tree.Add(func(ctx context.Context) error {
		return coord.Run(ctx)
	})
	tree.Add(func(ctx context.Context) error {
		if err := srv.ListenAndServe(ctx, server.Listen); err != nil {
			return fmt.Errorf("cannot keep serving anymore: %w", err)
		}
		return nil
	})

	log.Info().
		Str("printer", connInfo).
		Str("listen", server.Listen).
		Dur("interval", coord.Interval()).
		Bool("auth", server.Username != "").
		Msg("starting bridge")

	if err := tree.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor stopped: %w", err)
	}
	log.Info().Msg("bridge stopped")
	return nil
}

// supervisorLogger adapts zerolog to the supervision tree's logger
type supervisorLogger struct {
	logger zerolog.Logger
}

func (l supervisorLogger) Printf(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l supervisorLogger) Println(args ...interface{}) {
	l.logger.Info().Msg(strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}
