// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge exposes a coordinator over HTTP and WebSocket.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
	"github.com/Thermoquad/resinstat/pkg/coordinator"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Source is the coordinator surface served by the bridge
type Source interface {
	Snapshot() *coordinator.Snapshot
	Available() bool
	LastError() error
	Statistics() coordinator.Statistics
	Refresh(ctx context.Context) (*coordinator.Snapshot, error)
	SendCommand(ctx context.Context, command, fileName string) error
	SetPrinterName(ctx context.Context, name string) error
	Preview(ctx context.Context, file string) ([]byte, error)
	Subscribe() (<-chan *coordinator.Snapshot, func())
}

// Server is the HTTP front end
type Server struct {
	source   Source
	router   *gin.Engine
	logger   zerolog.Logger
	accounts gin.Accounts
}

// Option configures a Server
type Option func(*Server)

// WithBasicAuth requires HTTP Basic auth on every route except /health
func WithBasicAuth(username, password string) Option {
	return func(s *Server) {
		if username != "" {
			s.accounts = gin.Accounts{username: password}
		}
	}
}

type commandRequest struct {
	Command  string `json:"command" binding:"required"`
	FileName string `json:"file_name"`
}

type nameRequest struct {
	Name string `json:"name" binding:"required"`
}

// New builds the router for source
func New(source Source, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		source: source,
		router: gin.New(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router.Use(gin.Recovery(), s.requestLogger())

	s.router.GET("/health", s.handleHealth)

	protected := s.router.Group("/")
	if s.accounts != nil {
		protected.Use(gin.BasicAuth(s.accounts))
	}
	protected.GET("/ws", s.handleWebSocket)

	api := protected.Group("/api")
	api.GET("/snapshot", s.handleSnapshot)
	api.POST("/refresh", s.handleRefresh)
	api.POST("/command", s.handleCommand)
	api.POST("/name", s.handleName)
	api.GET("/files", s.handleFiles)
	api.GET("/preview/:file", s.handlePreview)
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	health := gin.H{
		"status":     "ok",
		"available":  s.source.Available(),
		"statistics": s.source.Statistics(),
	}
	if snap := s.source.Snapshot(); snap != nil {
		health["last_read_time"] = snap.LastRead
	}
	if err := s.source.LastError(); err != nil {
		health["last_error"] = err.Error()
	}
	c.JSON(http.StatusOK, health)
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snap := s.source.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no data yet"})
		return
	}
	c.JSON(http.StatusOK, snapshotView(snap))
}

func (s *Server) handleRefresh(c *gin.Context) {
	snap, err := s.source.Refresh(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshotView(snap))
}

func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.source.SendCommand(c.Request.Context(), req.Command, req.FileName); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "command": req.Command})
}

func (s *Server) handleName(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.source.SetPrinterName(c.Request.Context(), req.Name); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "name": req.Name})
}

func (s *Server) handleFiles(c *gin.Context) {
	snap := s.source.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no data yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": snap.Files})
}

func (s *Server) handlePreview(c *gin.Context) {
	file := c.Param("file")
	data, err := s.source.Preview(c.Request.Context(), file)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// writeError maps client and coordinator errors to HTTP responses
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		cerr *anycubic.ConnectError
		terr *anycubic.ReadTimeoutError
		perr *anycubic.ProtocolError
		merr *anycubic.MalformedResponseError
	)
	switch {
	case errors.As(err, &cerr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "cannot connect"})
	case errors.As(err, &terr):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "printer did not answer in time"})
	case errors.As(err, &perr):
		body := gin.H{"error": perr.Error()}
		if perr.HasCode {
			body["code"] = perr.Code
		}
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &merr):
		s.logger.Warn().Err(merr).Strs("tokens", merr.Tokens).Str("raw", anycubic.FormatFrame(merr.Raw)).Msg("malformed printer response")
		c.JSON(http.StatusBadGateway, gin.H{"error": "unexpected printer response"})
	case errors.Is(err, coordinator.ErrAlreadyInState), errors.Is(err, coordinator.ErrRejected):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, coordinator.ErrFileNameRequired),
		errors.Is(err, coordinator.ErrUnknownFile),
		errors.Is(err, coordinator.ErrUnknownCommand),
		errors.Is(err, anycubic.ErrInvalidText):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		s.logger.Error().Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// SnapshotView is the JSON shape of a snapshot, including derived values
type SnapshotView struct {
	*coordinator.Snapshot
	State           string     `json:"state"`
	JobPercentage   *int       `json:"job_percentage,omitempty"`
	EstimatedFinish *time.Time `json:"estimated_finish,omitempty"`
	Printing        bool       `json:"printing"`
}

func snapshotView(snap *coordinator.Snapshot) SnapshotView {
	v := SnapshotView{
		Snapshot: snap,
		State:    snap.StateLabel(),
		Printing: snap.IsPrinting(),
	}
	if p, ok := snap.JobPercentage(); ok {
		v.JobPercentage = &p
	}
	if t, ok := snap.EstimatedFinish(); ok {
		v.EstimatedFinish = &t
	}
	return v
}
