// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package printersim provides an in-process printer that speaks the
// comma-delimited TCP protocol. It keeps a job state machine so clients can
// be exercised end to end without hardware.
package printersim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
	"github.com/rs/zerolog"
)

// Error tokens sent by the simulator
const (
	tokenUnknownCommand = "ERROR"
	tokenNoMedia        = "ERROR1"
	tokenInvalidState   = "ERROR2"
	tokenUnknownFile    = "ERROR3"
	tokenAck            = "OK"
)

const (
	maxFrameSize  = 4096
	frameDeadline = 5 * time.Second
)

// Config describes the simulated printer
type Config struct {
	Model      string
	Firmware   string
	Identifier string
	Wifi       string
	Name       string
	Mode       int
	Params     []string

	// Files on the USB drive. NoMedia makes getfile fail with code 1.
	Files   []anycubic.File
	NoMedia bool

	// Preview is sent after the echo of every getPreview2 request
	Preview []byte

	// Job geometry used when a print starts
	Layers       int
	LayerSeconds int
	LayerHeight  float64
}

// DefaultConfig returns a printer with two files and no job
func DefaultConfig() Config {
	return Config{
		Model:        "Photon Mono X",
		Firmware:     "0.2.2",
		Identifier:   "SIM00000001",
		Wifi:         "resinstat",
		Name:         "Simulated Printer",
		Params:       []string{"6", "0.5", "25.0", "1.7", "6.0", "4.0", "6.0", "8"},
		Files:        []anycubic.File{{Name: "cube.pwms", Number: "0.pwms"}, {Name: "模型.pwms", Number: "1.pwms"}},
		Preview:      []byte{0x89, 'P', 'R', 'E', 'V', 0x00, 0xFF, 0x10},
		Layers:       100,
		LayerSeconds: 10,
		LayerHeight:  0.05,
	}
}

// Server is a simulated printer
type Server struct {
	mu       sync.Mutex
	cfg      Config
	name     string
	status   anycubic.StatusCode
	job      *anycubic.Job
	injected map[string]string
	requests []string

	listener net.Listener
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

// New creates a simulator in the stopped state
func New(cfg Config, logger zerolog.Logger) *Server {
	if cfg.Layers <= 0 {
		cfg.Layers = 100
	}
	if cfg.LayerSeconds <= 0 {
		cfg.LayerSeconds = 10
	}
	return &Server{
		cfg:      cfg,
		name:     cfg.Name,
		status:   anycubic.StatusStopped,
		injected: make(map[string]string),
		logger:   logger,
	}
}

// Listen binds the simulator to addr. Use "127.0.0.1:0" for tests.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = l
	s.logger.Info().Str("addr", l.Addr().String()).Msg("simulator listening")
	return nil
}

// Addr returns the bound address
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the bound TCP port
func (s *Server) Port() int {
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Serve accepts connections until ctx is cancelled or the listener is closed
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("simulator is not listening")
	}
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Warn().Err(err).Msg("accept error")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// Close stops accepting connections
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// InjectError makes the next request for command answer with token
// (for example "ERROR5") instead of its normal reply.
func (s *Server) InjectError(command, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injected[command] = token
}

// SetNoMedia removes or inserts the simulated USB drive
func (s *Server) SetNoMedia(noMedia bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.NoMedia = noMedia
}

// Requests returns the frames received so far, without the trailing delimiter
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// PrinterName returns the current name
func (s *Server) PrinterName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// State returns the current status code
func (s *Server) State() anycubic.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Advance prints n layers of the current job. Reaching the last layer
// finishes the job. It does nothing unless printing.
func (s *Server) Advance(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != anycubic.StatusPrinting || s.job == nil {
		return
	}
	j := s.job
	j.CurrentLayer += n
	if j.CurrentLayer >= j.TotalLayers {
		s.status = anycubic.StatusFinished
		s.job = nil
		return
	}
	j.Progress = j.CurrentLayer * 100 / j.TotalLayers
	j.TimeRemaining = (j.TotalLayers - j.CurrentLayer) * s.cfg.LayerSeconds
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	frame, err := readFrame(conn)
	if err != nil {
		s.logger.Debug().Err(err).Msg("failed to read frame")
		return
	}
	tokens := strings.Split(string(bytes.TrimSuffix(frame, []byte{anycubic.Delimiter})), string(anycubic.Delimiter))

	s.mu.Lock()
	s.requests = append(s.requests, strings.Join(tokens, string(anycubic.Delimiter)))
	s.mu.Unlock()

	if tokens[0] == anycubic.CmdGetPreview {
		s.sendPreview(ctx, conn, frame)
		return
	}

	payload := s.handle(tokens[0], tokens[1:])
	reply := append([]byte{}, frame...)
	for _, p := range payload {
		reply = append(reply, p...)
		reply = append(reply, anycubic.Delimiter)
	}
	reply = append(reply, "end"...)

	if _, err := conn.Write(reply); err != nil {
		s.logger.Debug().Err(err).Msg("write failed")
	}
}

// sendPreview writes the preview without a sentinel and holds the connection
// open until the client hangs up.
func (s *Server) sendPreview(ctx context.Context, conn net.Conn, frame []byte) {
	s.mu.Lock()
	preview := append([]byte{}, s.cfg.Preview...)
	s.mu.Unlock()

	reply := append(append([]byte{}, frame...), preview...)
	if _, err := conn.Write(reply); err != nil {
		return
	}
	conn.SetReadDeadline(time.Now().Add(frameDeadline))
	buf := make([]byte, 64)
	for ctx.Err() == nil {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func readFrame(conn net.Conn) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(frameDeadline)); err != nil {
		return nil, err
	}
	frame := make([]byte, 0, 64)
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		frame = append(frame, buf[:n]...)
		if len(frame) > 0 && frame[len(frame)-1] == anycubic.Delimiter {
			return frame, nil
		}
		if err != nil {
			return nil, err
		}
		if len(frame) > maxFrameSize {
			return nil, fmt.Errorf("frame exceeds %d bytes", maxFrameSize)
		}
	}
}

// handle returns the payload tokens (GBK-encoded where needed) for a command
func (s *Server) handle(command string, args []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token, ok := s.injected[command]; ok {
		delete(s.injected, command)
		return []string{token}
	}

	switch command {
	case anycubic.CmdGetStatus:
		return s.statusTokens()
	case anycubic.CmdGetName:
		return []string{encode(s.name)}
	case anycubic.CmdSetName:
		if len(args) != 1 || args[0] == "" {
			return []string{tokenUnknownCommand}
		}
		name, err := anycubic.DecodeLabel([]byte(args[0]))
		if err != nil {
			return []string{tokenUnknownCommand}
		}
		s.name = name
		return []string{encode(name)}
	case anycubic.CmdGetWifi:
		return []string{encode(s.cfg.Wifi)}
	case anycubic.CmdGetSysInfo:
		return []string{s.cfg.Model, s.cfg.Firmware, s.cfg.Identifier, encode(s.cfg.Wifi)}
	case anycubic.CmdGetFile:
		if s.cfg.NoMedia {
			return []string{tokenNoMedia}
		}
		files := make([]string, 0, len(s.cfg.Files))
		for _, f := range s.cfg.Files {
			files = append(files, encode(f.Name)+anycubic.FileSeparator+f.Number)
		}
		return files
	case anycubic.CmdGetPara:
		return s.cfg.Params
	case anycubic.CmdGetMode:
		return []string{strconv.Itoa(s.cfg.Mode)}
	case anycubic.CmdGoStart:
		return s.start(args)
	case anycubic.CmdGoPause:
		switch s.status {
		case anycubic.StatusPrinting:
			s.status = anycubic.StatusPaused
		case anycubic.StatusPaused:
		default:
			return []string{tokenInvalidState}
		}
		return []string{tokenAck}
	case anycubic.CmdGoResume:
		switch s.status {
		case anycubic.StatusPaused:
			s.status = anycubic.StatusPrinting
		case anycubic.StatusPrinting:
		default:
			return []string{tokenInvalidState}
		}
		return []string{tokenAck}
	case anycubic.CmdGoStop:
		if !s.status.HasJob() {
			return []string{tokenInvalidState}
		}
		s.status = anycubic.StatusStopped
		s.job = nil
		return []string{tokenAck}
	default:
		return []string{tokenUnknownCommand}
	}
}

func (s *Server) start(args []string) []string {
	if len(args) != 1 {
		return []string{tokenUnknownCommand}
	}
	if s.status.HasJob() {
		return []string{tokenInvalidState}
	}
	if s.cfg.NoMedia {
		return []string{tokenNoMedia}
	}
	for _, f := range s.cfg.Files {
		if f.Number != args[0] {
			continue
		}
		total := s.cfg.Layers * s.cfg.LayerSeconds
		s.status = anycubic.StatusPrinting
		s.job = &anycubic.Job{
			FileName:      f.Name,
			FileNumber:    f.Number,
			TotalLayers:   s.cfg.Layers,
			TimeTotal:     total,
			TimeRemaining: total,
			ResinLabel:    "resin",
			Material:      "UV",
			Resin:         strconv.Itoa(s.cfg.Layers / 2),
			LayerHeight:   s.cfg.LayerHeight,
			Other:         "0",
		}
		return []string{tokenAck}
	}
	return []string{tokenUnknownFile}
}

func (s *Server) statusTokens() []string {
	if s.job == nil {
		return []string{string(s.status)}
	}
	j := s.job
	return []string{
		string(s.status),
		encode(j.FileName) + anycubic.FileSeparator + j.FileNumber,
		strconv.Itoa(j.Progress),
		strconv.Itoa(j.CurrentLayer),
		strconv.Itoa(j.TotalLayers),
		strconv.Itoa(j.TimeTotal),
		strconv.Itoa(j.TimeRemaining),
		j.ResinLabel,
		j.Material,
		j.Resin,
		strconv.FormatFloat(j.LayerHeight, 'f', -1, 64),
		j.Other,
	}
}

// encode converts s to GBK, falling back to "?" for characters GBK lacks
func encode(s string) string {
	b, err := anycubic.EncodeText(s)
	if err != nil {
		return "?"
	}
	return string(b)
}
