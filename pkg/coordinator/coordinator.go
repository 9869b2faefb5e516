// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package coordinator polls a printer on a fixed interval, keeps the latest
// snapshot and fans it out to subscribers. It also hosts the user-facing
// commands, which check preconditions against the latest snapshot before
// calling the printer.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
	"github.com/rs/zerolog"
)

// DefaultInterval is the polling period
const DefaultInterval = 60 * time.Second

// Commands accepted by SendCommand
const (
	CommandPrint  = "print"
	CommandPause  = "pause"
	CommandResume = "resume"
	CommandStop   = "stop"
)

// Commands lists every command accepted by SendCommand
var Commands = []string{CommandPrint, CommandPause, CommandResume, CommandStop}

var (
	// ErrUpdateFailed wraps the cause of a failed refresh
	ErrUpdateFailed = errors.New("update failed")
	// ErrAlreadyInState is returned when the printer already reports the requested state
	ErrAlreadyInState = errors.New("already in desired state")
	// ErrFileNameRequired is returned for print without a file
	ErrFileNameRequired = errors.New("file name is required to start a print")
	// ErrUnknownFile is returned when a display name is not in the file list
	ErrUnknownFile = errors.New("unknown file")
	// ErrUnknownCommand is returned for commands outside Commands
	ErrUnknownCommand = errors.New("unknown command")
	// ErrRejected is returned when the printer answered with an error token
	ErrRejected = errors.New("printer rejected the command")
)

// deviceFilePattern matches names that are already device file numbers
var deviceFilePattern = regexp.MustCompile(`^[0-9]+\.pwms$`)

// Client is the subset of *anycubic.Printer used by the coordinator
type Client interface {
	SystemInfo(ctx context.Context) (*anycubic.SystemInfo, error)
	Status(ctx context.Context) (*anycubic.Status, error)
	Name(ctx context.Context) (string, error)
	Files(ctx context.Context) ([]anycubic.File, error)
	SetName(ctx context.Context, name string) (bool, error)
	StartPrint(ctx context.Context, fileNumber string) (bool, error)
	SetStatus(ctx context.Context, action anycubic.Action) (bool, error)
	Preview(ctx context.Context, file string) ([]byte, error)
}

// Publisher receives every snapshot. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Coordinator polls a Client and stores the latest Snapshot
type Coordinator struct {
	client    Client
	interval  time.Duration
	logger    zerolog.Logger
	publisher Publisher
	now       func() time.Time

	mu       sync.RWMutex
	snapshot *Snapshot
	lastErr  error
	stats    *Statistics
	subs     map[chan *Snapshot]struct{}
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithInterval sets the polling period
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithPublisher publishes every snapshot as JSON
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = p
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a coordinator for client
func New(client Client, opts ...Option) *Coordinator {
	c := &Coordinator{
		client:   client,
		interval: DefaultInterval,
		logger:   zerolog.Nop(),
		now:      time.Now,
		stats:    NewStatistics(),
		subs:     make(map[chan *Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Interval returns the polling period
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Snapshot returns the latest snapshot, or nil before the first successful refresh
func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// LastError returns the error of the most recent refresh
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Statistics returns a copy of the refresh statistics
func (c *Coordinator) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.CalculateRates()
	return *c.stats
}

// Available reports whether the last refresh succeeded and returned a status
func (c *Coordinator) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr == nil && c.snapshot != nil && c.snapshot.Status != nil
}

// Refresh reads system info, status, name and files. The stored snapshot is
// only replaced when the refresh succeeds. A file listing failure keeps the
// previous listing.
func (c *Coordinator) Refresh(ctx context.Context) (*Snapshot, error) {
	snap, err := c.fetch(ctx)

	c.mu.Lock()
	c.lastErr = err
	c.stats.Update(err)
	if err == nil {
		c.snapshot = snap
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	c.broadcast(snap)
	c.publish(snap)
	return snap, nil
}

func (c *Coordinator) fetch(ctx context.Context) (*Snapshot, error) {
	info, err := c.client.SystemInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: system info: %w", ErrUpdateFailed, err)
	}
	status, err := c.client.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: status: %w", ErrUpdateFailed, err)
	}
	name, err := c.client.Name(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: name: %w", ErrUpdateFailed, err)
	}
	files, err := c.client.Files(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to list files, keeping previous listing")
		files = c.Snapshot().filesOrEmpty()
	}

	return &Snapshot{
		Info:     info,
		Status:   status,
		Name:     name,
		Files:    files,
		LastRead: c.now().UTC(),
	}, nil
}

func (s *Snapshot) filesOrEmpty() []anycubic.File {
	if s == nil || s.Files == nil {
		return []anycubic.File{}
	}
	return s.Files
}

// Run refreshes immediately and then every interval until ctx is done.
// Failed refreshes are logged and retried on the next tick.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn().Err(err).Msg("refresh failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Subscribe returns a channel receiving every new snapshot. Slow readers only
// see the most recent one. Call the returned function to unsubscribe.
func (c *Coordinator) Subscribe() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
		})
	}
}

func (c *Coordinator) broadcast(snap *Snapshot) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for ch := range c.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Drop the stale snapshot and deliver the new one
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Coordinator) publish(snap *Snapshot) {
	if c.publisher == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal snapshot")
		return
	}
	subject := Subject(snap)
	if err := c.publisher.Publish(subject, data); err != nil {
		c.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish snapshot")
	}
}

// Subject returns the bus subject for a snapshot:
// resinstat.<identifier>.snapshot
func Subject(snap *Snapshot) string {
	id := "unknown"
	if snap != nil && snap.Info != nil && snap.Info.Identifier != "" {
		id = strings.Map(func(r rune) rune {
			switch r {
			case '.', ' ', '*', '>', '\t':
				return '_'
			}
			return r
		}, snap.Info.Identifier)
	}
	return "resinstat." + id + ".snapshot"
}

// SetPrinterName renames the printer
func (c *Coordinator) SetPrinterName(ctx context.Context, name string) error {
	c.logger.Debug().Str("name", name).Msg("set printer name")
	ok, err := c.client.SetName(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: setname", ErrRejected)
	}
	return nil
}

// SendCommand runs print, pause, resume or stop. It refuses a command whose
// name matches the state in the latest snapshot. For print, fileName may be a
// display name from the file list or a device file number.
func (c *Coordinator) SendCommand(ctx context.Context, command, fileName string) error {
	c.logger.Debug().Str("command", command).Str("file", fileName).Msg("send command")
	snap := c.Snapshot()
	if string(snap.Code()) == command {
		return ErrAlreadyInState
	}

	var (
		ok  bool
		err error
	)
	switch command {
	case CommandPrint:
		if fileName == "" {
			return ErrFileNameRequired
		}
		number := fileName
		if !deviceFilePattern.MatchString(fileName) {
			n, found := snap.FileNumber(fileName)
			if !found {
				return fmt.Errorf("%w: %q", ErrUnknownFile, fileName)
			}
			number = n
		}
		ok, err = c.client.StartPrint(ctx, number)
	case CommandPause, CommandResume, CommandStop:
		ok, err = c.client.SetStatus(ctx, anycubic.Action(command))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRejected, command)
	}
	return nil
}

// Preview passes through to the client
func (c *Coordinator) Preview(ctx context.Context, file string) ([]byte, error) {
	return c.client.Preview(ctx, file)
}
