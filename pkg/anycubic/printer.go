// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package anycubic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Printer is a client for one printer. It holds no connection between calls
// and is safe for concurrent use; every method opens its own socket.
type Printer struct {
	host           string
	port           int
	connectTimeout time.Duration
	readTimeout    time.Duration
	transport      Transport
	logger         zerolog.Logger
}

// Option configures a Printer
type Option func(*Printer)

// WithLogger sets the logger used for protocol diagnostics
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Printer) {
		p.logger = logger
	}
}

// WithTimeouts overrides the connect and per-read timeouts
func WithTimeouts(connect, read time.Duration) Option {
	return func(p *Printer) {
		p.connectTimeout = connect
		p.readTimeout = read
	}
}

// WithTransport replaces the TCP transport
func WithTransport(t Transport) Option {
	return func(p *Printer) {
		p.transport = t
	}
}

// New creates a client for the printer at host:port. A zero port selects DefaultPort.
func New(host string, port int, opts ...Option) *Printer {
	if port == 0 {
		port = DefaultPort
	}
	p := &Printer{
		host:           host,
		port:           port,
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("printer", p.Addr()).Logger()
	if p.transport == nil {
		p.transport = &TCPTransport{
			Addr:           p.Addr(),
			ConnectTimeout: p.connectTimeout,
			ReadTimeout:    p.readTimeout,
			Logger:         p.logger,
		}
	}
	return p
}

// Host returns the printer host
func (p *Printer) Host() string {
	return p.host
}

// Port returns the printer port
func (p *Printer) Port() int {
	return p.port
}

// Addr returns host:port
func (p *Printer) Addr() string {
	return net.JoinHostPort(p.host, strconv.Itoa(p.port))
}

// Exec sends the command tokens and returns the decoded payload tokens.
// An ERROR reply is returned as *ProtocolError.
func (p *Printer) Exec(ctx context.Context, commands ...string) ([]string, error) {
	return p.exec(ctx, DecodeResponse, commands...)
}

func (p *Printer) exec(ctx context.Context, decode func([]byte, ...string) ([]string, error), commands ...string) ([]string, error) {
	if len(commands) == 0 {
		return nil, errors.New("no command given")
	}
	raw, err := p.transport.Send(ctx, BuildFrame(commands...), ReadUntilSentinel)
	if err != nil {
		var merr *MalformedResponseError
		if errors.As(err, &merr) {
			merr.Command = commands[0]
			p.logMalformed(merr)
		}
		return nil, err
	}
	tokens, err := decode(raw, commands...)
	if err != nil {
		var merr *MalformedResponseError
		if errors.As(err, &merr) {
			p.logMalformed(merr)
		}
		return nil, err
	}
	return tokens, nil
}

// Status returns the current printer status
func (p *Printer) Status(ctx context.Context) (*Status, error) {
	tokens, err := p.Exec(ctx, CmdGetStatus)
	if err != nil {
		return nil, err
	}
	status, err := ParseStatus(tokens)
	if err != nil {
		return nil, p.shapeError(err)
	}
	if status.Job != nil {
		p.logger.Debug().Interface("job", status.Job).Msg("status")
	}
	return status, nil
}

// Name returns the printer name
func (p *Printer) Name(ctx context.Context) (string, error) {
	return p.scalar(ctx, CmdGetName)
}

// SetName renames the printer. It reports false when the printer rejects
// the name; err is only set for local or connection failures. A name
// containing the delimiter is refused with ErrInvalidText.
func (p *Printer) SetName(ctx context.Context, name string) (bool, error) {
	if strings.ContainsRune(name, Delimiter) {
		return false, fmt.Errorf("%w: name must not contain %q", ErrInvalidText, Delimiter)
	}
	encoded, err := EncodeText(name)
	if err != nil {
		return false, err
	}
	_, err = p.Exec(ctx, CmdSetName, string(encoded))
	return p.ack(CmdSetName, err)
}

// Wifi returns the SSID of the network the printer is connected to
func (p *Printer) Wifi(ctx context.Context) (string, error) {
	return p.scalar(ctx, CmdGetWifi)
}

// SystemInfo returns model, firmware, identifier and SSID
func (p *Printer) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	tokens, err := p.Exec(ctx, CmdGetSysInfo)
	if err != nil {
		return nil, err
	}
	info, err := ParseSystemInfo(tokens)
	if err != nil {
		return nil, p.shapeError(err)
	}
	return info, nil
}

// Files lists the files on the printer's USB drive. A missing drive is an
// empty listing, not an error.
func (p *Printer) Files(ctx context.Context) ([]File, error) {
	tokens, err := p.Exec(ctx, CmdGetFile)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) && perr.HasCode && perr.Code == ErrCodeNoMedia {
			p.logger.Debug().Msg("no USB drive, empty file list")
			return []File{}, nil
		}
		return nil, err
	}
	files, err := ParseFiles(tokens)
	if err != nil {
		return nil, p.shapeError(err)
	}
	return files, nil
}

// Params returns the raw getpara values. Their meaning is undocumented.
func (p *Printer) Params(ctx context.Context) ([]string, error) {
	return p.Exec(ctx, CmdGetPara)
}

// Mode returns the getmode value
func (p *Printer) Mode(ctx context.Context) (int, error) {
	tokens, err := p.Exec(ctx, CmdGetMode)
	if err != nil {
		return 0, err
	}
	mode, err := ParseMode(tokens)
	if err != nil {
		return 0, p.shapeError(err)
	}
	return mode, nil
}

// Preview fetches the preview image of file. The reply is returned as read
// from the socket; its layout is not decoded.
func (p *Printer) Preview(ctx context.Context, file string) ([]byte, error) {
	return p.transport.Send(ctx, BuildFrame(CmdGetPreview, file), ReadUntilIdle)
}

// StartPrint starts printing the file with the given device file number
func (p *Printer) StartPrint(ctx context.Context, fileNumber string) (bool, error) {
	tokens, err := p.Exec(ctx, CmdGoStart, fileNumber)
	if err == nil {
		p.logger.Debug().Str("file", fileNumber).Strs("response", tokens).Msg("print started")
	}
	return p.ack(CmdGoStart, err)
}

// Pause pauses the current print
func (p *Printer) Pause(ctx context.Context) (bool, error) {
	return p.SetStatus(ctx, ActionPause)
}

// Resume resumes a paused print
func (p *Printer) Resume(ctx context.Context) (bool, error) {
	return p.SetStatus(ctx, ActionResume)
}

// Stop stops the current print
func (p *Printer) Stop(ctx context.Context) (bool, error) {
	return p.SetStatus(ctx, ActionStop)
}

// SetStatus sends a job transition. The client does not check the current
// state; gopause while already paused is sent as-is.
func (p *Printer) SetStatus(ctx context.Context, action Action) (bool, error) {
	if !action.Valid() {
		return false, fmt.Errorf("unknown action %q", action)
	}
	tokens, err := p.Exec(ctx, action.Command())
	if err == nil {
		p.logger.Debug().Str("action", string(action)).Strs("response", tokens).Msg("status set")
	}
	return p.ack(action.Command(), err)
}

// scalar reads a single label value
func (p *Printer) scalar(ctx context.Context, command string) (string, error) {
	tokens, err := p.exec(ctx, DecodeLabelResponse, command)
	if err != nil {
		return "", err
	}
	s, err := Scalar(command, tokens)
	if err != nil {
		return "", p.shapeError(err)
	}
	return s, nil
}

// ack turns a printer-side rejection into false. Other errors pass through.
func (p *Printer) ack(command string, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		ev := p.logger.Info().Str("command", command).Str("token", perr.Token)
		if perr.HasCode {
			ev = ev.Int("code", perr.Code)
		}
		ev.Msg("printer rejected command")
		return false, nil
	}
	return false, err
}

func (p *Printer) shapeError(err error) error {
	var merr *MalformedResponseError
	if errors.As(err, &merr) {
		p.logMalformed(merr)
	}
	return err
}

func (p *Printer) logMalformed(merr *MalformedResponseError) {
	ev := p.logger.Warn().Str("command", merr.Command).Str("reason", merr.Reason)
	if merr.Tokens != nil {
		ev = ev.Strs("tokens", merr.Tokens)
	}
	if merr.Raw != nil {
		ev = ev.Str("raw", FormatFrame(merr.Raw))
	}
	ev.Msg("unexpected printer response")
}
