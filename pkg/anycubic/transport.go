// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package anycubic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// ReadMode selects how the end of a response is detected
type ReadMode int

const (
	// ReadUntilSentinel stops at ",end". Going idle first is a *ReadTimeoutError.
	ReadUntilSentinel ReadMode = iota
	// ReadUntilIdle collects bytes until a read times out or the printer
	// closes the connection. Used for the preview command, which never
	// sends the sentinel.
	ReadUntilIdle
)

// String returns the mode name
func (m ReadMode) String() string {
	switch m {
	case ReadUntilSentinel:
		return "sentinel"
	case ReadUntilIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Transport sends one frame and returns the raw response
type Transport interface {
	Send(ctx context.Context, frame []byte, mode ReadMode) ([]byte, error)
}

// TCPTransport opens a fresh TCP connection for every Send
type TCPTransport struct {
	Addr           string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Logger         zerolog.Logger
}

// NewTCPTransport creates a transport for addr with the default timeouts
func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{
		Addr:           addr,
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		Logger:         zerolog.Nop(),
	}
}

// Send connects, writes frame in one call and reads the response according to mode.
// The connection is always closed before Send returns; cancelling ctx closes it early.
func (t *TCPTransport) Send(ctx context.Context, frame []byte, mode ReadMode) ([]byte, error) {
	connectTimeout := t.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	readTimeout := t.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ConnectError{Addr: t.Addr, Err: err}
	}
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer func() {
		stop()
		conn.Close()
	}()

	start := time.Now()
	t.Logger.Debug().
		Str("addr", t.Addr).
		Str("mode", mode.String()).
		Str("frame", FormatFrame(frame)).
		Msg("sending frame")

	if err := conn.SetWriteDeadline(time.Now().Add(connectTimeout)); err != nil {
		return nil, fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(frame); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("write to %s: %w", t.Addr, err)
	}

	data, err := readResponse(ctx, conn, t.Addr, mode, readTimeout)
	t.Logger.Debug().
		Str("addr", t.Addr).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Err(err).
		Msg("response read")
	return data, err
}

// readResponse accumulates reads from conn, each bounded by timeout
func readResponse(ctx context.Context, conn net.Conn, addr string, mode ReadMode, timeout time.Duration) ([]byte, error) {
	sentinel := []byte(Sentinel)
	data := make([]byte, 0, readBufferSize)
	buf := make([]byte, readBufferSize)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			if ctx.Err() != nil {
				return data, ctx.Err()
			}
			return data, fmt.Errorf("set read deadline: %w", err)
		}

		n, err := conn.Read(buf)
		data = append(data, buf[:n]...)
		if mode == ReadUntilSentinel && bytes.HasSuffix(data, sentinel) {
			return data, nil
		}
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return data, ctx.Err()
		}

		var nerr net.Error
		switch {
		case errors.As(err, &nerr) && nerr.Timeout():
			if mode == ReadUntilIdle {
				return data, nil
			}
			return data, &ReadTimeoutError{Addr: addr, Partial: data}
		case errors.Is(err, io.EOF):
			if mode == ReadUntilIdle {
				return data, nil
			}
			return data, &MalformedResponseError{
				Reason: fmt.Sprintf("connection closed before %q", Sentinel),
				Raw:    data,
			}
		default:
			return data, fmt.Errorf("read from %s: %w", addr, err)
		}
	}
}
