// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
	"github.com/Thermoquad/resinstat/pkg/bridge"
	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// OpenPrinter creates a printer client from the resolved configuration
func OpenPrinter() (*anycubic.Printer, string, error) {
	if cfg.Printer.Host == "" {
		return nil, "", fmt.Errorf("--host must be specified (or set %s)", envHost)
	}
	p := anycubic.New(cfg.Printer.Host, cfg.Printer.Port,
		anycubic.WithLogger(log.Logger),
		anycubic.WithTimeouts(cfg.Printer.ConnectTimeout, cfg.Printer.ReadTimeout),
	)
	return p, fmt.Sprintf("Printer: %s", p.Addr()), nil
}

// ErrStreamClosed is returned when reading from a closed bridge stream
var ErrStreamClosed = errors.New("bridge stream closed")

// BridgeStream reads snapshot pushes from a running `resinstat serve`
type BridgeStream struct {
	conn   *websocket.Conn
	closed atomic.Bool
}

// Next blocks until the next snapshot arrives
func (b *BridgeStream) Next() (*bridge.SnapshotView, error) {
	if b.closed.Load() {
		return nil, ErrStreamClosed
	}

	for {
		messageType, data, err := b.conn.ReadMessage()
		if err != nil {
			b.closed.Store(true)
			return nil, err
		}

		// The stream is opened with CBOR encoding; skip anything else
		if messageType != websocket.BinaryMessage {
			continue
		}

		var msg bridge.Message
		if err := cbor.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Int("bytes", len(data)).Msg("undecodable bridge message")
			continue
		}
		if msg.Snapshot == nil {
			continue
		}
		return msg.Snapshot, nil
	}
}

// Close closes the stream
func (b *BridgeStream) Close() error {
	b.closed.Store(true)
	return b.conn.Close()
}

// OpenBridgeStream connects to a bridge /ws endpoint with optional HTTP Basic auth
func OpenBridgeStream(wsURL, username, password string, skipSSLVerify bool) (*BridgeStream, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	q := u.Query()
	q.Set("encoding", bridge.EncodingCBOR)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return &BridgeStream{conn: conn}, nil
}

// GetPassword retrieves the bridge password from the environment or prompts for it
func GetPassword() (string, error) {
	if pw := os.Getenv(envPassword); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal; read a plain line
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}
