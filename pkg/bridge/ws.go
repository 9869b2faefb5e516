// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Thermoquad/resinstat/pkg/coordinator"
	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeTimeout = 10 * time.Second
	maxReadSize  = 4096
)

// Encodings accepted by /ws?encoding=
const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Message is one pushed frame
type Message struct {
	Type     string        `json:"type" cbor:"type"`
	Snapshot *SnapshotView `json:"snapshot,omitempty" cbor:"snapshot,omitempty"`
}

// EncodeMessage encodes a snapshot push for the given encoding and returns the
// websocket message type to send it with
func EncodeMessage(snap *coordinator.Snapshot, encoding string) (int, []byte, error) {
	view := snapshotView(snap)
	msg := Message{Type: "snapshot", Snapshot: &view}
	if encoding == EncodingCBOR {
		data, err := cbor.Marshal(msg)
		return websocket.BinaryMessage, data, err
	}
	data, err := json.Marshal(msg)
	return websocket.TextMessage, data, err
}

func (s *Server) handleWebSocket(c *gin.Context) {
	encoding := c.DefaultQuery("encoding", EncodingJSON)
	if encoding != EncodingJSON && encoding != EncodingCBOR {
		c.JSON(http.StatusBadRequest, gin.H{"error": "encoding must be json or cbor"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	updates, unsubscribe := s.source.Subscribe()
	defer unsubscribe()

	logger := s.logger.With().Str("remote", conn.RemoteAddr().String()).Str("encoding", encoding).Logger()
	logger.Debug().Msg("websocket client connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(maxReadSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
		logger.Debug().Msg("websocket client disconnected")
	}()

	send := func(snap *coordinator.Snapshot) bool {
		msgType, data, err := EncodeMessage(snap, encoding)
		if err != nil {
			logger.Error().Err(err).Msg("failed to encode snapshot")
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(msgType, data) == nil
	}

	if snap := s.source.Snapshot(); snap != nil {
		if !send(snap) {
			return
		}
	}

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case snap := <-updates:
			if !send(snap) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
