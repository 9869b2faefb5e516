package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
	"github.com/Thermoquad/resinstat/pkg/coordinator"
	"github.com/Thermoquad/resinstat/pkg/printersim"
	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	sim    *printersim.Server
	coord  *coordinator.Coordinator
	server *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sim := printersim.New(printersim.DefaultConfig(), zerolog.Nop())
	if err := sim.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	printer := anycubic.New("127.0.0.1", sim.Port(), anycubic.WithTimeouts(time.Second, 200*time.Millisecond))
	coord := coordinator.New(printer)
	return &fixture{sim: sim, coord: coord, server: New(coord, zerolog.Nop())}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("response %q is not JSON: %v", w.Body.String(), err)
	}
	return m
}

func TestSnapshotBeforeRefresh(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/snapshot", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}

	w = f.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || decode(t, w)["available"] != false {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}
}

func TestRefreshAndSnapshot(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/snapshot", "")
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", w.Code)
	}
	body := decode(t, w)
	if body["name"] != "Simulated Printer" || body["state"] != "Stopped" {
		t.Errorf("snapshot = %s", w.Body.String())
	}
	if _, ok := body["job_percentage"]; ok {
		t.Error("job_percentage should be absent while stopped")
	}

	w = f.do(t, http.MethodGet, "/api/files", "")
	files := decode(t, w)["files"].([]interface{})
	if len(files) != 2 {
		t.Errorf("files = %v", files)
	}
}

func TestCommandFlow(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/refresh", "")

	tests := []struct {
		name  string
		body  string
		code  int
		state anycubic.StatusCode
	}{
		{"missing command", `{}`, http.StatusBadRequest, anycubic.StatusStopped},
		{"print without file", `{"command":"print"}`, http.StatusBadRequest, anycubic.StatusStopped},
		{"unknown file", `{"command":"print","file_name":"nope.pwms"}`, http.StatusBadRequest, anycubic.StatusStopped},
		{"stop while stopped", `{"command":"stop"}`, http.StatusConflict, anycubic.StatusStopped},
		{"print by name", `{"command":"print","file_name":"模型.pwms"}`, http.StatusOK, anycubic.StatusPrinting},
		{"pause", `{"command":"pause"}`, http.StatusOK, anycubic.StatusPaused},
		{"resume", `{"command":"resume"}`, http.StatusOK, anycubic.StatusPrinting},
		{"stop", `{"command":"stop"}`, http.StatusOK, anycubic.StatusStopped},
	}

	for _, tt := range tests {
		w := f.do(t, http.MethodPost, "/api/command", tt.body)
		if w.Code != tt.code {
			t.Errorf("%s: status = %d, want %d (%s)", tt.name, w.Code, tt.code, w.Body.String())
		}
		if f.sim.State() != tt.state {
			t.Errorf("%s: printer state = %q, want %q", tt.name, f.sim.State(), tt.state)
		}
		f.do(t, http.MethodPost, "/api/refresh", "")
	}

	if got := f.sim.Requests(); !contains(got, "gostart,1.pwms") {
		t.Errorf("requests %q do not contain gostart,1.pwms", got)
	}
}

func TestCommandRejected(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/refresh", "")

	// Snapshot says stopped, so pause passes the precondition; the printer refuses it
	w := f.do(t, http.MethodPost, "/api/command", `{"command":"pause"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestSetName(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/name", `{"name":"Lab 打印机"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if f.sim.PrinterName() != "Lab 打印机" {
		t.Errorf("printer name = %q", f.sim.PrinterName())
	}

	if w := f.do(t, http.MethodPost, "/api/name", `{"name":"a,b"}`); w.Code != http.StatusBadRequest {
		t.Errorf("comma name status = %d, want 400", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/name", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing name status = %d, want 400", w.Code)
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/preview/0.pwms", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/octet-stream" {
		t.Errorf("Content-Type = %q", w.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("getPreview2,0.pwms,")) {
		t.Errorf("body = %q", w.Body.Bytes())
	}
}

func TestConnectErrorMapping(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	printer := anycubic.New("127.0.0.1", port, anycubic.WithTimeouts(time.Second, 100*time.Millisecond))
	server := New(coordinator.New(printer), zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), "cannot connect") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestWebSocket(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coord.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()
	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	t.Run("json", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(base, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if msgType != websocket.TextMessage {
			t.Errorf("message type = %d, want text", msgType)
		}
		var msg struct {
			Type     string                 `json:"type"`
			Snapshot map[string]interface{} `json:"snapshot"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != "snapshot" || msg.Snapshot["name"] != "Simulated Printer" {
			t.Errorf("message = %s", data)
		}

		// A refresh is pushed to connected clients
		if _, err := f.coord.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("read pushed snapshot: %v", err)
		}
	})

	t.Run("cbor", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(base+"?encoding=cbor", nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if msgType != websocket.BinaryMessage {
			t.Errorf("message type = %d, want binary", msgType)
		}
		var msg struct {
			Type     string                 `cbor:"type"`
			Snapshot map[string]interface{} `cbor:"snapshot"`
		}
		if err := cbor.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != "snapshot" || msg.Snapshot["state"] != "Stopped" {
			t.Errorf("message = %+v", msg)
		}
	})

	t.Run("bad encoding", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(base+"?encoding=xml", nil)
		if err == nil {
			t.Fatal("expected dial to fail")
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Errorf("response = %v", resp)
		}
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t)
	server := New(f.coord, zerolog.Nop(), WithBasicAuth("admin", "secret"))

	tests := []struct {
		name string
		path string
		user string
		pass string
		code int
	}{
		{"health is open", "/health", "", "", http.StatusOK},
		{"no credentials", "/api/files", "", "", http.StatusUnauthorized},
		{"wrong password", "/api/files", "admin", "nope", http.StatusUnauthorized},
		{"valid credentials", "/api/files", "admin", "secret", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, req)
			if w.Code != tt.code {
				t.Errorf("status = %d, want %d", w.Code, tt.code)
			}
		})
	}
}
