// Package testhelpers provides shared fixtures for black-box tests of the
// chatmk server: a running server on a temporary SQLite store, REST helpers,
// and WebSocket helpers that speak the JSON event protocol.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/chatmk/internal/config"
	"github.com/Tyrowin/chatmk/internal/presence"
	"github.com/Tyrowin/chatmk/internal/server"
	"github.com/Tyrowin/chatmk/internal/store"
	"github.com/Tyrowin/chatmk/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TestOrigin is on the allow-list of every server built by NewTestServer.
const TestOrigin = "http://localhost:8000"

// Event is a decoded outbound frame.
type Event map[string]any

func (e Event) Type() string {
	s, _ := e["type"].(string)
	return s
}

// Fixture is a running chatmk server.
type Fixture struct {
	Server *server.Server
	Store  *store.GormStore
	HTTP   *httptest.Server
}

// Option adjusts the configuration before the server is built.
type Option func(*config.Config)

// WithPresence configures the presence mirror.
func WithPresence(cfg config.PresenceConfig) Option {
	return func(c *config.Config) { c.Presence = cfg }
}

// NewTestServer starts a server backed by a temporary SQLite database. It
// is shut down when the test ends.
func NewTestServer(t *testing.T, opts ...Option) *Fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Database = config.DatabaseConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "chat.db")}
	cfg.Server.AllowedOrigins = []string{TestOrigin}
	cfg.Server.ShutdownTimeout = 2 * time.Second
	for _, opt := range opts {
		opt(cfg)
	}

	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	st, err := store.Open(&cfg.Database, logger)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	pub, err := presence.New(cfg.Presence, logger)
	if err != nil {
		t.Fatalf("Failed to create presence publisher: %v", err)
	}

	srv := server.New(cfg, st, pub, metrics.New(cfg.Metrics), logger)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(cfg.Server.ShutdownTimeout)
		ts.Close()
		_ = pub.Close()
		_ = st.Close()
	})

	return &Fixture{Server: srv, Store: st, HTTP: ts}
}

// WSURL returns the WebSocket endpoint for identity.
func (f *Fixture) WSURL(identity string) string {
	return "ws" + strings.TrimPrefix(f.HTTP.URL, "http") + "/ws/" + identity
}

// PostJSON sends body as JSON and returns the response.
func (f *Fixture) PostJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}
	resp, err := http.Post(f.HTTP.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to POST %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// Get issues a GET request and returns the response.
func (f *Fixture) Get(t *testing.T, path string) *http.Response {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(f.HTTP.URL + path)
	if err != nil {
		t.Fatalf("Failed to GET %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// Register creates identity through the REST API.
func (f *Fixture) Register(t *testing.T, identity string) {
	t.Helper()
	resp := f.PostJSON(t, "/api/register", map[string]string{"username": identity, "password": "secret"})
	AssertStatusCode(t, resp, http.StatusOK)
}

// Connect dials the WebSocket endpoint for identity with the allowed
// origin and waits for the first presence update.
func (f *Fixture) Connect(t *testing.T, identity string) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(f.WSURL(identity), TestOrigin)
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", identity, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	ReadUntil(t, conn, "user_list")
	return conn
}

// ConnectWebSocket dials url with the given Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendEvent writes ev as one JSON text frame.
func SendEvent(t *testing.T, conn *websocket.Conn, ev map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(ev); err != nil {
		t.Fatalf("Failed to send %v: %v", ev["type"], err)
	}
}

// ReadEvent reads the next frame within timeout.
func ReadEvent(conn *websocket.Conn, timeout time.Duration) (Event, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// ReadUntil skips frames until one of type kind arrives.
func ReadUntil(t *testing.T, conn *websocket.Conn, kind string) Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ev, err := ReadEvent(conn, time.Until(deadline))
		if err != nil {
			t.Fatalf("Failed waiting for %s: %v", kind, err)
		}
		if ev.Type() == kind {
			return ev
		}
	}
	t.Fatalf("Timed out waiting for %s", kind)
	return nil
}

// ExpectSilence fails if any frame other than the ignored types arrives
// within d.
func ExpectSilence(t *testing.T, conn *websocket.Conn, d time.Duration, ignore ...string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		ev, err := ReadEvent(conn, time.Until(deadline))
		if err != nil {
			return
		}
		if !slices.Contains(ignore, ev.Type()) {
			t.Errorf("Unexpected frame: %v", ev)
			return
		}
	}
}

// ExpectClose reads until the connection closes and returns the close code.
func ExpectClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return closeErr.Code
		}
		t.Fatalf("Expected close frame, got %v", err)
		return 0
	}
}

// AssertStatusCode checks the HTTP response status.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// DecodeJSON decodes the response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

