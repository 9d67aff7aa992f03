package integration

import (
	"net/http"
	"testing"

	"github.com/Tyrowin/chatmk/test/testhelpers"
	"github.com/gorilla/websocket"
)

func TestOriginValidation(t *testing.T) {
	f := testhelpers.NewTestServer(t)
	f.Register(t, "alice")

	tests := []struct {
		name   string
		origin string
	}{
		{"missing origin", ""},
		{"foreign origin", "http://evil.example.com"},
		{"wrong port", "http://localhost:9999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := testhelpers.ConnectWebSocket(f.WSURL("alice"), tt.origin)
			if err == nil {
				_ = conn.Close()
				t.Fatal("Expected the handshake to be refused")
			}
			if err != websocket.ErrBadHandshake {
				t.Errorf("Expected bad handshake, got %v", err)
			}
		})
	}

	if n := f.Server.Hub().Len(); n != 0 {
		t.Errorf("Expected no sessions after refused handshakes, got %d", n)
	}
}

func TestOriginIsNormalized(t *testing.T) {
	f := testhelpers.NewTestServer(t)
	f.Register(t, "alice")

	conn, err := testhelpers.ConnectWebSocket(f.WSURL("alice"), "HTTP://LOCALHOST:8000/")
	if err != nil {
		t.Fatalf("Expected normalized origin to be accepted: %v", err)
	}
	defer conn.Close()
	testhelpers.ReadUntil(t, conn, "user_list")
}

func TestUnknownIdentityIsClosed(t *testing.T) {
	f := testhelpers.NewTestServer(t)

	conn, err := testhelpers.ConnectWebSocket(f.WSURL("ghost"), testhelpers.TestOrigin)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	if code := testhelpers.ExpectClose(t, conn); code != websocket.ClosePolicyViolation {
		t.Errorf("Expected close code %d, got %d", websocket.ClosePolicyViolation, code)
	}
	if n := f.Server.Hub().Len(); n != 0 {
		t.Errorf("Expected no registered sessions, got %d", n)
	}
}

func TestOversizedFrameClosesSession(t *testing.T) {
	f := testhelpers.NewTestServer(t)
	f.Register(t, "alice")
	conn := f.Connect(t, "alice")

	big := make([]byte, 8192)
	for i := range big {
		big[i] = 'a'
	}
	if err := conn.WriteMessage(websocket.TextMessage, big); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}

	if code := testhelpers.ExpectClose(t, conn); code != websocket.CloseMessageTooBig {
		t.Errorf("Expected close code %d, got %d", websocket.CloseMessageTooBig, code)
	}
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	f := testhelpers.NewTestServer(t)

	resp := f.Get(t, "/does-not-exist")
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)
}
