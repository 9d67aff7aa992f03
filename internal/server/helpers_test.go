package server

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/Tyrowin/chatmk/internal/config"
	"github.com/Tyrowin/chatmk/internal/store"
	"github.com/Tyrowin/chatmk/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type frame map[string]any

func (f frame) Type() string {
	s, _ := f["type"].(string)
	return s
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database = config.DatabaseConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "chat.db")}
	cfg.Server.AllowedOrigins = []string{"http://localhost:8000"}
	return cfg
}

func newTestServer(t *testing.T) (*Server, *store.GormStore) {
	t.Helper()
	cfg := newTestConfig(t)
	st, err := store.Open(&cfg.Database, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := New(cfg, st, nil, metrics.New(cfg.Metrics), zap.NewNop())
	return srv, st
}

// connect registers identity in the store and activates a session whose
// client has no socket, so frames can be read straight off its queue.
func connect(t *testing.T, srv *Server, identity string) *Session {
	t.Helper()
	ctx := context.Background()
	exists, err := srv.store.Exists(ctx, identity)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, srv.store.CreateUser(ctx, identity, "secret"))
	}

	sess := newSession(srv, NewClient(nil, identity, 0, zap.NewNop()))
	require.True(t, sess.activate(ctx))
	return sess
}

// connectAll activates one session per identity and discards the presence
// frames produced while connecting.
func connectAll(t *testing.T, srv *Server, identities ...string) map[string]*Session {
	t.Helper()
	sessions := make(map[string]*Session, len(identities))
	for _, id := range identities {
		sessions[id] = connect(t, srv, id)
	}
	for _, s := range sessions {
		drain(t, s.client)
	}
	return sessions
}

// drain returns every frame currently queued on c.
func drain(t *testing.T, c *Client) []frame {
	t.Helper()
	var frames []frame
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return frames
			}
			var f frame
			require.NoError(t, json.Unmarshal(raw, &f))
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func ofType(frames []frame, kind string) []frame {
	var out []frame
	for _, f := range frames {
		if f.Type() == kind {
			out = append(out, f)
		}
	}
	return out
}

func send(t *testing.T, s *Session, ev map[string]any) {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	s.handle(context.Background(), raw)
}
