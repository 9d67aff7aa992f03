package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Tyrowin/chatmk/internal/config"
	"github.com/Tyrowin/chatmk/internal/presence"
	"github.com/Tyrowin/chatmk/internal/store"
	"github.com/Tyrowin/chatmk/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server ties the session core to its collaborators and serves HTTP.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    store.Store
	presence presence.Publisher
	metrics  *metrics.Metrics

	hub      *Hub
	router   *Router
	origins  *OriginChecker
	upgrader websocket.Upgrader
	engine   *gin.Engine
	http     *http.Server
	now      func() time.Time
}

// New builds a Server. pub may be nil when no presence mirror is
// configured.
func New(cfg *config.Config, st store.Store, pub presence.Publisher, m *metrics.Metrics, logger *zap.Logger) *Server {
	if pub == nil {
		pub = presence.NopPublisher{}
	}
	logger = logger.Named("server")

	hub := NewHub(logger)
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		presence: pub,
		metrics:  m,
		hub:      hub,
		router:   NewRouter(hub, m, logger),
		origins:  NewOriginChecker(cfg.Server.AllowedOrigins, logger),
		now:      time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.Check,
	}
	s.engine = s.setupRoutes()
	s.http = &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           s.engine,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.engine }

// Hub returns the session registry.
func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe blocks until the listener stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes every session with a
// going-away frame and waits for them within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.http.Shutdown(ctx)
	hubErr := s.hub.Shutdown(s.cfg.Server.ShutdownTimeout)
	return errors.Join(httpErr, hubErr)
}

// broadcastPresence sends the online list to every session and mirrors it
// to the presence publisher.
func (s *Server) broadcastPresence(ctx context.Context) {
	users := s.hub.Identities()
	s.router.DeliverGroup(newUserList(users), "")

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Store.Timeout)
	defer cancel()
	if err := s.presence.Publish(pctx, users); err != nil {
		s.logger.Warn("failed to publish presence", zap.Error(err))
	}
}
