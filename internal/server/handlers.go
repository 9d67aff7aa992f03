package server

import (
	"context"
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/Tyrowin/chatmk/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const adminMessageLimit = 500

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleWebSocket upgrades the request and runs the session on this
// goroutine until the connection closes.
func (s *Server) handleWebSocket(c *gin.Context) {
	identity := c.Param("username")

	done, ok := s.hub.track()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	}
	defer done()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.String("identity", identity), zap.Error(err))
		return
	}

	client := NewClient(conn, identity, s.cfg.Server.MaxMessageSize, s.logger)
	newSession(s, client).Run(context.WithoutCancel(c.Request.Context()))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "chatmk server is running!")
}

func (s *Server) handleRegister(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if n := utf8.RuneCountInString(req.Username); n < 2 || n > 20 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username must be between 2 and 20 characters"})
		return
	}
	if utf8.RuneCountInString(req.Password) < 4 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 4 characters"})
		return
	}

	err := s.store.CreateUser(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, store.ErrAlreadyExists) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username already exists"})
		return
	}
	if err != nil {
		s.logger.Error("failed to create user", zap.String("identity", req.Username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "User registered successfully"})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ok, err := s.store.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		s.logger.Error("failed to authenticate", zap.String("identity", req.Username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Login successful", "username": req.Username})
}

func (s *Server) handleAdminStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context(), s.now())
	if err != nil {
		s.internalError(c, "failed to load stats", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_users":      stats.TotalUsers,
		"online_users":     s.hub.Len(),
		"total_messages":   stats.TotalMessages,
		"messages_today":   stats.MessagesToday,
		"group_messages":   stats.GroupMessages,
		"private_messages": stats.PrivateMessages,
	})
}

type adminUser struct {
	store.UserStats
	IsOnline bool `json:"is_online"`
}

func (s *Server) handleAdminUsers(c *gin.Context) {
	users, err := s.store.UsersWithStats(c.Request.Context())
	if err != nil {
		s.internalError(c, "failed to list users", err)
		return
	}

	out := make([]adminUser, 0, len(users))
	for _, u := range users {
		_, online := s.hub.Lookup(u.Username)
		out = append(out, adminUser{UserStats: u, IsOnline: online})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleAdminMessages(c *gin.Context) {
	msgs, err := s.store.RecentMessages(c.Request.Context(), adminMessageLimit)
	if err != nil {
		s.internalError(c, "failed to list messages", err)
		return
	}
	c.JSON(http.StatusOK, newSearchHits(msgs))
}

func (s *Server) handleSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}

	found, err := s.store.Search(c.Request.Context(), query, c.Query("username"))
	if err != nil {
		s.internalError(c, "failed to search", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": newSearchHits(found)})
}

func (s *Server) handleUserInfo(c *gin.Context) {
	user, err := s.store.UserInfo(c.Request.Context(), c.Param("username"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		s.internalError(c, "failed to load user", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) handleAllUsers(c *gin.Context) {
	names, err := s.store.ListUsernames(c.Request.Context())
	if err != nil {
		s.internalError(c, "failed to list users", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"users": names})
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
