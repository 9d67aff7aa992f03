package server

import "github.com/gin-gonic/gin"

// setupRoutes registers the health check, metrics, WebSocket endpoint and
// the REST API.
func (s *Server) setupRoutes() *gin.Engine {
	r := gin.New()
	r.Use(s.recoveryMiddleware())
	r.Use(s.metrics.Middleware())
	r.Use(s.loggerMiddleware())

	r.GET("/", s.handleHealth)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	r.GET("/ws/:username", s.handleWebSocket)

	api := r.Group("/api")
	{
		api.POST("/register", s.handleRegister)
		api.POST("/login", s.handleLogin)
		api.GET("/search", s.handleSearch)
		api.GET("/user/:username", s.handleUserInfo)
		api.GET("/users/all", s.handleAllUsers)

		admin := api.Group("/admin")
		admin.GET("/stats", s.handleAdminStats)
		admin.GET("/users", s.handleAdminUsers)
		admin.GET("/messages", s.handleAdminMessages)
	}
	return r
}
