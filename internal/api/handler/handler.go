package handler

import (
	"net/http"

	"relaychat/backend/internal/auth"
	"relaychat/backend/internal/chathub"
	"relaychat/backend/internal/config"
	"relaychat/backend/internal/metrics"
	"relaychat/backend/internal/middleware"
	"relaychat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler serves the WebSocket endpoint and the REST API around the hub.
type Handler struct {
	Hub     *chathub.ManagerService
	Storage storage.Storage
	Config  *config.Config

	upgrader websocket.Upgrader
}

func NewHandler(hub *chathub.ManagerService, s storage.Storage, cfg *config.Config) *Handler {
	h := &Handler{Hub: hub, Storage: s, Config: cfg}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.AllowOrigin(r.Header.Get("Origin"))
		},
	}
	return h
}

// NewRouter wires every route. m may be nil, in which case /metrics is not
// served.
func NewRouter(h *Handler, v *auth.Verifier, limiter *middleware.IPRateLimiter, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/health", h.Health)
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	authed := r.Group("/", middleware.RateLimit(limiter), middleware.RequireAuth(v))
	authed.GET("/ws", h.ServeWebSocket)

	api := authed.Group("/api")
	api.GET("/conversations", h.ListConversations)
	api.POST("/conversations", h.OpenConversation)
	api.GET("/conversations/:id/messages", h.ListMessages)
	api.GET("/users/online", h.OnlineUsers)
	api.GET("/users/:id/presence", h.UserPresence)

	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.Hub.Registry.Len(),
	})
}
