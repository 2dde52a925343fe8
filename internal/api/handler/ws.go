package handler

import (
	"log"

	"relaychat/backend/internal/chathub"
	"relaychat/backend/internal/middleware"

	"github.com/gin-gonic/gin"
)

// ServeWebSocket upgrades an authenticated request and hands the connection
// to the hub.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	userID := middleware.UserID(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		log.Printf("WARNING: websocket upgrade for %s failed: %v", userID, err)
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, conn, userID)
	h.Hub.Register(client)
}
