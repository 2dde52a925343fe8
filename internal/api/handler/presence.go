package handler

import (
	"errors"
	"net/http"
	"time"

	"relaychat/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

type presenceResponse struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

func (h *Handler) OnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.Hub.OnlineUsers()})
}

// UserPresence answers from the live registry; lastSeen comes from the store.
func (h *Handler) UserPresence(c *gin.Context) {
	userID := c.Param("id")
	resp := presenceResponse{UserID: userID, IsOnline: h.Hub.IsOnline(userID)}

	user, err := h.Storage.GetUserByID(c.Request.Context(), userID)
	switch {
	case err == nil:
		resp.LastSeen = user.LastSeen
	case !errors.Is(err, storage.ErrNotFound):
		internalError(c, "loading user "+userID, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
