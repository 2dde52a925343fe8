package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"relaychat/backend/internal/middleware"
	"relaychat/backend/internal/models"
	"relaychat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
)

type conversationResponse struct {
	models.Conversation
	UnreadCount int `json:"unreadCount"`
}

type openConversationRequest struct {
	ParticipantID string `json:"participantId" binding:"required"`
}

func internalError(c *gin.Context, what string, err error) {
	log.Printf("ERROR: %s: %v", what, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
}

// ListConversations returns the caller's conversations, most recent activity
// first, with the caller's unread count.
func (h *Handler) ListConversations(c *gin.Context) {
	userID := middleware.UserID(c)
	convs, err := h.Storage.ListConversationsForUser(c.Request.Context(), userID)
	if err != nil {
		internalError(c, "listing conversations for "+userID, err)
		return
	}

	out := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		out = append(out, conversationResponse{Conversation: conv, UnreadCount: conv.UnreadFor(userID)})
	}
	c.JSON(http.StatusOK, out)
}

// OpenConversation returns the direct conversation between the caller and
// participantId, creating it when it does not exist yet.
func (h *Handler) OpenConversation(c *gin.Context) {
	userID := middleware.UserID(c)
	var req openConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participantId is required"})
		return
	}
	if req.ParticipantID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot open a conversation with yourself"})
		return
	}

	ctx := c.Request.Context()
	conv, err := h.Storage.FindDirectConversation(ctx, userID, req.ParticipantID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, conversationResponse{Conversation: *conv, UnreadCount: conv.UnreadFor(userID)})
		return
	case !errors.Is(err, storage.ErrNotFound):
		internalError(c, "finding conversation", err)
		return
	}

	conv = &models.Conversation{Participants: pq.StringArray{userID, req.ParticipantID}}
	if err := h.Storage.SaveConversation(ctx, conv); err != nil {
		internalError(c, "creating conversation", err)
		return
	}
	c.JSON(http.StatusCreated, conversationResponse{Conversation: *conv})
}

// ListMessages returns the newest messages of a conversation in chronological
// order, without those the caller hid for themselves.
func (h *Handler) ListMessages(c *gin.Context) {
	userID := middleware.UserID(c)
	ctx := c.Request.Context()

	conv, err := h.Storage.GetConversation(ctx, c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	if err != nil {
		internalError(c, "loading conversation", err)
		return
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant"})
		return
	}

	limit := h.Config.HistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, h.Config.HistoryLimit)
	}

	msgs, err := h.Storage.ListMessages(ctx, conv.ID, userID, limit)
	if err != nil {
		internalError(c, "listing messages", err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}
