// Package storage persists users, conversations and messages for the
// realtime hub. Service is the PostgreSQL/Redis implementation; Memory is an
// in-process implementation used by tests and single-node development runs.
package storage

import (
	"context"
	"errors"
	"time"

	"relaychat/backend/internal/models"
)

// ErrNotFound is returned when a lookup does not resolve.
var ErrNotFound = errors.New("record not found")

// Storage is the store the hub talks to. Every call is synchronous from the
// caller's point of view. A call that writes both a message and its
// conversation commits all of it or none of it.
type Storage interface {
	// Users
	SaveUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	SetUserPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error

	// Conversations
	SaveConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	FindDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)

	// Messages

	// CreateMessage inserts msg, points the conversation's last message at it
	// and bumps the unread counter of every user in unreadFor.
	CreateMessage(ctx context.Context, msg *models.Message, unreadFor []string) error
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID, viewerID string, limit int) ([]models.Message, error)
	// MarkDeliveredTo flips every undelivered message addressed to receiverID
	// and returns the distinct conversations of the rows it flipped.
	MarkDeliveredTo(ctx context.Context, receiverID string, at time.Time) ([]string, error)
	// AddReadReceipt records the reader once and decrements their unread
	// counter for the message's conversation. It reports whether a receipt
	// was added.
	AddReadReceipt(ctx context.Context, messageID string, receipt models.ReadReceipt) (bool, error)
	// UpdateReactions removes and adds reactions on a message together.
	UpdateReactions(ctx context.Context, messageID string, remove []models.Reaction, add *models.Reaction) error
	HideMessageFor(ctx context.Context, messageID, userID string) error
	UpdateMessageContent(ctx context.Context, messageID, content string, editedAt time.Time) error
	// DeleteMessage removes the message and, when the conversation's last
	// message pointed at it, moves the pointer to the newest survivor.
	DeleteMessage(ctx context.Context, messageID string) error
}
