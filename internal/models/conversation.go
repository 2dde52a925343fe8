package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ErrInvalidConversation is returned by Validate for malformed rosters.
var ErrInvalidConversation = errors.New("conversation needs at least two distinct participants")

// Conversation represents a 1:1 or group chat.
// The participant set is fixed at creation; the realtime core only moves
// LastMessageID and the unread counters.
type Conversation struct {
	// ID is the conversation UUID; it doubles as the room ID on the wire.
	ID string `gorm:"primaryKey" json:"id"`
	// Participants is the ordered, duplicate-free roster of user IDs.
	Participants pq.StringArray `gorm:"type:text[];not null" json:"participants"`
	// IsGroup distinguishes group chats from direct chats.
	IsGroup    bool   `gorm:"not null;default:false" json:"isGroup"`
	GroupName  string `json:"groupName,omitempty"`
	GroupAdmin string `json:"groupAdmin,omitempty"`
	// LastMessageID points at the most recent surviving message, nil when empty.
	LastMessageID *string `gorm:"type:text" json:"lastMessageId,omitempty"`
	// Unread holds one counter row per participant that has unread messages.
	Unread    []UnreadCounter `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `gorm:"index" json:"updatedAt"`
}

// UnreadCounter is the per-user unread count of one conversation.
type UnreadCounter struct {
	ConversationID string `gorm:"primaryKey"`
	UserID         string `gorm:"primaryKey"`
	Count          int    `gorm:"not null;default:0"`
}

// BeforeCreate generates the conversation UUID.
func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return
}

// Validate checks the roster invariant: at least two unique participants.
func (c *Conversation) Validate() error {
	seen := make(map[string]struct{}, len(c.Participants))
	for _, p := range c.Participants {
		if p == "" {
			return ErrInvalidConversation
		}
		if _, dup := seen[p]; dup {
			return ErrInvalidConversation
		}
		seen[p] = struct{}{}
	}
	if len(seen) < 2 {
		return ErrInvalidConversation
	}
	return nil
}

// HasParticipant reports whether userID is on the roster.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Others returns every participant except userID, preserving roster order.
func (c *Conversation) Others(userID string) []string {
	others := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			others = append(others, p)
		}
	}
	return others
}

// UnreadFor returns the unread counter of userID, 0 when absent.
func (c *Conversation) UnreadFor(userID string) int {
	for _, u := range c.Unread {
		if u.UserID == userID {
			return u.Count
		}
	}
	return 0
}
