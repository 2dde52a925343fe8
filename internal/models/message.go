package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// MessageType is the payload kind of a message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// Message is a persisted chat message together with its delivery, read,
// reaction, edit and per-user visibility state.
type Message struct {
	// ID is the message UUID.
	ID string `gorm:"primaryKey" json:"id"`
	// ConversationID references the owning conversation.
	ConversationID string `gorm:"not null;index:idx_conv_created" json:"conversationId"`
	// SenderID is the author; only the author may edit or delete.
	SenderID string `gorm:"not null;index" json:"senderId"`
	// ReceiverID is set for direct chats and drives reconnect-time delivery.
	ReceiverID *string `gorm:"index:idx_receiver_delivered" json:"receiverId,omitempty"`

	Content string      `gorm:"type:text;not null" json:"content"`
	Type    MessageType `gorm:"type:text;not null" json:"type"`

	// Attachment descriptor, resolved by the upload service before send.
	FileURL  string `json:"fileUrl,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	Delivered   bool       `gorm:"not null;default:false;index:idx_receiver_delivered" json:"delivered"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`

	IsRead bool          `gorm:"not null;default:false" json:"isRead"`
	ReadBy []ReadReceipt `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"readBy"`

	Reactions []Reaction `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"reactions"`

	IsEdited bool       `gorm:"not null;default:false" json:"isEdited"`
	EditedAt *time.Time `json:"editedAt,omitempty"`

	// DeletedFor lists users that hid the message from their own view.
	DeletedFor pq.StringArray `gorm:"type:text[]" json:"deletedFor"`

	CreatedAt time.Time `gorm:"index:idx_conv_created" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ReadReceipt records one reader of a message.
type ReadReceipt struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	MessageID string    `gorm:"not null;uniqueIndex:idx_receipt_reader" json:"-"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_receipt_reader" json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

// Reaction is one (user, emoji) pair on a message.
type Reaction struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	MessageID string    `gorm:"not null;uniqueIndex:idx_reaction_pair" json:"-"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_reaction_pair" json:"userId"`
	Emoji     string    `gorm:"not null;uniqueIndex:idx_reaction_pair" json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReactionChange describes what a toggle did to the reaction list.
type ReactionChange struct {
	Added   *Reaction
	Removed []Reaction
}

// BeforeCreate generates the message UUID.
func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}

// HasReader reports whether userID already has a read receipt.
func (m *Message) HasReader(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// IsHiddenFor reports whether userID deleted the message for themselves.
func (m *Message) IsHiddenFor(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// IsReceiver reports whether userID is the direct receiver.
func (m *Message) IsReceiver(userID string) bool {
	return m.ReceiverID != nil && *m.ReceiverID == userID
}

// HasReaction reports whether userID already reacted with emoji.
func (m *Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// ToggleReaction applies toggle semantics for (userID, emoji) in place.
// A repeated pair is removed; a new pair is appended. With exclusive set, a
// user keeps at most one reaction per message, so adding a new emoji drops
// their previous ones.
func (m *Message) ToggleReaction(userID, emoji string, at time.Time, exclusive bool) ReactionChange {
	var change ReactionChange
	repeat := m.HasReaction(userID, emoji)

	kept := make([]Reaction, 0, len(m.Reactions)+1)
	for _, r := range m.Reactions {
		if r.UserID == userID && (r.Emoji == emoji || (exclusive && !repeat)) {
			change.Removed = append(change.Removed, r)
			continue
		}
		kept = append(kept, r)
	}

	if !repeat {
		added := Reaction{MessageID: m.ID, UserID: userID, Emoji: emoji, CreatedAt: at}
		kept = append(kept, added)
		change.Added = &added
	}
	m.Reactions = kept
	return change
}

// Clone returns a deep copy so callers can mutate it without aliasing.
func (m *Message) Clone() *Message {
	c := *m
	if m.ReceiverID != nil {
		r := *m.ReceiverID
		c.ReceiverID = &r
	}
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		c.DeliveredAt = &t
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	c.ReadBy = append([]ReadReceipt(nil), m.ReadBy...)
	c.Reactions = append([]Reaction(nil), m.Reactions...)
	c.DeletedFor = append(pq.StringArray(nil), m.DeletedFor...)
	return &c
}
