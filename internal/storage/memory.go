package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"relaychat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Memory is a Storage kept in process memory. Returned entities are copies.
type Memory struct {
	mu            sync.RWMutex
	users         map[string]models.User
	conversations map[string]*models.Conversation
	messages      map[string]*models.Message
	// seq orders messages created within the same clock tick.
	seq      map[string]uint64
	nextSeq  uint64
	nextAuto uint
}

var _ Storage = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[string]models.User),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string]*models.Message),
		seq:           make(map[string]uint64),
	}
}

func (m *Memory) SaveUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	m.users[user.ID] = *user
	return nil
}

func (m *Memory) GetUserByID(_ context.Context, userID string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// SetUserPresence creates a bare user row for unknown IDs so presence is
// never lost for users provisioned elsewhere.
func (m *Memory) SetUserPresence(_ context.Context, userID string, online bool, lastSeen *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		u = models.User{ID: userID, CreatedAt: time.Now()}
	}
	u.IsOnline = online
	if lastSeen != nil {
		t := *lastSeen
		u.LastSeen = &t
	}
	u.UpdatedAt = time.Now()
	m.users[userID] = u
	return nil
}

func cloneConversation(c *models.Conversation) *models.Conversation {
	out := *c
	out.Participants = append(pq.StringArray(nil), c.Participants...)
	out.Unread = append([]models.UnreadCounter(nil), c.Unread...)
	if c.LastMessageID != nil {
		id := *c.LastMessageID
		out.LastMessageID = &id
	}
	return &out
}

func (m *Memory) SaveConversation(_ context.Context, conv *models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	stored := cloneConversation(conv)
	if existing, ok := m.conversations[conv.ID]; ok {
		stored.Unread = existing.Unread
	}
	m.conversations[conv.ID] = stored
	return nil
}

func (m *Memory) GetConversation(_ context.Context, conversationID string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (m *Memory) FindDirectConversation(_ context.Context, userA, userB string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.conversations {
		if c.IsGroup || len(c.Participants) != 2 {
			continue
		}
		if c.HasParticipant(userA) && c.HasParticipant(userB) {
			return cloneConversation(c), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListConversationsForUser(_ context.Context, userID string) ([]models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Conversation
	for _, c := range m.conversations {
		if c.HasParticipant(userID) {
			out = append(out, *cloneConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// bumpUnread adds delta to userID's counter, never going below zero.
func bumpUnread(conv *models.Conversation, userID string, delta int) {
	for i := range conv.Unread {
		if conv.Unread[i].UserID == userID {
			conv.Unread[i].Count = max(conv.Unread[i].Count+delta, 0)
			return
		}
	}
	if delta > 0 {
		conv.Unread = append(conv.Unread, models.UnreadCounter{ConversationID: conv.ID, UserID: userID, Count: delta})
	}
}

func (m *Memory) CreateMessage(_ context.Context, msg *models.Message, unreadFor []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := time.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	m.nextSeq++
	m.seq[msg.ID] = m.nextSeq
	m.messages[msg.ID] = msg.Clone()

	id := msg.ID
	conv.LastMessageID = &id
	conv.UpdatedAt = now
	for _, userID := range unreadFor {
		bumpUnread(conv, userID, 1)
	}
	return nil
}

func (m *Memory) GetMessage(_ context.Context, messageID string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	return msg.Clone(), nil
}

// conversationMessages returns the conversation's messages oldest first.
// Caller must hold m.mu.
func (m *Memory) conversationMessages(conversationID string) []*models.Message {
	var out []*models.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return m.seq[out[i].ID] < m.seq[out[j].ID]
	})
	return out
}

func (m *Memory) ListMessages(_ context.Context, conversationID, viewerID string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var visible []models.Message
	for _, msg := range m.conversationMessages(conversationID) {
		if msg.IsHiddenFor(viewerID) {
			continue
		}
		visible = append(visible, *msg.Clone())
	}
	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	return visible, nil
}

func (m *Memory) MarkDeliveredTo(_ context.Context, receiverID string, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	var conversationIDs []string
	for _, msg := range m.messages {
		if msg.Delivered || !msg.IsReceiver(receiverID) {
			continue
		}
		t := at
		msg.Delivered = true
		msg.DeliveredAt = &t
		if _, ok := seen[msg.ConversationID]; !ok {
			seen[msg.ConversationID] = struct{}{}
			conversationIDs = append(conversationIDs, msg.ConversationID)
		}
	}
	sort.Strings(conversationIDs)
	return conversationIDs, nil
}

func (m *Memory) AddReadReceipt(_ context.Context, messageID string, receipt models.ReadReceipt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return false, ErrNotFound
	}
	msg.IsRead = true
	if msg.HasReader(receipt.UserID) {
		return false, nil
	}
	m.nextAuto++
	receipt.ID = m.nextAuto
	receipt.MessageID = messageID
	msg.ReadBy = append(msg.ReadBy, receipt)
	if conv, ok := m.conversations[msg.ConversationID]; ok {
		bumpUnread(conv, receipt.UserID, -1)
	}
	return true, nil
}

func (m *Memory) UpdateReactions(_ context.Context, messageID string, remove []models.Reaction, add *models.Reaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	kept := msg.Reactions[:0:0]
	for _, r := range msg.Reactions {
		if containsReaction(remove, r.UserID, r.Emoji) {
			continue
		}
		kept = append(kept, r)
	}
	msg.Reactions = kept
	if add != nil && !msg.HasReaction(add.UserID, add.Emoji) {
		r := *add
		m.nextAuto++
		r.ID = m.nextAuto
		r.MessageID = messageID
		msg.Reactions = append(msg.Reactions, r)
	}
	return nil
}

func containsReaction(list []models.Reaction, userID, emoji string) bool {
	for _, r := range list {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

func (m *Memory) HideMessageFor(_ context.Context, messageID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	if !msg.IsHiddenFor(userID) {
		msg.DeletedFor = append(msg.DeletedFor, userID)
	}
	return nil
}

func (m *Memory) UpdateMessageContent(_ context.Context, messageID, content string, editedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	t := editedAt
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &t
	msg.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) DeleteMessage(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	delete(m.messages, messageID)
	delete(m.seq, messageID)

	conv, ok := m.conversations[msg.ConversationID]
	if !ok || conv.LastMessageID == nil || *conv.LastMessageID != messageID {
		return nil
	}
	conv.LastMessageID = nil
	if rest := m.conversationMessages(conv.ID); len(rest) > 0 {
		id := rest[len(rest)-1].ID
		conv.LastMessageID = &id
	}
	conv.UpdatedAt = time.Now()
	return nil
}
