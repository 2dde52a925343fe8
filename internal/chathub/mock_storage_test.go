package chathub_test

import (
	"context"
	"time"

	"relaychat/backend/internal/models"
	"relaychat/backend/internal/storage"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify mock of storage.Storage for failure paths.
type MockStorage struct {
	mock.Mock
}

var _ storage.Storage = (*MockStorage)(nil)

func (m *MockStorage) SaveUser(ctx context.Context, user *models.User) error {
	return m.Called(user).Error(0)
}

func (m *MockStorage) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStorage) SetUserPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	return m.Called(userID, online, lastSeen).Error(0)
}

func (m *MockStorage) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	return m.Called(conv).Error(0)
}

func (m *MockStorage) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	args := m.Called(conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockStorage) FindDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	args := m.Called(userA, userB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockStorage) ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Conversation), args.Error(1)
}

func (m *MockStorage) CreateMessage(ctx context.Context, msg *models.Message, unreadFor []string) error {
	return m.Called(msg, unreadFor).Error(0)
}

func (m *MockStorage) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	args := m.Called(messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStorage) ListMessages(ctx context.Context, conversationID, viewerID string, limit int) ([]models.Message, error) {
	args := m.Called(conversationID, viewerID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) MarkDeliveredTo(ctx context.Context, receiverID string, at time.Time) ([]string, error) {
	args := m.Called(receiverID, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) AddReadReceipt(ctx context.Context, messageID string, receipt models.ReadReceipt) (bool, error) {
	args := m.Called(messageID, receipt)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) UpdateReactions(ctx context.Context, messageID string, remove []models.Reaction, add *models.Reaction) error {
	return m.Called(messageID, remove, add).Error(0)
}

func (m *MockStorage) HideMessageFor(ctx context.Context, messageID, userID string) error {
	return m.Called(messageID, userID).Error(0)
}

func (m *MockStorage) UpdateMessageContent(ctx context.Context, messageID, content string, editedAt time.Time) error {
	return m.Called(messageID, content, editedAt).Error(0)
}

func (m *MockStorage) DeleteMessage(ctx context.Context, messageID string) error {
	return m.Called(messageID).Error(0)
}
