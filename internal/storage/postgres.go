package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"relaychat/backend/internal/models"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Redis keys of the presence mirror read by out-of-process tooling.
const (
	onlineUsersKey = "presence:online"
	lastSeenKey    = "presence:last_seen"
)

// Service stores entities in PostgreSQL through GORM and mirrors presence
// into Redis when a client is configured.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

var _ Storage = (*Service)(nil)

// NewStorageService Constructor. rdb may be nil.
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// Migrate creates or updates every table the hub uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.UnreadCounter{},
		&models.Message{},
		&models.ReadReceipt{},
		&models.Reaction{},
	)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Service) SaveUser(ctx context.Context, user *models.User) error {
	return s.DB.WithContext(ctx).Save(user).Error
}

func (s *Service) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// SetUserPresence writes the presence columns and updates the Redis mirror.
// lastSeen is only persisted when non-nil.
func (s *Service) SetUserPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	updates := map[string]interface{}{"is_online": online}
	if lastSeen != nil {
		updates["last_seen"] = *lastSeen
	}
	if err := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(updates).Error; err != nil {
		log.Printf("ERROR: Failed to update presence for user %s: %v", userID, err)
		return err
	}

	if s.Redis == nil {
		return nil
	}

	pipe := s.Redis.TxPipeline()
	if online {
		pipe.SAdd(ctx, onlineUsersKey, userID)
	} else {
		pipe.SRem(ctx, onlineUsersKey, userID)
	}
	if lastSeen != nil {
		pipe.HSet(ctx, lastSeenKey, userID, lastSeen.Unix())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// The database row is authoritative.
		log.Printf("WARNING: Failed to mirror presence for user %s to Redis: %v", userID, err)
	}
	return nil
}

// OnlineUserIDs reads the Redis presence mirror.
func (s *Service) OnlineUserIDs(ctx context.Context) ([]string, error) {
	if s.Redis == nil {
		return nil, errors.New("redis presence mirror is not configured")
	}
	return s.Redis.SMembers(ctx, onlineUsersKey).Result()
}

// LastSeen reads a user's last-seen timestamp from the Redis mirror.
func (s *Service) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	if s.Redis == nil {
		return time.Time{}, errors.New("redis presence mirror is not configured")
	}
	unix, err := s.Redis.HGet(ctx, lastSeenKey, userID).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}

// ResetPresence clears stale online flags left by a previous process.
func (s *Service) ResetPresence(ctx context.Context) error {
	if err := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("is_online = ?", true).
		Update("is_online", false).Error; err != nil {
		return err
	}
	if s.Redis != nil {
		return s.Redis.Del(ctx, onlineUsersKey).Err()
	}
	return nil
}

func (s *Service) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Omit("Unread").Save(conv).Error
}

func (s *Service) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.DB.WithContext(ctx).
		Preload("Unread").
		First(&conv, "id = ?", conversationID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

// FindDirectConversation returns the 1:1 conversation between two users.
func (s *Service) FindDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.DB.WithContext(ctx).
		Preload("Unread").
		Where("is_group = ?", false).
		Where("participants @> ?", pq.StringArray{userA, userB}).
		Where("cardinality(participants) = 2").
		First(&conv).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

func (s *Service) ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.DB.WithContext(ctx).
		Preload("Unread").
		Where("? = ANY(participants)", userID).
		Order("updated_at desc").
		Find(&convs).Error
	if err != nil {
		log.Printf("ERROR: Failed to list conversations for user %s: %v", userID, err)
		return nil, err
	}
	return convs, nil
}

func setLastMessage(tx *gorm.DB, conversationID string, messageID *string) error {
	res := tx.Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// incrementUnread bumps the counter of each user, creating missing rows.
func incrementUnread(tx *gorm.DB, conversationID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	rows := make([]models.UnreadCounter, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, models.UnreadCounter{ConversationID: conversationID, UserID: id, Count: 1})
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("unread_counters.count + 1")}),
	}).Create(&rows).Error
}

// CreateMessage inserts msg and updates its conversation in one transaction;
// the BeforeCreate hook fills msg.ID.
func (s *Service) CreateMessage(ctx context.Context, msg *models.Message, unreadFor []string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if err := setLastMessage(tx, msg.ConversationID, &msg.ID); err != nil {
			return err
		}
		return incrementUnread(tx, msg.ConversationID, unreadFor)
	})
	if err != nil {
		log.Printf("ERROR: Failed to save message for conversation %s: %v", msg.ConversationID, err)
		return err
	}
	return nil
}

func (s *Service) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	var msg models.Message
	err := s.DB.WithContext(ctx).
		Preload("ReadBy", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Reactions", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&msg, "id = ?", messageID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

// ListMessages returns up to limit most recent messages visible to viewerID,
// oldest first.
func (s *Service) ListMessages(ctx context.Context, conversationID, viewerID string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Preload("ReadBy", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Reactions", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("conversation_id = ?", conversationID).
		Where("NOT (? = ANY(COALESCE(deleted_for, '{}')))", viewerID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		log.Printf("ERROR: Failed to get history for conversation %s: %v", conversationID, err)
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkDeliveredTo flips every undelivered message addressed to receiverID in
// a single statement and returns the distinct conversations of the rows it
// changed. A row is reported by exactly one concurrent sweep.
func (s *Service) MarkDeliveredTo(ctx context.Context, receiverID string, at time.Time) ([]string, error) {
	var flipped []models.Message
	err := s.DB.WithContext(ctx).Model(&flipped).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "conversation_id"}}}).
		Where("receiver_id = ? AND delivered = ?", receiverID, false).
		Updates(map[string]interface{}{"delivered": true, "delivered_at": at}).Error
	if err != nil {
		return nil, fmt.Errorf("mark delivered to %s: %w", receiverID, err)
	}
	return distinctConversations(flipped), nil
}

func distinctConversations(msgs []models.Message) []string {
	seen := make(map[string]struct{}, len(msgs))
	var ids []string
	for _, m := range msgs {
		if _, ok := seen[m.ConversationID]; ok {
			continue
		}
		seen[m.ConversationID] = struct{}{}
		ids = append(ids, m.ConversationID)
	}
	sort.Strings(ids)
	return ids
}

// AddReadReceipt inserts the receipt and, only when it is new, decrements
// the reader's unread counter in the same transaction.
func (s *Service) AddReadReceipt(ctx context.Context, messageID string, receipt models.ReadReceipt) (bool, error) {
	added := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		if err := tx.Select("id", "conversation_id").First(&msg, "id = ?", messageID).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Model(&models.Message{}).Where("id = ?", messageID).Update("is_read", true).Error; err != nil {
			return err
		}
		receipt.MessageID = messageID
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		added = true
		return tx.Model(&models.UnreadCounter{}).
			Where("conversation_id = ? AND user_id = ? AND count > 0", msg.ConversationID, receipt.UserID).
			Update("count", gorm.Expr("count - 1")).Error
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

func (s *Service) UpdateReactions(ctx context.Context, messageID string, remove []models.Reaction, add *models.Reaction) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range remove {
			if err := tx.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, r.UserID, r.Emoji).
				Delete(&models.Reaction{}).Error; err != nil {
				return err
			}
		}
		if add == nil {
			return nil
		}
		reaction := *add
		reaction.MessageID = messageID
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&reaction).Error
	})
}

// HideMessageFor appends userID to the hidden-for set once.
func (s *Service) HideMessageFor(ctx context.Context, messageID, userID string) error {
	res := s.DB.WithContext(ctx).Exec(
		`UPDATE messages SET deleted_for = array_append(COALESCE(deleted_for, '{}'), ?)
		 WHERE id = ? AND NOT (? = ANY(COALESCE(deleted_for, '{}')))`,
		userID, messageID, userID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.DB.WithContext(ctx).Model(&models.Message{}).Where("id = ?", messageID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
	}
	return nil
}

func (s *Service) UpdateMessageContent(ctx context.Context, messageID, content string, editedAt time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"content":   content,
			"is_edited": true,
			"edited_at": editedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessage hard-deletes the message; receipts and reactions cascade.
// The conversation's last-message pointer moves in the same transaction.
func (s *Service) DeleteMessage(ctx context.Context, messageID string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		if err := tx.Select("id", "conversation_id").First(&msg, "id = ?", messageID).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Delete(&models.Message{}, "id = ?", messageID).Error; err != nil {
			return err
		}

		var conv models.Conversation
		err := tx.Select("id", "last_message_id").First(&conv, "id = ?", msg.ConversationID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if conv.LastMessageID == nil || *conv.LastMessageID != messageID {
			return nil
		}

		var latest models.Message
		var lastID *string
		err = tx.Select("id").
			Where("conversation_id = ?", conv.ID).
			Order("created_at desc, id desc").
			First(&latest).Error
		switch {
		case err == nil:
			lastID = &latest.ID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return setLastMessage(tx, conv.ID, lastID)
	})
}
