package chathub

import (
	"context"
	"fmt"
	"log"
	"time"

	"relaychat/backend/internal/models"
	"relaychat/backend/internal/storage"
)

// Coordinator runs the message lifecycle: send, delivery, read receipts,
// reactions, deletion and edits. Work on one conversation is serialized by a
// per-conversation lock held across persistence and fan-out, which keeps
// events in a room in processing order and prevents lost updates on a
// message. A failed store call returns before anything is fanned out.
type Coordinator struct {
	store    storage.Storage
	presence *Presence
	router   *Router
	locks    *keyedMutex

	// SingleReactionPerUser replaces a user's other reactions on a message
	// when they add a new one.
	SingleReactionPerUser bool

	now func() time.Time
}

func NewCoordinator(s storage.Storage, p *Presence, r *Router) *Coordinator {
	return &Coordinator{
		store:    s,
		presence: p,
		router:   r,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

func newEnvelope(event models.EventName, payload any) models.Envelope {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		log.Printf("ERROR: encoding %s: %v", event, err)
		return models.Envelope{Event: event}
	}
	return env
}

// sameUser rejects payloads that claim to act for someone other than the
// connection owner.
func sameUser(owner, claimed string) error {
	if claimed != "" && claimed != owner {
		return fmt.Errorf("payload user %s on connection of %s: %w", claimed, owner, ErrAuthorization)
	}
	return nil
}

// conversationFor loads conv and checks userID is a participant.
func (c *Coordinator) conversationFor(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, storeError("load conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, fmt.Errorf("%s is not in conversation %s: %w", userID, conversationID, ErrAuthorization)
	}
	return conv, nil
}

// lockMessage locks the message's conversation and returns the message and
// conversation as they are once the lock is held. hint, when set, must
// match the message's conversation.
func (c *Coordinator) lockMessage(ctx context.Context, messageID, hint, userID string) (*models.Message, *models.Conversation, func(), error) {
	msg, err := c.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, nil, storeError("load message", err)
	}
	if hint != "" && hint != msg.ConversationID {
		return nil, nil, nil, fmt.Errorf("message %s is not in conversation %s: %w", messageID, hint, ErrNotFound)
	}

	unlock := c.locks.Lock(msg.ConversationID)
	msg, err = c.store.GetMessage(ctx, messageID)
	if err != nil {
		unlock()
		return nil, nil, nil, storeError("load message", err)
	}
	conv, err := c.conversationFor(ctx, msg.ConversationID, userID)
	if err != nil {
		unlock()
		return nil, nil, nil, err
	}
	return msg, conv, unlock, nil
}

func requireSender(msg *models.Message, userID string) error {
	if msg.SenderID != userID {
		return fmt.Errorf("%s did not send message %s: %w", userID, msg.ID, ErrAuthorization)
	}
	return nil
}

// Send persists a new message from origin's owner, acknowledges it to
// origin alone and broadcasts it to the conversation.
func (c *Coordinator) Send(ctx context.Context, origin Client, p models.SendMessagePayload) (*models.Message, error) {
	senderID := origin.GetUserID()
	if err := sameUser(senderID, p.SenderID); err != nil {
		return nil, err
	}

	msg, err := c.send(ctx, origin, senderID, p)
	if err != nil {
		return nil, err
	}

	// The receiver may have come online between the presence check and the
	// insert, after its reconnect sweep already ran.
	if msg.ReceiverID != nil && !msg.Delivered && c.presence.IsOnline(*msg.ReceiverID) {
		if err := c.MarkDelivered(ctx, *msg.ReceiverID); err != nil {
			log.Printf("WARNING: late delivery sweep for %s failed: %v", *msg.ReceiverID, err)
		}
	}
	return msg, nil
}

func (c *Coordinator) send(ctx context.Context, origin Client, senderID string, p models.SendMessagePayload) (*models.Message, error) {
	unlock := c.locks.Lock(p.ConversationID)
	defer unlock()

	conv, err := c.conversationFor(ctx, p.ConversationID, senderID)
	if err != nil {
		return nil, err
	}
	if p.ReceiverID != "" && (p.ReceiverID == senderID || !conv.HasParticipant(p.ReceiverID)) {
		return nil, fmt.Errorf("receiver %s is not another participant of %s: %w", p.ReceiverID, conv.ID, ErrAuthorization)
	}

	others := conv.Others(senderID)
	var receiverID *string
	if !conv.IsGroup && len(others) == 1 {
		receiverID = &others[0]
	}
	delivered := false
	for _, id := range others {
		if c.presence.IsOnline(id) {
			delivered = true
			break
		}
	}

	now := c.now()
	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        p.Content,
		Type:           messageType(p),
		FileURL:        p.FileURL,
		FileName:       p.FileName,
		FileSize:       p.FileSize,
		MimeType:       p.MimeType,
		Delivered:      delivered,
		Reactions:      []models.Reaction{},
		ReadBy:         []models.ReadReceipt{},
		CreatedAt:      now,
	}
	if delivered {
		msg.DeliveredAt = &now
	}

	if err := c.store.CreateMessage(ctx, msg, others); err != nil {
		return nil, storeError("create message", err)
	}

	c.router.SendTo(origin, newEnvelope(models.EventMessageSent, models.MessageSent{TempID: p.TempID, Message: msg}))
	c.router.Broadcast(conv.ID, conv.Participants, newEnvelope(models.EventNewMessage, msg))
	if delivered {
		c.router.Broadcast(conv.ID, conv.Participants, newEnvelope(models.EventMessageDelivered, models.MessageDelivered{
			MessageID:      msg.ID,
			ConversationID: conv.ID,
		}))
	}
	return msg, nil
}

func messageType(p models.SendMessagePayload) models.MessageType {
	switch {
	case p.Type != "":
		return p.Type
	case p.FileURL != "":
		return models.MessageTypeFile
	default:
		return models.MessageTypeText
	}
}

// MarkDelivered flips every undelivered message addressed to userID and
// emits one messages_delivered per affected conversation.
func (c *Coordinator) MarkDelivered(ctx context.Context, userID string) error {
	conversationIDs, err := c.store.MarkDeliveredTo(ctx, userID, c.now())
	if err != nil {
		return storeError("mark delivered", err)
	}
	for _, id := range conversationIDs {
		c.notifyDelivered(ctx, id, userID)
	}
	return nil
}

func (c *Coordinator) notifyDelivered(ctx context.Context, conversationID, receiverID string) {
	unlock := c.locks.Lock(conversationID)
	defer unlock()

	env := newEnvelope(models.EventMessagesDelivered, models.MessagesDelivered{
		ConversationID: conversationID,
		ReceiverID:     receiverID,
	})
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		log.Printf("WARNING: loading conversation %s for delivery notice: %v", conversationID, err)
		c.router.BroadcastRoom(conversationID, env, "")
		return
	}
	c.router.Broadcast(conversationID, conv.Participants, env)
}

// MarkRead records a read receipt from origin's owner. A repeated receipt
// is a no-op and emits nothing.
func (c *Coordinator) MarkRead(ctx context.Context, origin Client, p models.MarkReadPayload) error {
	readerID := origin.GetUserID()
	if err := sameUser(readerID, p.UserID); err != nil {
		return err
	}
	msg, conv, unlock, err := c.lockMessage(ctx, p.MessageID, p.ConversationID, readerID)
	if err != nil {
		return err
	}
	defer unlock()

	if msg.SenderID == readerID {
		return fmt.Errorf("%s cannot read own message %s: %w", readerID, msg.ID, ErrAuthorization)
	}
	if msg.HasReader(readerID) {
		return nil
	}

	added, err := c.store.AddReadReceipt(ctx, msg.ID, models.ReadReceipt{UserID: readerID, ReadAt: c.now()})
	if err != nil {
		return storeError("add read receipt", err)
	}
	if !added {
		return nil
	}

	// Participant broadcast covers the sender's connections outside the room.
	c.router.Broadcast(conv.ID, conv.Participants, newEnvelope(models.EventMessageStatusUpdate, models.MessageStatusUpdate{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		Status:         models.StatusRead,
		ReadBy:         readerID,
	}))
	return nil
}

// React toggles (user, emoji) on the message and sends the room the full
// resulting reaction list.
func (c *Coordinator) React(ctx context.Context, origin Client, p models.ReactPayload) ([]models.Reaction, error) {
	userID := origin.GetUserID()
	if err := sameUser(userID, p.UserID); err != nil {
		return nil, err
	}
	msg, conv, unlock, err := c.lockMessage(ctx, p.MessageID, p.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	change := msg.ToggleReaction(userID, p.Emoji, c.now(), c.SingleReactionPerUser)
	if err := c.store.UpdateReactions(ctx, msg.ID, change.Removed, change.Added); err != nil {
		return nil, storeError("update reactions", err)
	}

	reactions := msg.Reactions
	if reactions == nil {
		reactions = []models.Reaction{}
	}
	c.router.BroadcastRoom(conv.ID, newEnvelope(models.EventReactionAdded, models.ReactionUpdate{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		Reactions:      reactions,
	}), "")
	return reactions, nil
}

// DeleteForMe hides the message from its sender's own view.
func (c *Coordinator) DeleteForMe(ctx context.Context, origin Client, p models.DeleteMessagePayload) error {
	userID := origin.GetUserID()
	if err := sameUser(userID, p.UserID); err != nil {
		return err
	}
	msg, conv, unlock, err := c.lockMessage(ctx, p.MessageID, p.ConversationID, userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := requireSender(msg, userID); err != nil {
		return err
	}
	if err := c.store.HideMessageFor(ctx, msg.ID, userID); err != nil {
		return storeError("hide message", err)
	}

	c.router.SendToUser(userID, newEnvelope(models.EventMessageDeleted, models.MessageDeleted{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		Scope:          models.DeleteForMe,
		UserID:         userID,
	}))
	return nil
}

// DeleteForEveryone removes the message for all participants and moves the
// conversation's last-message pointer back if it pointed at it.
func (c *Coordinator) DeleteForEveryone(ctx context.Context, origin Client, p models.DeleteMessagePayload) error {
	userID := origin.GetUserID()
	if err := sameUser(userID, p.UserID); err != nil {
		return err
	}
	msg, conv, unlock, err := c.lockMessage(ctx, p.MessageID, p.ConversationID, userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := requireSender(msg, userID); err != nil {
		return err
	}
	if err := c.store.DeleteMessage(ctx, msg.ID); err != nil {
		return storeError("delete message", err)
	}

	c.router.Broadcast(conv.ID, conv.Participants, newEnvelope(models.EventMessageDeleted, models.MessageDeleted{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		Scope:          models.DeleteForEveryone,
	}))
	return nil
}

// Delete dispatches on the payload scope.
func (c *Coordinator) Delete(ctx context.Context, origin Client, p models.DeleteMessagePayload) error {
	if p.Scope == models.DeleteForEveryone {
		return c.DeleteForEveryone(ctx, origin, p)
	}
	return c.DeleteForMe(ctx, origin, p)
}

// Edit replaces the content of a message its sender owns and sends the room
// the updated message.
func (c *Coordinator) Edit(ctx context.Context, origin Client, p models.EditMessagePayload) (*models.Message, error) {
	userID := origin.GetUserID()
	msg, conv, unlock, err := c.lockMessage(ctx, p.MessageID, p.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := requireSender(msg, userID); err != nil {
		return nil, err
	}
	editedAt := c.now()
	if err := c.store.UpdateMessageContent(ctx, msg.ID, p.Content, editedAt); err != nil {
		return nil, storeError("edit message", err)
	}
	msg.Content = p.Content
	msg.IsEdited = true
	msg.EditedAt = &editedAt

	c.router.BroadcastRoom(conv.ID, newEnvelope(models.EventMessageEdited, msg), "")
	return msg, nil
}

// Typing relays a typing indicator to the room, except to the typist.
func (c *Coordinator) Typing(ctx context.Context, origin Client, conversationID string, typing bool) error {
	userID := origin.GetUserID()
	if _, err := c.conversationFor(ctx, conversationID, userID); err != nil {
		return err
	}
	c.router.BroadcastRoom(conversationID, newEnvelope(models.EventUserTyping, models.UserTyping{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       typing,
	}), userID)
	return nil
}

// JoinRoom subscribes origin to a conversation its owner participates in.
func (c *Coordinator) JoinRoom(ctx context.Context, origin Client, conversationID string) error {
	if _, err := c.conversationFor(ctx, conversationID, origin.GetUserID()); err != nil {
		return err
	}
	c.router.Join(origin.ID(), conversationID)
	return nil
}

func (c *Coordinator) LeaveRoom(origin Client, conversationID string) {
	c.router.Leave(origin.ID(), conversationID)
}
