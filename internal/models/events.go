package models

import (
	"encoding/json"
	"errors"
	"time"
)

// EventName identifies a protocol event in either direction.
type EventName string

// Client → hub events.
const (
	EventConnect       EventName = "connect"
	EventJoinRoom      EventName = "join_room"
	EventLeaveRoom     EventName = "leave_room"
	EventSendMessage   EventName = "send_message"
	EventMarkRead      EventName = "mark_read"
	EventReact         EventName = "react"
	EventDeleteMessage EventName = "delete_message"
	EventEditMessage   EventName = "edit_message"
	EventTypingStart   EventName = "typing_start"
	EventTypingStop    EventName = "typing_stop"
)

// Hub → client events.
const (
	EventUserStatusChange    EventName = "user_status_change"
	EventNewMessage          EventName = "new_message"
	EventMessageSent         EventName = "message_sent"
	EventMessageError        EventName = "message_error"
	EventMessageDelivered    EventName = "message_delivered"
	EventMessagesDelivered   EventName = "messages_delivered"
	EventMessageStatusUpdate EventName = "message_status_update"
	EventReactionAdded       EventName = "reaction_added"
	EventMessageDeleted      EventName = "message_deleted"
	EventMessageEdited       EventName = "message_edited"
	EventUserTyping          EventName = "user_typing"
	EventOperationError      EventName = "operation_error"
)

// DeleteScope selects between hiding a message and removing it.
type DeleteScope string

const (
	DeleteForMe       DeleteScope = "me"
	DeleteForEveryone DeleteScope = "everyone"
)

// MessageStatus is carried by message_status_update.
type MessageStatus string

const (
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Error reasons sent to the originating connection.
const (
	ReasonUnauthorized = "unauthorized"
	ReasonNotFound     = "not_found"
	ReasonPersistence  = "persistence"
	ReasonInvalid      = "invalid"
	ReasonRateLimited  = "rate_limited"
	ReasonConflict     = "conflict"
)

// ErrInvalidPayload is returned by payload validation.
var ErrInvalidPayload = errors.New("invalid event payload")

// Envelope is the single frame shape on the WebSocket in both directions.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload once so it can be fanned out to many connections.
func NewEnvelope(event EventName, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	return nil
}

// --- inbound payloads ---

type ConnectPayload struct {
	UserID string `json:"userId"`
}

func (p ConnectPayload) Validate() error {
	if p.UserID == "" {
		return ErrInvalidPayload
	}
	return nil
}

// RoomPayload is used by join_room, leave_room, typing_start and typing_stop.
type RoomPayload struct {
	ConversationID string `json:"conversationId"`
}

func (p RoomPayload) Validate() error {
	if p.ConversationID == "" {
		return ErrInvalidPayload
	}
	return nil
}

type SendMessagePayload struct {
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId,omitempty"`
	ReceiverID     string      `json:"receiverId,omitempty"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type,omitempty"`
	TempID         string      `json:"tempId"`
	FileURL        string      `json:"fileUrl,omitempty"`
	FileName       string      `json:"fileName,omitempty"`
	FileSize       int64       `json:"fileSize,omitempty"`
	MimeType       string      `json:"mimeType,omitempty"`
}

func (p SendMessagePayload) Validate() error {
	if p.ConversationID == "" {
		return ErrInvalidPayload
	}
	if p.Content == "" && p.FileURL == "" {
		return ErrInvalidPayload
	}
	return nil
}

type MarkReadPayload struct {
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (p MarkReadPayload) Validate() error {
	if p.MessageID == "" {
		return ErrInvalidPayload
	}
	return nil
}

type ReactPayload struct {
	MessageID      string `json:"messageId"`
	Emoji          string `json:"emoji"`
	UserID         string `json:"userId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (p ReactPayload) Validate() error {
	if p.MessageID == "" || p.Emoji == "" {
		return ErrInvalidPayload
	}
	return nil
}

type DeleteMessagePayload struct {
	MessageID      string      `json:"messageId"`
	UserID         string      `json:"userId,omitempty"`
	ConversationID string      `json:"conversationId,omitempty"`
	Scope          DeleteScope `json:"scope"`
}

func (p DeleteMessagePayload) Validate() error {
	if p.MessageID == "" {
		return ErrInvalidPayload
	}
	if p.Scope != DeleteForMe && p.Scope != DeleteForEveryone {
		return ErrInvalidPayload
	}
	return nil
}

type EditMessagePayload struct {
	MessageID      string `json:"messageId"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (p EditMessagePayload) Validate() error {
	if p.MessageID == "" || p.Content == "" {
		return ErrInvalidPayload
	}
	return nil
}

// --- outbound payloads ---

type UserStatusChange struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

type MessageSent struct {
	TempID  string   `json:"tempId"`
	Message *Message `json:"message"`
}

type MessageError struct {
	TempID string `json:"tempId"`
	Reason string `json:"reason"`
}

// OperationError reports a failed non-send operation to its requester.
type OperationError struct {
	Event     EventName `json:"event"`
	MessageID string    `json:"messageId,omitempty"`
	Reason    string    `json:"reason"`
}

type MessageDelivered struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type MessagesDelivered struct {
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId"`
}

type MessageStatusUpdate struct {
	MessageID      string        `json:"messageId"`
	ConversationID string        `json:"conversationId"`
	Status         MessageStatus `json:"status"`
	ReadBy         string        `json:"readBy,omitempty"`
}

type ReactionUpdate struct {
	MessageID      string     `json:"messageId"`
	ConversationID string     `json:"conversationId"`
	Reactions      []Reaction `json:"reactions"`
}

type MessageDeleted struct {
	MessageID      string      `json:"messageId"`
	ConversationID string      `json:"conversationId"`
	Scope          DeleteScope `json:"scope"`
	UserID         string      `json:"userId,omitempty"`
}

type UserTyping struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}
