package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"relaychat/backend/internal/config"
	"relaychat/backend/internal/metrics"
	"relaychat/backend/internal/models"
)

// Dispatcher maps each inbound envelope to exactly one hub operation and
// reports failures to the originating connection only.
type Dispatcher struct {
	registry    *Registry
	coordinator *Coordinator
	router      *Router
	metrics     *metrics.Metrics
}

func NewDispatcher(reg *Registry, coord *Coordinator, router *Router, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{registry: reg, coordinator: coord, router: router, metrics: m}
}

type validator interface {
	Validate() error
}

func decode(env models.Envelope, v validator) error {
	if err := env.Decode(v); err != nil {
		return err
	}
	return v.Validate()
}

// Dispatch handles one envelope read from c.
func (d *Dispatcher) Dispatch(ctx context.Context, c Client, env models.Envelope) {
	d.metrics.Event(string(env.Event))

	ctx, cancel := context.WithTimeout(ctx, config.StoreTimeout)
	defer cancel()

	if err := d.handle(ctx, c, env); err != nil {
		d.Fail(c, env, err)
	}
}

func (d *Dispatcher) handle(ctx context.Context, c Client, env models.Envelope) error {
	switch env.Event {
	case models.EventConnect:
		var p models.ConnectPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		if err := sameUser(c.GetUserID(), p.UserID); err != nil {
			return err
		}
		return d.registry.Register(c.GetUserID(), c)

	case models.EventJoinRoom:
		var p models.RoomPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return d.coordinator.JoinRoom(ctx, c, p.ConversationID)

	case models.EventLeaveRoom:
		var p models.RoomPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		d.coordinator.LeaveRoom(c, p.ConversationID)
		return nil

	case models.EventSendMessage:
		var p models.SendMessagePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		_, err := d.coordinator.Send(ctx, c, p)
		return err

	case models.EventMarkRead:
		var p models.MarkReadPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return d.coordinator.MarkRead(ctx, c, p)

	case models.EventReact:
		var p models.ReactPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		_, err := d.coordinator.React(ctx, c, p)
		return err

	case models.EventDeleteMessage:
		var p models.DeleteMessagePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return d.coordinator.Delete(ctx, c, p)

	case models.EventEditMessage:
		var p models.EditMessagePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		_, err := d.coordinator.Edit(ctx, c, p)
		return err

	case models.EventTypingStart, models.EventTypingStop:
		var p models.RoomPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return d.coordinator.Typing(ctx, c, p.ConversationID, env.Event == models.EventTypingStart)

	default:
		return fmt.Errorf("unknown event %q: %w", env.Event, models.ErrInvalidPayload)
	}
}

// Fail reports err for env to c: message_error for sends, operation_error
// for everything else.
func (d *Dispatcher) Fail(c Client, env models.Envelope, err error) {
	reason := Reason(err)
	d.metrics.Failure(string(env.Event), reason)

	switch {
	case errors.Is(err, ErrPersistence):
		log.Printf("ERROR: %s from %s (user %s): %v", env.Event, c.ID(), c.GetUserID(), err)
	case errors.Is(err, ErrConflict):
		log.Printf("WARNING: %s from %s (user %s) rejected: %v", env.Event, c.ID(), c.GetUserID(), err)
	default:
		log.Printf("INFO: %s from %s (user %s) failed: %v", env.Event, c.ID(), c.GetUserID(), err)
	}

	// Best effort: pull the correlation IDs out of whatever the client sent.
	var ids struct {
		TempID    string `json:"tempId"`
		MessageID string `json:"messageId"`
	}
	_ = json.Unmarshal(env.Data, &ids)

	if env.Event == models.EventSendMessage {
		d.router.SendTo(c, newEnvelope(models.EventMessageError, models.MessageError{TempID: ids.TempID, Reason: reason}))
		return
	}
	d.router.SendTo(c, newEnvelope(models.EventOperationError, models.OperationError{
		Event:     env.Event,
		MessageID: ids.MessageID,
		Reason:    reason,
	}))
}
