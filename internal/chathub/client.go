package chathub

import (
	"context"

	"relaychat/backend/internal/models"
)

// Client is one live transport connection. The hub only talks to
// connections through this interface, so tests can swap in fakes.
type Client interface {
	// ID is unique for the lifetime of the process.
	ID() string
	// GetUserID returns the authenticated owner of the connection.
	GetUserID() string

	// Send queues env for delivery without blocking. It reports false when
	// the connection is closed or its buffer is full.
	Send(env models.Envelope) bool

	// Run starts the read and write pumps. Inbound events are handled
	// under ctx, which ends when the hub stops.
	Run(ctx context.Context)
	// Close stops the write pump; it is safe to call more than once.
	Close()
}
