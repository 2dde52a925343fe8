package chathub_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"relaychat/backend/internal/chathub"
	"relaychat/backend/internal/config"
	"relaychat/backend/internal/models"
	"relaychat/backend/internal/storage"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

// fakeClient records everything the hub sends to it.
type fakeClient struct {
	id     string
	userID string

	mu       sync.Mutex
	received []models.Envelope
	closed   bool
	full     bool
	runCtx   context.Context
}

func newFakeClient(id, userID string) *fakeClient {
	return &fakeClient{id: id, userID: userID}
}

func (c *fakeClient) ID() string        { return c.id }
func (c *fakeClient) GetUserID() string { return c.userID }

// Run records the context the hub hands to the connection.
func (c *fakeClient) Run(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runCtx = ctx
}

func (c *fakeClient) runContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runCtx
}

func (c *fakeClient) Send(env models.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.full {
		return false
	}
	c.received = append(c.received, env)
	return true
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) events(name models.EventName) []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Envelope
	for _, env := range c.received {
		if env.Event == name {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeClient) count(name models.EventName) int {
	return len(c.events(name))
}

func (c *fakeClient) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func decodeAs[T any](t *testing.T, env models.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// lastOf decodes the most recent event of the given name.
func lastOf[T any](t *testing.T, c *fakeClient, name models.EventName) T {
	t.Helper()
	envs := c.events(name)
	require.NotEmpty(t, envs, "no %s received by %s", name, c.id)
	return decodeAs[T](t, envs[len(envs)-1])
}

func envelope(t *testing.T, event models.EventName, payload any) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(event, payload)
	require.NoError(t, err)
	return env
}

func newHub(s storage.Storage) *chathub.ManagerService {
	return chathub.NewManagerService(s, config.DefaultConfig(), nil)
}

// online registers c directly, bypassing the Run loop.
func online(t *testing.T, hub *chathub.ManagerService, c *fakeClient) {
	t.Helper()
	require.NoError(t, hub.Registry.Register(c.userID, c))
}

// startHub runs the hub until the test ends.
func startHub(t *testing.T, hub *chathub.ManagerService) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
}

// connect goes through the Run loop and waits for the registration.
func connect(t *testing.T, hub *chathub.ManagerService, c *fakeClient) {
	t.Helper()
	hub.Register(c)
	require.Eventually(t, func() bool {
		_, ok := hub.Registry.OwnerOf(c.id)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func disconnect(t *testing.T, hub *chathub.ManagerService, c *fakeClient) {
	t.Helper()
	hub.Unregister(c)
	require.Eventually(t, func() bool {
		_, ok := hub.Registry.OwnerOf(c.id)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func seedConversation(t *testing.T, s storage.Storage, participants ...string) *models.Conversation {
	t.Helper()
	conv := &models.Conversation{Participants: pq.StringArray(participants), IsGroup: len(participants) > 2}
	require.NoError(t, s.SaveConversation(context.Background(), conv))
	return conv
}
