package chathub

import (
	"context"
	"log"
	"time"

	"relaychat/backend/internal/config"
	"relaychat/backend/internal/metrics"
	"relaychat/backend/internal/models"
	"relaychat/backend/internal/storage"
)

// ManagerService owns the hub: registry, presence, rooms, the message
// coordinator and the dispatcher. Connection accept and dispose go through
// RegisterCh/UnregisterCh and only touch in-memory state; presence side
// effects (store writes, broadcasts, delivery sweeps) run on the Presence
// goroutine.
type ManagerService struct {
	Registry    *Registry
	Presence    *Presence
	Router      *Router
	Coordinator *Coordinator
	Dispatcher  *Dispatcher

	Storage storage.Storage
	Config  *config.Config
	Metrics *metrics.Metrics

	RegisterCh   chan Client
	UnregisterCh chan Client
	done         chan struct{}
}

func NewManagerService(s storage.Storage, cfg *config.Config, m *metrics.Metrics) *ManagerService {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	reg := NewRegistry()
	pres := NewPresence(reg)
	router := NewRouter(reg, m)
	coord := NewCoordinator(s, pres, router)
	coord.SingleReactionPerUser = cfg.SingleReactionPerUser

	hub := &ManagerService{
		Registry:     reg,
		Presence:     pres,
		Router:       router,
		Coordinator:  coord,
		Dispatcher:   NewDispatcher(reg, coord, router, m),
		Storage:      s,
		Config:       cfg,
		Metrics:      m,
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		done:         make(chan struct{}),
	}
	pres.Subscribe(hub.onPresence)
	return hub
}

// Run serves registrations until ctx is cancelled.
func (m *ManagerService) Run(ctx context.Context) {
	defer close(m.done)
	go m.Presence.Run(ctx)

	for {
		select {
		case c := <-m.RegisterCh:
			if err := m.Registry.Register(c.GetUserID(), c); err != nil {
				log.Printf("WARNING: rejecting connection %s for %s: %v", c.ID(), c.GetUserID(), err)
				c.Close()
				continue
			}
			m.Metrics.ConnectionOpened()
			c.Run(ctx)
			log.Printf("INFO: connection %s registered for %s", c.ID(), c.GetUserID())

		case c := <-m.UnregisterCh:
			if _, ok := m.Registry.Unregister(c.ID()); ok {
				m.Router.LeaveAll(c.ID())
				m.Metrics.ConnectionClosed()
				log.Printf("INFO: connection %s closed for %s", c.ID(), c.GetUserID())
			}
			c.Close()

		case <-ctx.Done():
			for _, c := range m.Registry.All() {
				c.Close()
			}
			log.Println("INFO: hub stopped")
			return
		}
	}
}

// Register hands c to the Run loop, closing it if the hub has stopped.
func (m *ManagerService) Register(c Client) {
	select {
	case m.RegisterCh <- c:
	case <-m.done:
		c.Close()
	}
}

func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

func (m *ManagerService) IsOnline(userID string) bool {
	return m.Presence.IsOnline(userID)
}

func (m *ManagerService) OnlineUsers() []string {
	return m.Presence.OnlineUsers()
}

func (m *ManagerService) onPresence(ctx context.Context, t Transition) {
	ctx, cancel := context.WithTimeout(ctx, config.StoreTimeout)
	defer cancel()

	var lastSeen *time.Time
	if t.Online {
		m.Metrics.UserOnline()
	} else {
		lastSeen = &t.At
		m.Metrics.UserOffline()
	}

	if err := m.Storage.SetUserPresence(ctx, t.UserID, t.Online, lastSeen); err != nil {
		log.Printf("ERROR: persisting presence for %s: %v", t.UserID, err)
	}

	m.Router.SendToAll(newEnvelope(models.EventUserStatusChange, models.UserStatusChange{
		UserID:   t.UserID,
		IsOnline: t.Online,
		LastSeen: lastSeen,
	}))

	if t.Online {
		if err := m.Coordinator.MarkDelivered(ctx, t.UserID); err != nil {
			log.Printf("ERROR: delivering pending messages to %s: %v", t.UserID, err)
		}
	}
}
