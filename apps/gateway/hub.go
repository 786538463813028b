package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mahaj/dupahar-sync/pkg/indicator"
	"github.com/mahaj/dupahar-sync/pkg/realtime"
	"github.com/mahaj/dupahar-sync/pkg/store"
)

const presenceTimeout = 5 * time.Second

// session is every live connection of one user plus the writes queued to
// run once the last of them is gone.
type session struct {
	clients map[string]*Client
	hooks   store.DisconnectQueue
}

// Hub tracks connections by user. A user is online while at least one
// connection is registered.
type Hub struct {
	docs     store.DocStore
	presence realtime.Presence
	log      *slog.Logger

	mu    sync.Mutex
	users map[string]*session
}

func NewHub(docs store.DocStore, log *slog.Logger) *Hub {
	return &Hub{
		docs:     docs,
		presence: realtime.NewPresence(docs),
		log:      log,
		users:    make(map[string]*session),
	}
}

// Register adds c. The first connection of a user marks them online.
func (h *Hub) Register(ctx context.Context, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.users[c.UserID]
	if !ok {
		s = &session{clients: make(map[string]*Client)}
		h.users[c.UserID] = s
		ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
		defer cancel()
		if err := indicator.Connect(ctx, h.presence, c.UserID, &s.hooks, h.log); err != nil {
			h.log.Warn("Failed to set presence", "user_id", c.UserID, "error", err)
		}
	}
	s.clients[c.ID] = c
	h.log.Info("Client registered", "user_id", c.UserID, "connection_id", c.ID, "connections", len(s.clients))
}

// Unregister removes c. Removing the last connection of a user flushes the
// writes queued on disconnect.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.users[c.UserID]
	if !ok {
		return
	}
	if _, ok := s.clients[c.ID]; !ok {
		return
	}
	delete(s.clients, c.ID)
	h.log.Info("Client unregistered", "user_id", c.UserID, "connection_id", c.ID, "connections", len(s.clients))
	if len(s.clients) > 0 {
		return
	}
	delete(h.users, c.UserID)
	h.flush(c.UserID, s)
}

func (h *Hub) flush(uid string, s *session) {
	pending := s.hooks.Pending()
	if len(pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.docs.BatchWrite(ctx, pending); err != nil {
		h.log.Warn("Failed to run disconnect writes", "user_id", uid, "error", err)
	}
}

// Connections returns the number of live connections of uid.
func (h *Hub) Connections(uid string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.users[uid]; ok {
		return len(s.clients)
	}
	return 0
}

// CloseAll disconnects every client. Each connection unregisters itself.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var clients []*Client
	for _, s := range h.users {
		for _, c := range s.clients {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.shutdown()
	}
}
