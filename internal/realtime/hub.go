package realtime

import (
	"context"
	"sync"

	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/logger"
	"github.com/dkessler/classpulse/internal/notify"
)

// Hub tracks active websocket connections per user and fans change events
// out to the owning user's connections only. A user may hold several
// connections (multiple tabs, devices); each gets every event.
type Hub struct {
	log *logger.Logger

	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}
}

// NewHub creates an empty hub.
// Parameters:
//   - log: logger; nil uses the default.
// Returns:
//   - *Hub: initialized hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Hub{
		log:   log,
		conns: make(map[string]map[*Conn]struct{}),
	}
}

// Run consumes change events from the source until ctx is cancelled,
// reconnecting through the listener on stream loss.
// Parameters:
//   - ctx: context bounding the pump.
//   - source: change event source (the in-process bus or an external feed).
// Returns:
//   - error: non-nil if the listener gives up reconnecting.
func (h *Hub) Run(ctx context.Context, source notify.Source) error {
	listener := notify.NewListener(source, nil, h.log)
	return listener.Run(ctx, h.Dispatch)
}

// Dispatch routes one event to the owning user's connections. Events without
// a user are dropped: every channel this service publishes is user-scoped.
// Parameters:
//   - event: change event to deliver.
func (h *Hub) Dispatch(event domain.ChangeEvent) {
	if event.UserID == "" {
		h.log.WithFields(logger.Fields{
			logger.FieldChannel: event.Channel,
		}).Debug("Dropping event without user scope")
		return
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns[event.UserID]))
	for c := range h.conns[event.UserID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		// A full or dead connection only affects itself
		if !c.Send(event) {
			h.log.WithFields(logger.Fields{
				logger.FieldUserID: event.UserID,
			}).Warn("Dropping event for slow connection")
		}
	}
}

// register adds a connection for a user.
func (h *Hub) register(userID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[userID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.conns[userID] = set
	}
	set[c] = struct{}{}
}

// unregister removes a connection; the user entry is dropped with its last
// connection.
func (h *Hub) unregister(userID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[userID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, userID)
	}
}

// Status reports current connection counts.
// Parameters: none.
// Returns:
//   - int: number of users with at least one connection.
//   - int: total open connections.
func (h *Hub) Status() (int, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, set := range h.conns {
		total += len(set)
	}
	return len(h.conns), total
}
