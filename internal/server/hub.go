package server

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub is the registry of live sessions keyed by identity. It holds at most
// one client per identity; registering an identity that is already present
// replaces the old client and hands it back to the caller to close.
type Hub struct {
	logger  *zap.Logger
	mutex   sync.RWMutex
	clients map[string]*Client
	closing bool
	wg      sync.WaitGroup
}

// NewHub creates an empty registry.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger.Named("hub"),
		clients: make(map[string]*Client),
	}
}

// Register binds identity to client and returns the client it replaced, if
// any. After Shutdown has begun the new client is closed instead and ok is
// false.
func (h *Hub) Register(identity string, client *Client) (evicted *Client, ok bool) {
	h.mutex.Lock()
	if h.closing {
		h.mutex.Unlock()
		client.CloseWithCode(websocket.CloseGoingAway, "server shutting down")
		return nil, false
	}
	evicted = h.clients[identity]
	h.clients[identity] = client
	total := len(h.clients)
	h.mutex.Unlock()

	if evicted == client {
		evicted = nil
	}
	h.logger.Info("client registered",
		zap.String("identity", identity),
		zap.String("conn_id", client.ID()),
		zap.Bool("replaced", evicted != nil),
		zap.Int("total", total))
	return evicted, true
}

// Unregister removes identity and returns its client. Unknown identities
// are a no-op.
func (h *Hub) Unregister(identity string) *Client {
	h.mutex.Lock()
	client, ok := h.clients[identity]
	if ok {
		delete(h.clients, identity)
	}
	total := len(h.clients)
	h.mutex.Unlock()

	if ok {
		h.logger.Info("client unregistered", zap.String("identity", identity), zap.Int("total", total))
	}
	return client
}

// Release removes client only if it is still the registered client for
// its identity. It reports whether the entry was removed.
func (h *Hub) Release(client *Client) bool {
	h.mutex.Lock()
	current, ok := h.clients[client.Identity()]
	if !ok || current != client {
		h.mutex.Unlock()
		return false
	}
	delete(h.clients, client.Identity())
	total := len(h.clients)
	h.mutex.Unlock()

	h.logger.Info("client released",
		zap.String("identity", client.Identity()),
		zap.String("conn_id", client.ID()),
		zap.Int("total", total))
	return true
}

// Lookup returns the client registered for identity.
func (h *Hub) Lookup(identity string) (*Client, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	client, ok := h.clients[identity]
	return client, ok
}

// Identities returns the online identities in sorted order.
func (h *Hub) Identities() []string {
	h.mutex.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mutex.RUnlock()

	slices.Sort(ids)
	return ids
}

// Snapshot copies the current clients so callers can send without holding
// the lock.
func (h *Hub) Snapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// track counts a running session task until the returned func is called.
// It refuses once Shutdown has begun.
func (h *Hub) track() (func(), bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.closing {
		return nil, false
	}
	h.wg.Add(1)
	return h.wg.Done, true
}

// Shutdown closes every registered client with a going-away frame and
// waits for session tasks to finish, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mutex.Lock()
	h.closing = true
	h.mutex.Unlock()

	clients := h.Snapshot()
	h.logger.Info("shutting down client connections", zap.Int("clients", len(clients)))
	for _, client := range clients {
		client.CloseWithCode(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timed out; some sessions may still be running")
		return context.DeadlineExceeded
	}
}
