package server

import (
	"encoding/json"
	"errors"

	"github.com/Tyrowin/chatmk/pkg/metrics"
	"go.uber.org/zap"
)

// Router fans encoded events out to registered clients. Each event is
// encoded once; a failed recipient is kicked and delivery continues.
type Router struct {
	hub     *Hub
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRouter creates a router over hub.
func NewRouter(hub *Hub, m *metrics.Metrics, logger *zap.Logger) *Router {
	return &Router{hub: hub, logger: logger.Named("router"), metrics: m}
}

// DeliverGroup sends ev to every registered client except exclude, which
// may be empty. It returns the number of successful sends.
func (r *Router) DeliverGroup(ev any, exclude string) int {
	frame, ok := r.encode(ev)
	if !ok {
		return 0
	}

	delivered := 0
	targets := r.hub.Snapshot()
	for _, client := range targets {
		if exclude != "" && client.Identity() == exclude {
			continue
		}
		if r.send(client, frame) {
			delivered++
		}
	}
	r.metrics.Fanout(delivered)
	return delivered
}

// DeliverDirect sends ev once to each distinct identity that is online.
func (r *Router) DeliverDirect(ev any, identities ...string) int {
	frame, ok := r.encode(ev)
	if !ok {
		return 0
	}

	delivered := 0
	seen := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		client, online := r.hub.Lookup(id)
		if online && r.send(client, frame) {
			delivered++
		}
	}
	return delivered
}

// DeliverOne sends ev to identity if it is online.
func (r *Router) DeliverOne(ev any, identity string) bool {
	return r.DeliverDirect(ev, identity) == 1
}

func (r *Router) encode(ev any) ([]byte, bool) {
	frame, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("failed to encode event", zap.Error(err))
		return nil, false
	}
	return frame, true
}

func (r *Router) send(client *Client, frame []byte) bool {
	err := client.Send(frame)
	if err == nil {
		return true
	}

	if errors.Is(err, ErrClientClosed) {
		r.logger.Debug("skipped closed client", zap.String("identity", client.Identity()))
		return false
	}

	r.metrics.DeliveryFailed()
	r.logger.Warn("delivery failed; kicking client",
		zap.String("identity", client.Identity()),
		zap.String("conn_id", client.ID()),
		zap.Error(err))
	go client.CloseWithCode(CloseSendBufferFull, "send buffer full")
	return false
}
