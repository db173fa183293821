// Package realtime streams session notices to websocket subscribers. A
// Bridge, when configured, carries notices between server instances so a
// reviewer connected to one instance sees violations detected on another.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// Bridge relays encoded notices across instances.
type Bridge interface {
	Publish(ctx context.Context, sessionID string, payload []byte) error
	Subscribe(sessionID string, handler func(payload []byte)) (cancel func(), err error)
}

// Hub maintains session_id -> set of connections and broadcasts notices.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Client
	subs     map[string]func()
	bridge   Bridge
	origins  []string
	upgrader websocket.Upgrader
	logger   logger.Logger
}

// NewHub creates a hub. Without a bridge, notices stay on this instance.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		sessions: make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger.Get().Named("realtime"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Register adds a client to its session room. The first client of a room
// also subscribes the bridge channel; that round trip runs without the hub
// lock so other sessions keep broadcasting.
func (h *Hub) Register(ctx context.Context, c *Client) {
	h.mu.Lock()
	room := h.sessions[c.SessionID]
	first := room == nil
	if first {
		room = make(map[string]*Client)
		h.sessions[c.SessionID] = room
	}
	room[c.ID] = c
	h.mu.Unlock()

	if first && h.bridge != nil {
		h.subscribe(ctx, c.SessionID)
	}
	metrics.AddLiveSubscribers(1)
	h.logger.Debug(ctx, "subscriber joined", logger.SessionID(c.SessionID), logger.String("client_id", c.ID))
}

// subscribe keeps the subscription only if the room still exists and no
// concurrent registration already stored one.
func (h *Hub) subscribe(ctx context.Context, sessionID string) {
	cancel, err := h.bridge.Subscribe(sessionID, func(payload []byte) {
		h.Broadcast(sessionID, payload)
	})
	if err != nil {
		metrics.RecordErrorByComponent("realtime", "bridge_subscribe")
		h.logger.Warn(ctx, "bridge subscribe failed, serving local notices only",
			logger.SessionID(sessionID), logger.Error(err))
		return
	}

	h.mu.Lock()
	_, live := h.sessions[sessionID]
	_, taken := h.subs[sessionID]
	keep := live && !taken
	if keep {
		h.subs[sessionID] = cancel
	}
	h.mu.Unlock()
	if !keep {
		cancel()
	}
}

// Unregister removes a client and drops the bridge subscription with the last one.
func (h *Hub) Unregister(ctx context.Context, c *Client) {
	h.mu.Lock()
	room, ok := h.sessions[c.SessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, present := room[c.ID]; !present {
		h.mu.Unlock()
		return
	}
	delete(room, c.ID)
	close(c.send)
	if len(room) == 0 {
		delete(h.sessions, c.SessionID)
		if cancel, ok := h.subs[c.SessionID]; ok {
			cancel()
			delete(h.subs, c.SessionID)
		}
	}
	h.mu.Unlock()

	metrics.AddLiveSubscribers(-1)
	h.logger.Debug(ctx, "subscriber left", logger.SessionID(c.SessionID), logger.String("client_id", c.ID))
}

// Publish implements the session manager's publisher. With a bridge the
// notice goes out once through it and comes back to every instance,
// including this one, through the subscription.
func (h *Hub) Publish(ctx context.Context, n model.Notice) {
	payload, err := json.Marshal(n)
	if err != nil {
		h.logger.Error(ctx, "encode notice", logger.SessionID(n.SessionID), logger.Error(err))
		return
	}
	if h.bridge != nil {
		err := h.bridge.Publish(ctx, n.SessionID, payload)
		if err == nil {
			return
		}
		metrics.RecordErrorByComponent("realtime", "bridge_publish")
		h.logger.Warn(ctx, "bridge publish failed, delivering locally", logger.SessionID(n.SessionID), logger.Error(err))
	}
	h.Broadcast(n.SessionID, payload)
}

// Broadcast sends an encoded notice to the local clients of a session.
// Slow clients miss messages rather than stall the sender.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.sessions[sessionID] {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// Subscribers returns the number of local clients following a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Close disconnects every client and drops all bridge subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, room := range h.sessions {
		for _, c := range room {
			close(c.send)
			metrics.AddLiveSubscribers(-1)
		}
		delete(h.sessions, id)
	}
	for id, cancel := range h.subs {
		cancel()
		delete(h.subs, id)
	}
}

// checkOrigin admits requests without an Origin header (non-browser
// clients). Browser upgrades must come from an allowed origin, or from the
// serving host itself when no list is configured. "*" admits any origin.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if len(h.origins) == 0 {
		return strings.EqualFold(u.Host, r.Host)
	}
	want := strings.ToLower(u.Scheme + "://" + u.Host)
	for _, o := range h.origins {
		if o == "*" || o == want {
			return true
		}
	}
	return false
}
