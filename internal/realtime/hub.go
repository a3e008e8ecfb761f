package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/couchparty/backend/pkg/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Call failure modes. The coordinator treats all of them the same way
// (recoverable, logged, no reply to the requester).
var (
	ErrNotConnected     = errors.New("realtime: connection not registered")
	ErrCallTimeout      = errors.New("realtime: call timed out")
	ErrConnectionClosed = errors.New("realtime: connection closed during call")
)

// WSMessage is the WebSocket message envelope, both directions.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// callRequest is the payload sent with a call event; the peer echoes the id
// back in its reply so the hub can correlate it.
type callRequest struct {
	ID string `json:"id"`
}

type pendingCall struct {
	connID string
	ch     chan json.RawMessage
}

// Hub maintains the set of connected clients and provides unicast, broadcast,
// broadcast-except-sender and a synchronous call-with-timeout addressed to a
// single connection.
type Hub struct {
	clients map[string]*Client
	pending map[string]*pendingCall // call id -> waiter
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub creates an empty connection hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		pending: make(map[string]*pendingCall),
		logger:  logger,
	}
}

// Register adds a client connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	metrics.ActiveConnections.Inc()
	h.logger.Debug("client registered", zap.String("conn_id", c.ID))
}

// Unregister removes a client and fails any call still waiting on it, so
// reconciliation resolves promptly instead of burning the full timeout.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	for id, pc := range h.pending {
		if pc.connID == c.ID {
			delete(h.pending, id)
			close(pc.ch)
		}
	}
	h.mu.Unlock()
	metrics.ActiveConnections.Dec()
	h.logger.Debug("client unregistered", zap.String("conn_id", c.ID))
}

// SendTo sends an event to a single connection. Unknown ids are ignored.
func (h *Hub) SendTo(connID, event string, payload interface{}) {
	msg, err := envelope(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.trySend(msg)
}

// Broadcast sends an event to every connection.
func (h *Hub) Broadcast(event string, payload interface{}) {
	h.broadcast(event, payload, "")
}

// BroadcastExcept sends an event to every connection but one.
func (h *Hub) BroadcastExcept(exclude, event string, payload interface{}) {
	h.broadcast(event, payload, exclude)
}

func (h *Hub) broadcast(event string, payload interface{}, exclude string) {
	msg, err := envelope(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		if id == exclude {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.trySend(msg)
	}
}

// Call sends event to one connection and waits for its reply, correlated by a
// generated call id the peer must echo back. It fails with ErrCallTimeout
// after timeout, ErrConnectionClosed if the peer disconnects mid-call, or the
// context error on cancellation.
func (h *Hub) Call(ctx context.Context, connID, event string, timeout time.Duration) (json.RawMessage, error) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return nil, ErrNotConnected
	}
	callID := uuid.New().String()
	pc := &pendingCall{connID: connID, ch: make(chan json.RawMessage, 1)}
	h.pending[callID] = pc
	h.mu.Unlock()

	msg, err := envelope(event, callRequest{ID: callID})
	if err != nil {
		h.dropCall(callID)
		return nil, err
	}
	if !c.trySend(msg) {
		h.dropCall(callID)
		return nil, ErrNotConnected
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data, ok := <-pc.ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		return data, nil
	case <-timer.C:
		h.dropCall(callID)
		return nil, ErrCallTimeout
	case <-ctx.Done():
		h.dropCall(callID)
		return nil, ctx.Err()
	}
}

// Resolve delivers a call reply. The reply is accepted only when the call id
// is known and the reply comes from the connection the call was addressed to.
func (h *Hub) Resolve(connID, callID string, data json.RawMessage) {
	h.mu.Lock()
	pc, ok := h.pending[callID]
	if !ok || pc.connID != connID {
		h.mu.Unlock()
		return
	}
	delete(h.pending, callID)
	h.mu.Unlock()
	pc.ch <- data
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) dropCall(callID string) {
	h.mu.Lock()
	delete(h.pending, callID)
	h.mu.Unlock()
}

func envelope(event string, payload interface{}) (WSMessage, error) {
	var data json.RawMessage
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return WSMessage{}, err
		}
		data = b
	}
	return WSMessage{Event: event, Data: data}, nil
}
