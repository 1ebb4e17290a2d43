// Package sse tracks open server-sent-event channels and delivers named
// events to them.
//
// Delivery is at-most-once and best-effort: nothing is queued for
// disconnected clients, and a client whose buffer is full simply misses the
// message. The underlying condition (item availability) is re-checked on the
// next polling cycle anyway.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// clientBuffer is the number of pending events a client may have before
// further sends to it are dropped.
const clientBuffer = 16

// Client is one open push channel. The HTTP handler that registered it is
// the only reader of Messages and the only writer to the transport.
type Client struct {
	ID     string
	UserID string
	msgs   chan []byte
}

// Messages returns the stream of pre-framed SSE payloads for this client.
func (c *Client) Messages() <-chan []byte {
	return c.msgs
}

// Registry tracks currently connected clients by opaque id.
type Registry struct {
	mu      sync.RWMutex
	log     *logrus.Logger
	clients map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logrus.Logger) *Registry {
	return &Registry{
		log:     log,
		clients: make(map[string]*Client),
	}
}

// Register allocates a fresh client id and adds the client to the registry.
// userID may be empty for unauthenticated connections.
func (r *Registry) Register(userID string) *Client {
	c := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		msgs:   make(chan []byte, clientBuffer),
	}
	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()

	user := userID
	if user == "" {
		user = "guest"
	}
	r.log.WithFields(logrus.Fields{"client": c.ID, "user": user}).Info("SSE client connected")
	return c
}

// Deregister removes the client. It is idempotent and safe to call from the
// connection handler's defer as well as explicitly.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	_, existed := r.clients[id]
	delete(r.clients, id)
	r.mu.Unlock()
	if existed {
		r.log.WithField("client", id).Info("SSE client disconnected")
	}
}

// SendTo delivers one named event to exactly one client. It returns false if
// the client is no longer registered; callers treat that as "task
// undeliverable", not as an error worth retrying.
func (r *Registry) SendTo(id, event string, payload any) bool {
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	msg, err := Format(event, payload)
	if err != nil {
		r.log.WithError(err).WithField("event", event).Error("Could not encode SSE event")
		return false
	}
	r.deliver(c, event, msg)
	return true
}

// Broadcast delivers one named event to every currently registered client.
// Clients that disconnect mid-broadcast simply miss the message.
func (r *Registry) Broadcast(event string, payload any) {
	msg, err := Format(event, payload)
	if err != nil {
		r.log.WithError(err).WithField("event", event).Error("Could not encode SSE event")
		return
	}

	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		r.deliver(c, event, msg)
	}
}

// ListIDs returns a point-in-time snapshot of connected client ids.
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of connected clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Registry) deliver(c *Client, event string, msg []byte) {
	select {
	case c.msgs <- msg:
	default:
		r.log.WithFields(logrus.Fields{"client": c.ID, "event": event}).
			Warn("Client buffer full, dropping event")
	}
}

// Format frames one named event with a JSON payload as SSE wire bytes.
func Format(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\n", event)
	fmt.Fprintf(&buf, "data: %s\n\n", data)
	return buf.Bytes(), nil
}
