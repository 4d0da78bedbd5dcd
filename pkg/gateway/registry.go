package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/harun/toolgate/pkg/toolregistry"
)

const idleAfter = 5 * time.Minute

// ClientRegistry tracks live WebSocket connections by client id.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client)}
}

// Add registers client, replacing any entry with the same id.
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	r.clients[client.ID] = client
	r.mu.Unlock()
}

// Remove drops a client. Unknown ids are ignored.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	r.mu.Unlock()
}

// Get looks up a client by id.
func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[clientID]
	return client, ok
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// All returns every connected client.
func (r *ClientRegistry) All() []*Client {
	return r.Select(nil)
}

// Select returns the authenticated clients accepted by match, or all
// clients when match is nil. match runs under the registry lock, so it may
// read CallerID safely.
func (r *ClientRegistry) Select(match func(*Client) bool) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		if match == nil {
			out = append(out, client)
			continue
		}
		if client.Authenticated() && match(client) {
			out = append(out, client)
		}
	}
	return out
}

// Describe returns a masked summary of every client, oldest first.
func (r *ClientRegistry) Describe() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		infos = append(infos, ClientInfo{
			ID:            c.ID,
			CallerID:      toolregistry.MaskCallerID(c.CallerID),
			Authenticated: c.Authenticated(),
			ConnectedAt:   c.ConnectedAt,
			LastActivity:  c.LastActivity,
			IPAddress:     c.IPAddress,
			Idle:          now.Sub(c.LastActivity) > idleAfter,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Touch records activity on a client.
func (r *ClientRegistry) Touch(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[clientID]; ok {
		c.LastActivity = time.Now()
	}
}

// BindCaller sets the caller of a client that connected without one. It
// reports false when the client is gone or already has a caller.
func (r *ClientRegistry) BindCaller(clientID, callerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok || c.CallerID != "" {
		return false
	}
	c.CallerID = callerID
	return true
}
