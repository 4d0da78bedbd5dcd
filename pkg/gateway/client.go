package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ClientState tracks a connection through the handshake.
type ClientState int

const (
	StateConnecting ClientState = iota
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
)

// Client is one WebSocket connection. Fields other than the
// authenticated flag and the write lock belong to the connection's read
// goroutine, except CallerID, which is written under the registry lock.
type Client struct {
	ID                string
	Conn              *websocket.Conn
	CallerID          string
	Challenge         string
	ChallengeIssuedAt time.Time
	ConnectedAt       time.Time
	LastActivity      time.Time
	IPAddress         string
	AuthAttempts      int
	Limiter           *ClientRateLimiter
	State             ClientState

	authenticated atomic.Bool
	writeMu       sync.Mutex
}

// Authenticated reports whether the client passed the challenge.
func (c *Client) Authenticated() bool {
	return c.authenticated.Load()
}

func (c *Client) setAuthenticated(v bool) {
	c.authenticated.Store(v)
}

// WriteJSON sends v as one frame; gorilla allows a single writer.
func (c *Client) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(v)
}

// WriteMessage writes a raw frame.
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(messageType, data)
}

// ClientInfo is the public view of a Client, as returned by
// gateway.clients. The caller id is masked.
type ClientInfo struct {
	ID            string    `json:"id"`
	CallerID      string    `json:"callerId,omitempty"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	IPAddress     string    `json:"ipAddress"`
	Idle          bool      `json:"idle"`
}
