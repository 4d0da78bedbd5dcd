package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientRegistry_SelectOnlyAuthenticated(t *testing.T) {
	r := NewClientRegistry()
	r.Add(&Client{ID: "pending", CallerID: "alice"})
	authed := &Client{ID: "ready", CallerID: "alice"}
	authed.setAuthenticated(true)
	r.Add(authed)

	assert.Len(t, r.All(), 2)

	got := r.Select(func(c *Client) bool { return c.CallerID == "alice" })
	assert.Len(t, got, 1)
	assert.Equal(t, "ready", got[0].ID)

	r.Remove("ready")
	assert.Empty(t, r.Select(func(*Client) bool { return true }))
	assert.Equal(t, 1, r.Count())
}

func TestClientRegistry_BindCaller(t *testing.T) {
	r := NewClientRegistry()
	r.Add(&Client{ID: "c1"})
	r.Add(&Client{ID: "c2", CallerID: "bob"})

	assert.True(t, r.BindCaller("c1", "alice"))
	assert.False(t, r.BindCaller("c1", "mallory"))
	assert.False(t, r.BindCaller("c2", "alice"))
	assert.False(t, r.BindCaller("missing", "alice"))

	c, ok := r.Get("c1")
	assert.True(t, ok)
	assert.Equal(t, "alice", c.CallerID)
}

func TestClientRegistry_Describe(t *testing.T) {
	r := NewClientRegistry()
	now := time.Now()
	r.Add(&Client{ID: "new", CallerID: "alice", ConnectedAt: now, LastActivity: now})
	r.Add(&Client{ID: "old", CallerID: "bob-the-caller", ConnectedAt: now.Add(-time.Hour), LastActivity: now.Add(-time.Hour)})

	infos := r.Describe()
	assert.Len(t, infos, 2)
	assert.Equal(t, "old", infos[0].ID)
	assert.True(t, infos[0].Idle)
	assert.Equal(t, "bo****er", infos[0].CallerID)
	assert.False(t, infos[1].Idle)
	assert.Equal(t, "al****ce", infos[1].CallerID)

	r.Touch("old")
	assert.False(t, r.Describe()[0].Idle)
}
