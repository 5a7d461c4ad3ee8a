package realtime

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authedConn(t *testing.T, userID string, buffer int) *Connection {
	t.Helper()
	c := newConnection(&fakeTransport{}, buffer, time.Second, zerolog.Nop())
	require.True(t, c.authenticate(userID, userID, "", ""))
	return c
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a1 := authedConn(t, "A", 4)
	a2 := authedConn(t, "A", 4)
	b := authedConn(t, "B", 4)

	r.Add(a1)
	r.Add(a1)
	r.Add(a2)
	r.Add(b)
	assert.Equal(t, 3, r.Count())
	assert.Equal(t, []string{"A", "B"}, r.OnlineUsers())
	assert.ElementsMatch(t, []*Connection{a1, a2, b}, r.Snapshot())

	r.Remove(a1)
	r.Remove(a1)
	assert.Equal(t, 2, r.Count())
	assert.NotContains(t, r.Snapshot(), a1)
	assert.Equal(t, []string{"A", "B"}, r.OnlineUsers())

	r.Remove(a2)
	assert.Equal(t, []string{"B"}, r.OnlineUsers())
}

func TestRouter_Deliver(t *testing.T) {
	r := NewRegistry()
	a1 := authedConn(t, "A", 4)
	a2 := authedConn(t, "A", 4)
	b := authedConn(t, "B", 4)
	closed := authedConn(t, "A", 4)
	for _, c := range []*Connection{a1, a2, b, closed} {
		r.Add(c)
	}
	closed.Close()
	r.Add(closed) // a stale entry must be skipped, not fail the delivery

	router := NewRouter(r)
	sent, err := router.Deliver(ToUser("A"), map[string]string{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Len(t, a1.send, 1)
	assert.Len(t, a2.send, 1)
	assert.Len(t, b.send, 0)

	sent, err = router.Deliver(ToUsers([]string{"A", "B"}), map[string]string{"text": "all"})
	require.NoError(t, err)
	assert.Equal(t, 3, sent)

	sent, err = router.Deliver(ToUser("nobody"), map[string]string{"text": "x"})
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestRouter_SkipsFullOutbox(t *testing.T) {
	r := NewRegistry()
	slow := authedConn(t, "A", 1)
	fast := authedConn(t, "A", 4)
	r.Add(slow)
	r.Add(fast)
	router := NewRouter(r)

	sent, err := router.Deliver(ToUser("A"), "one")
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	sent, err = router.Deliver(ToUser("A"), "two")
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Len(t, fast.send, 2)
}

func TestRouter_MarshalError(t *testing.T) {
	router := NewRouter(NewRegistry())
	_, err := router.Deliver(ToUser("A"), make(chan int))
	assert.Error(t, err)
}

func TestConnection_SendAfterClose(t *testing.T) {
	ft := &fakeTransport{}
	c := newConnection(ft, 4, time.Second, zerolog.Nop())
	var hooks int
	c.OnClose(func(*Connection) { hooks++ })

	assert.True(t, c.Send([]byte("x")))
	c.Close()
	c.Close()

	assert.False(t, c.Send([]byte("y")))
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, hooks)
	assert.True(t, ft.isClosed())
	assert.Error(t, c.Context().Err())

	c.OnClose(func(*Connection) { hooks++ })
	assert.Equal(t, 2, hooks)
	assert.False(t, c.authenticate("A", "A", "", ""))
}
