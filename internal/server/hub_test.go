package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newNopClient(identity string) *Client {
	return NewClient(nil, identity, 0, zap.NewNop())
}

func isClosed(c *Client) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

func TestHubRegisterLookupUnregister(t *testing.T) {
	hub := NewHub(zap.NewNop())
	alice := newNopClient("alice")

	evicted, ok := hub.Register("alice", alice)
	assert.Nil(t, evicted)
	assert.True(t, ok)

	got, ok := hub.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, alice, got)

	assert.Same(t, alice, hub.Unregister("alice"))
	_, ok = hub.Lookup("alice")
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		assert.Nil(t, hub.Unregister("nobody"))
	})
}

func TestHubIdentitiesSorted(t *testing.T) {
	hub := NewHub(zap.NewNop())
	for _, id := range []string{"carol", "alice", "bob"} {
		hub.Register(id, newNopClient(id))
	}

	assert.Equal(t, []string{"alice", "bob", "carol"}, hub.Identities())
	assert.Equal(t, 3, hub.Len())
	assert.Len(t, hub.Snapshot(), 3)
}

func TestHubRegisterReplacesExisting(t *testing.T) {
	hub := NewHub(zap.NewNop())
	first := newNopClient("alice")
	second := newNopClient("alice")

	hub.Register("alice", first)
	evicted, _ := hub.Register("alice", second)
	assert.Same(t, first, evicted)

	got, _ := hub.Lookup("alice")
	assert.Same(t, second, got)

	// re-registering the same client evicts nothing
	evicted, _ = hub.Register("alice", second)
	assert.Nil(t, evicted)
}

func TestHubReleaseOnlyCurrentClient(t *testing.T) {
	hub := NewHub(zap.NewNop())
	stale := newNopClient("alice")
	current := newNopClient("alice")

	hub.Register("alice", stale)
	hub.Register("alice", current)

	assert.False(t, hub.Release(stale))
	got, ok := hub.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, current, got)

	assert.True(t, hub.Release(current))
	assert.False(t, hub.Release(current))
	assert.Equal(t, 0, hub.Len())
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	alice := newNopClient("alice")
	bob := newNopClient("bob")
	hub.Register("alice", alice)
	hub.Register("bob", bob)

	require.NoError(t, hub.Shutdown(time.Second))
	assert.True(t, isClosed(alice))
	assert.True(t, isClosed(bob))

	late := newNopClient("carol")
	evicted, ok := hub.Register("carol", late)
	assert.Nil(t, evicted)
	assert.False(t, ok)
	assert.True(t, isClosed(late))
	_, ok = hub.Lookup("carol")
	assert.False(t, ok)
}

func TestHubShutdownTimesOut(t *testing.T) {
	hub := NewHub(zap.NewNop())
	done, ok := hub.track()
	require.True(t, ok)
	defer done()

	err := hub.Shutdown(20 * time.Millisecond)
	assert.Error(t, err)
}

func TestHubTrackRefusedAfterShutdown(t *testing.T) {
	hub := NewHub(zap.NewNop())
	require.NoError(t, hub.Shutdown(time.Second))

	done, ok := hub.track()
	assert.False(t, ok)
	assert.Nil(t, done)
}
