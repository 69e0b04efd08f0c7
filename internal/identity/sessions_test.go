package identity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStoreCreateAndGet(t *testing.T) {
	store := NewSessionStore()

	sid, err := store.Create(Identity{ID: 1, Username: "gunnar"})
	require.NoError(t, err)
	assert.Len(t, sid, 32)

	ident, ok := store.Get(sid)
	require.True(t, ok)
	assert.Equal(t, "gunnar", ident.Username)
	assert.Equal(t, 1, store.Count())
}

func TestSessionStoreIDsAreUnique(t *testing.T) {
	store := NewSessionStore()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sid, err := store.Create(Identity{ID: int64(i)})
		require.NoError(t, err)
		require.False(t, seen[sid])
		seen[sid] = true
	}
	assert.Equal(t, 100, store.Count())
}

func TestSessionStoreDelete(t *testing.T) {
	store := NewSessionStore()
	sid, err := store.Create(Identity{ID: 1, Username: "gunnar"})
	require.NoError(t, err)

	store.Delete(sid)
	_, ok := store.Get(sid)
	assert.False(t, ok)
	assert.Zero(t, store.Count())

	// Deleting again is a no-op.
	store.Delete(sid)
}

func TestSessionStoreConcurrentAccess(t *testing.T) {
	store := NewSessionStore()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			sid, err := store.Create(Identity{ID: n})
			assert.NoError(t, err)
			_, ok := store.Get(sid)
			assert.True(t, ok)
			store.Delete(sid)
		}(int64(i))
	}
	wg.Wait()
	assert.Zero(t, store.Count())
}
