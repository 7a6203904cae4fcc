// ABOUTME: Tests for the TTL lookup cache.
// ABOUTME: Covers expiry, capacity eviction, refresh, and concurrent use.

package sessioncache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_PutGet(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Close()

	c.Put("alice@example.com", "session-1")

	got, ok := c.Get("alice@example.com")
	assert.True(t, ok)
	assert.Equal(t, "session-1", got)

	_, ok = c.Get("bob@example.com")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c := New(20*time.Millisecond, 10)
	defer c.Close()

	c.Put("key", "value")
	_, ok := c.Get("key")
	assert.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("key")
	assert.False(t, ok, "entry should expire after TTL")
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Put("d", 4)

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get("d")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestCache_PutRefreshesOrder(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Put("a", 10) // refresh, "b" becomes oldest
	c.Put("d", 4)

	_, ok := c.Get("b")
	assert.False(t, ok)

	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 10, got)
}

func TestCache_Delete(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Close()

	c.Put("key", "value")
	c.Delete("key")
	c.Delete("missing")

	_, ok := c.Get("key")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(time.Minute, 1000)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", n, j)
				c.Put(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, c.Len())
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
