package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGet(t *testing.T) {
	c := New[string, int](time.Minute)
	defer c.Stop()

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c := New[string, int](time.Minute)
	defer c.Stop()

	c.SetWithTTL("short", 1, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_SetIfAbsent(t *testing.T) {
	c := New[string, struct{}](time.Minute)
	defer c.Stop()

	assert.True(t, c.SetIfAbsent("k", struct{}{}))
	assert.False(t, c.SetIfAbsent("k", struct{}{}))

	c.Delete("k")
	assert.True(t, c.SetIfAbsent("k", struct{}{}))
}

func TestCache_SetIfAbsentConcurrent(t *testing.T) {
	c := New[string, struct{}](time.Minute)
	defer c.Stop()

	var stored int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.SetIfAbsent("event", struct{}{}) {
				atomic.AddInt32(&stored, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), stored)
}

func TestCache_StopTwice(t *testing.T) {
	c := New[string, int](time.Minute)
	c.Stop()
	c.Stop()
}
