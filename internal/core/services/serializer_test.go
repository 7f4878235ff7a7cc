package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedSerializer_FIFOOrder(t *testing.T) {
	s := NewKeyedSerializer()
	ctx := context.Background()

	first := s.Reserve("room")
	require.NoError(t, first.Wait(ctx))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		tk := s.Reserve("room")
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, tk.Wait(ctx))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			tk.Release()
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	first.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, s.ActiveKeys())
}

func TestKeyedSerializer_DifferentKeysRunConcurrently(t *testing.T) {
	s := NewKeyedSerializer()
	ctx := context.Background()

	a := s.Reserve("a")
	b := s.Reserve("b")
	require.NoError(t, a.Wait(ctx))
	require.NoError(t, b.Wait(ctx))
	assert.Equal(t, 2, s.ActiveKeys())

	a.Release()
	b.Release()
	assert.Equal(t, 0, s.ActiveKeys())
}

func TestKeyedSerializer_MutualExclusion(t *testing.T) {
	s := NewKeyedSerializer()
	ctx := context.Background()

	var inside, maxInside int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := withTicket(ctx, s, "room", func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
}

func TestKeyedSerializer_CancelledWaiterLeavesQueue(t *testing.T) {
	s := NewKeyedSerializer()

	holder := s.Reserve("room")
	require.NoError(t, holder.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	waiter := s.Reserve("room")
	assert.ErrorIs(t, waiter.Wait(ctx), context.DeadlineExceeded)

	next := s.Reserve("room")
	holder.Release()
	require.NoError(t, next.Wait(context.Background()))
	next.Release()

	assert.Equal(t, 0, s.ActiveKeys())
}

func TestKeyedSerializer_ReleaseIsIdempotent(t *testing.T) {
	s := NewKeyedSerializer()
	tk := s.Reserve("room")
	require.NoError(t, tk.Wait(context.Background()))
	tk.Release()
	tk.Release()

	again := s.Reserve("room")
	require.NoError(t, again.Wait(context.Background()))
	again.Release()
}
