package services

import (
	"context"
	"sync"

	"tempvoice/internal/core/ports"
)

// KeyedSerializer hands out FIFO tickets per key. A key's queue exists only while
// some ticket for it is outstanding, so finished rooms leave nothing behind.
type KeyedSerializer struct {
	mu     sync.Mutex
	queues map[string]*keyQueue
}

type keyQueue struct {
	held    bool
	waiters []*fifoTicket
}

type fifoTicket struct {
	s       *KeyedSerializer
	key     string
	ready   chan struct{}
	granted bool
	done    bool
}

func NewKeyedSerializer() *KeyedSerializer {
	return &KeyedSerializer{queues: make(map[string]*keyQueue)}
}

// Reserve takes the next place in key's queue without blocking.
func (s *KeyedSerializer) Reserve(key string) ports.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[key]
	if !ok {
		q = &keyQueue{}
		s.queues[key] = q
	}

	t := &fifoTicket{s: s, key: key, ready: make(chan struct{})}
	if !q.held {
		q.held = true
		t.granted = true
		close(t.ready)
	} else {
		q.waiters = append(q.waiters, t)
	}
	return t
}

// ActiveKeys reports how many keys currently have outstanding tickets.
func (s *KeyedSerializer) ActiveKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

func (t *fifoTicket) Wait(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		// Leaves the queue, or passes the turn on if it was granted meanwhile.
		t.Release()
		return ctx.Err()
	}
}

func (t *fifoTicket) Release() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.done {
		return
	}
	t.done = true

	q := s.queues[t.key]
	if q == nil {
		return
	}

	if !t.granted {
		for i, w := range q.waiters {
			if w == t {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				break
			}
		}
		return
	}

	if len(q.waiters) > 0 {
		next := q.waiters[0]
		q.waiters = q.waiters[1:]
		next.granted = true
		close(next.ready)
		return
	}

	q.held = false
	delete(s.queues, t.key)
}

// withTicket reserves key, waits for its turn and runs fn.
func withTicket(ctx context.Context, s ports.RoomSerializer, key string, fn func() error) error {
	t := s.Reserve(key)
	if err := t.Wait(ctx); err != nil {
		return err
	}
	defer t.Release()
	return fn()
}
