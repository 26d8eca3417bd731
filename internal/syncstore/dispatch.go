package syncstore

import (
	"sync"

	"github.com/Jakob98-code/distance-tracker/internal/models"
)

// mailbox is a single-slot, overwrite-on-publish buffer drained by one
// goroutine that invokes the subscriber callback. A slow subscriber only
// ever sees the newest value.
type mailbox[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	value   T
	pending bool
	closed  bool
}

func newMailbox[T any](fn func(T)) *mailbox[T] {
	m := &mailbox[T]{}
	m.cond = sync.NewCond(&m.mu)
	go m.run(fn)
	return m
}

func (m *mailbox[T]) offer(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.value = v
	m.pending = true
	m.cond.Signal()
}

func (m *mailbox[T]) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}

func (m *mailbox[T]) run(fn func(T)) {
	for {
		m.mu.Lock()
		for !m.pending && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		v := m.value
		m.pending = false
		m.mu.Unlock()

		fn(v)
	}
}

// connectivity tracks a store's connection state and fans changes out
type connectivity struct {
	mu       sync.Mutex
	state    models.Connectivity
	watchers map[*mailbox[models.Connectivity]]struct{}
}

func newConnectivity() *connectivity {
	return &connectivity{
		state:    models.Disconnected,
		watchers: make(map[*mailbox[models.Connectivity]]struct{}),
	}
}

// set records the state and reports whether it changed
func (c *connectivity) set(state models.Connectivity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == state {
		return false
	}
	c.state = state
	for m := range c.watchers {
		m.offer(state)
	}
	return true
}

func (c *connectivity) current() models.Connectivity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connectivity) watch(fn func(models.Connectivity)) Subscription {
	m := newMailbox(fn)
	c.mu.Lock()
	c.watchers[m] = struct{}{}
	m.offer(c.state)
	c.mu.Unlock()

	var once sync.Once
	return subscriptionFunc(func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, m)
			c.mu.Unlock()
			m.close()
		})
	})
}

func (c *connectivity) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for m := range c.watchers {
		m.close()
	}
	c.watchers = make(map[*mailbox[models.Connectivity]]struct{})
}
