package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Manager keeps one Queue per key, typically a hostname, so work against
// independent targets is limited independently.
type Manager[K comparable] struct {
	defaults Options

	mu     sync.Mutex
	queues map[K]*Queue
}

// NewManager returns a manager whose new queues start from defaults. Queues in
// initial are registered as-is.
func NewManager[K comparable](defaults Options, initial map[K]*Queue) *Manager[K] {
	m := &Manager[K]{defaults: defaults.clone(), queues: make(map[K]*Queue, len(initial))}
	for k, q := range initial {
		if q != nil {
			m.queues[k] = q
		}
	}
	return m
}

func (m *Manager[K]) build(id K, overrides []Override) *Queue {
	opts := m.defaults.clone()
	opts.Name = fmt.Sprint(id)
	for _, o := range overrides {
		if o != nil {
			o(&opts)
		}
	}
	return New(opts)
}

// Create builds a queue for id from the defaults plus overrides and registers
// it, replacing any previous queue for id. The replaced queue keeps running;
// callers that no longer need it should Close it.
func (m *Manager[K]) Create(id K, overrides ...Override) *Queue {
	q := m.build(id, overrides)
	m.mu.Lock()
	m.queues[id] = q
	m.mu.Unlock()
	return q
}

// Get returns the queue registered for id. It never creates one.
func (m *Manager[K]) Get(id K) (*Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[id]
	return q, ok
}

// GetOrCreate returns the queue for id, creating it on first use. overrides
// only apply when the queue is created here.
func (m *Manager[K]) GetOrCreate(id K, overrides ...Override) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[id]; ok {
		return q
	}
	q := m.build(id, overrides)
	m.queues[id] = q
	return q
}

// Options returns a copy of the defaults used for new queues. Changing it
// does not affect the manager.
func (m *Manager[K]) Options() Options {
	return m.defaults.clone()
}

func (m *Manager[K]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]K, 0, len(m.queues))
	for k := range m.queues {
		keys = append(keys, k)
	}
	return keys
}

func (m *Manager[K]) Stats() map[K]Stats {
	m.mu.Lock()
	qs := make(map[K]*Queue, len(m.queues))
	for k, q := range m.queues {
		qs[k] = q
	}
	m.mu.Unlock()

	out := make(map[K]Stats, len(qs))
	for k, q := range qs {
		out[k] = q.Stats()
	}
	return out
}

// Remove unregisters the queue for id without closing it.
func (m *Manager[K]) Remove(id K) (*Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[id]
	if ok {
		delete(m.queues, id)
	}
	return q, ok
}

// Close closes every registered queue and unregisters them.
func (m *Manager[K]) Close(ctx context.Context) error {
	m.mu.Lock()
	qs := m.queues
	m.queues = make(map[K]*Queue)
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for k, q := range qs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.Close(ctx); err != nil {
				emu.Lock()
				errs = append(errs, fmt.Errorf("queue %v: %w", k, err))
				emu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
