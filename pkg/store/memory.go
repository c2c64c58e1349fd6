package store

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process ResponseStore used when Redis is not configured.
type Memory struct {
	ttl time.Duration

	mu     sync.Mutex
	queues map[string]*memQueue
	done   chan struct{}
	once   sync.Once
}

type memQueue struct {
	events   [][]byte
	deadline time.Time
}

// NewMemory creates an in-memory store. Expired queues are swept in the
// background until Close is called.
func NewMemory(opts Options) *Memory {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	m := &Memory{
		ttl:    ttl,
		queues: make(map[string]*memQueue),
		done:   make(chan struct{}),
	}
	go m.sweep()
	return m
}

func (m *Memory) Append(_ context.Context, sessionID string, event []byte) error {
	buf := make([]byte, len(event))
	copy(buf, event)

	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[sessionID]
	if !ok {
		q = &memQueue{}
		m.queues[sessionID] = q
	}
	q.events = append(q.events, buf)
	q.deadline = time.Now().Add(m.ttl)
	return nil
}

func (m *Memory) Drain(_ context.Context, sessionID string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[sessionID]
	if !ok || len(q.events) == 0 {
		return nil, nil
	}
	out := q.events
	q.events = nil
	q.deadline = time.Now().Add(m.ttl)
	return out, nil
}

func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, sessionID)
	return nil
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *Memory) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for id, q := range m.queues {
				if now.After(q.deadline) {
					delete(m.queues, id)
				}
			}
			m.mu.Unlock()
		}
	}
}
