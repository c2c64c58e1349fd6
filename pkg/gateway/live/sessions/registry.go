// Package sessions tracks live sessions across the WebSocket and REST
// surfaces so shutdown can warn and drain them, and so the REST shims can
// find a session by ID.
package sessions

import (
	"context"
	"errors"
	"sync"
)

// ErrFull is returned by Register when the session cap is reached.
var ErrFull = errors.New("session limit reached")

// Session is the slice of a live session the registry needs.
type Session interface {
	ID() string
	Warn(code, message string) error
	Cancel()
}

type entry struct {
	session Session
	once    sync.Once
}

// Registry is a concurrency-safe session table with an optional cap.
type Registry struct {
	max int

	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup
}

// NewRegistry creates a registry. max <= 0 means unlimited.
func NewRegistry(max int) *Registry {
	return &Registry{
		max:      max,
		sessions: make(map[string]*entry),
	}
}

// Register adds s under its ID, evicting any previous session with the same
// ID. The returned unregister func is idempotent.
func (r *Registry) Register(s Session) (unregister func(), err error) {
	if r == nil {
		return func() {}, nil
	}

	e := &entry{session: s}
	id := s.ID()

	r.mu.Lock()
	old := r.sessions[id]
	if old == nil && r.max > 0 && len(r.sessions) >= r.max {
		r.mu.Unlock()
		return nil, ErrFull
	}
	r.sessions[id] = e
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		old.session.Cancel()
		r.unregister(id, old)
	}

	return func() { r.unregister(id, e) }, nil
}

func (r *Registry) unregister(id string, e *entry) {
	e.once.Do(func() {
		r.mu.Lock()
		if r.sessions[id] == e {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Lookup returns the session registered under id.
func (r *Registry) Lookup(id string) (Session, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// WarnAll pushes a warning frame to every session, for shutdown notices.
func (r *Registry) WarnAll(code, message string) (sent int) {
	if r == nil {
		return 0
	}

	var targets []Session
	r.mu.Lock()
	for _, e := range r.sessions {
		targets = append(targets, e.session)
	}
	r.mu.Unlock()

	for _, s := range targets {
		_ = s.Warn(code, message)
		sent++
	}
	return sent
}

// CancelAll force-stops every session.
func (r *Registry) CancelAll() (canceled int) {
	if r == nil {
		return 0
	}

	var targets []Session
	r.mu.Lock()
	for _, e := range r.sessions {
		targets = append(targets, e.session)
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered, or ctx ends.
// It reports whether the registry fully drained.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	if ctx == nil {
		r.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
