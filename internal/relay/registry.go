package relay

import (
	"context"
	"sync"
)

// Registry tracks the live sessions of one relay
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	running  sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session about to run. It reports false once CloseAll
// has been called.
func (r *Registry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.sessions[s.ID()] = s
	r.running.Add(1)
	return true
}

// Remove unregisters a session after its Run has returned
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		r.running.Done()
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll refuses new sessions, closes every registered one and waits
// until all of them have been removed or ctx is done. Hijacked WebSocket
// connections are not closed by http.Server.Shutdown, so the server calls
// this on exit before releasing the transcript sink.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
