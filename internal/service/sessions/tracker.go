// Package sessions tracks live relay sessions so the service can drain them
// on shutdown.
package sessions

import (
	"context"
	"errors"
	"sync"
)

// ErrDraining is returned by Register once shutdown has begun.
var ErrDraining = errors.New("service is draining, not accepting sessions")

// Handle is what the tracker needs from a session.
type Handle struct {
	// Stop asks the session to end gracefully.
	Stop func()
}

// Tracker keeps the set of live sessions.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	draining bool
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*trackedSession),
	}
}

// Register adds a session. The returned func removes it and is safe to call
// more than once.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func(), err error) {
	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if t.draining {
		t.mu.Unlock()
		return func() {}, ErrDraining
	}
	old := t.sessions[sessionID]
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }, nil
}

func (t *Tracker) unregister(sessionID string, entry *trackedSession) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Count returns the number of live sessions.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Draining reports whether shutdown has begun.
func (t *Tracker) Draining() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draining
}

// Drain refuses new sessions and asks every live session to stop. It
// returns the number of sessions asked.
func (t *Tracker) Drain() (stopped int) {
	var stops []func()
	t.mu.Lock()
	t.draining = true
	for _, entry := range t.sessions {
		if entry.handle.Stop == nil {
			continue
		}
		stops = append(stops, entry.handle.Stop)
	}
	t.mu.Unlock()

	for _, stop := range stops {
		stop()
		stopped++
	}
	return stopped
}

// Wait blocks until every registered session has unregistered or ctx is
// done. It reports whether all sessions finished.
func (t *Tracker) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
