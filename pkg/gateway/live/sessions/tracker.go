// Package sessions tracks running relay sessions so the server can refuse
// new upgrades, notify clients and wait for sessions during shutdown.
package sessions

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle is the tracker's view of one running session.
type Handle struct {
	Cancel func()
	Notify func(text string) error
}

type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
	draining atomic.Bool
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

// SetDraining toggles drain mode. While draining, Register refuses new
// sessions.
func (t *Tracker) SetDraining(v bool) {
	if t == nil {
		return
	}
	t.draining.Store(v)
}

func (t *Tracker) Draining() bool {
	if t == nil {
		return false
	}
	return t.draining.Load()
}

// Register adds a session. ok is false when the tracker is draining; the
// returned unregister func is then a no-op.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func(), ok bool) {
	if t == nil {
		return func() {}, true
	}

	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if t.draining.Load() {
		t.mu.Unlock()
		return func() {}, false
	}
	if t.sessions == nil {
		t.sessions = make(map[string]*trackedSession)
	}
	old := t.sessions[sessionID]
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }, true
}

func (t *Tracker) unregister(sessionID string, entry *trackedSession) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions != nil && t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *Tracker) handles() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Handle, 0, len(t.sessions))
	for _, entry := range t.sessions {
		if entry == nil {
			continue
		}
		out = append(out, entry.handle)
	}
	return out
}

// NotifyAll sends text to every tracked client, best effort.
func (t *Tracker) NotifyAll(text string) (sent int) {
	if t == nil {
		return 0
	}
	for _, h := range t.handles() {
		if h.Notify == nil {
			continue
		}
		if err := h.Notify(text); err == nil {
			sent++
		}
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	for _, h := range t.handles() {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered or ctx is done.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

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
