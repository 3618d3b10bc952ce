// ABOUTME: SessionGate keeps one Session per owner key and allows one running task per Session
// ABOUTME: Acquisition is immediate and non-blocking; an optional Lease extends exclusivity across replicas

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrBusy is returned by Acquire when the owner already has a task running.
	ErrBusy = errors.New("session is busy")

	// ErrSessionBusy is returned by Clear while a task is running for the owner.
	ErrSessionBusy = errors.New("cannot clear a session while a task is running")
)

// Lease is a cross-process exclusivity token consulted after the local check succeeds.
type Lease interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Session is the long-lived per-owner container. It holds no conversation history.
type Session struct {
	OwnerKey  string
	CreatedAt time.Time

	mu             sync.Mutex
	busy           bool
	conversationID string
}

// Busy reports whether a task is currently running.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// ConversationID returns the id of the running conversation, empty when idle.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Gate is the registry of Sessions. The registry mutex is always taken before a
// Session's own mutex.
type Gate struct {
	mu       sync.Mutex
	sessions map[string]*Session
	lease    Lease
	logger   *slog.Logger
}

// NewGate creates an empty registry. lease may be nil for single-process deployments.
func NewGate(lease Lease, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		sessions: make(map[string]*Session),
		lease:    lease,
		logger:   logger.With("component", "session"),
	}
}

// GetOrCreate returns the Session for key, creating an idle one on first use.
func (g *Gate) GetOrCreate(key string) *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getOrCreateLocked(key)
}

func (g *Gate) getOrCreateLocked(key string) *Session {
	s, ok := g.sessions[key]
	if !ok {
		s = &Session{OwnerKey: key, CreatedAt: time.Now()}
		g.sessions[key] = s
		g.logger.Debug("session created", "owner", key)
	}
	return s
}

// TryAcquire marks the owner busy and reports true, or reports false without side
// effects when a task is already running. It never waits for the running task.
func (g *Gate) TryAcquire(ctx context.Context, key string) bool {
	g.mu.Lock()
	s := g.getOrCreateLocked(key)
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		g.mu.Unlock()
		return false
	}
	s.busy = true
	s.mu.Unlock()
	g.mu.Unlock()

	if g.lease == nil {
		return true
	}

	ok, err := g.lease.Acquire(ctx, key)
	if err != nil || !ok {
		if err != nil {
			g.logger.Warn("lease acquire failed", "owner", key, "error", err)
		}
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
		return false
	}
	return true
}

// Release marks the owner idle. It is safe to call for an unknown key.
func (g *Gate) Release(ctx context.Context, key string) {
	g.mu.Lock()
	s, ok := g.sessions[key]
	if ok {
		s.mu.Lock()
		s.busy = false
		s.conversationID = ""
		s.mu.Unlock()
	}
	g.mu.Unlock()

	if !ok || g.lease == nil {
		return
	}
	if err := g.lease.Release(ctx, key); err != nil {
		g.logger.Warn("lease release failed", "owner", key, "error", err)
	}
}

// Acquire is the scoped form of TryAcquire. The returned release function is
// idempotent and must be deferred by the caller.
func (g *Gate) Acquire(ctx context.Context, key string) (func(), error) {
	if !g.TryAcquire(ctx, key) {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.Release(context.WithoutCancel(ctx), key)
		})
	}, nil
}

// Attach records the running conversation for the owner. It does nothing unless the
// owner is busy.
func (g *Gate) Attach(key, conversationID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[key]
	if !ok {
		return
	}
	s.mu.Lock()
	if s.busy {
		s.conversationID = conversationID
	}
	s.mu.Unlock()
}

// Clear removes the owner's Session so the next GetOrCreate starts fresh. A busy
// Session is left untouched and ErrSessionBusy is returned.
func (g *Gate) Clear(key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[key]
	if !ok {
		return nil
	}
	s.mu.Lock()
	busy := s.busy
	s.mu.Unlock()
	if busy {
		return ErrSessionBusy
	}
	delete(g.sessions, key)
	g.logger.Info("session cleared", "owner", key)
	return nil
}

// Lookup returns the Session for key without creating one.
func (g *Gate) Lookup(key string) (*Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[key]
	return s, ok
}

// Len returns the number of known Sessions.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}
