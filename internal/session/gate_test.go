// ABOUTME: Tests for the per-owner session gate
// ABOUTME: Exclusive acquisition under contention, clear semantics and scoped release

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_GetOrCreateReturnsSameSession(t *testing.T) {
	g := NewGate(nil, nil)

	var wg sync.WaitGroup
	sessions := make([]*Session, 32)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i] = g.GetOrCreate("matrix:!room")
		}(i)
	}
	wg.Wait()

	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, 1, g.Len())
	assert.False(t, sessions[0].Busy())
}

func TestGate_TryAcquireIsExclusive(t *testing.T) {
	g := NewGate(nil, nil)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if g.TryAcquire(ctx, "api:alice") {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	s, ok := g.Lookup("api:alice")
	require.True(t, ok)
	assert.True(t, s.Busy())
}

func TestGate_IndependentOwners(t *testing.T) {
	g := NewGate(nil, nil)
	ctx := context.Background()

	assert.True(t, g.TryAcquire(ctx, "a"))
	assert.True(t, g.TryAcquire(ctx, "b"))
	assert.False(t, g.TryAcquire(ctx, "a"))

	g.Release(ctx, "a")
	assert.True(t, g.TryAcquire(ctx, "a"))
	assert.False(t, g.TryAcquire(ctx, "b"))
}

func TestGate_ReleaseUnknownIsNoop(t *testing.T) {
	g := NewGate(nil, nil)
	g.Release(context.Background(), "missing")
	assert.Equal(t, 0, g.Len())
}

func TestGate_ClearBusyIsRejected(t *testing.T) {
	g := NewGate(nil, nil)
	ctx := context.Background()

	require.True(t, g.TryAcquire(ctx, "k"))
	before, _ := g.Lookup("k")

	err := g.Clear("k")
	assert.ErrorIs(t, err, ErrSessionBusy)

	after, ok := g.Lookup("k")
	require.True(t, ok)
	assert.Same(t, before, after)
	assert.True(t, after.Busy())
}

func TestGate_ClearThenGetOrCreateStartsFresh(t *testing.T) {
	g := NewGate(nil, nil)
	ctx := context.Background()

	require.True(t, g.TryAcquire(ctx, "k"))
	g.Attach("k", "conv-1")
	old := g.GetOrCreate("k")
	assert.Equal(t, "conv-1", old.ConversationID())
	g.Release(ctx, "k")

	require.NoError(t, g.Clear("k"))
	_, ok := g.Lookup("k")
	assert.False(t, ok)

	fresh := g.GetOrCreate("k")
	assert.NotSame(t, old, fresh)
	assert.False(t, fresh.Busy())
	assert.Empty(t, fresh.ConversationID())
}

func TestGate_ClearUnknownIsNoop(t *testing.T) {
	g := NewGate(nil, nil)
	assert.NoError(t, g.Clear("never-seen"))
}

func TestGate_AttachIgnoresIdleSession(t *testing.T) {
	g := NewGate(nil, nil)
	g.GetOrCreate("k")
	g.Attach("k", "conv")
	s, _ := g.Lookup("k")
	assert.Empty(t, s.ConversationID())
}

func TestGate_AcquireScopedRelease(t *testing.T) {
	g := NewGate(nil, nil)
	ctx := context.Background()

	release, err := g.Acquire(ctx, "k")
	require.NoError(t, err)

	_, err = g.Acquire(ctx, "k")
	assert.ErrorIs(t, err, ErrBusy)

	release()
	release()

	release2, err := g.Acquire(ctx, "k")
	require.NoError(t, err)
	release2()
}

func TestGate_SecondSubmissionRejectedBeforeAnyWork(t *testing.T) {
	g := NewGate(nil, nil)
	ctx := context.Background()

	running := make(chan struct{})
	finish := make(chan struct{})
	var calls atomic.Int32

	go func() {
		release, err := g.Acquire(ctx, "owner")
		if err != nil {
			return
		}
		defer release()
		calls.Add(1)
		close(running)
		<-finish
	}()
	<-running

	_, err := g.Acquire(ctx, "owner")
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, int32(1), calls.Load())
	close(finish)
}

type stubLease struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released []string
}

func (l *stubLease) Acquire(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *stubLease) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.released = append(l.released, key)
	return nil
}

func TestGate_LeaseHeldElsewhereRollsBack(t *testing.T) {
	lease := &stubLease{held: map[string]bool{"k": true}}
	g := NewGate(lease, nil)
	ctx := context.Background()

	assert.False(t, g.TryAcquire(ctx, "k"))
	s, ok := g.Lookup("k")
	require.True(t, ok)
	assert.False(t, s.Busy(), "local flag must be rolled back")

	lease.held = map[string]bool{}
	assert.True(t, g.TryAcquire(ctx, "k"))
	g.Release(ctx, "k")
	assert.Equal(t, []string{"k"}, lease.released)
}

func TestGate_LeaseErrorReportsBusy(t *testing.T) {
	lease := &stubLease{held: map[string]bool{}, err: errors.New("connection refused")}
	g := NewGate(lease, nil)

	assert.False(t, g.TryAcquire(context.Background(), "k"))
	s, _ := g.Lookup("k")
	assert.False(t, s.Busy())
}
