// ABOUTME: Collaborator and observer contracts used by the engine
// ABOUTME: Producers make turns, selectors pick speakers, observers watch the run

package engine

import (
	"context"
	"time"

	"github.com/2389/coven-council/internal/classify"
	"github.com/2389/coven-council/internal/roster"
)

// TurnProducer produces the raw text of one turn for the given speaker. Calls may
// block for an unbounded time; any timeout is the producer's configuration.
type TurnProducer interface {
	ProduceTurn(ctx context.Context, speaker roster.Role, history []Utterance) (string, error)
}

// SpeakerSelector picks one of several allowed successors. The engine verifies the
// choice against the transition graph before committing it.
type SpeakerSelector interface {
	SelectNext(ctx context.Context, current roster.RoleID, allowed []roster.RoleID, history []Utterance) (roster.RoleID, error)
}

// SelectorFunc adapts a function to SpeakerSelector.
type SelectorFunc func(ctx context.Context, current roster.RoleID, allowed []roster.RoleID, history []Utterance) (roster.RoleID, error)

func (f SelectorFunc) SelectNext(ctx context.Context, current roster.RoleID, allowed []roster.RoleID, history []Utterance) (roster.RoleID, error) {
	return f(ctx, current, allowed, history)
}

// FirstAllowed always picks the first declared successor.
var FirstAllowed = SelectorFunc(func(_ context.Context, _ roster.RoleID, allowed []roster.RoleID, _ []Utterance) (roster.RoleID, error) {
	return allowed[0], nil
})

// Delivery is one emitted utterance as seen by observers.
type Delivery struct {
	ConversationID string
	OwnerKey       string
	Index          int
	Speaker        roster.RoleID
	DisplayRole    string
	Text           string
	Hint           classify.Hint
	Final          bool
}

// MessageObserver is invoked once for every emitted utterance, in round order.
// Observers must not fail the run; they handle their own errors.
type MessageObserver interface {
	Observe(ctx context.Context, d Delivery)
}

// ObserverFunc adapts a function to MessageObserver.
type ObserverFunc func(ctx context.Context, d Delivery)

func (f ObserverFunc) Observe(ctx context.Context, d Delivery) {
	f(ctx, d)
}

// RunStart describes a conversation that has just entered Running.
type RunStart struct {
	ConversationID string
	OwnerKey       string
	Task           string
	MaxRounds      int
	StartedAt      time.Time
}

// RunEnd describes a conversation that has reached a terminal state.
type RunEnd struct {
	ConversationID string
	OwnerKey       string
	State          State
	Rounds         int
	FinalAnswer    string
	Err            error
	Duration       time.Duration
}

// LifecycleObserver is optionally implemented by observers that track whole runs.
type LifecycleObserver interface {
	ConversationStarted(ctx context.Context, s RunStart)
	ConversationEnded(ctx context.Context, e RunEnd)
}

// Turn describes one collaborator call and its classification.
type Turn struct {
	ConversationID string
	Speaker        roster.RoleID
	Tag            classify.Tag
	Duration       time.Duration
	Err            error
}

// TurnObserver is optionally implemented by observers that track every turn,
// including discarded service turns.
type TurnObserver interface {
	TurnCompleted(ctx context.Context, t Turn)
}
