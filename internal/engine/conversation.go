// ABOUTME: Conversation state for one task run: append-only utterances, round counter, state
// ABOUTME: State transitions are monotone, Running ends in Terminated, RoundsExhausted or Failed

package engine

import (
	"fmt"
	"time"

	"github.com/2389/coven-council/internal/classify"
	"github.com/2389/coven-council/internal/roster"
)

// State is the lifecycle position of a Conversation.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateTerminated
	StateRoundsExhausted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	case StateRoundsExhausted:
		return "rounds_exhausted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no transition may leave the state.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateRoundsExhausted || s == StateFailed
}

// Utterance is one recorded turn. Index is its position in the history.
type Utterance struct {
	Index     int
	Speaker   roster.RoleID
	Text      string
	Hint      classify.Hint
	CreatedAt time.Time
}

// Conversation is one bounded run of the turn-taking protocol. It is owned by a
// single Run call and is not shared between goroutines.
type Conversation struct {
	ID        string
	OwnerKey  string
	Task      string
	MaxRounds int
	StartedAt time.Time

	state       State
	round       int
	utterances  []Utterance
	finalAnswer string
}

func newConversation(id, ownerKey, task string, maxRounds int) *Conversation {
	return &Conversation{
		ID:        id,
		OwnerKey:  ownerKey,
		Task:      task,
		MaxRounds: maxRounds,
		StartedAt: time.Now(),
		state:     StateIdle,
	}
}

// State returns the current state.
func (c *Conversation) State() State {
	return c.state
}

// Round returns the number of recorded Content turns.
func (c *Conversation) Round() int {
	return c.round
}

// FinalAnswer returns the last final answer, empty until Terminated.
func (c *Conversation) FinalAnswer() string {
	return c.finalAnswer
}

// Utterances returns a copy of the history in round order.
func (c *Conversation) Utterances() []Utterance {
	return append([]Utterance(nil), c.utterances...)
}

// LastSpeaker returns the author of the latest utterance.
func (c *Conversation) LastSpeaker() roster.RoleID {
	if len(c.utterances) == 0 {
		return ""
	}
	return c.utterances[len(c.utterances)-1].Speaker
}

func (c *Conversation) transition(to State) error {
	switch {
	case c.state == StateIdle && to == StateRunning:
	case c.state == StateRunning && to.Terminal():
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, c.state, to)
	}
	c.state = to
	return nil
}

func (c *Conversation) record(speaker roster.RoleID, text string, hint classify.Hint) Utterance {
	u := Utterance{
		Index:     len(c.utterances),
		Speaker:   speaker,
		Text:      text,
		Hint:      hint,
		CreatedAt: time.Now(),
	}
	c.utterances = append(c.utterances, u)
	return u
}
