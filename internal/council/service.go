// ABOUTME: Council service is the start, reset and submit surface shared by every frontend
// ABOUTME: Submit gates the owner, runs the engine, streams turns to the sink and always releases

package council

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/coven-council/internal/engine"
	"github.com/2389/coven-council/internal/roster"
	"github.com/2389/coven-council/internal/session"
)

// Notices sent to the requester around a run.
const (
	BusyNotice     = "⏳ The team is still working on your previous task. Please wait for it to finish."
	StartingNotice = "🚀 The expert team is starting work on your task..."
	CompletedText  = "✅ Task completed by the expert team."
	ResetText      = "🔄 Session cleared. Send a new task to start over."
	ResetBusyText  = "⏳ A task is still running. Reset is available once it finishes."
	ShutdownNotice = "🛑 The team is shutting down. Please send your task again in a moment."
)

// ErrShuttingDown is reported for submissions that arrive after Drain started.
var ErrShuttingDown = errors.New("council is shutting down")

// Status is the outcome class of a submission.
type Status int

const (
	StatusCompleted Status = iota
	StatusIncomplete
	StatusFailed
	StatusBusy
	StatusIgnored
	StatusShuttingDown
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusIncomplete:
		return "incomplete"
	case StatusFailed:
		return "failed"
	case StatusBusy:
		return "busy"
	case StatusIgnored:
		return "ignored"
	case StatusShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Outcome reports what happened to one submission.
type Outcome struct {
	Status         Status
	ConversationID string
	FinalAnswer    string
	Rounds         int
	Err            error
}

// Service composes the session gate and the engine.
type Service struct {
	engine *engine.Engine
	gate   *session.Gate
	stats  Stats
	logger *slog.Logger

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// NewService creates a council service. stats may be nil.
func NewService(eng *engine.Engine, gate *session.Gate, stats Stats, logger *slog.Logger) *Service {
	if stats == nil {
		stats = noStats{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine: eng,
		gate:   gate,
		stats:  stats,
		logger: logger.With("component", "council"),
	}
}

// Gate returns the session gate.
func (s *Service) Gate() *session.Gate {
	return s.gate
}

// Welcome describes the team and how to use it.
func (s *Service) Welcome() string {
	var b strings.Builder
	b.WriteString("🤖 Welcome to the expert council!\n\n")
	b.WriteString("Send a task and a team of experts will work on it together:\n")
	team := s.engine.Roster()
	for _, role := range team.Roles() {
		if role.ID == team.Coordinator().ID {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", role.Label)
	}
	fmt.Fprintf(&b, "\n%s coordinates who speaks next.\n", team.Coordinator().Label)
	fmt.Fprintf(&b, "A task runs for at most %d rounds. One task at a time per chat; reset clears the session.", s.engine.Config().MaxRounds)
	return b.String()
}

// Reset clears the owner's session. It returns ErrSessionBusy, and a reply saying
// so, while a task is running.
func (s *Service) Reset(ctx context.Context, owner string) (string, error) {
	if err := s.gate.Clear(owner); err != nil {
		if errors.Is(err, session.ErrSessionBusy) {
			s.logger.Info("reset refused while busy", "owner", owner)
			return ResetBusyText, err
		}
		return "", fmt.Errorf("clearing session: %w", err)
	}
	return ResetText, nil
}

// Submit runs one task for owner, streaming turns to sink. A busy owner is
// rejected before any collaborator is called. The gate is released on every path.
func (s *Service) Submit(ctx context.Context, owner, task string, sink Sink) Outcome {
	task = strings.TrimSpace(task)
	if task == "" {
		return Outcome{Status: StatusIgnored}
	}

	if !s.track() {
		s.logger.Info("submission rejected, shutting down", "owner", owner)
		sink.Deliver(ctx, ShutdownNotice, SystemDisplayRole)
		return Outcome{Status: StatusShuttingDown, Err: ErrShuttingDown}
	}
	defer s.inflight.Done()

	release, err := s.gate.Acquire(ctx, owner)
	if err != nil {
		s.stats.BusyRejected(owner)
		s.logger.Info("submission rejected, owner busy", "owner", owner)
		sink.Deliver(ctx, BusyNotice, SystemDisplayRole)
		return Outcome{Status: StatusBusy, Err: err}
	}
	defer release()

	s.deliver(ctx, sink, owner, task, UserDisplayRole)
	s.deliver(ctx, sink, owner, StartingNotice, SystemDisplayRole)

	obs := &sinkObserver{owner: owner, sink: sink, gate: s.gate, stats: s.stats, logger: s.logger}
	res, err := s.engine.Run(ctx, engine.Request{
		Task:      task,
		OwnerKey:  owner,
		Observers: []engine.MessageObserver{obs},
	})
	if err != nil {
		s.logger.Error("task failed", "owner", owner, "error", err)
		s.deliver(ctx, sink, owner, "❌ Error: "+err.Error(), SystemDisplayRole)
		return Outcome{Status: StatusFailed, Err: err}
	}

	out := Outcome{
		ConversationID: res.ConversationID,
		FinalAnswer:    res.FinalAnswer,
		Rounds:         res.Rounds,
	}
	if res.Terminated {
		out.Status = StatusCompleted
		s.deliver(ctx, sink, owner, CompletedText, SystemDisplayRole)
	} else {
		out.Status = StatusIncomplete
		s.deliver(ctx, sink, owner, incompleteText(res.Rounds, s.engine.Config().MaxRounds), SystemDisplayRole)
	}
	s.logger.Info("task finished",
		"owner", owner,
		"conversation_id", res.ConversationID,
		"status", out.Status,
		"rounds", res.Rounds,
		"duration", res.Duration)
	return out
}

// track counts a submission as in flight unless Drain has started.
func (s *Service) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Drain stops accepting submissions and waits until running ones have returned, so
// their gate release and ledger writes happen before shared clients are closed.
func (s *Service) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running tasks: %w", ctx.Err())
	}
}

func (s *Service) deliver(ctx context.Context, sink Sink, owner, text, role string) {
	if !sink.Deliver(ctx, text, role) {
		s.stats.SinkFailed(owner)
	}
}

// incompleteText names the budget that ended the run. Fewer rounds than the limit
// means the service-turn budget ran out first.
func incompleteText(rounds, maxRounds int) string {
	if rounds >= maxRounds {
		return fmt.Sprintf("⚠️ The team stopped after reaching the limit of %d rounds without a final answer. Try rephrasing the task.", maxRounds)
	}
	return fmt.Sprintf("⚠️ The team stopped after %d of %d rounds because its replies held no new content. Try rephrasing the task.", rounds, maxRounds)
}

// OwnerKey namespaces a frontend-local id into a gate key.
func OwnerKey(frontend, id string) string {
	return frontend + ":" + id
}

// Roles lists the team for frontends that show it.
func (s *Service) Roles() []roster.Role {
	return s.engine.Roster().Roles()
}

// Transitions lists who may speak after whom.
func (s *Service) Transitions() []roster.Edge {
	return s.engine.Graph().Edges()
}
