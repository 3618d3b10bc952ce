// ABOUTME: Recorder writes engine deliveries and lifecycle events into the Ledger
// ABOUTME: Write failures are logged and never interrupt the conversation

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-council/internal/engine"
)

// Recorder is an engine observer that keeps an audit transcript.
type Recorder struct {
	ledger Ledger
	logger *slog.Logger
}

// NewRecorder creates a Recorder writing to ledger.
func NewRecorder(ledger Ledger, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		ledger: ledger,
		logger: logger.With("component", "recorder"),
	}
}

// ConversationStarted records a running conversation.
func (r *Recorder) ConversationStarted(ctx context.Context, s engine.RunStart) {
	err := r.ledger.CreateConversation(ctx, &Conversation{
		ID:        s.ConversationID,
		OwnerKey:  s.OwnerKey,
		Task:      s.Task,
		State:     engine.StateRunning.String(),
		MaxRounds: s.MaxRounds,
		StartedAt: s.StartedAt,
	})
	if err != nil {
		r.logger.Warn("failed to record conversation start", "conversation_id", s.ConversationID, "error", err)
	}
}

// Observe records one emitted utterance.
func (r *Recorder) Observe(ctx context.Context, d engine.Delivery) {
	err := r.ledger.SaveUtterance(ctx, &Utterance{
		ID:             uuid.New().String(),
		ConversationID: d.ConversationID,
		Index:          d.Index,
		Speaker:        string(d.Speaker),
		DisplayRole:    d.DisplayRole,
		Text:           d.Text,
		Hint:           string(d.Hint),
		Final:          d.Final,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		r.logger.Warn("failed to record utterance",
			"conversation_id", d.ConversationID,
			"index", d.Index,
			"error", err)
	}
}

// ConversationEnded records the outcome.
func (r *Recorder) ConversationEnded(ctx context.Context, e engine.RunEnd) {
	end := ConversationEnd{
		State:       e.State.String(),
		Rounds:      e.Rounds,
		FinalAnswer: e.FinalAnswer,
		EndedAt:     time.Now(),
	}
	if e.Err != nil {
		end.Error = e.Err.Error()
	}
	if err := r.ledger.FinishConversation(ctx, e.ConversationID, end); err != nil {
		r.logger.Warn("failed to record conversation end", "conversation_id", e.ConversationID, "error", err)
	}
}

var (
	_ engine.MessageObserver   = (*Recorder)(nil)
	_ engine.LifecycleObserver = (*Recorder)(nil)
)
