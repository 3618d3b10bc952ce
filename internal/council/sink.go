// ABOUTME: Sink contract for frontends and the adapter that feeds engine deliveries into it
// ABOUTME: Delivery failures are counted and logged but never stop the conversation

package council

import (
	"context"
	"log/slog"

	"github.com/2389/coven-council/internal/engine"
	"github.com/2389/coven-council/internal/session"
)

// Display roles used for messages the council itself sends.
const (
	UserDisplayRole   = "👤 User"
	SystemDisplayRole = "ℹ️ System"
)

// Sink delivers text to the requester. Implementations degrade on failure (for
// example to plain text) and report false only when nothing could be sent.
type Sink interface {
	Deliver(ctx context.Context, text, displayRole string) bool
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, text, displayRole string) bool

func (f SinkFunc) Deliver(ctx context.Context, text, displayRole string) bool {
	return f(ctx, text, displayRole)
}

// Stats receives counters the council produces. *metrics.Metrics implements it.
type Stats interface {
	BusyRejected(ownerKey string)
	SinkFailed(ownerKey string)
}

type noStats struct{}

func (noStats) BusyRejected(string) {}
func (noStats) SinkFailed(string)   {}

// sinkObserver forwards every emitted utterance to the requester's sink and tracks
// the running conversation on the gate.
type sinkObserver struct {
	owner  string
	sink   Sink
	gate   *session.Gate
	stats  Stats
	logger *slog.Logger
}

func (o *sinkObserver) Observe(ctx context.Context, d engine.Delivery) {
	if o.sink.Deliver(ctx, d.Text, d.DisplayRole) {
		return
	}
	o.stats.SinkFailed(o.owner)
	o.logger.Warn("delivery failed",
		"owner", o.owner,
		"conversation_id", d.ConversationID,
		"index", d.Index)
}

func (o *sinkObserver) ConversationStarted(_ context.Context, s engine.RunStart) {
	o.gate.Attach(o.owner, s.ConversationID)
}

func (o *sinkObserver) ConversationEnded(context.Context, engine.RunEnd) {}

var (
	_ engine.MessageObserver   = (*sinkObserver)(nil)
	_ engine.LifecycleObserver = (*sinkObserver)(nil)
)
