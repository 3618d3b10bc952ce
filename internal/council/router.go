// ABOUTME: Router picks the collaborator that produces a role's turn from its capability
// ABOUTME: Executor roles go to the code sandbox, every other role to the language model

package council

import (
	"context"
	"errors"

	"github.com/2389/coven-council/internal/engine"
	"github.com/2389/coven-council/internal/roster"
)

// Router implements engine.TurnProducer by dispatching on roster.Capability.
type Router struct {
	assistant engine.TurnProducer
	executor  engine.TurnProducer
}

// NewRouter creates a Router. executor may be nil, in which case executor roles are
// answered by the assistant producer as well.
func NewRouter(assistant, executor engine.TurnProducer) (*Router, error) {
	if assistant == nil {
		return nil, errors.New("assistant producer is required")
	}
	return &Router{assistant: assistant, executor: executor}, nil
}

// ProduceTurn implements engine.TurnProducer.
func (r *Router) ProduceTurn(ctx context.Context, speaker roster.Role, history []engine.Utterance) (string, error) {
	if speaker.Capability == roster.CapabilityExecutor && r.executor != nil {
		return r.executor.ProduceTurn(ctx, speaker, history)
	}
	return r.assistant.ProduceTurn(ctx, speaker, history)
}

var _ engine.TurnProducer = (*Router)(nil)
