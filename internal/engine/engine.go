// ABOUTME: ConversationEngine drives the turn loop for one submitted task
// ABOUTME: Graph-checked speaker selection, classified turns, bounded rounds, ordered emission

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-council/internal/classify"
	"github.com/2389/coven-council/internal/roster"
)

// DefaultFinalAnswer is reported when a termination turn carries no text of its own.
const DefaultFinalAnswer = "Task completed by the expert team."

// FinalDisplayRole labels the delivery that carries the final answer.
const FinalDisplayRole = "🎯 Final answer"

// ExecutionSuffix is appended to the speaker label of execution output.
const ExecutionSuffix = " (code)"

// Config holds the fixed limits of every run.
type Config struct {
	// MaxRounds bounds the number of recorded turns. Required.
	MaxRounds int
	// MaxServiceTurns bounds discarded service turns; zero means MaxRounds.
	MaxServiceTurns int
	// FinalAnswerDefault replaces an empty termination payload; empty means DefaultFinalAnswer.
	FinalAnswerDefault string
}

// Deps are the collaborators an Engine needs.
type Deps struct {
	Roster     *roster.Roster
	Graph      *roster.Graph
	Classifier *classify.Classifier
	Producer   TurnProducer
	// Selector picks among several allowed successors. Nil means FirstAllowed.
	Selector SpeakerSelector
	// Observers are notified for every run.
	Observers []MessageObserver
}

// Engine runs conversations. It holds no per-run state and is safe for concurrent use;
// each Run owns its Conversation.
type Engine struct {
	cfg        Config
	roster     *roster.Roster
	graph      *roster.Graph
	classifier *classify.Classifier
	producer   TurnProducer
	selector   SpeakerSelector
	observers  []MessageObserver
	logger     *slog.Logger
}

// New validates the configuration and collaborators and builds an Engine.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	if cfg.MaxRounds <= 0 {
		return nil, fmt.Errorf("max rounds must be positive, got %d", cfg.MaxRounds)
	}
	if cfg.MaxServiceTurns < 0 {
		return nil, fmt.Errorf("max service turns must not be negative, got %d", cfg.MaxServiceTurns)
	}
	if cfg.MaxServiceTurns == 0 {
		cfg.MaxServiceTurns = cfg.MaxRounds
	}
	if cfg.FinalAnswerDefault == "" {
		cfg.FinalAnswerDefault = DefaultFinalAnswer
	}
	if deps.Roster == nil || deps.Graph == nil {
		return nil, errors.New("roster and graph are required")
	}
	if deps.Producer == nil {
		return nil, errors.New("turn producer is required")
	}
	if err := deps.Roster.CheckGraph(deps.Graph); err != nil {
		return nil, fmt.Errorf("checking graph against roster: %w", err)
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.New(classify.DefaultRules())
	}
	if deps.Selector == nil {
		deps.Selector = FirstAllowed
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:        cfg,
		roster:     deps.Roster,
		graph:      deps.Graph,
		classifier: deps.Classifier,
		producer:   deps.Producer,
		selector:   deps.Selector,
		observers:  deps.Observers,
		logger:     logger.With("component", "engine"),
	}, nil
}

// Roster returns the team the engine runs.
func (e *Engine) Roster() *roster.Roster {
	return e.roster
}

// Graph returns the transition graph.
func (e *Engine) Graph() *roster.Graph {
	return e.graph
}

// Config returns the effective limits.
func (e *Engine) Config() Config {
	return e.cfg
}

// Request is one task submission.
type Request struct {
	Task     string
	OwnerKey string
	// Observers are notified for this run only, after the engine-wide observers.
	Observers []MessageObserver
}

// Result is the outcome of a run that did not fail.
type Result struct {
	ConversationID string
	Terminated     bool
	FinalAnswer    string
	State          State
	Rounds         int
	Utterances     []Utterance
	Duration       time.Duration
}

// Run executes one conversation to a terminal state. A run that ends Terminated or
// RoundsExhausted returns a Result; a Failed run returns only the error.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	conv := newConversation(uuid.New().String(), req.OwnerKey, req.Task, e.cfg.MaxRounds)
	observers := make([]MessageObserver, 0, len(e.observers)+len(req.Observers))
	observers = append(observers, e.observers...)
	observers = append(observers, req.Observers...)

	r := &run{
		engine:    e,
		conv:      conv,
		observers: observers,
		logger:    e.logger.With("conversation_id", conv.ID, "owner", req.OwnerKey),
	}

	if err := conv.transition(StateRunning); err != nil {
		return nil, err
	}
	conv.record(e.graph.Entry(), req.Task, classify.HintAgent)
	r.started(ctx)

	err := r.loop(ctx)
	if err != nil {
		// transition cannot fail from Running
		_ = conv.transition(StateFailed)
	}
	r.ended(ctx, err)

	if err != nil {
		return nil, err
	}
	return &Result{
		ConversationID: conv.ID,
		Terminated:     conv.State() == StateTerminated,
		FinalAnswer:    conv.FinalAnswer(),
		State:          conv.State(),
		Rounds:         conv.Round(),
		Utterances:     conv.Utterances(),
		Duration:       time.Since(conv.StartedAt),
	}, nil
}

// run carries the per-conversation state of one Run call.
type run struct {
	engine       *Engine
	conv         *Conversation
	observers    []MessageObserver
	logger       *slog.Logger
	serviceTurns int
}

func (r *run) loop(ctx context.Context) error {
	e := r.engine
	for r.conv.State() == StateRunning {
		if err := ctx.Err(); err != nil {
			return &CollaboratorError{Speaker: r.conv.LastSpeaker(), Op: "produce turn", Err: err}
		}

		speaker, err := r.nextSpeaker(ctx)
		if err != nil {
			return err
		}
		role, ok := e.roster.Role(speaker)
		if !ok {
			return fmt.Errorf("%w: %s is not in the roster", ErrIllegalTransition, speaker)
		}

		start := time.Now()
		text, err := e.producer.ProduceTurn(ctx, role, r.conv.Utterances())
		if err != nil {
			r.turn(ctx, Turn{ConversationID: r.conv.ID, Speaker: speaker, Duration: time.Since(start), Err: err})
			r.logger.Warn("turn failed", "speaker", speaker, "error", err)
			return &CollaboratorError{Speaker: speaker, Op: "produce turn", Err: err}
		}

		c := e.classifier.Classify(text)
		r.turn(ctx, Turn{ConversationID: r.conv.ID, Speaker: speaker, Tag: c.Tag, Duration: time.Since(start)})

		switch c.Tag {
		case classify.Service:
			r.serviceTurns++
			r.logger.Debug("service turn discarded", "speaker", speaker, "service_turns", r.serviceTurns)
			if r.serviceTurns >= e.cfg.MaxServiceTurns {
				r.logger.Info("service turn budget exhausted", "service_turns", r.serviceTurns)
				_ = r.conv.transition(StateRoundsExhausted)
			}

		case classify.Termination:
			answer := c.Payload
			if answer == "" {
				answer = e.cfg.FinalAnswerDefault
			}
			u := r.conv.record(speaker, answer, c.Hint)
			r.conv.round++
			r.conv.finalAnswer = answer
			_ = r.conv.transition(StateTerminated)
			r.emit(ctx, u, FinalDisplayRole, true)

		case classify.Content:
			u := r.conv.record(speaker, c.Payload, c.Hint)
			r.conv.round++
			r.emit(ctx, u, r.displayRole(speaker, c.Hint), false)
			if r.conv.Round() >= r.conv.MaxRounds {
				r.logger.Info("round limit reached", "rounds", r.conv.Round())
				_ = r.conv.transition(StateRoundsExhausted)
			}
		}
	}
	return nil
}

// nextSpeaker picks a graph-legal successor of the latest speaker. A single successor
// is taken directly; several are delegated to the selector and then verified.
func (r *run) nextSpeaker(ctx context.Context) (roster.RoleID, error) {
	e := r.engine
	current := r.conv.LastSpeaker()
	allowed := e.graph.AllowedNext(current)
	if len(allowed) == 0 {
		return "", fmt.Errorf("%w: %s", ErrDeadEnd, current)
	}
	if len(allowed) == 1 {
		return allowed[0], nil
	}

	next, err := e.selector.SelectNext(ctx, current, allowed, r.conv.Utterances())
	if err != nil {
		return "", &CollaboratorError{Speaker: e.roster.Coordinator().ID, Op: "select speaker", Err: err}
	}
	if !e.graph.IsAllowed(current, next) {
		r.logger.Error("illegal speaker transition",
			"from", current,
			"to", next,
			"allowed", allowed,
			"round", r.conv.Round())
		return "", fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, next)
	}
	return next, nil
}

func (r *run) displayRole(speaker roster.RoleID, hint classify.Hint) string {
	label := r.engine.roster.Label(speaker)
	if hint == classify.HintExecution {
		return label + ExecutionSuffix
	}
	return label
}

func (r *run) emit(ctx context.Context, u Utterance, displayRole string, final bool) {
	d := Delivery{
		ConversationID: r.conv.ID,
		OwnerKey:       r.conv.OwnerKey,
		Index:          u.Index,
		Speaker:        u.Speaker,
		DisplayRole:    displayRole,
		Text:           u.Text,
		Hint:           u.Hint,
		Final:          final,
	}
	for _, o := range r.observers {
		o.Observe(ctx, d)
	}
}

func (r *run) turn(ctx context.Context, t Turn) {
	for _, o := range r.observers {
		if to, ok := o.(TurnObserver); ok {
			to.TurnCompleted(ctx, t)
		}
	}
}

func (r *run) started(ctx context.Context) {
	s := RunStart{
		ConversationID: r.conv.ID,
		OwnerKey:       r.conv.OwnerKey,
		Task:           r.conv.Task,
		MaxRounds:      r.conv.MaxRounds,
		StartedAt:      r.conv.StartedAt,
	}
	for _, o := range r.observers {
		if lo, ok := o.(LifecycleObserver); ok {
			lo.ConversationStarted(ctx, s)
		}
	}
	r.logger.Info("conversation started", "max_rounds", r.conv.MaxRounds)
}

func (r *run) ended(ctx context.Context, err error) {
	end := RunEnd{
		ConversationID: r.conv.ID,
		OwnerKey:       r.conv.OwnerKey,
		State:          r.conv.State(),
		Rounds:         r.conv.Round(),
		FinalAnswer:    r.conv.FinalAnswer(),
		Err:            err,
		Duration:       time.Since(r.conv.StartedAt),
	}
	// lifecycle writes must land even when the run was cancelled
	ctx = context.WithoutCancel(ctx)
	for _, o := range r.observers {
		if lo, ok := o.(LifecycleObserver); ok {
			lo.ConversationEnded(ctx, end)
		}
	}
	if err != nil {
		r.logger.Error("conversation failed", "state", end.State, "rounds", end.Rounds, "error", err)
		return
	}
	r.logger.Info("conversation finished",
		"state", end.State,
		"rounds", end.Rounds,
		"duration", end.Duration)
}
