// ABOUTME: Prometheus collectors for conversations, turns and gate rejections
// ABOUTME: Metrics implements the engine observer interfaces so it can be attached to every run

package metrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/2389/coven-council/internal/engine"
)

const namespace = "coven_council"

// Metrics holds the collectors registered on one Registerer.
type Metrics struct {
	started      prometheus.Counter
	running      prometheus.Gauge
	finished     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	rounds       prometheus.Histogram
	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	deliveries   *prometheus.CounterVec
	busyRejected *prometheus.CounterVec
	sinkFailures *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		started: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_started_total",
			Help:      "Conversations that entered the running state",
		}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations_running",
			Help:      "Conversations currently running",
		}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_finished_total",
			Help:      "Conversations by terminal state",
		}, []string{"state"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversation_duration_seconds",
			Help:      "Wall time of a conversation by terminal state",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"state"}),
		rounds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversation_rounds",
			Help:      "Recorded rounds per finished conversation",
			Buckets:   prometheus.LinearBuckets(1, 2, 12),
		}),
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Collaborator turns by speaker and classification",
		}, []string{"speaker", "tag"}),
		turnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Latency of one collaborator turn",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"speaker"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Utterances emitted to observers",
		}, []string{"speaker", "hint"}),
		busyRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "busy_rejections_total",
			Help:      "Task submissions rejected because the owner was busy",
		}, []string{"frontend"}),
		sinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Deliveries the chat sink could not send",
		}, []string{"frontend"}),
	}
}

// RegisterSessions exports the number of sessions the gate knows about, read from
// count at scrape time.
func RegisterSessions(reg prometheus.Registerer, count func() int) prometheus.GaugeFunc {
	return promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Sessions known to the session gate",
	}, func() float64 {
		return float64(count())
	})
}

// ConversationStarted implements engine.LifecycleObserver.
func (m *Metrics) ConversationStarted(_ context.Context, _ engine.RunStart) {
	m.started.Inc()
	m.running.Inc()
}

// ConversationEnded implements engine.LifecycleObserver.
func (m *Metrics) ConversationEnded(_ context.Context, e engine.RunEnd) {
	state := e.State.String()
	m.running.Dec()
	m.finished.WithLabelValues(state).Inc()
	m.duration.WithLabelValues(state).Observe(e.Duration.Seconds())
	m.rounds.Observe(float64(e.Rounds))
}

// TurnCompleted implements engine.TurnObserver.
func (m *Metrics) TurnCompleted(_ context.Context, t engine.Turn) {
	tag := t.Tag.String()
	if t.Err != nil {
		tag = "error"
	}
	m.turns.WithLabelValues(string(t.Speaker), tag).Inc()
	m.turnDuration.WithLabelValues(string(t.Speaker)).Observe(t.Duration.Seconds())
}

// Observe implements engine.MessageObserver.
func (m *Metrics) Observe(_ context.Context, d engine.Delivery) {
	m.deliveries.WithLabelValues(string(d.Speaker), string(d.Hint)).Inc()
}

// BusyRejected counts a submission refused by the session gate.
func (m *Metrics) BusyRejected(ownerKey string) {
	m.busyRejected.WithLabelValues(frontend(ownerKey)).Inc()
}

// SinkFailed counts a delivery the frontend could not send.
func (m *Metrics) SinkFailed(ownerKey string) {
	m.sinkFailures.WithLabelValues(frontend(ownerKey)).Inc()
}

// frontend is the namespace prefix of an owner key ("matrix" for "matrix:!room").
func frontend(ownerKey string) string {
	if i := strings.IndexByte(ownerKey, ':'); i > 0 {
		return ownerKey[:i]
	}
	return "unknown"
}

var (
	_ engine.MessageObserver   = (*Metrics)(nil)
	_ engine.LifecycleObserver = (*Metrics)(nil)
	_ engine.TurnObserver      = (*Metrics)(nil)
)
