package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	remoteCalls     *prometheus.CounterVec
	remoteDuration  *prometheus.HistogramVec
	flushes         *prometheus.CounterVec
	coalesced       prometheus.Counter
	droppedFlushes  prometheus.Counter
	reconciliations *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvas_sync_remote_calls_total",
				Help: "Remote store calls issued by the sync engine.",
			},
			[]string{"op", "result"},
		),
		remoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "canvas_sync_remote_call_duration_seconds",
				Help:    "Latency of remote store calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvas_sync_flushes_total",
				Help: "Coalesced patches handed to the dispatcher.",
			},
			[]string{"class"},
		),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvas_sync_coalesced_intents_total",
			Help: "Mutation intents merged into an existing pending patch instead of producing a write.",
		}),
		droppedFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvas_sync_dropped_flushes_total",
			Help: "Flushes dropped because their item was no longer present.",
		}),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvas_sync_reconciliations_total",
				Help: "Full re-list reconciliations.",
			},
			[]string{"result"},
		),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.remoteCalls, m.remoteDuration, m.flushes, m.coalesced, m.droppedFlushes, m.reconciliations,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRemoteRejected):
		return "rejected"
	default:
		return "network"
	}
}
