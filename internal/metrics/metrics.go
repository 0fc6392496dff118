// Package metrics exposes Prometheus collectors for the conversion pipeline.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docspeech"

// Chunk outcome labels.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeFatal     = "fatal"
)

// Key rotation reasons.
const (
	RotationRateLimited = "rate_limited"
	RotationRejected    = "rejected"
	RotationScheduled   = "scheduled"
)

// ResultCompleted labels a conversion that produced audio.
const ResultCompleted = "completed"

// Recorder owns the pipeline's collectors.
type Recorder struct {
	chunksTotal       *prometheus.CounterVec
	conversionsTotal  *prometheus.CounterVec
	keyRotationsTotal *prometheus.CounterVec
	filterFallbacks   prometheus.Counter
	successRatio      prometheus.Histogram
}

// New creates a Recorder and registers its collectors with registerer.
// Collectors already registered by a previous Recorder are reused.
func New(registerer prometheus.Registerer) (*Recorder, error) {
	recorder := &Recorder{
		chunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_total",
				Help:      "Total number of speech chunks by outcome",
			},
			[]string{"outcome"},
		),
		conversionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total number of conversions by result or abort reason",
			},
			[]string{"result"},
		),
		keyRotationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "key_rotations_total",
				Help:      "Total number of API key rotations by reason",
			},
			[]string{"reason"},
		),
		filterFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_fallbacks_total",
				Help:      "Total number of filter chunks cleaned heuristically instead of by the model",
			},
		),
		successRatio: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "conversion_success_ratio",
				Help:      "Share of chunks synthesized per completed conversion",
				Buckets:   []float64{.5, .6, .7, .8, .9, .95, 1},
			},
		),
	}

	var err error

	recorder.chunksTotal, err = register(registerer, recorder.chunksTotal)
	if err != nil {
		return nil, err
	}

	recorder.conversionsTotal, err = register(registerer, recorder.conversionsTotal)
	if err != nil {
		return nil, err
	}

	recorder.keyRotationsTotal, err = register(registerer, recorder.keyRotationsTotal)
	if err != nil {
		return nil, err
	}

	recorder.filterFallbacks, err = register(registerer, recorder.filterFallbacks)
	if err != nil {
		return nil, err
	}

	recorder.successRatio, err = register(registerer, recorder.successRatio)
	if err != nil {
		return nil, err
	}

	return recorder, nil
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) (T, error) {
	err := registerer.Register(collector)
	if err == nil {
		return collector, nil
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(T)
		if ok {
			return existing, nil
		}
	}

	return collector, fmt.Errorf("failed to register metric: %w", err)
}

// ChunkOutcome counts one chunk by outcome.
func (r *Recorder) ChunkOutcome(outcome string) {
	if r == nil {
		return
	}

	r.chunksTotal.WithLabelValues(outcome).Inc()
}

// Conversion counts one finished conversion. result is ResultCompleted or an
// abort reason.
func (r *Recorder) Conversion(result string) {
	if r == nil {
		return
	}

	r.conversionsTotal.WithLabelValues(result).Inc()
}

// SuccessRate observes the success rate of a completed conversion.
func (r *Recorder) SuccessRate(rate float64) {
	if r == nil {
		return
	}

	r.successRatio.Observe(rate)
}

// KeyRotation counts one key rotation.
func (r *Recorder) KeyRotation(reason string) {
	if r == nil {
		return
	}

	r.keyRotationsTotal.WithLabelValues(reason).Inc()
}

// FilterFallback counts one filter chunk that fell back to heuristic cleaning.
func (r *Recorder) FilterFallback() {
	if r == nil {
		return
	}

	r.filterFallbacks.Inc()
}
