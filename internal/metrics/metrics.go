// Package metrics exposes Prometheus collectors for fitness evaluation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zjy-dev/covfit/internal/distance"
)

// Outcome labels one evaluation.
type Outcome string

const (
	OutcomeCovered   Outcome = "covered"
	OutcomeUncovered Outcome = "uncovered"
	OutcomeViolation Outcome = "invariant_violation"
	OutcomeError     Outcome = "error"
)

// Metrics holds the evaluation collectors. A nil *Metrics records nothing.
type Metrics struct {
	// evaluations counts goal evaluations by criterion and outcome
	evaluations *prometheus.CounterVec

	// approachLevel tracks approach levels of uncovered evaluations
	approachLevel *prometheus.HistogramVec

	// duration tracks time spent running and scoring one candidate
	duration *prometheus.HistogramVec
}

// New registers the collectors on reg. maxApproachLevel is the sentinel approach level
// of the distance calculator; it becomes the top approach-level bucket, and a
// non-positive value selects distance.DefaultMaxApproachLevel.
func New(reg prometheus.Registerer, maxApproachLevel int) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "covfit_evaluations_total",
			Help: "Total goal evaluations by criterion and outcome",
		}, []string{"criterion", "outcome"}),
		approachLevel: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "covfit_approach_level",
			Help:    "Approach level of evaluations that did not cover their goal",
			Buckets: ApproachBuckets(maxApproachLevel),
		}, []string{"criterion"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "covfit_evaluation_duration_seconds",
			Help:    "Evaluation duration in seconds, including the test run",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3s
		}, []string{"criterion"}),
	}
}

// ApproachBuckets returns histogram buckets for approach levels: small levels, then the
// sentinel so unreachable goals land in their own bucket.
func ApproachBuckets(maxApproachLevel int) []float64 {
	if maxApproachLevel <= 0 {
		maxApproachLevel = distance.DefaultMaxApproachLevel
	}
	limit := float64(maxApproachLevel)
	var buckets []float64
	for _, b := range []float64{0, 1, 2, 3, 5, 8, 13, 21} {
		if b < limit {
			buckets = append(buckets, b)
		}
	}
	return append(buckets, limit)
}

// ObserveEvaluation records one evaluation.
func (m *Metrics) ObserveEvaluation(criterion string, outcome Outcome, approachLevel int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(criterion, string(outcome)).Inc()
	if outcome == OutcomeUncovered {
		m.approachLevel.WithLabelValues(criterion).Observe(float64(approachLevel))
	}
	m.duration.WithLabelValues(criterion).Observe(elapsed.Seconds())
}
