// Package metrics holds the Prometheus collectors served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eeelify/Z-inspection-sub003/internal/scoring"
)

var (
	AnswerDerivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zi_answer_derivations_total",
		Help: "Answer risk derivations by answer type and outcome",
	}, []string{"type", "outcome"})

	QualityFlags = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zi_quality_flags_total",
		Help: "Data quality flags raised while deriving answer risks",
	}, []string{"flag"})

	ReportTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zi_report_transitions_total",
		Help: "Report artifact status transitions by target status",
	}, []string{"status"})

	CommitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zi_report_commit_failures_total",
		Help: "Report commits that left the previous latest in place",
	})

	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zi_report_commit_seconds",
		Help:    "Time to commit a report including the project lock wait",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

// ObserveSnapshot records the derivation outcomes and flags of one snapshot.
func ObserveSnapshot(snap *scoring.Snapshot) {
	for _, q := range snap.Questions {
		AnswerDerivations.WithLabelValues(string(q.Type), "scored").Inc()
	}
	if n := len(snap.Rejected); n > 0 {
		AnswerDerivations.WithLabelValues("any", "rejected").Add(float64(n))
	}
	for flag, n := range snap.Quality.FlagCounts {
		QualityFlags.WithLabelValues(string(flag)).Add(float64(n))
	}
}
