// Package metrics exposes Prometheus collectors for the intake path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quoted"

var (
	// InputsTotal counts intake inputs by channel and outcome.
	// Labels: channel (email, image, pdf, text), outcome (processed, duplicate, invalid)
	InputsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "inputs_total",
			Help:      "Total number of intake inputs by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// ProcessDuration tracks end-to-end processing time of one input.
	ProcessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "process_duration_seconds",
			Help:      "Duration of end-to-end input processing in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"channel"},
	)

	// DedupVerdicts counts gate verdicts.
	// Labels: verdict (new, duplicate, lookup_error)
	DedupVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "verdicts_total",
			Help:      "Total number of deduplication verdicts",
		},
		[]string{"verdict"},
	)

	// LedgerWrites counts ledger inserts.
	// Labels: result (ok, conflict, error)
	LedgerWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "ledger_writes_total",
			Help:      "Total number of fingerprint ledger writes by result",
		},
		[]string{"result"},
	)

	// StrategyRuns counts strategy invocations.
	// Labels: strategy, result (success, failure)
	StrategyRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "strategy_runs_total",
			Help:      "Total number of extraction strategy runs",
		},
		[]string{"strategy", "result"},
	)

	// StrategyDuration tracks strategy latency.
	StrategyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "strategy_duration_seconds",
			Help:      "Duration of extraction strategy runs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	// QualityScore observes the quality score of merged records.
	QualityScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "quality_score",
			Help:      "Quality score of merged records",
			Buckets:   []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	// Resolutions counts resolver outcomes.
	// Labels: method (id, email, phone, name, none)
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Total number of client resolutions by winning method",
		},
		[]string{"method"},
	)

	// StageErrors counts resolver stages that failed and were skipped.
	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "stage_errors_total",
			Help:      "Total number of resolver stage errors",
		},
		[]string{"stage"},
	)
)

// RecordInput records the outcome of one intake input.
func RecordInput(channel, outcome string, d time.Duration) {
	InputsTotal.WithLabelValues(channel, outcome).Inc()
	if outcome != "invalid" {
		ProcessDuration.WithLabelValues(channel).Observe(d.Seconds())
	}
}

// RecordVerdict records a gate verdict.
func RecordVerdict(verdict string) {
	DedupVerdicts.WithLabelValues(verdict).Inc()
}

// RecordLedgerWrite records a ledger insert result.
func RecordLedgerWrite(result string) {
	LedgerWrites.WithLabelValues(result).Inc()
}

// RecordStrategy records one strategy run.
func RecordStrategy(strategy string, success bool, d time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	StrategyRuns.WithLabelValues(strategy, result).Inc()
	StrategyDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// RecordQuality observes a merged record's quality score.
func RecordQuality(score float64) {
	QualityScore.Observe(score)
}

// RecordResolution records the resolver's winning method, or "none".
func RecordResolution(method string) {
	if method == "" {
		method = "none"
	}
	Resolutions.WithLabelValues(method).Inc()
}

// RecordStageError records a failed resolver stage.
func RecordStageError(stage string) {
	StageErrors.WithLabelValues(stage).Inc()
}
