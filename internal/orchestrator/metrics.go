package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glint",
		Subsystem: "orchestrator",
		Name:      "runs_total",
		Help:      "Analysis runs by terminal status",
	}, []string{"status"})

	runSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "glint",
		Subsystem: "orchestrator",
		Name:      "run_seconds",
		Help:      "Wall-clock time of analysis runs by selected tier",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"tier"})

	waveOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glint",
		Subsystem: "orchestrator",
		Name:      "waves_total",
		Help:      "Wave executions by outcome (completed, failed, skipped)",
	}, []string{"wave", "outcome"})

	waveSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "glint",
		Subsystem: "orchestrator",
		Name:      "wave_seconds",
		Help:      "Time spent in a wave's Analyze",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"wave"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glint",
		Subsystem: "orchestrator",
		Name:      "cache_lookups_total",
		Help:      "Signature cache lookups by result (hit, partial, miss, error)",
	}, []string{"result"})

	earlyExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glint",
		Subsystem: "orchestrator",
		Name:      "early_exits_total",
		Help:      "Runs that stopped scheduling after crossing the tier's confidence threshold",
	}, []string{"tier"})
)
