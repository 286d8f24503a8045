package learning

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glint",
		Subsystem: "coordinator",
		Name:      "tasks_total",
		Help:      "Background tasks by kind and outcome (queued, processed, failed, dropped)",
	}, []string{"kind", "outcome"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "glint",
		Subsystem: "coordinator",
		Name:      "queue_depth",
		Help:      "Tasks waiting for the background worker",
	})

	processingSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "glint",
		Subsystem: "coordinator",
		Name:      "processing_seconds",
		Help:      "Background task processing time in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})
)

func recordTask(kind TaskKind, outcome string) {
	tasksTotal.WithLabelValues(string(kind), outcome).Inc()
}
