package executor

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for task outcomes.
const (
	statusCompleted = "completed"
	statusFailed    = "failed"
)

var (
	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kiln_generation_seconds",
			Help:    "Wall-clock duration of one generation call, in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
	)

	activeGenerations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiln_active_generations",
			Help: "Number of generations currently holding a worker slot.",
		},
	)

	waitingTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiln_waiting_tasks",
			Help: "Number of queued tasks waiting for a worker slot.",
		},
	)

	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_tasks_total",
			Help: "Total number of tasks finished by the executor.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(generationDuration)
	prometheus.MustRegister(activeGenerations)
	prometheus.MustRegister(waitingTasks)
	prometheus.MustRegister(tasksTotal)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	tasksTotal.WithLabelValues(statusCompleted)
	tasksTotal.WithLabelValues(statusFailed)
}
