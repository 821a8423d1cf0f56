package importjob

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elimu_course_import_tasks_total",
		Help: "Finished course import tasks by final status",
	}, []string{"status"})

	tasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "elimu_course_import_tasks_in_flight",
		Help: "Course imports currently running",
	})

	taskSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "elimu_course_import_duration_seconds",
		Help:    "Course import duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
	})
)
