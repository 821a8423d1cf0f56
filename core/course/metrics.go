package course

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	navCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elimu_course_nav_cache_hits_total",
		Help: "Total course navigation reads served from the cache",
	})

	navCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elimu_course_nav_cache_misses_total",
		Help: "Total course navigation reads that rebuilt the navigation",
	})

	navBuildSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "elimu_course_nav_build_duration_seconds",
		Help:    "Course navigation build duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})
)
