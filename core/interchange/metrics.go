package interchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elimu_course_exports_total",
		Help: "Course exports by format and outcome",
	}, []string{"format", "outcome"})

	importedNodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elimu_course_imported_nodes_total",
		Help: "Course nodes created by imports, by node type",
	}, []string{"type"})
)
