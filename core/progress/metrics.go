package progress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var progressAchievements = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "elimu_milestone_achievements_total",
	Help: "Milestones achieved by students, by milestone type.",
}, []string{"type"})
