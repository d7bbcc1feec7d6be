package sync

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streakd",
		Subsystem: "sync",
		Name:      "connection_failures_total",
		Help:      "Connections that failed a sync pass, by error class.",
	}, []string{"class"})

	syncRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streakd",
		Subsystem: "sync",
		Name:      "runs_synced_total",
		Help:      "Runs upserted across all sync passes.",
	})

	lastPassGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streakd",
		Subsystem: "sync",
		Name:      "last_pass_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed sync pass.",
	})
)

func init() {
	prometheus.MustRegister(syncFailures, syncRuns, lastPassGauge)
}
