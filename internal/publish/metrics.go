package publish

import "github.com/prometheus/client_golang/prometheus"

var snapshotsPublished = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "streakd",
	Subsystem: "publish",
	Name:      "snapshots_published_total",
	Help:      "Status snapshots uploaded to public storage.",
})

func init() {
	prometheus.MustRegister(snapshotsPublished)
}
