package postgres

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsUpserted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streakd",
		Subsystem: "store",
		Name:      "runs_upserted_total",
		Help:      "Number of run rows written through the idempotent upsert.",
	})

	watermarkGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "streakd",
		Subsystem: "store",
		Name:      "connection_watermark_timestamp_seconds",
		Help:      "Unix timestamp of the last committed sync watermark per connection.",
	}, []string{"connection_id"})
)

func init() {
	prometheus.MustRegister(runsUpserted, watermarkGauge)
}
