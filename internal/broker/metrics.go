// internal/broker/metrics.go
package broker

import (
	"github.com/prometheus/client_golang/prometheus"

	promreg "github.com/YaganovValera/collab-monolith/common/prometheus"
)

var (
	publishedTotal = promreg.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker", Name: "published_total",
			Help: "Records appended to the log",
		},
		[]string{"topic"},
	)
	publishErrors = promreg.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker", Name: "publish_errors_total",
			Help: "Rejected or failed publishes by reason",
		},
		[]string{"topic", "reason"},
	)
	ackedTotal = promreg.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker", Name: "acks_total",
			Help: "Acks that advanced a group cursor",
		},
		[]string{"topic", "group"},
	)
	deliveredTotal = promreg.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker", Name: "delivered_total",
			Help: "Records handed to subscriptions",
		},
		[]string{"topic", "group"},
	)
	backlogGauge = promreg.Factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "broker", Name: "backlog",
			Help: "Published minus slowest committed offset",
		},
		[]string{"topic"},
	)
	degradedGauge = promreg.Factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "broker", Name: "topic_degraded",
			Help: "1 if the topic refuses publishes after repeated IO failures",
		},
		[]string{"topic"},
	)
	subscriptionsGauge = promreg.Factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "broker", Name: "subscriptions_open",
			Help: "Open subscription handles",
		},
	)
	backpressureWait = promreg.Factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "broker", Name: "backpressure_wait_seconds",
			Help:    "Time publishers spent waiting for queue capacity",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
	cacheLookups = promreg.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker", Name: "cache_lookups_total",
			Help: "Delivery cache lookups by result",
		},
		[]string{"topic", "result"},
	)
	truncatedBytes = promreg.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker", Name: "recovery_truncated_bytes_total",
			Help: "Bytes discarded from torn log tails during recovery",
		},
		[]string{"topic"},
	)
)
