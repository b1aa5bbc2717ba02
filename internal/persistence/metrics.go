// internal/persistence/metrics.go
package persistence

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	promreg "github.com/YaganovValera/collab-monolith/common/prometheus"
)

var storeOps = promreg.Factory.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "persistence",
		Name:      "operation_duration_seconds",
		Help:      "Latency of storage operations",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"store", "op", "status"},
)

func observe(store, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	storeOps.WithLabelValues(store, op, status).Observe(time.Since(start).Seconds())
}
