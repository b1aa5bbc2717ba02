// internal/collab/metrics.go
package collab

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	promreg "github.com/YaganovValera/collab-monolith/common/prometheus"
)

var (
	once              sync.Once
	CommandsTotal     *prometheus.CounterVec
	ApplyLatency      prometheus.Histogram
	ResubscribesTotal prometheus.Counter
)

// Register создаёт и регистрирует метрики ровно один раз.
// r == nil → общий реестр приложения.
func Register(r prometheus.Registerer) {
	once.Do(func() {
		if r == nil {
			r = promreg.Registry
		}

		CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collab", Subsystem: "worker", Name: "commands_total",
			Help: "Edit commands consumed, by result",
		}, []string{"result"})
		ApplyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "collab", Subsystem: "worker", Name: "apply_latency_seconds",
			Help:    "Latency of applying a command and saving the snapshot",
			Buckets: prometheus.DefBuckets,
		})
		ResubscribesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collab", Subsystem: "worker", Name: "resubscribes_total",
			Help: "Number of times the worker re-subscribed after a failure",
		})

		for _, c := range []prometheus.Collector{CommandsTotal, ApplyLatency, ResubscribesTotal} {
			if err := r.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
}
