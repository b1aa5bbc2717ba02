// common/prometheus/prometheus.go
package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry — реестр прикладных метрик (broker, gateway, collab, http).
	// Рантайм-метрики Go и процесса остаются в дефолтном реестре.
	Registry = prometheus.NewRegistry()

	// Factory — promauto-фабрика, регистрирующая вектора в Registry.
	Factory = promauto.With(Registry)
)

// Handler возвращает HTTP-обработчик для /metrics: прикладной реестр
// плюс дефолтный (runtime, backoff).
func Handler() http.Handler {
	return promhttp.HandlerFor(
		prometheus.Gatherers{Registry, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	)
}

// MustRegisterMany — позволяет регистрировать несколько метрик одной строкой.
func MustRegisterMany(cs ...prometheus.Collector) {
	Registry.MustRegister(cs...)
}
