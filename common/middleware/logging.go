// common/middleware/logging.go
package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/logger"
)

// RequestLogger логирует входящие HTTP-запросы с контекстом.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := wrapWriter(w)

			next.ServeHTTP(sw, r)

			entry := log.WithContext(r.Context())
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000),
			}
			switch {
			case sw.status >= 500:
				entry.Error("HTTP request", fields...)
			case sw.status >= 400:
				entry.Warn("HTTP request", fields...)
			default:
				entry.Debug("HTTP request", fields...)
			}
		})
	}
}
