// common/httpserver/middleware.go
package httpserver

import (
	"net/http"
	"runtime/debug"

	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/logger"
)

// Middleware — стандартная обёртка над http.Handler.
type Middleware func(http.Handler) http.Handler

// RecoverMiddleware перехватывает паники и возвращает 500.
func RecoverMiddleware(log *logger.Logger) Middleware {
	log = log.Named("recover")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rcv := recover(); rcv != nil {
					log.WithContext(r.Context()).Error("panic in handler",
						zap.Any("panic", rcv),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware возвращает CORS для заданных origin'ов.
func CORSMiddleware(origins []string) Middleware {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID", "X-Producer-ID"},
		ExposedHeaders: []string{"Retry-After", "X-Request-ID"},
		MaxAge:         300,
	}).Handler
}
