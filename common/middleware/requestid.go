// common/middleware/requestid.go
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/YaganovValera/collab-monolith/common/logger"
)

// RequestID проставляет X-Request-ID (входящий или новый UUID) в ответ и контекст.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			ctx := logger.ContextWithRequestID(r.Context(), reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
