// internal/gateway/response.go
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/YaganovValera/collab-monolith/internal/broker"
	"github.com/YaganovValera/collab-monolith/internal/persistence"
)

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newErrorBody(code int, msg string) errorBody {
	var b errorBody
	b.Error.Code = code
	b.Error.Message = msg
	return b
}

// writeJSON пишет успешный ответ.
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, newErrorBody(code, msg))
}

func badRequest(w http.ResponseWriter, msg string) { writeError(w, http.StatusBadRequest, msg) }

// statusFor сопоставляет доменные ошибки с HTTP-кодами.
func statusFor(err error) int {
	switch {
	case errors.Is(err, broker.ErrValidation), errors.Is(err, persistence.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, broker.ErrUnknownTopic), errors.Is(err, broker.ErrUnknownGroup), errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, broker.ErrBackpressure), errors.Is(err, broker.ErrShuttingDown), errors.Is(err, broker.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError пишет ошибку брокера/хранилища. На backpressure
// выставляет Retry-After.
func writeDomainError(w http.ResponseWriter, err error, retryAfter time.Duration) {
	code := statusFor(err)
	if errors.Is(err, broker.ErrBackpressure) {
		secs := int(retryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, code, msg)
}
