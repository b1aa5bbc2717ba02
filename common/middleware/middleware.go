// common/middleware/middleware.go
package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// Compose склеивает middleware: первый в списке — внешний.
func Compose(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// statusWriter позволяет перехватить статус ответа.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func wrapWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// Unwrap нужен http.ResponseController (Hijack для WebSocket, Flush).
func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }

// Hijack пробрасывает апгрейд соединения (WebSocket) к исходному writer'у.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("middleware: response writer does not support hijacking")
	}
	sw.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
