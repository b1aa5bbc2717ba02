// common/ctxkeys/keys.go
package ctxkeys

type contextKey string

const (
	TraceIDKey    contextKey = "trace_id"
	RequestIDKey  contextKey = "request_id"
	ProducerIDKey contextKey = "producer_id"
	UserIDKey     contextKey = "user_id"
)
