// internal/gateway/handler.go
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/logger"
	"github.com/YaganovValera/collab-monolith/common/middleware"
	"github.com/YaganovValera/collab-monolith/common/telemetry"
	"github.com/YaganovValera/collab-monolith/internal/broker"
	"github.com/YaganovValera/collab-monolith/internal/persistence"
)

var tracer = telemetry.Tracer("collab-monolith/gateway")

// Publisher — то, что gateway нужно от брокера.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, opts ...broker.PublishOption) (broker.Receipt, error)
	Stats(topic string) (broker.TopicStats, error)
}

// Handler агрегирует зависимости HTTP-хендлеров.
type Handler struct {
	broker Publisher
	users  persistence.UserStorage
	docs   persistence.DocumentStorage
	cfg    Config
	log    *logger.Logger

	upgrader websocket.Upgrader
	ws       wsConns
}

// NewHandler создаёт Handler.
func NewHandler(b Publisher, users persistence.UserStorage, docs persistence.DocumentStorage, cfg Config, log *logger.Logger) *Handler {
	cfg.ApplyDefaults()
	h := &Handler{
		broker: b,
		users:  users,
		docs:   docs,
		cfg:    cfg,
		log:    log.Named("gateway"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Routes собирает chi-роутер прикладных маршрутов.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(), middleware.Metrics(), middleware.RequestLogger(h.log))

	r.Get("/", h.Health)
	r.Get("/ws", h.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/topics/{topic}/commands", h.PublishCommand)
		r.Get("/topics/{topic}", h.TopicStats)

		r.Post("/users", h.CreateUser)
		r.Get("/users/{id}", h.GetUser)

		r.Get("/documents/{id}", h.GetDocument)
	})
	return r
}

// Health — корневой health-check.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// PublishCommand публикует тело запроса как одну запись топика.
// 202 {offset, id} после того, как запись стала durable.
func (h *Handler) PublishCommand(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	ctx, span := tracer.Start(r.Context(), "Gateway.PublishCommand", trace.WithAttributes(attribute.String("broker.topic", topic)))
	defer span.End()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		badRequest(w, "read body failed")
		return
	}
	if len(body) == 0 {
		badRequest(w, "empty body")
		return
	}

	producer := r.Header.Get("X-Producer-ID")
	if producer != "" {
		ctx = logger.ContextWithProducerID(ctx, producer)
	}
	rcpt, err := h.broker.Publish(ctx, topic, body, broker.WithProducerID(producer))
	if err != nil {
		span.RecordError(err)
		h.log.WithContext(ctx).Debug("publish rejected", zap.String("topic", topic), zap.Error(err))
		writeDomainError(w, err, h.cfg.RetryAfter)
		return
	}
	writeJSON(w, http.StatusAccepted, rcpt)
}

// TopicStats отдаёт head, backlog и курсоры групп топика.
func (h *Handler) TopicStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.broker.Stats(chi.URLParam(r, "topic"))
	if err != nil {
		writeDomainError(w, err, h.cfg.RetryAfter)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// -----------------------------------------------------------------------------
// Users & documents
// -----------------------------------------------------------------------------

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "Gateway.CreateUser")
	defer span.End()

	var req persistence.NewUser
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	u, err := h.users.SaveUser(ctx, req)
	if err != nil {
		span.RecordError(err)
		writeDomainError(w, err, h.cfg.RetryAfter)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.LoadUserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, h.cfg.RetryAfter)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	s, err := h.docs.LoadSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, h.cfg.RetryAfter)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
