// internal/gateway/ws.go
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/logger"
	promreg "github.com/YaganovValera/collab-monolith/common/prometheus"
	"github.com/YaganovValera/collab-monolith/internal/broker"
)

var (
	wsConnections = promreg.Factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway", Subsystem: "ws", Name: "connections",
		Help: "Open WebSocket connections",
	})
	wsMessages = promreg.Factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway", Subsystem: "ws", Name: "messages_total",
		Help: "WebSocket publish requests, by result",
	}, []string{"result"})
)

// wsRequest — входящее сообщение клиента.
type wsRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

// wsResponse — ответ на wsRequest с тем же ref.
type wsResponse struct {
	Ref    string          `json:"ref,omitempty"`
	Offset uint64          `json:"offset,omitempty"`
	ID     string          `json:"id,omitempty"`
	Error  *wsErrorPayload `json:"error,omitempty"`
}

type wsErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wsConns — открытые соединения; http.Server.Shutdown не трогает
// hijacked-соединения, поэтому их закрывает CloseConnections.
type wsConns struct {
	mu     sync.Mutex
	closed bool
	conns  map[*websocket.Conn]context.CancelFunc
}

func (c *wsConns) add(conn *websocket.Conn, cancel context.CancelFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.conns == nil {
		c.conns = make(map[*websocket.Conn]context.CancelFunc)
	}
	c.conns[conn] = cancel
	return true
}

func (c *wsConns) remove(conn *websocket.Conn) {
	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
}

// CloseConnections отменяет публикации открытых WebSocket-соединений,
// шлёт им close-фрейм 1001 и закрывает их. Новые соединения после
// вызова сразу закрываются.
func (h *Handler) CloseConnections() {
	h.ws.mu.Lock()
	h.ws.closed = true
	conns := h.ws.conns
	h.ws.conns = nil
	h.ws.mu.Unlock()

	for conn, cancel := range conns {
		cancel()
		closeGoingAway(conn, h.cfg.WSWriteTimeout)
	}
	if len(conns) > 0 {
		h.log.Info("ws: closed connections on shutdown", zap.Int("count", len(conns)))
	}
}

func closeGoingAway(conn *websocket.Conn, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	_ = conn.Close()
}

// ServeWS поднимает WebSocket и публикует каждое входящее сообщение
// {topic, payload} в брокер, отвечая {offset, id} или {error}.
// Сообщения одного соединения публикуются строго по очереди.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithContext(r.Context()).Warn("ws: upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	wsConnections.Inc()
	defer wsConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if !h.ws.add(conn, cancel) {
		closeGoingAway(conn, h.cfg.WSWriteTimeout)
		return
	}
	defer h.ws.remove(conn)

	producer := r.Header.Get("X-Producer-ID")
	if producer == "" {
		producer = logger.RequestIDFromContext(ctx)
	}
	log := h.log.WithContext(ctx).With(zap.String("remote", r.RemoteAddr))

	conn.SetReadLimit(h.cfg.MaxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.WSReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.WSReadTimeout))
	})

	var writeMu sync.Mutex
	write := func(v wsResponse) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WSWriteTimeout))
		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(h.cfg.WSReadTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WSWriteTimeout))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("ws: read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.WSReadTimeout))

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Topic == "" || len(req.Payload) == 0 {
			wsMessages.WithLabelValues("bad_request").Inc()
			if werr := write(wsResponse{Ref: req.Ref, Error: &wsErrorPayload{Code: http.StatusBadRequest, Message: "expected {topic, payload}"}}); werr != nil {
				return
			}
			continue
		}

		rcpt, err := h.broker.Publish(ctx, req.Topic, req.Payload, broker.WithProducerID(producer))
		resp := wsResponse{Ref: req.Ref}
		if err != nil {
			wsMessages.WithLabelValues("error").Inc()
			code := statusFor(err)
			msg := err.Error()
			if code == http.StatusInternalServerError {
				msg = "internal error"
			}
			resp.Error = &wsErrorPayload{Code: code, Message: msg}
		} else {
			wsMessages.WithLabelValues("ok").Inc()
			resp.Offset, resp.ID = rcpt.Offset, rcpt.ID
		}
		if err := write(resp); err != nil {
			log.Debug("ws: write failed", zap.Error(err))
			return
		}
	}
}
