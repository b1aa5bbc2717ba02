// internal/gateway/gateway_test.go
package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/YaganovValera/collab-monolith/common/httpserver"
	"github.com/YaganovValera/collab-monolith/common/logger"
	"github.com/YaganovValera/collab-monolith/internal/broker"
	"github.com/YaganovValera/collab-monolith/internal/gateway"
	"github.com/YaganovValera/collab-monolith/internal/persistence"
)

type fixture struct {
	broker  *broker.Broker
	store   *persistence.Adapter
	handler http.Handler
}

func newFixture(t *testing.T, cfg broker.Config) *fixture {
	t.Helper()
	cfg.Backend = broker.BackendMemory
	b, err := broker.New(cfg, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })

	store := persistence.NewWith(persistence.NewMemoryUserStorage(), persistence.NewMemoryDocumentStorage(), logger.NewNop())
	g, err := gateway.New(gateway.Config{RetryAfter: 2 * time.Second}, b, store, b.Ready, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{broker: b, store: store, handler: g.Handler()}
}

func (f *fixture) do(t *testing.T, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t, broker.Config{})

	if rec := f.do(t, http.MethodGet, "/", "", nil); rec.Code != http.StatusOK {
		t.Errorf("GET / = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/readyz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("GET /readyz = %d", rec.Code)
	}
	_ = f.broker.Shutdown(context.Background())
	if rec := f.do(t, http.MethodGet, "/readyz", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /readyz after shutdown = %d", rec.Code)
	}
}

func TestPublishCommand(t *testing.T) {
	f := newFixture(t, broker.Config{})

	for want := uint64(1); want <= 2; want++ {
		rec := f.do(t, http.MethodPost, "/api/v1/topics/docs/commands", `{"op":"insert"}`, map[string]string{"X-Producer-ID": "editor-1"})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("code = %d, body = %s", rec.Code, rec.Body)
		}
		var rcpt broker.Receipt
		if err := json.NewDecoder(rec.Body).Decode(&rcpt); err != nil {
			t.Fatal(err)
		}
		if rcpt.Offset != want || rcpt.ID == "" {
			t.Errorf("receipt = %+v; want offset %d", rcpt, want)
		}
	}

	sub, err := f.broker.Subscribe(context.Background(), "docs", "check")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := sub.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if d.ProducerID != "editor-1" || string(d.Payload) != `{"op":"insert"}` {
		t.Errorf("delivery = %+v", d)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/topics/docs", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats code = %d", rec.Code)
	}
	var st broker.TopicStats
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Head != 2 || st.Backlog != 2 || len(st.Groups) != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPublishCommand_Errors(t *testing.T) {
	f := newFixture(t, broker.Config{
		QueueSize:        1,
		PublishTimeout:   20 * time.Millisecond,
		MaxPayloadBytes:  32,
		AutoCreateTopics: func() *bool { v := false; return &v }(),
		Topics:           []string{"docs"},
	})
	if _, err := f.broker.Subscribe(context.Background(), "docs", "slow"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		path       string
		body       string
		want       int
		retryAfter string
	}{
		{"ok", "/api/v1/topics/docs/commands", `{}`, http.StatusAccepted, ""},
		{"backpressure", "/api/v1/topics/docs/commands", `{}`, http.StatusServiceUnavailable, "2"},
		{"empty body", "/api/v1/topics/docs/commands", ``, http.StatusBadRequest, ""},
		{"oversized payload", "/api/v1/topics/docs/commands", strings.Repeat("x", 33), http.StatusBadRequest, ""},
		{"invalid topic", "/api/v1/topics/bad$name/commands", `{}`, http.StatusBadRequest, ""},
		{"unknown topic", "/api/v1/topics/other/commands", `{}`, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.body, nil)
			if rec.Code != tt.want {
				t.Fatalf("code = %d; want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("Retry-After = %q; want %q", got, tt.retryAfter)
			}
		})
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/topics/other", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("stats of unknown topic = %d", rec.Code)
	}

	_ = f.broker.Shutdown(context.Background())
	if rec := f.do(t, http.MethodPost, "/api/v1/topics/docs/commands", `{}`, nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("publish while stopped = %d; want 503", rec.Code)
	}
}

func TestUsers(t *testing.T) {
	f := newFixture(t, broker.Config{})

	rec := f.do(t, http.MethodPost, "/api/v1/users", `{"username":"alice","email":"alice@example.com","password":"s3cret-pass"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d, %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "s3cret") || strings.Contains(rec.Body.String(), "password") {
		t.Errorf("password leaked in response: %s", rec.Body)
	}
	var u persistence.User
	if err := json.NewDecoder(rec.Body).Decode(&u); err != nil {
		t.Fatal(err)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/users/"+u.ID, "", nil); rec.Code != http.StatusOK {
		t.Errorf("get = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/users/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get missing = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/users", `{"username":"x"}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid user = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/users", `{{`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid json = %d", rec.Code)
	}
}

func TestGetDocument(t *testing.T) {
	f := newFixture(t, broker.Config{})

	if rec := f.do(t, http.MethodGet, "/api/v1/documents/doc-1", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing document = %d", rec.Code)
	}
	if err := f.store.SaveSnapshot(context.Background(), persistence.Snapshot{DocumentID: "doc-1", Version: 3, Content: "abc"}); err != nil {
		t.Fatal(err)
	}
	rec := f.do(t, http.MethodGet, "/api/v1/documents/doc-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var s persistence.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.Content != "abc" || s.Version != 3 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestWebSocketPublish(t *testing.T) {
	f := newFixture(t, broker.Config{})
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-Producer-ID": {"ws-client"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	type resp struct {
		Ref    string `json:"ref"`
		Offset uint64 `json:"offset"`
		ID     string `json:"id"`
		Error  *struct {
			Code int `json:"code"`
		} `json:"error"`
	}

	if err := conn.WriteJSON(map[string]interface{}{"topic": "docs", "payload": map[string]string{"op": "insert"}, "ref": "r1"}); err != nil {
		t.Fatal(err)
	}
	var ok resp
	if err := conn.ReadJSON(&ok); err != nil {
		t.Fatal(err)
	}
	if ok.Ref != "r1" || ok.Offset != 1 || ok.ID == "" || ok.Error != nil {
		t.Errorf("response = %+v", ok)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"payload":{}}`)); err != nil {
		t.Fatal(err)
	}
	var bad resp
	if err := conn.ReadJSON(&bad); err != nil {
		t.Fatal(err)
	}
	if bad.Error == nil || bad.Error.Code != http.StatusBadRequest {
		t.Errorf("bad request response = %+v", bad)
	}

	if err := conn.WriteJSON(map[string]interface{}{"topic": "bad name", "payload": 1, "ref": "r3"}); err != nil {
		t.Fatal(err)
	}
	var invalid resp
	if err := conn.ReadJSON(&invalid); err != nil {
		t.Fatal(err)
	}
	if invalid.Error == nil || invalid.Error.Code != http.StatusBadRequest || invalid.Ref != "r3" {
		t.Errorf("invalid topic response = %+v", invalid)
	}

	st, err := f.broker.Stats("docs")
	if err != nil || st.Head != 1 {
		t.Errorf("stats = %+v, %v", st, err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestWebSocket_ClosedOnGatewayShutdown(t *testing.T) {
	f := newFixture(t, broker.Config{})
	port := freePort(t)
	g, err := gateway.New(gateway.Config{Config: httpserver.Config{Port: port}}, f.broker, f.store, f.broker.Ready, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- g.Run(ctx) }()

	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
	var conn *websocket.Conn
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// соединение живо и публикует
	if err := conn.WriteJSON(map[string]interface{}{"topic": "docs", "payload": 1}); err != nil {
		t.Fatal(err)
	}
	var first map[string]interface{}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("first response: %v", err)
	}

	cancel()
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseGoingAway {
		t.Fatalf("read after shutdown err = %v; want close 1001", err)
	}

	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("gateway did not stop")
	}
}
