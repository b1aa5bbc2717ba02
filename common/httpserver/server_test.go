// common/httpserver/server_test.go
package httpserver_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/YaganovValera/collab-monolith/common/httpserver"
	"github.com/YaganovValera/collab-monolith/common/logger"
)

func newServer(t *testing.T, check httpserver.ReadyChecker, routes map[string]http.Handler) http.Handler {
	t.Helper()
	log := logger.NewNop()
	srv, err := httpserver.New(httpserver.Config{Port: 8080}, check, log, routes,
		httpserver.RecoverMiddleware(log),
		httpserver.CORSMiddleware(nil),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv.Handler()
}

func TestNew_InvalidPort(t *testing.T) {
	if _, err := httpserver.New(httpserver.Config{}, nil, logger.NewNop(), nil); err == nil {
		t.Fatal("expected error for empty port")
	}
}

func TestServiceEndpoints(t *testing.T) {
	notReady := errors.New("broker starting")
	tests := []struct {
		name  string
		check httpserver.ReadyChecker
		path  string
		want  int
	}{
		{"healthz", nil, "/healthz", http.StatusOK},
		{"readyz ok", func() error { return nil }, "/readyz", http.StatusOK},
		{"readyz not ready", func() error { return notReady }, "/readyz", http.StatusServiceUnavailable},
		{"metrics", nil, "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newServer(t, tt.check, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("GET %s = %d; want %d", tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestExtraRoutesAndRecover(t *testing.T) {
	routes := map[string]http.Handler{
		"/": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/boom" {
				panic("boom")
			}
			w.WriteHeader(http.StatusTeapot)
		}),
	}
	h := newServer(t, nil, routes)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("extra route = %d; want %d", rec.Code, http.StatusTeapot)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("panic route = %d; want 500", rec.Code)
	}
}
