package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/cartsync/pkg/logger"
)

func newTestRouter(logg *logger.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(Recoverer(logg), RequestID(logg), Logging(logg))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})
	return r
}

func TestRecovererWritesInternalEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	newTestRouter(logger.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != "INTERNAL_ERROR" {
		t.Fatalf("unexpected code %q", body.Error.Code)
	}
	if strings.Contains(w.Body.String(), "kaboom") {
		t.Fatalf("panic value leaked to the client: %s", w.Body.String())
	}
}

func TestRequestIDKeepsOrReplacesCallerID(t *testing.T) {
	router := newTestRouter(logger.Nop())
	cases := []struct {
		in   string
		keep bool
	}{
		{"req-123", true},
		{"", false},
		{"has space", false},
		{strings.Repeat("x", maxRequestIDLen+1), false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/items/1", nil)
		req.Header.Set(requestIDHeader, tc.in)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		got := w.Header().Get(requestIDHeader)
		if got == "" {
			t.Fatalf("missing request id for %q", tc.in)
		}
		if (got == tc.in) != tc.keep {
			t.Fatalf("request id %q: got %q, keep=%v", tc.in, got, tc.keep)
		}
	}
}

func TestLoggingUsesRoutePattern(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Level: "debug", Output: buf})
	w := httptest.NewRecorder()
	newTestRouter(logg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log entry %q: %v", buf.String(), err)
	}
	if entry["route"] != "/items/{id}" {
		t.Fatalf("expected route pattern, got %v", entry["route"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("expected status 418, got %v", entry["status"])
	}
}
