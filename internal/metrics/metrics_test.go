package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	// Observations against initialized collectors must not panic.
	ObserveVisit("succeeded", 2*time.Second)
	ObserveVisit("failed", 100*time.Millisecond)
	ObservePing("ok")
	ObservePing("error")
	SetVisitActive(true)
	SetVisitActive(false)
	ObserveHTTPRequest(http.MethodGet, "/run", http.StatusAccepted, 5*time.Millisecond)
}

func TestHandlerExposesCollectors(t *testing.T) {
	Init()
	ObserveVisit("succeeded", time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "keepalive_visits_total") {
		t.Fatal("expected visit counter in exposition")
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	Init()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/teapot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("middleware altered status: %d", rec.Code)
	}
}
