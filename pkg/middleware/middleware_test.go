package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

type trackedRequest struct {
	method, route string
	status        int
}

type fakeTracker struct {
	mu   sync.Mutex
	reqs []trackedRequest
}

func (f *fakeTracker) TrackRequest(method, route string) func(int) {
	return func(status int) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.reqs = append(f.reqs, trackedRequest{method, route, status})
	}
}

func TestTrack(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name:       "explicit_status",
			method:     http.MethodPost,
			handler:    func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "implicit_ok",
			method:     http.MethodGet,
			handler:    func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "nothing_written",
			method:     http.MethodGet,
			handler:    func(w http.ResponseWriter, r *http.Request) {},
			wantStatus: http.StatusOK,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tracker := &fakeTracker{}
			r := chi.NewRouter()
			r.With(Track(tracker, "/thing")).Method(tc.method, "/thing", tc.handler)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tc.method, "/thing", nil))

			if len(tracker.reqs) != 1 {
				t.Fatalf("tracked %d requests, want 1", len(tracker.reqs))
			}
			got := tracker.reqs[0]
			want := trackedRequest{tc.method, "/thing", tc.wantStatus}
			if got != want {
				t.Errorf("tracked %+v, want %+v", got, want)
			}
		})
	}
}

func TestOpenTelemetryPassesSpanContext(t *testing.T) {
	var sawSpan bool
	r := chi.NewRouter()
	r.Use(OpenTelemetry(WithTracerName("test")))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		// The global provider is a no-op, but the span must still be in
		// the request context.
		sawSpan = trace.SpanFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !sawSpan {
		t.Error("handler did not see a span in its context")
	}
}

func TestOpenTelemetryFilter(t *testing.T) {
	var calls int
	r := chi.NewRouter()
	r.Use(OpenTelemetry(WithFilter(func(r *http.Request) bool {
		calls++
		return r.URL.Path != "/metrics"
	})))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if calls != 1 {
		t.Errorf("filter called %d times, want 1", calls)
	}
}

func TestRoutePatternUnmatched(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	if got := routePattern(req); got != "unmatched" {
		t.Errorf("routePattern() = %q, want unmatched", got)
	}
}
