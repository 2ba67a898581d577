package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestTracker starts timing a request. The returned function records
// the response status.
type RequestTracker interface {
	TrackRequest(method, route string) func(status int)
}

// Track creates middleware that times every request of one route
// through tracker. Mount it per route so the route label is known before
// the handler runs:
//
//	r.With(middleware.Track(collector, "/health")).Get("/health", h)
func Track(tracker RequestTracker, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			done := tracker.TrackRequest(r.Method, route)
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			done(statusOf(ww))
		})
	}
}
