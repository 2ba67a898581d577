// Package metrics records session, stream, navigation and HTTP metrics in
// a private Prometheus registry and exposes them as text exposition or a
// JSON snapshot.
//
// Metrics collected (with the default namespace):
//   - virtual_browser_active_connections: Gauge of open connections
//   - virtual_browser_fps_current: Gauge of the summed frame rate of live streams by url
//   - virtual_browser_frames_total: Counter of delivered frames by url
//   - virtual_browser_errors_total: Counter of errors by type and url
//   - virtual_browser_navigation_duration_seconds: Histogram by url and status
//   - virtual_browser_request_duration_seconds: Histogram by method, route and status
//   - virtual_browser_streaming_status: Gauge, 1 while any stream for url runs
//   - virtual_browser_recovery_attempts_total: Counter of render target recoveries by url
//
// The url label carries scheme and host only.
package metrics

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gritskevich/vb/pkg/render"
	"github.com/gritskevich/vb/pkg/stream"
)

const noURL = "none"

// Collector is the metrics collaborator of the session server.
type Collector struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	activeConnections  prometheus.Gauge
	fps                *prometheus.GaugeVec
	frames             *prometheus.CounterVec
	errors             *prometheus.CounterVec
	navigationDuration *prometheus.HistogramVec
	requestDuration    *prometheus.HistogramVec
	streamingStatus    *prometheus.GaugeVec
	recoveryAttempts   *prometheus.CounterVec

	mu sync.Mutex
	// streams holds the last report of each live stream. The url gauges
	// aggregate over every stream sharing a label.
	streams map[string]streamReport
}

type streamReport struct {
	label      string
	fps        float64
	streaming  bool
	recoveries int
}

// New creates a Collector with its own registry.
func New(logger *slog.Logger, opts ...Option) *Collector {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Collector{
		registry:     prometheus.NewRegistry(),
		logger:       logger.With("component", "metrics"),
		streams:      make(map[string]streamReport),

		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "active_connections",
			Help:        "Number of active browser sessions",
			ConstLabels: cfg.ConstLabels,
		}),

		fps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "fps_current",
			Help:        "Current FPS of browser sessions",
			ConstLabels: cfg.ConstLabels,
		}, []string{"url"}),

		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frames_total",
			Help:        "Total number of frames captured",
			ConstLabels: cfg.ConstLabels,
		}, []string{"url"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "errors_total",
			Help:        "Total number of errors",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type", "url"}),

		navigationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "navigation_duration_seconds",
			Help:        "Duration of page navigations",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}, []string{"url", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "request_duration_seconds",
			Help:        "Duration of HTTP requests",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}, []string{"method", "route", "status"}),

		streamingStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "streaming_status",
			Help:        "Streaming status of browser sessions",
			ConstLabels: cfg.ConstLabels,
		}, []string{"url"}),

		recoveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "recovery_attempts_total",
			Help:        "Total number of recovery attempts",
			ConstLabels: cfg.ConstLabels,
		}, []string{"url"}),
	}

	c.registry.MustRegister(
		c.activeConnections,
		c.fps,
		c.frames,
		c.errors,
		c.navigationDuration,
		c.requestDuration,
		c.streamingStatus,
		c.recoveryAttempts,
	)
	if cfg.Runtime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	// Zero-valued series so dashboards have something before traffic.
	c.activeConnections.Set(0)
	c.fps.WithLabelValues(noURL).Set(0)
	c.frames.WithLabelValues(noURL).Add(0)
	c.errors.WithLabelValues("none", noURL).Add(0)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(c.logger.Handler(), slog.LevelError),
	})
}

// LogConnection counts a new connection and returns the function that
// uncounts it. The returned function is safe to call more than once.
func (c *Collector) LogConnection(id string) func() {
	c.logger.Info("connection opened", "conn_id", id)
	c.activeConnections.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.logger.Info("connection closed", "conn_id", id)
			c.activeConnections.Dec()
		})
	}
}

// LogStreamStats records one stream metrics report.
func (c *Collector) LogStreamStats(st stream.Stats) {
	label := urlLabel(st.URL)

	if st.Frames > 0 {
		c.frames.WithLabelValues(label).Add(float64(st.Frames))
	}

	c.mu.Lock()
	prev, seen := c.streams[st.StreamID]
	delta := st.RecoveryAttempts - prev.recoveries
	if st.State == stream.StateStopped {
		delete(c.streams, st.StreamID)
	} else {
		c.streams[st.StreamID] = streamReport{
			label:      label,
			fps:        st.FPS,
			streaming:  st.Streaming,
			recoveries: st.RecoveryAttempts,
		}
	}
	c.refreshLocked(label)
	if seen && prev.label != label {
		c.refreshLocked(prev.label)
	}
	c.mu.Unlock()

	if delta > 0 {
		c.recoveryAttempts.WithLabelValues(label).Add(float64(delta))
	}
}

// refreshLocked recomputes the url gauges of label from the live
// streams. Callers hold c.mu.
func (c *Collector) refreshLocked(label string) {
	fps, status := 0.0, 0.0
	for _, r := range c.streams {
		if r.label != label {
			continue
		}
		fps += r.fps
		if r.streaming {
			status = 1
		}
	}
	c.fps.WithLabelValues(label).Set(fps)
	c.streamingStatus.WithLabelValues(label).Set(status)
}

// LogError counts an error of the given kind.
func (c *Collector) LogError(kind string, err error, url string) {
	c.logger.Debug("error recorded", "type", kind, "error", err, "url", url)
	c.errors.WithLabelValues(kind, urlLabel(url)).Inc()
}

// StartNavigation times a navigation.
func (c *Collector) StartNavigation(url string) render.NavigationSpan {
	return &navigationSpan{c: c, url: url, start: time.Now()}
}

type navigationSpan struct {
	c     *Collector
	url   string
	start time.Time
	once  sync.Once
}

func (s *navigationSpan) Success() {
	s.once.Do(func() {
		s.c.navigationDuration.WithLabelValues(urlLabel(s.url), "success").
			Observe(time.Since(s.start).Seconds())
	})
}

func (s *navigationSpan) Error(err error) {
	s.once.Do(func() {
		s.c.navigationDuration.WithLabelValues(urlLabel(s.url), "error").
			Observe(time.Since(s.start).Seconds())
		s.c.LogError("navigation", err, s.url)
	})
}

// TrackRequest times an HTTP request. Call the returned function with
// the response status when the request completes.
func (c *Collector) TrackRequest(method, route string) func(status int) {
	start := time.Now()
	return func(status int) {
		c.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	}
}

// urlLabel reduces u to scheme and host to bound label cardinality.
func urlLabel(u string) string {
	if u == "" {
		return noURL
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return parsed.Scheme + "://" + parsed.Host
}
