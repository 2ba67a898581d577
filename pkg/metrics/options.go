package metrics

import "github.com/prometheus/client_golang/prometheus"

// Config configures a Collector.
type Config struct {
	// Namespace prefixes every metric name (default: "virtual_browser").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for navigation and request
	// durations. Default: 0.1, 0.3, 0.5, 1, 2, 5 seconds.
	Buckets []float64

	// Runtime adds the Go runtime and process collectors.
	Runtime bool
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithoutRuntime leaves out the Go runtime and process collectors.
func WithoutRuntime() Option {
	return func(c *Config) {
		c.Runtime = false
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "virtual_browser",
		Buckets:   []float64{0.1, 0.3, 0.5, 1, 2, 5},
		Runtime:   true,
	}
}
