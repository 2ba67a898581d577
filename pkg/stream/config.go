package stream

import "time"

// Config configures a Streamer.
type Config struct {
	// FPS is the target frame rate. The loop sleeps 1s/FPS between
	// iterations and never catches up on slow ones. Default: 30.
	FPS int

	// NavigationDeferral is how long an iteration waits when the source
	// is navigating. Default: 1s.
	NavigationDeferral time.Duration

	// CaptureTimeout bounds one keep-alive plus capture. Default: 5s.
	CaptureTimeout time.Duration

	// MetricsInterval is the period of ReportMetrics. Default: 5s.
	MetricsInterval time.Duration

	// ErrorLogInterval throttles capture error logs. Default: 5s.
	ErrorLogInterval time.Duration

	// MaxRecoveryAttempts bounds Recover calls per streamer. Default: 3.
	MaxRecoveryAttempts int

	// RecoveryCooldown is the minimum time between Recover calls.
	// Default: 5s.
	RecoveryCooldown time.Duration

	// RecoveryThreshold is the number of consecutive capture failures
	// after which an invalid source is recovered. Negative disables
	// recovery. Default: 10.
	RecoveryThreshold int
}

// DefaultConfig returns the default streamer configuration.
func DefaultConfig() *Config {
	return &Config{
		FPS:                 30,
		NavigationDeferral:  time.Second,
		CaptureTimeout:      5 * time.Second,
		MetricsInterval:     5 * time.Second,
		ErrorLogInterval:    5 * time.Second,
		MaxRecoveryAttempts: 3,
		RecoveryCooldown:    5 * time.Second,
		RecoveryThreshold:   10,
	}
}

// withDefaults returns a copy of c with unset fields filled in.
func (c *Config) withDefaults() Config {
	def := DefaultConfig()
	if c == nil {
		return *def
	}
	out := *c
	if out.FPS <= 0 {
		out.FPS = def.FPS
	}
	if out.NavigationDeferral <= 0 {
		out.NavigationDeferral = def.NavigationDeferral
	}
	if out.CaptureTimeout <= 0 {
		out.CaptureTimeout = def.CaptureTimeout
	}
	if out.MetricsInterval <= 0 {
		out.MetricsInterval = def.MetricsInterval
	}
	if out.ErrorLogInterval <= 0 {
		out.ErrorLogInterval = def.ErrorLogInterval
	}
	if out.MaxRecoveryAttempts <= 0 {
		out.MaxRecoveryAttempts = def.MaxRecoveryAttempts
	}
	if out.RecoveryCooldown <= 0 {
		out.RecoveryCooldown = def.RecoveryCooldown
	}
	if out.RecoveryThreshold == 0 {
		out.RecoveryThreshold = def.RecoveryThreshold
	}
	return out
}

// FrameInterval is the delay between loop iterations.
func (c Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FPS)
}
