// Package stream runs the capture loop that turns a render target into a
// steady sequence of frames for one connection.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Sentinel errors.
var (
	ErrAlreadyStarted = errors.New("stream: already started")
	ErrStopped        = errors.New("stream: stopped")
)

// Source is the render target a Streamer captures from.
type Source interface {
	Navigating() bool
	KeepAlive(ctx context.Context) error
	Capture(ctx context.Context) ([]byte, error)
	CurrentURL() string
	IsValid(ctx context.Context) bool
	Recover(ctx context.Context) error
}

// NavigationGate is implemented by sources that can hold off the start
// of a navigation while a frame is handed to the sink.
type NavigationGate interface {
	UnlessNavigating(fn func()) bool
}

// Sink receives frames. SendFrame must not block; it returns false when
// the frame was dropped.
type Sink interface {
	SendFrame(frame []byte) bool
}

// Reporter receives stream metrics and errors.
type Reporter interface {
	LogStreamStats(Stats)
	LogError(kind string, err error, url string)
}

type nopReporter struct{}

func (nopReporter) LogStreamStats(Stats)           {}
func (nopReporter) LogError(string, error, string) {}

// Streamer captures frames from a Source at a fixed cadence and hands
// them to a Sink. A Streamer runs at most once; Stop is terminal.
type Streamer struct {
	id       string
	cfg      Config
	sink     Sink
	reporter Reporter
	logger   *slog.Logger
	errLog   rate.Sometimes

	mu     sync.Mutex
	state  State
	source Source
	url    string
	cancel context.CancelFunc
	done   chan struct{}

	lastErr             *CaptureError
	consecutiveFailures int
	recoveryAttempts    int
	lastRecovery        time.Time

	intervalFrames  uint64
	intervalErrors  uint64
	intervalDropped uint64
	totalFrames     uint64
	lastReport      time.Time
}

// New creates a Streamer. id labels its metrics and logs.
func New(id string, sink Sink, reporter Reporter, cfg *Config, logger *slog.Logger) *Streamer {
	if reporter == nil {
		reporter = nopReporter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := cfg.withDefaults()
	return &Streamer{
		id:       id,
		cfg:      c,
		sink:     sink,
		reporter: reporter,
		logger:   logger.With("component", "stream", "stream_id", id),
		errLog:   rate.Sometimes{Interval: c.ErrorLogInterval},
	}
}

// Start launches the capture loop on src.
func (s *Streamer) Start(src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateStopped:
		return ErrStopped
	case StateIdle:
	default:
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.source = src
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateStreaming
	s.lastReport = time.Now()

	go s.run(ctx, src)
	s.logger.Info("streaming started", "fps", s.cfg.FPS)
	return nil
}

func (s *Streamer) run(ctx context.Context, src Source) {
	defer close(s.done)

	metrics := time.NewTicker(s.cfg.MetricsInterval)
	defer metrics.Stop()

	frameInterval := s.cfg.FrameInterval()
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-metrics.C:
			s.ReportMetrics()
		default:
		}

		if src.Navigating() {
			s.setState(StatePausedNavigation)
			if !wait(ctx, s.cfg.NavigationDeferral) {
				return
			}
			continue
		}
		s.setState(StateStreaming)

		s.iterate(ctx, src)

		if !wait(ctx, frameInterval) {
			return
		}
	}
}

// iterate performs one keep-alive and capture.
func (s *Streamer) iterate(ctx context.Context, src Source) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CaptureTimeout)
	defer cancel()

	_ = src.KeepAlive(cctx)

	frame, err := src.Capture(cctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.captureFailed(ctx, src, err)
		return
	}

	// A navigation that began mid-capture makes the frame stale.
	sent, delivered := s.deliver(src, frame)
	if !delivered {
		return
	}

	s.mu.Lock()
	s.consecutiveFailures = 0
	if sent {
		s.intervalFrames++
		s.totalFrames++
	} else {
		s.intervalDropped++
	}
	s.mu.Unlock()
}

// deliver sends frame unless src is navigating. delivered is false when
// the frame was discarded as stale.
func (s *Streamer) deliver(src Source, frame []byte) (sent, delivered bool) {
	send := func() { sent = s.sink.SendFrame(frame) }
	if g, ok := src.(NavigationGate); ok {
		delivered = g.UnlessNavigating(send)
		return sent, delivered
	}
	if src.Navigating() {
		return false, false
	}
	send()
	return sent, true
}

func (s *Streamer) captureFailed(ctx context.Context, src Source, err error) {
	cerr := &CaptureError{At: time.Now(), Err: err}
	url := src.CurrentURL()

	s.mu.Lock()
	s.lastErr = cerr
	s.intervalErrors++
	s.consecutiveFailures++
	failures := s.consecutiveFailures
	s.mu.Unlock()

	s.errLog.Do(func() {
		s.logger.Warn("frame capture failed", "error", err, "url", url, "consecutive", failures)
	})
	s.reporter.LogError("capture", cerr, url)

	if s.shouldRecover(failures) && !src.IsValid(ctx) {
		s.recover(ctx, src, url)
	}
}

func (s *Streamer) shouldRecover(failures int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.RecoveryThreshold > 0 &&
		failures >= s.cfg.RecoveryThreshold &&
		s.recoveryAttempts < s.cfg.MaxRecoveryAttempts &&
		time.Since(s.lastRecovery) >= s.cfg.RecoveryCooldown
}

func (s *Streamer) recover(ctx context.Context, src Source, url string) {
	s.mu.Lock()
	s.recoveryAttempts++
	s.lastRecovery = time.Now()
	s.consecutiveFailures = 0
	attempt := s.recoveryAttempts
	s.mu.Unlock()

	s.logger.Warn("recovering render target", "attempt", attempt, "max", s.cfg.MaxRecoveryAttempts)
	if err := src.Recover(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("recovery failed", "attempt", attempt, "error", err)
		s.reporter.LogError("recovery", err, url)
	}
}

func (s *Streamer) setState(st State) {
	s.mu.Lock()
	if s.state != StateStopped {
		s.state = st
	}
	s.mu.Unlock()
}

// ReportMetrics sends the stats of the interval since the previous
// report to the Reporter and resets the interval counters.
func (s *Streamer) ReportMetrics() {
	s.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(s.lastReport)
	st := s.statsLocked()
	if elapsed > 0 {
		st.FPS = float64(s.intervalFrames) / elapsed.Seconds()
	}
	st.Interval = elapsed
	s.intervalFrames = 0
	s.intervalErrors = 0
	s.intervalDropped = 0
	s.lastReport = now
	s.mu.Unlock()

	s.logger.Debug("stream stats",
		"fps", st.FPS,
		"frames", st.Frames,
		"capture_errors", st.CaptureErrors,
		"url", st.URL,
		"state", st.State.String())
	s.reporter.LogStreamStats(st)
}

// Stats returns a snapshot without resetting counters. FPS is zero.
func (s *Streamer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Streamer) statsLocked() Stats {
	url := s.url
	if s.source != nil {
		url = s.source.CurrentURL()
	}
	return Stats{
		StreamID:         s.id,
		URL:              url,
		State:            s.state,
		Streaming:        s.state == StateStreaming || s.state == StatePausedNavigation,
		Frames:           s.intervalFrames,
		CaptureErrors:    s.intervalErrors,
		DroppedFrames:    s.intervalDropped,
		TotalFrames:      s.totalFrames,
		RecoveryAttempts: s.recoveryAttempts,
		LastError:        s.lastErr,
	}
}

// State returns the current state.
func (s *Streamer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop ends streaming, waits for the loop to exit, flushes final
// metrics and releases the source. Stop is idempotent.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.ReportMetrics()

	s.mu.Lock()
	if s.source != nil {
		s.url = s.source.CurrentURL()
		s.source = nil
	}
	s.mu.Unlock()
	s.logger.Info("streaming stopped")
}

// wait sleeps for d or until ctx is done. It reports false if ctx ended.
func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
