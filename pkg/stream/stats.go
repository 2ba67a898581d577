package stream

import (
	"fmt"
	"time"
)

// State is the streamer state.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StatePausedNavigation
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StatePausedNavigation:
		return "paused-navigation"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CaptureError records a failed frame capture. It is kept for
// monitoring and never returned to callers.
type CaptureError struct {
	At  time.Time
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("stream: capture failed at %s: %v", e.At.Format(time.RFC3339), e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Stats is one metrics report.
type Stats struct {
	StreamID string
	URL      string
	State    State
	// Streaming is true while the loop runs, including navigation pauses.
	Streaming bool

	// FPS is the frame rate over the last interval.
	FPS float64
	// Frames and CaptureErrors count the last interval.
	Frames        uint64
	CaptureErrors uint64
	// DroppedFrames counts frames the sink refused over the last interval.
	DroppedFrames uint64
	TotalFrames   uint64

	RecoveryAttempts int
	LastError        *CaptureError
	Interval         time.Duration
}
