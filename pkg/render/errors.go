package render

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrPageDetached is returned by a Page whose document is no longer
	// attached to the browser.
	ErrPageDetached = errors.New("render: page not attached")

	// ErrClosed is returned for operations on a closed Target.
	ErrClosed = errors.New("render: target closed")

	// ErrNotInitialized is returned when a Target has no page yet.
	ErrNotInitialized = errors.New("render: target not initialized")
)

// EngineLaunchError reports that the browser instance could not start.
type EngineLaunchError struct {
	Workspace string
	Err       error
}

func (e *EngineLaunchError) Error() string {
	return fmt.Sprintf("render: launch engine in %s: %v", e.Workspace, e.Err)
}

func (e *EngineLaunchError) Unwrap() error { return e.Err }

// NavigationErrorKind distinguishes navigation failures.
type NavigationErrorKind int

const (
	// NavigationNoResponse means the page produced no usable response.
	NavigationNoResponse NavigationErrorKind = iota
	// NavigationTimeout means the page did not settle in time.
	NavigationTimeout
)

// String returns the string representation of the kind.
func (k NavigationErrorKind) String() string {
	switch k {
	case NavigationTimeout:
		return "timeout"
	case NavigationNoResponse:
		return "no-response"
	default:
		return "unknown"
	}
}

// NavigationError is returned by Target.Navigate.
type NavigationError struct {
	URL  string
	Kind NavigationErrorKind
	Err  error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("render: navigate %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// WorkspaceCleanupError reports a workspace directory that could not be removed.
type WorkspaceCleanupError struct {
	Path string
	Err  error
}

func (e *WorkspaceCleanupError) Error() string {
	return fmt.Sprintf("render: remove workspace %s: %v", e.Path, e.Err)
}

func (e *WorkspaceCleanupError) Unwrap() error { return e.Err }
