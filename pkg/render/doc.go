// Package render owns the server side of a remote browsing session: one
// managed browser instance with exactly one page, bound to a private
// workspace directory.
//
// A Target is driven through a small engine port (Engine, Browser, Page)
// so the session logic does not depend on a particular automation
// library. The production adapter lives in package rodengine; tests use
// the in-memory engine from package rendertest.
//
// # Lifecycle
//
//	t := render.NewTarget(engine, render.DefaultOptions(), logger)
//	if err := t.Initialize(ctx); err != nil { ... }     // *EngineLaunchError
//	if err := t.Navigate(ctx, "example.com"); err != nil { ... } // *NavigationError
//	frame, err := t.Capture(ctx)
//	t.Close()
//	t.CleanupWorkspace()
//
// The page handle moves through PageLive, PageStale and PageReplaced.
// When input arrives for a page that is no longer attached, the Target
// swaps in a fresh page and drops the event.
package render
