package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gritskevich/vb/pkg/render"

// PageState is the state of a Target's page handle.
type PageState int

const (
	// PageNone means no page has been opened yet, or the Target is closed.
	PageNone PageState = iota
	// PageLive is the page opened by Initialize.
	PageLive
	// PageStale is a page that lost its document and awaits replacement.
	PageStale
	// PageReplaced is a fresh page that took over from a stale one.
	PageReplaced
)

// String returns the string representation of the state.
func (s PageState) String() string {
	switch s {
	case PageNone:
		return "none"
	case PageLive:
		return "live"
	case PageStale:
		return "stale"
	case PageReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Usable reports whether a page in this state accepts commands.
func (s PageState) Usable() bool {
	return s == PageLive || s == PageReplaced
}

// Target is one browser instance with one page, bound to a private
// workspace directory.
//
// Page handle mutation is serialized by mu. Page commands run outside
// the lock on a snapshot of the handle.
type Target struct {
	engine   Engine
	opts     Options
	logger   *slog.Logger
	tracer   trace.Tracer
	recorder NavigationRecorder

	// ctx scopes work the Target starts on its own (popup navigations).
	ctx    context.Context
	cancel context.CancelFunc

	navigating atomic.Bool
	// navGate is held for reading while a frame is delivered and for
	// writing while navigating is raised.
	navGate sync.RWMutex

	mu         sync.Mutex
	browser    Browser
	page       Page
	pageState  PageState
	currentURL string
	workspace  string
	observer   NavigationObserver
	closed     bool
}

// NewTarget creates a Target. Nothing is launched until Initialize.
func NewTarget(engine Engine, opts *Options, logger *slog.Logger) *Target {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Target{
		engine:   engine,
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "render"),
		tracer:   otel.Tracer(tracerName),
		recorder: nopRecorder{},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetNavigationObserver registers the observer notified after each
// completed navigation. It replaces any previous observer.
func (t *Target) SetNavigationObserver(obs NavigationObserver) {
	t.mu.Lock()
	t.observer = obs
	t.mu.Unlock()
}

// SetRecorder sets the navigation metrics recorder.
func (t *Target) SetRecorder(rec NavigationRecorder) {
	if rec == nil {
		rec = nopRecorder{}
	}
	t.mu.Lock()
	t.recorder = rec
	t.mu.Unlock()
}

// Initialize creates the workspace directory, launches the browser in it
// and opens the page. Calling it again after success is a no-op.
func (t *Target) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.browser != nil {
		return nil
	}

	dir := filepath.Join(t.opts.WorkspaceRoot, NewWorkspaceName(t.opts.WorkspacePrefix, time.Now()))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &EngineLaunchError{Workspace: dir, Err: err}
	}
	t.workspace = dir

	browser, err := t.engine.Launch(ctx, t.opts.launchOptions(dir))
	if err != nil {
		return &EngineLaunchError{Workspace: dir, Err: err}
	}

	page, err := browser.NewPage(ctx, t.opts.Viewport)
	if err != nil {
		if cerr := browser.Close(); cerr != nil {
			t.logger.Warn("browser close after failed page open", "error", cerr)
		}
		return &EngineLaunchError{Workspace: dir, Err: fmt.Errorf("open page: %w", err)}
	}

	t.browser = browser
	t.installPageLocked(page, PageLive)

	t.logger.Info("target initialized", "workspace", dir)
	return nil
}

// installPageLocked makes page the active handle. Callers hold t.mu.
func (t *Target) installPageLocked(page Page, state PageState) {
	t.page = page
	t.pageState = state

	page.OnPopup(func(p Popup) { t.handlePopup(page, p) })
	page.OnLoad(func(url string) { t.handleLoad(page, url) })
}

// handlePopup discards an auxiliary window and navigates the main page
// to its URL instead.
func (t *Target) handlePopup(from Page, p Popup) {
	if !t.isActive(from) {
		return
	}
	t.logger.Info("popup redirected to main page", "url", p.URL)
	if p.Close != nil {
		if err := p.Close(); err != nil {
			t.logger.Warn("popup close failed", "error", err)
		}
	}
	if p.URL == "" || p.URL == "about:blank" {
		return
	}
	go func() {
		if err := t.Navigate(t.ctx, p.URL); err != nil && t.ctx.Err() == nil {
			t.logger.Warn("popup navigation failed", "url", p.URL, "error", err)
		}
	}()
}

// handleLoad tracks navigations started inside the page itself, such as
// link clicks. Explicit navigations notify on their own.
func (t *Target) handleLoad(from Page, url string) {
	if t.navigating.Load() || !t.isActive(from) || url == "" {
		return
	}

	t.mu.Lock()
	changed := url != t.currentURL
	t.currentURL = url
	obs := t.observer
	t.mu.Unlock()

	if changed && obs != nil {
		obs.OnNavigate(url)
	}
}

func (t *Target) isActive(p Page) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && t.page == p
}

// activePage returns the current page handle and its state.
func (t *Target) activePage() (Page, PageState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, PageNone, ErrClosed
	}
	if t.page == nil {
		return nil, t.pageState, ErrNotInitialized
	}
	return t.page, t.pageState, nil
}

// Navigate loads rawURL in the page. A missing scheme becomes https://
// and one level of redirect wrapper is unwrapped. On success the final
// URL becomes CurrentURL and the observer is notified.
func (t *Target) Navigate(ctx context.Context, rawURL string) error {
	return t.navigate(ctx, rawURL, true)
}

func (t *Target) navigate(ctx context.Context, rawURL string, unwrap bool) error {
	target := NormalizeURL(rawURL)
	if unwrap {
		if dest, ok := UnwrapRedirect(target, t.opts.WrapperHosts); ok {
			t.logger.Debug("redirect wrapper unwrapped", "wrapper", target, "destination", dest)
			return t.navigate(ctx, dest, false)
		}
	}

	page, _, err := t.activePage()
	if err != nil {
		return err
	}

	t.navGate.Lock()
	t.navigating.Store(true)
	t.navGate.Unlock()
	defer t.navigating.Store(false)

	t.mu.Lock()
	span := t.recorder.StartNavigation(target)
	t.mu.Unlock()

	ctx, tspan := t.tracer.Start(ctx, "render.Navigate",
		trace.WithAttributes(attribute.String("url", target)))
	defer tspan.End()

	navCtx, cancel := context.WithTimeout(ctx, t.opts.NavigationTimeout)
	defer cancel()

	if err := page.Navigate(navCtx, target); err != nil {
		kind := NavigationNoResponse
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			kind = NavigationTimeout
		}
		nerr := &NavigationError{URL: target, Kind: kind, Err: err}
		span.Error(nerr)
		tspan.RecordError(nerr)
		tspan.SetStatus(codes.Error, kind.String())
		return nerr
	}

	final := target
	if info, err := page.Info(navCtx); err == nil && info.URL != "" {
		final = info.URL
	}

	t.mu.Lock()
	t.currentURL = final
	obs := t.observer
	t.mu.Unlock()

	span.Success()
	tspan.SetAttributes(attribute.String("final_url", final))
	t.logger.Info("navigated", "url", target, "final_url", final)

	if obs != nil {
		obs.OnNavigate(final)
	}
	return nil
}

// DispatchInput forwards ev to the page. When the page is no longer
// attached it is replaced and ev is dropped without error. Unknown kinds
// are logged and ignored.
func (t *Target) DispatchInput(ctx context.Context, ev InputEvent) error {
	page, state, err := t.activePage()
	if err != nil {
		if errors.Is(err, ErrNotInitialized) && state == PageStale {
			// An earlier replacement failed; try again.
			return t.replaceStale(ctx, nil)
		}
		return err
	}
	if !state.Usable() || !t.IsValid(ctx) {
		return t.replaceStale(ctx, page)
	}

	if err := t.execute(ctx, page, ev); err != nil {
		if errors.Is(err, ErrPageDetached) {
			return t.replaceStale(ctx, page)
		}
		return fmt.Errorf("render: dispatch %s: %w", ev.Kind, err)
	}
	return nil
}

func (t *Target) execute(ctx context.Context, page Page, ev InputEvent) error {
	switch ev.Kind {
	case InputMouseMove:
		return page.MouseMove(ctx, ev.X, ev.Y)
	case InputMouseDown:
		return page.MouseDown(ctx)
	case InputMouseUp:
		return page.MouseUp(ctx)
	case InputClick:
		if err := page.Click(ctx, ev.X, ev.Y); err != nil {
			return err
		}
		return sleep(ctx, t.opts.ClickSettle)
	case InputWheel, InputScroll:
		return page.Scroll(ctx, ev.DeltaY)
	case InputKeyboard:
		return t.executeKey(ctx, page, ev)
	default:
		t.logger.Warn("unknown input kind ignored", "kind", string(ev.Kind))
		return nil
	}
}

func (t *Target) executeKey(ctx context.Context, page Page, ev InputEvent) error {
	switch {
	case ev.Key == KeyShift:
		if ev.Down {
			return page.KeyDown(ctx, KeyShift)
		}
		return page.KeyUp(ctx, KeyShift)
	case pressKeys[ev.Key]:
		return page.KeyPress(ctx, ev.Key)
	case ev.Text != "":
		return page.Type(ctx, ev.Text)
	default:
		return nil
	}
}

// replaceStale moves stale to PageStale and opens a replacement, unless
// another caller already replaced it.
func (t *Target) replaceStale(ctx context.Context, stale Page) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.page != stale && t.pageState.Usable() {
		return nil
	}
	return t.replacePageLocked(ctx)
}

func (t *Target) replacePageLocked(ctx context.Context) error {
	if t.browser == nil {
		return ErrNotInitialized
	}

	old := t.page
	t.pageState = PageStale
	if old != nil {
		if err := old.Close(); err != nil {
			t.logger.Debug("stale page close failed", "error", err)
		}
	}

	page, err := t.browser.NewPage(ctx, t.opts.Viewport)
	if err != nil {
		t.page = nil
		return fmt.Errorf("render: replace page: %w", err)
	}
	t.installPageLocked(page, PageReplaced)
	t.logger.Info("page replaced")
	return nil
}

// Recover replaces the page and reloads CurrentURL in it.
func (t *Target) Recover(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	err := t.replacePageLocked(ctx)
	url := t.currentURL
	t.mu.Unlock()

	if err != nil {
		return err
	}
	if url == "" {
		return nil
	}
	return t.navigate(ctx, url, false)
}

// IsValid probes the page title and URL. Any probe error yields false.
func (t *Target) IsValid(ctx context.Context) bool {
	page, state, err := t.activePage()
	if err != nil || !state.Usable() {
		return false
	}
	_, err = page.Info(ctx)
	return err == nil
}

// Capture takes a screenshot bounded by the capture timeout.
func (t *Target) Capture(ctx context.Context) ([]byte, error) {
	page, _, err := t.activePage()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, t.opts.CaptureTimeout)
	defer cancel()
	return page.Screenshot(ctx, ScreenshotOptions{
		Format:  t.opts.ImageFormat,
		Quality: t.opts.JPEGQuality,
	})
}

// KeepAlive moves the mouse to the page origin.
func (t *Target) KeepAlive(ctx context.Context) error {
	page, _, err := t.activePage()
	if err != nil {
		return err
	}
	return page.MouseMove(ctx, 0, 0)
}

// ClearCache clears the browser cache and cookies. Failures are logged.
func (t *Target) ClearCache(ctx context.Context) {
	page, _, err := t.activePage()
	if err != nil {
		return
	}
	if err := page.ClearCache(ctx); err != nil {
		t.logger.Warn("clear cache failed", "error", err)
	}
}

// Close closes the page, then the browser. Each step runs even if the
// previous one failed. Closing a closed Target is a no-op.
func (t *Target) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	page, browser := t.page, t.browser
	t.page, t.browser = nil, nil
	t.pageState = PageNone
	t.mu.Unlock()

	t.cancel()

	var pageErr, browserErr error
	if page != nil {
		if pageErr = page.Close(); pageErr != nil {
			t.logger.Warn("page close failed", "error", pageErr)
		}
	}
	if browser != nil {
		if browserErr = browser.Close(); browserErr != nil {
			t.logger.Warn("browser close failed", "error", browserErr)
		}
	}
	return errors.Join(pageErr, browserErr)
}

// CleanupWorkspace removes the workspace directory. A directory that is
// already gone counts as success.
func (t *Target) CleanupWorkspace() error {
	dir := t.Workspace()
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &WorkspaceCleanupError{Path: dir, Err: err}
	}
	return nil
}

// Navigating reports whether a navigation is in progress.
func (t *Target) Navigating() bool {
	return t.navigating.Load()
}

// UnlessNavigating runs fn and reports true if no navigation is in
// progress. A navigation cannot begin while fn runs, so fn must not
// block.
func (t *Target) UnlessNavigating(fn func()) bool {
	t.navGate.RLock()
	defer t.navGate.RUnlock()
	if t.navigating.Load() {
		return false
	}
	fn()
	return true
}

// CurrentURL returns the URL of the last completed navigation.
func (t *Target) CurrentURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentURL
}

// Workspace returns the workspace directory, or "" before Initialize.
func (t *Target) Workspace() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.workspace
}

// PageState returns the state of the page handle.
func (t *Target) PageState() PageState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pageState
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
