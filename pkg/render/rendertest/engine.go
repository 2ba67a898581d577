// Package rendertest provides an in-memory browser engine for tests of
// code built on package render.
package rendertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gritskevich/vb/pkg/render"
)

// PNG is the frame every Page returns unless Screenshot is overridden.
var PNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// ErrClosed is returned by a closed fake page.
var ErrClosed = errors.New("rendertest: closed")

// Engine is a fake render.Engine.
type Engine struct {
	// LaunchErr fails every Launch when set.
	LaunchErr error
	// NewPageErr fails every NewPage on launched browsers when set.
	NewPageErr error
	// Setup, when set, is applied to every new page before it is returned.
	Setup func(*Page)

	mu       sync.Mutex
	browsers []*Browser
	launches []render.LaunchOptions
}

// NewEngine returns an engine whose pages succeed at everything.
func NewEngine() *Engine {
	return &Engine{}
}

// Launch implements render.Engine.
func (e *Engine) Launch(ctx context.Context, opts render.LaunchOptions) (render.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.launches = append(e.launches, opts)
	if e.LaunchErr != nil {
		return nil, e.LaunchErr
	}
	b := &Browser{engine: e, opts: opts}
	e.browsers = append(e.browsers, b)
	return b, nil
}

// Browsers returns every browser launched so far.
func (e *Engine) Browsers() []*Browser {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Browser(nil), e.browsers...)
}

// Launches returns the options of every Launch call.
func (e *Engine) Launches() []render.LaunchOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]render.LaunchOptions(nil), e.launches...)
}

// LastPage returns the most recently opened page of the last browser.
func (e *Engine) LastPage() *Page {
	bs := e.Browsers()
	if len(bs) == 0 {
		return nil
	}
	return bs[len(bs)-1].LastPage()
}

// Browser is a fake render.Browser.
type Browser struct {
	engine *Engine
	opts   render.LaunchOptions

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

// NewPage implements render.Browser.
func (b *Browser) NewPage(ctx context.Context, vp render.Viewport) (render.Page, error) {
	b.engine.mu.Lock()
	newPageErr, setup := b.engine.NewPageErr, b.engine.Setup
	b.engine.mu.Unlock()

	if newPageErr != nil {
		return nil, newPageErr
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	p := &Page{Viewport: vp, url: "about:blank"}
	b.pages = append(b.pages, p)
	b.mu.Unlock()

	if setup != nil {
		setup(p)
	}
	return p, nil
}

// Close implements render.Browser.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Options returns the launch options of this browser.
func (b *Browser) Options() render.LaunchOptions {
	return b.opts
}

// Pages returns every page opened in this browser.
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

// LastPage returns the most recently opened page.
func (b *Browser) LastPage() *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pages) == 0 {
		return nil
	}
	return b.pages[len(b.pages)-1]
}

// Page is a fake render.Page. It records every command it receives.
type Page struct {
	Viewport render.Viewport

	mu sync.Mutex
	// hooks
	navigateFn   func(ctx context.Context, url string) error
	screenshotFn func(ctx context.Context) ([]byte, error)
	redirects    map[string]string
	clearErr     error

	url       string
	title     string
	calls     []string
	detached  bool
	closed    bool
	onPopup   func(render.Popup)
	onLoad    func(string)
	shotCount int
}

// SetNavigate overrides Navigate. fn runs before the URL is applied.
func (p *Page) SetNavigate(fn func(ctx context.Context, url string) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigateFn = fn
}

// SetScreenshot overrides Screenshot.
func (p *Page) SetScreenshot(fn func(ctx context.Context) ([]byte, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshotFn = fn
}

// Redirect makes navigation to from land on to.
func (p *Page) Redirect(from, to string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.redirects == nil {
		p.redirects = make(map[string]string)
	}
	p.redirects[from] = to
}

// SetClearCacheErr makes ClearCache fail with err.
func (p *Page) SetClearCacheErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearErr = err
}

// Detach makes every subsequent command fail with render.ErrPageDetached.
func (p *Page) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detached = true
}

// Calls returns the commands received, in order.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Screenshots returns the number of successful screenshots.
func (p *Page) Screenshots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shotCount
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// URL returns the page's current URL.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// EmitPopup simulates the page opening an auxiliary window at url.
// It returns the popup's close counter.
func (p *Page) EmitPopup(url string) *int {
	p.mu.Lock()
	fn := p.onPopup
	p.mu.Unlock()

	closes := new(int)
	if fn != nil {
		fn(render.Popup{URL: url, Close: func() error { *closes++; return nil }})
	}
	return closes
}

// EmitLoad simulates a main-frame load event at url.
func (p *Page) EmitLoad(url string) {
	p.mu.Lock()
	p.url = url
	fn := p.onLoad
	p.mu.Unlock()

	if fn != nil {
		fn(url)
	}
}

// record appends a call and reports the page's failure state.
func (p *Page) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	switch {
	case p.closed:
		return ErrClosed
	case p.detached:
		return render.ErrPageDetached
	}
	return nil
}

// Navigate implements render.Page.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.record("navigate " + url); err != nil {
		return err
	}

	p.mu.Lock()
	fn := p.navigateFn
	p.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, url); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if to, ok := p.redirects[url]; ok {
		url = to
	}
	p.url = url
	p.title = "Page at " + url
	return nil
}

// Info implements render.Page.
func (p *Page) Info(ctx context.Context) (render.PageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.detached {
		return render.PageInfo{}, render.ErrPageDetached
	}
	return render.PageInfo{URL: p.url, Title: p.title}, nil
}

// MouseMove implements render.Page.
func (p *Page) MouseMove(ctx context.Context, x, y float64) error {
	return p.record(fmt.Sprintf("mousemove %g,%g", x, y))
}

// MouseDown implements render.Page.
func (p *Page) MouseDown(ctx context.Context) error {
	return p.record("mousedown")
}

// MouseUp implements render.Page.
func (p *Page) MouseUp(ctx context.Context) error {
	return p.record("mouseup")
}

// Click implements render.Page.
func (p *Page) Click(ctx context.Context, x, y float64) error {
	return p.record(fmt.Sprintf("click %g,%g", x, y))
}

// Scroll implements render.Page.
func (p *Page) Scroll(ctx context.Context, deltaY float64) error {
	return p.record(fmt.Sprintf("scroll %g", deltaY))
}

// KeyPress implements render.Page.
func (p *Page) KeyPress(ctx context.Context, key string) error {
	return p.record("press " + key)
}

// KeyDown implements render.Page.
func (p *Page) KeyDown(ctx context.Context, key string) error {
	return p.record("keydown " + key)
}

// KeyUp implements render.Page.
func (p *Page) KeyUp(ctx context.Context, key string) error {
	return p.record("keyup " + key)
}

// Type implements render.Page.
func (p *Page) Type(ctx context.Context, text string) error {
	return p.record("type " + text)
}

// Screenshot implements render.Page.
func (p *Page) Screenshot(ctx context.Context, opts render.ScreenshotOptions) ([]byte, error) {
	p.mu.Lock()
	fn, closed, detached := p.screenshotFn, p.closed, p.detached
	p.mu.Unlock()

	switch {
	case closed:
		return nil, ErrClosed
	case detached:
		return nil, render.ErrPageDetached
	}

	data := PNG
	if fn != nil {
		var err error
		if data, err = fn(ctx); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	p.shotCount++
	p.mu.Unlock()
	return data, nil
}

// ClearCache implements render.Page.
func (p *Page) ClearCache(ctx context.Context) error {
	if err := p.record("clearcache"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clearErr
}

// OnPopup implements render.Page.
func (p *Page) OnPopup(fn func(render.Popup)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPopup = fn
}

// OnLoad implements render.Page.
func (p *Page) OnLoad(fn func(url string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLoad = fn
}

// Close implements render.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "close")
	p.closed = true
	return nil
}

// WaitFor polls cond every millisecond until it holds or timeout passes.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
