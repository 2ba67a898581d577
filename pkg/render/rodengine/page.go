package rodengine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/gritskevich/vb/pkg/render"
)

const scrollJS = `(dy) => window.scrollBy({top: dy, behavior: "auto"})`

type page struct {
	page    *rod.Page
	browser *rod.Browser
	logger  *slog.Logger

	mu      sync.Mutex
	onPopup func(render.Popup)
	onLoad  func(string)
}

// listen forwards window.open and load events to the registered handlers.
func (p *page) listen() {
	wait := p.page.EachEvent(
		func(e *proto.PageWindowOpen) {
			p.mu.Lock()
			fn := p.onPopup
			p.mu.Unlock()
			if fn == nil {
				return
			}
			go fn(render.Popup{URL: e.URL, Close: p.closeOpened})
		},
		func(e *proto.PageLoadEventFired) {
			p.mu.Lock()
			fn := p.onLoad
			p.mu.Unlock()
			if fn == nil {
				return
			}
			go func() {
				info, err := p.page.Info()
				if err != nil {
					return
				}
				fn(info.URL)
			}()
		},
	)
	go wait()
}

// closeOpened closes every page target opened by this page.
func (p *page) closeOpened() error {
	res, err := proto.TargetGetTargets{}.Call(p.browser)
	if err != nil {
		return err
	}
	for _, id := range openedBy(res.TargetInfos, p.page.TargetID) {
		if _, err := (proto.TargetCloseTarget{TargetID: id}).Call(p.browser); err != nil {
			p.logger.Debug("close popup target", "target", id, "error", err)
		}
	}
	return nil
}

// openedBy returns the page targets whose opener is opener.
func openedBy(infos []*proto.TargetTargetInfo, opener proto.TargetTargetID) []proto.TargetTargetID {
	var ids []proto.TargetTargetID
	for _, info := range infos {
		if info.Type != "page" || info.OpenerID != opener {
			continue
		}
		ids = append(ids, info.TargetID)
	}
	return ids
}

func (p *page) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return mapErr(err)
	}
	return mapErr(pg.WaitLoad())
}

func (p *page) Info(ctx context.Context) (render.PageInfo, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return render.PageInfo{}, mapErr(err)
	}
	return render.PageInfo{URL: info.URL, Title: info.Title}, nil
}

func (p *page) MouseMove(ctx context.Context, x, y float64) error {
	return mapErr(p.page.Context(ctx).Mouse.MoveTo(proto.Point{X: x, Y: y}))
}

func (p *page) MouseDown(ctx context.Context) error {
	return mapErr(p.page.Context(ctx).Mouse.Down(proto.InputMouseButtonLeft, 1))
}

func (p *page) MouseUp(ctx context.Context) error {
	return mapErr(p.page.Context(ctx).Mouse.Up(proto.InputMouseButtonLeft, 1))
}

func (p *page) Click(ctx context.Context, x, y float64) error {
	m := p.page.Context(ctx).Mouse
	if err := m.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return mapErr(err)
	}
	return mapErr(m.Click(proto.InputMouseButtonLeft, 1))
}

func (p *page) Scroll(ctx context.Context, deltaY float64) error {
	_, err := p.page.Context(ctx).Eval(scrollJS, deltaY)
	return mapErr(err)
}

func (p *page) KeyPress(ctx context.Context, key string) error {
	k, err := lookupKey(key)
	if err != nil {
		return err
	}
	return mapErr(p.page.Context(ctx).Keyboard.Type(k))
}

func (p *page) KeyDown(ctx context.Context, key string) error {
	k, err := lookupKey(key)
	if err != nil {
		return err
	}
	return mapErr(p.page.Context(ctx).Keyboard.Press(k))
}

func (p *page) KeyUp(ctx context.Context, key string) error {
	k, err := lookupKey(key)
	if err != nil {
		return err
	}
	return mapErr(p.page.Context(ctx).Keyboard.Release(k))
}

func (p *page) Type(ctx context.Context, text string) error {
	return mapErr(p.page.Context(ctx).InsertText(text))
}

func (p *page) Screenshot(ctx context.Context, opts render.ScreenshotOptions) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if opts.Format == render.ImageJPEG {
		q := opts.Quality
		req.Format = proto.PageCaptureScreenshotFormatJpeg
		req.Quality = &q
	}
	data, err := p.page.Context(ctx).Screenshot(false, req)
	if err != nil {
		return nil, mapErr(err)
	}
	return data, nil
}

func (p *page) ClearCache(ctx context.Context) error {
	pg := p.page.Context(ctx)
	if err := (proto.NetworkClearBrowserCache{}).Call(pg); err != nil {
		return mapErr(err)
	}
	return mapErr(proto.NetworkClearBrowserCookies{}.Call(pg))
}

func (p *page) OnPopup(fn func(render.Popup)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPopup = fn
}

func (p *page) OnLoad(fn func(url string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLoad = fn
}

func (p *page) Close() error {
	return mapErr(p.page.Close())
}
