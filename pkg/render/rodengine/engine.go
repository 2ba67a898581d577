// Package rodengine implements the render engine port on top of go-rod,
// driving a local Chromium over the DevTools protocol.
package rodengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/gritskevich/vb/pkg/render"
)

// Engine launches one Chromium process per render.Target.
type Engine struct {
	logger *slog.Logger
}

// New returns a go-rod backed engine.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger.With("component", "rodengine")}
}

// Launch starts Chromium with opts and connects to it.
func (e *Engine) Launch(ctx context.Context, opts render.LaunchOptions) (render.Browser, error) {
	l := launcher.New().
		Headless(opts.Headless).
		UserDataDir(opts.UserDataDir)
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	for _, raw := range opts.Flags {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	// The browser outlives the launch request; only the dial uses ctx.
	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	b = b.Context(context.Background())

	e.logger.Debug("chromium launched", "control_url", controlURL, "user_data_dir", opts.UserDataDir)
	return &browser{browser: b, launcher: l, logger: e.logger}, nil
}

type browser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	logger   *slog.Logger
}

func (b *browser) NewPage(ctx context.Context, vp render.Viewport) (render.Page, error) {
	p, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, mapErr(err)
	}
	p = p.Context(context.Background())

	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: vp.DeviceScaleFactor,
		Mobile:            false,
	}); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set viewport: %w", mapErr(err))
	}

	pg := &page{page: p, browser: b.browser, logger: b.logger}
	pg.listen()
	return pg, nil
}

func (b *browser) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	return err
}

// detachedMarkers are DevTools error messages for a target that is gone.
var detachedMarkers = []string{
	"No target with given id",
	"Session with given id not found",
	"Target closed",
	"not attached",
}

// mapErr converts DevTools "target gone" failures to render.ErrPageDetached.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, m := range detachedMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %v", render.ErrPageDetached, err)
		}
	}
	return err
}

var keys = map[string]input.Key{
	render.KeyEnter:      input.Enter,
	render.KeyBackspace:  input.Backspace,
	render.KeyDelete:     input.Delete,
	render.KeyTab:        input.Tab,
	render.KeyEscape:     input.Escape,
	render.KeyArrowLeft:  input.ArrowLeft,
	render.KeyArrowRight: input.ArrowRight,
	render.KeyArrowUp:    input.ArrowUp,
	render.KeyArrowDown:  input.ArrowDown,
	render.KeyBackslash:  input.Backslash,
	render.KeyShift:      input.ShiftLeft,
}

func lookupKey(name string) (input.Key, error) {
	k, ok := keys[name]
	if !ok {
		return 0, fmt.Errorf("rodengine: unsupported key %q", name)
	}
	return k, nil
}
