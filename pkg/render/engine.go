package render

import "context"

// Engine launches browser instances.
type Engine interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is one running browser instance.
type Browser interface {
	// NewPage opens a blank page sized to vp.
	NewPage(ctx context.Context, vp Viewport) (Page, error)
	Close() error
}

// Page is a single browser tab.
//
// Implementations return ErrPageDetached when the underlying target has
// gone away, so the Target can replace the handle.
type Page interface {
	// Navigate loads url and waits for the page to settle. It honors the
	// context deadline.
	Navigate(ctx context.Context, url string) error
	Info(ctx context.Context) (PageInfo, error)

	MouseMove(ctx context.Context, x, y float64) error
	MouseDown(ctx context.Context) error
	MouseUp(ctx context.Context) error
	Click(ctx context.Context, x, y float64) error
	Scroll(ctx context.Context, deltaY float64) error

	KeyPress(ctx context.Context, key string) error
	KeyDown(ctx context.Context, key string) error
	KeyUp(ctx context.Context, key string) error
	Type(ctx context.Context, text string) error

	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	// ClearCache clears the browser cache and cookies.
	ClearCache(ctx context.Context) error

	// OnPopup registers fn for auxiliary windows opened by this page.
	OnPopup(fn func(Popup))
	// OnLoad registers fn for load events of the main frame.
	OnLoad(fn func(url string))

	Close() error
}

// Popup is an auxiliary window opened by a page.
type Popup struct {
	URL string
	// Close discards the window.
	Close func() error
}

// PageInfo is the result of a liveness probe.
type PageInfo struct {
	URL   string
	Title string
}

// Viewport is the emulated device size.
type Viewport struct {
	Width             int
	Height            int
	DeviceScaleFactor float64
}

// LaunchOptions configures Engine.Launch.
type LaunchOptions struct {
	// UserDataDir is the private workspace the browser profile lives in.
	UserDataDir string
	Headless    bool
	// Bin overrides the browser binary. Empty lets the engine pick.
	Bin string
	// Flags are command-line switches without the leading dashes,
	// optionally with "=value".
	Flags []string
}

// ImageFormat is the encoding of a captured frame.
type ImageFormat string

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"
)

// ScreenshotOptions configures a frame capture.
type ScreenshotOptions struct {
	Format ImageFormat
	// Quality applies to JPEG only (0-100).
	Quality int
}
