package render

import (
	"os"
	"time"
)

// DefaultWorkspacePrefix names every session workspace directory.
const DefaultWorkspacePrefix = "virtual-browser-"

// DefaultLaunchFlags are passed to every browser instance.
var DefaultLaunchFlags = []string{
	"no-sandbox",
	"disable-setuid-sandbox",
	"disable-dev-shm-usage",
	"disable-accelerated-2d-canvas",
	"disable-gpu",
}

// Options configures a Target.
type Options struct {
	// WorkspaceRoot is the shared parent of all workspace directories.
	// Default: os.TempDir().
	WorkspaceRoot string

	// WorkspacePrefix prefixes each workspace directory name.
	// Default: "virtual-browser-".
	WorkspacePrefix string

	// Headful shows the browser window. Intended for local debugging.
	Headful bool

	// BrowserBin overrides the browser binary.
	BrowserBin string

	// ExtraFlags are appended to DefaultLaunchFlags.
	ExtraFlags []string

	// Viewport is the page size. Default: 1920x1080 at scale 1.
	Viewport Viewport

	// NavigationTimeout bounds Navigate. Default: 30s.
	NavigationTimeout time.Duration

	// CaptureTimeout bounds Capture. Default: 5s.
	CaptureTimeout time.Duration

	// ImageFormat selects the frame encoding. Default: png.
	ImageFormat ImageFormat

	// JPEGQuality applies when ImageFormat is jpeg. Default: 80.
	JPEGQuality int

	// ClickSettle is the pause after a click. Default: 100ms.
	ClickSettle time.Duration

	// WrapperHosts are hosts whose every URL is treated as a redirect
	// wrapper, in addition to the /url and /go paths on any host.
	WrapperHosts []string
}

// DefaultOptions returns the default Target options.
func DefaultOptions() *Options {
	return &Options{
		WorkspaceRoot:     os.TempDir(),
		WorkspacePrefix:   DefaultWorkspacePrefix,
		Viewport:          Viewport{Width: 1920, Height: 1080, DeviceScaleFactor: 1},
		NavigationTimeout: 30 * time.Second,
		CaptureTimeout:    5 * time.Second,
		ImageFormat:       ImagePNG,
		JPEGQuality:       80,
		ClickSettle:       100 * time.Millisecond,
	}
}

// withDefaults returns a copy of o with unset fields filled in.
func (o *Options) withDefaults() Options {
	def := DefaultOptions()
	if o == nil {
		return *def
	}
	out := *o
	if out.WorkspaceRoot == "" {
		out.WorkspaceRoot = def.WorkspaceRoot
	}
	if out.WorkspacePrefix == "" {
		out.WorkspacePrefix = def.WorkspacePrefix
	}
	if out.Viewport.Width <= 0 || out.Viewport.Height <= 0 {
		out.Viewport = def.Viewport
	}
	if out.Viewport.DeviceScaleFactor <= 0 {
		out.Viewport.DeviceScaleFactor = 1
	}
	if out.NavigationTimeout <= 0 {
		out.NavigationTimeout = def.NavigationTimeout
	}
	if out.CaptureTimeout <= 0 {
		out.CaptureTimeout = def.CaptureTimeout
	}
	if out.ImageFormat == "" {
		out.ImageFormat = def.ImageFormat
	}
	if out.JPEGQuality <= 0 || out.JPEGQuality > 100 {
		out.JPEGQuality = def.JPEGQuality
	}
	if out.ClickSettle < 0 {
		out.ClickSettle = 0
	} else if out.ClickSettle == 0 {
		out.ClickSettle = def.ClickSettle
	}
	return out
}

// launchOptions builds the engine launch options for a workspace.
func (o *Options) launchOptions(workspace string) LaunchOptions {
	flags := make([]string, 0, len(DefaultLaunchFlags)+len(o.ExtraFlags))
	flags = append(flags, DefaultLaunchFlags...)
	flags = append(flags, o.ExtraFlags...)
	return LaunchOptions{
		UserDataDir: workspace,
		Headless:    !o.Headful,
		Bin:         o.BrowserBin,
		Flags:       flags,
	}
}
