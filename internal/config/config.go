package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gritskevich/vb/pkg/reaper"
	"github.com/gritskevich/vb/pkg/render"
	"github.com/gritskevich/vb/pkg/server"
	"github.com/gritskevich/vb/pkg/stream"
)

const (
	// ConfigName is the configuration file name without extension.
	ConfigName = "vb"

	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "VB"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":3000"
)

// Config is the complete vb configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Browser BrowserConfig `mapstructure:"browser"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Reaper  ReaperConfig  `mapstructure:"reaper"`
	Log     LogConfig     `mapstructure:"log"`

	// configPath is the file the config was read from, if any.
	configPath string
}

// ServerConfig contains connection and HTTP settings.
type ServerConfig struct {
	// Address is the listen address.
	Address string `mapstructure:"address"`

	// AllowedOrigins lists the Origin hosts accepted at the WebSocket
	// handshake. Empty means same-origin only; "*" allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	MaxMissedHeartbeats int           `mapstructure:"max_missed_heartbeats"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`
	MaxMessageSize      int64         `mapstructure:"max_message_size"`
}

// BrowserConfig contains render target settings.
type BrowserConfig struct {
	WorkspaceRoot     string        `mapstructure:"workspace_root"`
	WorkspacePrefix   string        `mapstructure:"workspace_prefix"`
	Headful           bool          `mapstructure:"headful"`
	Bin               string        `mapstructure:"bin"`
	Flags             []string      `mapstructure:"flags"`
	Width             int           `mapstructure:"width"`
	Height            int           `mapstructure:"height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	CaptureTimeout    time.Duration `mapstructure:"capture_timeout"`
	ImageFormat       string        `mapstructure:"image_format"`
	JPEGQuality       int           `mapstructure:"jpeg_quality"`
	WrapperHosts      []string      `mapstructure:"wrapper_hosts"`
}

// StreamConfig contains frame streaming settings.
type StreamConfig struct {
	FPS                 int           `mapstructure:"fps"`
	NavigationDeferral  time.Duration `mapstructure:"navigation_deferral"`
	MetricsInterval     time.Duration `mapstructure:"metrics_interval"`
	MaxRecoveryAttempts int           `mapstructure:"max_recovery_attempts"`
	RecoveryCooldown    time.Duration `mapstructure:"recovery_cooldown"`
	RecoveryThreshold   int           `mapstructure:"recovery_threshold"`
}

// ReaperConfig contains workspace reclamation settings.
type ReaperConfig struct {
	Retention time.Duration `mapstructure:"retention"`
	Interval  time.Duration `mapstructure:"interval"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `mapstructure:"level"`
	// Format is text or json.
	Format string `mapstructure:"format"`
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Address:             DefaultAddress,
			HeartbeatInterval:   30 * time.Second,
			MaxMissedHeartbeats: 3,
			WriteTimeout:        10 * time.Second,
			ShutdownTimeout:     30 * time.Second,
			MaxMessageSize:      64 * 1024,
		},
		Browser: BrowserConfig{
			WorkspaceRoot:     os.TempDir(),
			WorkspacePrefix:   render.DefaultWorkspacePrefix,
			Width:             1920,
			Height:            1080,
			NavigationTimeout: 30 * time.Second,
			CaptureTimeout:    5 * time.Second,
			ImageFormat:       string(render.ImagePNG),
			JPEGQuality:       80,
		},
		Stream: StreamConfig{
			FPS:                 30,
			NavigationDeferral:  time.Second,
			MetricsInterval:     5 * time.Second,
			MaxRecoveryAttempts: 3,
			RecoveryCooldown:    5 * time.Second,
			RecoveryThreshold:   10,
		},
		Reaper: ReaperConfig{
			Retention: time.Hour,
			Interval:  time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// setDefaults registers every key so environment variables and Unmarshal
// see it.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("server.address", c.Server.Address)
	v.SetDefault("server.allowed_origins", c.Server.AllowedOrigins)
	v.SetDefault("server.heartbeat_interval", c.Server.HeartbeatInterval)
	v.SetDefault("server.max_missed_heartbeats", c.Server.MaxMissedHeartbeats)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.max_message_size", c.Server.MaxMessageSize)

	v.SetDefault("browser.workspace_root", c.Browser.WorkspaceRoot)
	v.SetDefault("browser.workspace_prefix", c.Browser.WorkspacePrefix)
	v.SetDefault("browser.headful", c.Browser.Headful)
	v.SetDefault("browser.bin", c.Browser.Bin)
	v.SetDefault("browser.flags", c.Browser.Flags)
	v.SetDefault("browser.width", c.Browser.Width)
	v.SetDefault("browser.height", c.Browser.Height)
	v.SetDefault("browser.navigation_timeout", c.Browser.NavigationTimeout)
	v.SetDefault("browser.capture_timeout", c.Browser.CaptureTimeout)
	v.SetDefault("browser.image_format", c.Browser.ImageFormat)
	v.SetDefault("browser.jpeg_quality", c.Browser.JPEGQuality)
	v.SetDefault("browser.wrapper_hosts", c.Browser.WrapperHosts)

	v.SetDefault("stream.fps", c.Stream.FPS)
	v.SetDefault("stream.navigation_deferral", c.Stream.NavigationDeferral)
	v.SetDefault("stream.metrics_interval", c.Stream.MetricsInterval)
	v.SetDefault("stream.max_recovery_attempts", c.Stream.MaxRecoveryAttempts)
	v.SetDefault("stream.recovery_cooldown", c.Stream.RecoveryCooldown)
	v.SetDefault("stream.recovery_threshold", c.Stream.RecoveryThreshold)

	v.SetDefault("reaper.retention", c.Reaper.Retention)
	v.SetDefault("reaper.interval", c.Reaper.Interval)

	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
}

// Load reads the configuration through v. An empty path searches the
// working directory and $HOME/.config/vb; a missing file there is not an
// error. An explicit path must exist.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v, New())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", ConfigName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", describe(path), err)
		}
	}

	cfg := &Config{configPath: v.ConfigFileUsed()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func describe(path string) string {
	if path == "" {
		return ConfigName + " config"
	}
	return path
}

// Path returns the file the configuration was read from, or "".
func (c *Config) Path() string {
	return c.configPath
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("config: "+format, args...))
		}
	}

	check(c.Server.Address != "", "server.address is empty")
	check(c.Server.HeartbeatInterval > 0, "server.heartbeat_interval must be positive")
	check(c.Server.MaxMissedHeartbeats > 0, "server.max_missed_heartbeats must be positive")
	check(c.Browser.Width > 0 && c.Browser.Height > 0, "browser viewport %dx%d is invalid", c.Browser.Width, c.Browser.Height)
	check(c.Browser.NavigationTimeout > 0, "browser.navigation_timeout must be positive")
	check(c.Browser.ImageFormat == string(render.ImagePNG) || c.Browser.ImageFormat == string(render.ImageJPEG),
		"browser.image_format %q is not png or jpeg", c.Browser.ImageFormat)
	check(c.Browser.JPEGQuality >= 0 && c.Browser.JPEGQuality <= 100, "browser.jpeg_quality %d is outside 0..100", c.Browser.JPEGQuality)
	check(c.Stream.FPS > 0 && c.Stream.FPS <= 120, "stream.fps %d is outside 1..120", c.Stream.FPS)
	check(c.Reaper.Retention > 0, "reaper.retention must be positive")
	check(c.Reaper.Interval > 0, "reaper.interval must be positive")
	_, lerr := parseLevel(c.Log.Level)
	check(lerr == nil, "log.level %q is not debug, info, warn or error", c.Log.Level)
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format %q is not text or json", c.Log.Format)

	return errors.Join(errs...)
}

// RenderOptions returns the render target options.
func (c *Config) RenderOptions() *render.Options {
	opts := render.DefaultOptions()
	opts.WorkspaceRoot = c.Browser.WorkspaceRoot
	opts.WorkspacePrefix = c.Browser.WorkspacePrefix
	opts.Headful = c.Browser.Headful
	opts.BrowserBin = c.Browser.Bin
	opts.ExtraFlags = c.Browser.Flags
	opts.Viewport.Width = c.Browser.Width
	opts.Viewport.Height = c.Browser.Height
	opts.NavigationTimeout = c.Browser.NavigationTimeout
	opts.CaptureTimeout = c.Browser.CaptureTimeout
	opts.ImageFormat = render.ImageFormat(c.Browser.ImageFormat)
	opts.JPEGQuality = c.Browser.JPEGQuality
	opts.WrapperHosts = c.Browser.WrapperHosts
	return opts
}

// StreamConfig returns the streamer configuration.
func (c *Config) StreamConfig() *stream.Config {
	sc := stream.DefaultConfig()
	sc.FPS = c.Stream.FPS
	sc.NavigationDeferral = c.Stream.NavigationDeferral
	sc.CaptureTimeout = c.Browser.CaptureTimeout
	sc.MetricsInterval = c.Stream.MetricsInterval
	sc.MaxRecoveryAttempts = c.Stream.MaxRecoveryAttempts
	sc.RecoveryCooldown = c.Stream.RecoveryCooldown
	sc.RecoveryThreshold = c.Stream.RecoveryThreshold
	return sc
}

// ReaperConfig returns the reaper configuration. It sweeps the browser
// workspace root.
func (c *Config) ReaperConfig() *reaper.Config {
	return &reaper.Config{
		Root:      c.Browser.WorkspaceRoot,
		Prefix:    c.Browser.WorkspacePrefix,
		Retention: c.Reaper.Retention,
		Interval:  c.Reaper.Interval,
	}
}

// ServerConfig returns the complete server configuration.
func (c *Config) ServerConfig() *server.Config {
	sc := server.DefaultConfig()
	sc.Address = c.Server.Address
	sc.CheckOrigin = c.checkOrigin()
	sc.HeartbeatInterval = c.Server.HeartbeatInterval
	sc.MaxMissedHeartbeats = c.Server.MaxMissedHeartbeats
	sc.WriteTimeout = c.Server.WriteTimeout
	sc.ShutdownTimeout = c.Server.ShutdownTimeout
	sc.MaxMessageSize = c.Server.MaxMessageSize
	sc.Render = c.RenderOptions()
	sc.Stream = c.StreamConfig()
	sc.Reaper = c.ReaperConfig()
	return sc
}

func (c *Config) checkOrigin() func(*http.Request) bool {
	origins := c.Server.AllowedOrigins
	if len(origins) == 0 {
		return server.SameOriginCheck
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return server.AllowAllOrigins
		}
		allowed[strings.ToLower(o)] = true
	}
	return func(r *http.Request) bool {
		if server.SameOriginCheck(r) {
			return true
		}
		u, err := url.Parse(r.Header.Get("Origin"))
		return err == nil && allowed[strings.ToLower(u.Host)]
	}
}

// Logger builds the slog logger selected by the log settings.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}
