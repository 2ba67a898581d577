package config

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/gritskevich/vb/pkg/render"
)

func TestNew(t *testing.T) {
	cfg := New()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Server.Address != DefaultAddress {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, DefaultAddress)
	}
	if cfg.Server.HeartbeatInterval != 30*time.Second || cfg.Server.MaxMissedHeartbeats != 3 {
		t.Errorf("heartbeat = %v x%d", cfg.Server.HeartbeatInterval, cfg.Server.MaxMissedHeartbeats)
	}
	if cfg.Browser.WorkspacePrefix != "virtual-browser-" || cfg.Reaper.Retention != time.Hour {
		t.Errorf("workspace = %q retention %v", cfg.Browser.WorkspacePrefix, cfg.Reaper.Retention)
	}
	if cfg.Stream.FPS != 30 {
		t.Errorf("Stream.FPS = %d", cfg.Stream.FPS)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Path() != "" {
		t.Errorf("Path() = %q, want empty", cfg.Path())
	}
	if cfg.Server.Address != DefaultAddress || cfg.Stream.FPS != 30 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "yaml",
			file: "vb.yaml",
			body: `
server:
  address: ":8080"
  heartbeat_interval: 10s
  allowed_origins: ["app.example.com"]
browser:
  image_format: jpeg
  jpeg_quality: 60
  wrapper_hosts: ["l.facebook.com"]
stream:
  fps: 15
reaper:
  retention: 2h
log:
  level: debug
  format: json
`,
		},
		{
			name: "toml",
			file: "vb.toml",
			body: `
[server]
address = ":8080"
heartbeat_interval = "10s"
allowed_origins = ["app.example.com"]

[browser]
image_format = "jpeg"
jpeg_quality = 60
wrapper_hosts = ["l.facebook.com"]

[stream]
fps = 15

[reaper]
retention = "2h"

[log]
level = "debug"
format = "json"
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			chdir(t, dir)
			t.Setenv("HOME", t.TempDir())
			if err := os.WriteFile(filepath.Join(dir, tc.file), []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(viper.New(), "")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !strings.HasSuffix(cfg.Path(), tc.file) {
				t.Errorf("Path() = %q", cfg.Path())
			}
			if cfg.Server.Address != ":8080" || cfg.Server.HeartbeatInterval != 10*time.Second {
				t.Errorf("server = %+v", cfg.Server)
			}
			if cfg.Browser.ImageFormat != "jpeg" || cfg.Browser.JPEGQuality != 60 {
				t.Errorf("browser = %+v", cfg.Browser)
			}
			if cfg.Stream.FPS != 15 || cfg.Reaper.Retention != 2*time.Hour {
				t.Errorf("fps = %d retention = %v", cfg.Stream.FPS, cfg.Reaper.Retention)
			}
			// Unset keys keep their defaults.
			if cfg.Server.MaxMissedHeartbeats != 3 || cfg.Browser.Width != 1920 {
				t.Errorf("defaults lost: %+v", cfg)
			}
			if len(cfg.Browser.WrapperHosts) != 1 || cfg.Browser.WrapperHosts[0] != "l.facebook.com" {
				t.Errorf("WrapperHosts = %v", cfg.Browser.WrapperHosts)
			}
		})
	}
}

func TestLoadExplicitPathMissing(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() with missing explicit file succeeded")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VB_SERVER_ADDRESS", ":9999")
	t.Setenv("VB_STREAM_FPS", "10")
	t.Setenv("VB_REAPER_INTERVAL", "15m")

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Address != ":9999" || cfg.Stream.FPS != 10 || cfg.Reaper.Interval != 15*time.Minute {
		t.Errorf("env not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"address", func(c *Config) { c.Server.Address = "" }, "server.address"},
		{"fps", func(c *Config) { c.Stream.FPS = 0 }, "stream.fps"},
		{"format", func(c *Config) { c.Browser.ImageFormat = "webp" }, "image_format"},
		{"quality", func(c *Config) { c.Browser.JPEGQuality = 101 }, "jpeg_quality"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log_format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"viewport", func(c *Config) { c.Browser.Width = 0 }, "viewport"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestServerConfig(t *testing.T) {
	cfg := New()
	cfg.Server.Address = ":4000"
	cfg.Browser.WorkspaceRoot = "/var/vb"
	cfg.Browser.ImageFormat = "jpeg"
	cfg.Stream.FPS = 20
	cfg.Reaper.Retention = 3 * time.Hour

	sc := cfg.ServerConfig()
	if sc.Address != ":4000" {
		t.Errorf("Address = %q", sc.Address)
	}
	if sc.Render.WorkspaceRoot != "/var/vb" || sc.Render.ImageFormat != render.ImageJPEG {
		t.Errorf("Render = %+v", sc.Render)
	}
	if sc.Stream.FPS != 20 {
		t.Errorf("Stream.FPS = %d", sc.Stream.FPS)
	}
	if sc.Reaper.Root != "/var/vb" || sc.Reaper.Retention != 3*time.Hour {
		t.Errorf("Reaper = %+v", sc.Reaper)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"same_origin_default", nil, "http://example.com", true},
		{"cross_origin_default", nil, "http://evil.com", false},
		{"listed", []string{"app.example.org"}, "https://app.example.org", true},
		{"unlisted", []string{"app.example.org"}, "https://evil.com", false},
		{"wildcard", []string{"*"}, "https://evil.com", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New()
			cfg.Server.AllowedOrigins = tc.allowed
			req := httptest.NewRequest("GET", "http://example.com/ws", nil)
			req.Header.Set("Origin", tc.origin)
			if got := cfg.checkOrigin()(req); got != tc.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := New()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info logged at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("output = %s", out)
	}
}
