package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gritskevich/vb/pkg/reaper"
	"github.com/gritskevich/vb/pkg/render"
	"github.com/gritskevich/vb/pkg/stream"
)

// Config holds the session server configuration.
type Config struct {
	// Address is the HTTP listen address. Default: ":3000".
	Address string

	// ReadBufferSize is the WebSocket read buffer size. Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size. Default: 64KB,
	// sized for screenshot frames.
	WriteBufferSize int

	// CheckOrigin validates the WebSocket handshake Origin header.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// MaxMessageSize bounds inbound WebSocket messages. Default: 64KB.
	MaxMessageSize int64

	// WriteTimeout bounds each outbound write. Default: 10s.
	WriteTimeout time.Duration

	// SendQueueSize is the capacity of the per-connection queue for
	// non-frame messages. Default: 32.
	SendQueueSize int

	// HeartbeatInterval is the time between health sweeps. Default: 30s.
	HeartbeatInterval time.Duration

	// MaxMissedHeartbeats is the number of unanswered probes after which
	// a connection is disconnected. Default: 3.
	MaxMissedHeartbeats int

	// ClearCacheTimeout bounds the cache clear during teardown. Default: 5s.
	ClearCacheTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown. Default: 30s.
	ShutdownTimeout time.Duration

	// Render configures every render target.
	Render *render.Options

	// Stream configures every frame streamer.
	Stream *stream.Config

	// Reaper configures workspace reclamation. Root and Prefix default to
	// the render workspace settings.
	Reaper *reaper.Config
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:             ":3000",
		ReadBufferSize:      4096,
		WriteBufferSize:     64 * 1024,
		CheckOrigin:         SameOriginCheck,
		MaxMessageSize:      64 * 1024,
		WriteTimeout:        10 * time.Second,
		SendQueueSize:       32,
		HeartbeatInterval:   30 * time.Second,
		MaxMissedHeartbeats: 3,
		ClearCacheTimeout:   5 * time.Second,
		ShutdownTimeout:     30 * time.Second,
		Render:              render.DefaultOptions(),
		Stream:              stream.DefaultConfig(),
		Reaper:              reaper.DefaultConfig(),
	}
}

// withDefaults returns a copy of c with unset fields filled in.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Address == "" {
		out.Address = d.Address
	}
	if out.ReadBufferSize <= 0 {
		out.ReadBufferSize = d.ReadBufferSize
	}
	if out.WriteBufferSize <= 0 {
		out.WriteBufferSize = d.WriteBufferSize
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = d.CheckOrigin
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = d.MaxMessageSize
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.SendQueueSize <= 0 {
		out.SendQueueSize = d.SendQueueSize
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = d.HeartbeatInterval
	}
	if out.MaxMissedHeartbeats <= 0 {
		out.MaxMissedHeartbeats = d.MaxMissedHeartbeats
	}
	if out.ClearCacheTimeout <= 0 {
		out.ClearCacheTimeout = d.ClearCacheTimeout
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = d.ShutdownTimeout
	}
	if out.Render == nil {
		out.Render = d.Render
	}
	if out.Stream == nil {
		out.Stream = d.Stream
	}

	// The reaper sweeps where targets create their workspaces.
	rc := reaper.Config{}
	if out.Reaper != nil {
		rc = *out.Reaper
	}
	if rc.Root == "" {
		rc.Root = out.Render.WorkspaceRoot
	}
	if rc.Prefix == "" {
		rc.Prefix = out.Render.WorkspacePrefix
	}
	out.Reaper = &rc
	return &out
}

// SameOriginCheck allows handshakes without an Origin header and those
// whose Origin host matches the request Host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return originURL.Host == r.Host
}

// AllowAllOrigins accepts every handshake. Use only behind a trusted proxy
// or in development.
func AllowAllOrigins(*http.Request) bool {
	return true
}
