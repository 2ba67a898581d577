package reaper

import (
	"os"
	"time"

	"github.com/gritskevich/vb/pkg/render"
)

// Config configures a Reaper.
type Config struct {
	// Root is the directory holding workspaces. Default: os.TempDir().
	Root string

	// Prefix selects the entries of Root that are workspaces.
	// Default: render.DefaultWorkspacePrefix.
	Prefix string

	// Retention is the minimum age of a workspace before removal.
	// Default: 1h.
	Retention time.Duration

	// Interval between periodic sweeps in Run. Default: 1h.
	Interval time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Prefix:    render.DefaultWorkspacePrefix,
		Retention: time.Hour,
		Interval:  time.Hour,
	}
}

func (c *Config) withDefaults() Config {
	var out Config
	if c != nil {
		out = *c
	}
	d := DefaultConfig()
	if out.Root == "" {
		out.Root = os.TempDir()
	}
	if out.Prefix == "" {
		out.Prefix = d.Prefix
	}
	if out.Retention <= 0 {
		out.Retention = d.Retention
	}
	if out.Interval <= 0 {
		out.Interval = d.Interval
	}
	return out
}
