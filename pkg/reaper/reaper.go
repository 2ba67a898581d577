// Package reaper removes abandoned browser workspace directories.
//
// A workspace is a directory directly under the configured root whose name
// starts with the workspace prefix. Workspaces older than the retention
// period are removed unless a live session still owns them.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Result summarizes one sweep.
type Result struct {
	// Scanned counts the workspace directories examined.
	Scanned int
	// Removed counts the directories deleted.
	Removed int
	// Skipped counts directories kept for being too young or owned.
	Skipped int
	// Errors counts entries that could not be examined or removed.
	Errors int
}

// LiveSetFunc returns the workspace paths owned by live sessions.
type LiveSetFunc func() []string

// Reaper sweeps a workspace root.
type Reaper struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	liveMu sync.RWMutex
	live   LiveSetFunc

	// sweepMu serializes sweeps.
	sweepMu sync.Mutex
	pending atomic.Bool
	wg      sync.WaitGroup
}

// New creates a Reaper. A nil cfg uses DefaultConfig.
func New(cfg *Config, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "reaper"),
		now:    time.Now,
	}
}

// Config returns the effective configuration.
func (r *Reaper) Config() Config {
	return r.cfg
}

// SetLiveSet installs the function that reports owned workspaces.
func (r *Reaper) SetLiveSet(fn LiveSetFunc) {
	r.liveMu.Lock()
	defer r.liveMu.Unlock()
	r.live = fn
}

func (r *Reaper) liveSet() map[string]struct{} {
	r.liveMu.RLock()
	fn := r.live
	r.liveMu.RUnlock()

	set := make(map[string]struct{})
	if fn == nil {
		return set
	}
	for _, p := range fn() {
		set[filepath.Clean(p)] = struct{}{}
	}
	return set
}

// Sweep removes every expired, unowned workspace under the root. Failures
// on individual entries are logged and counted; the sweep continues. The
// returned error is non-nil only when the root cannot be listed or ctx
// ends first.
func (r *Reaper) Sweep(ctx context.Context) (Result, error) {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	var res Result
	entries, err := os.ReadDir(r.cfg.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, nil
		}
		r.logger.Error("list workspace root failed", "root", r.cfg.Root, "error", err)
		res.Errors++
		return res, fmt.Errorf("reaper: list %s: %w", r.cfg.Root, err)
	}

	live := r.liveSet()
	cutoff := r.now().Add(-r.cfg.Retention)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), r.cfg.Prefix) {
			continue
		}
		res.Scanned++
		path := filepath.Join(r.cfg.Root, entry.Name())

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			r.logger.Warn("stat workspace failed", "path", path, "error", err)
			res.Errors++
			continue
		}
		if !info.ModTime().Before(cutoff) {
			res.Skipped++
			continue
		}
		if _, owned := live[path]; owned {
			r.logger.Debug("workspace still owned", "path", path)
			res.Skipped++
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			r.logger.Warn("remove workspace failed", "path", path, "error", err)
			res.Errors++
			continue
		}
		r.logger.Info("workspace removed", "path", path, "age", r.now().Sub(info.ModTime()).Round(time.Second))
		res.Removed++
	}

	r.logger.Debug("sweep complete",
		"scanned", res.Scanned,
		"removed", res.Removed,
		"skipped", res.Skipped,
		"errors", res.Errors)
	return res, nil
}

// Trigger requests an asynchronous sweep and returns immediately. Triggers
// that arrive while a sweep is still queued are coalesced into it.
func (r *Reaper) Trigger() {
	if !r.pending.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sweepMu.Lock()
		// Triggers from here on queue a fresh sweep.
		r.pending.Store(false)
		r.sweepMu.Unlock()

		if _, err := r.Sweep(context.Background()); err != nil {
			r.logger.Warn("triggered sweep failed", "error", err)
		}
	}()
}

// Wait blocks until every triggered sweep has finished.
func (r *Reaper) Wait() {
	r.wg.Wait()
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("periodic sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.Wait()
			return nil
		case <-ticker.C:
		}
	}
}
