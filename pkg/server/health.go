package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gritskevich/vb/pkg/protocol"
)

// Prober is a connection the HealthMonitor can probe and disconnect.
type Prober interface {
	// Probe sends a liveness probe. The reply arrives through Observe.
	Probe() error
	// ForceClose disconnects the connection, which then leaves through
	// the normal disconnect path.
	ForceClose(reason protocol.CloseReason, message string)
}

type tracked struct {
	prober Prober
	missed int
}

// HealthMonitor disconnects connections that stop answering probes.
// Every sweep probes each tracked connection and counts the probe as
// missed until a reply is observed. A connection with MaxMissed
// unanswered probes is disconnected at the next sweep.
type HealthMonitor struct {
	interval  time.Duration
	maxMissed int
	logger    *slog.Logger

	mu    sync.Mutex
	conns map[string]*tracked
}

// NewHealthMonitor creates a HealthMonitor sweeping every interval.
func NewHealthMonitor(interval time.Duration, maxMissed int, logger *slog.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxMissed <= 0 {
		maxMissed = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		interval:  interval,
		maxMissed: maxMissed,
		logger:    logger.With("component", "health"),
		conns:     make(map[string]*tracked),
	}
}

// Track starts monitoring a connection.
func (h *HealthMonitor) Track(id string, p Prober) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = &tracked{prober: p}
}

// Untrack stops monitoring a connection.
func (h *HealthMonitor) Untrack(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

// Observe records a probe reply and resets the missed count.
func (h *HealthMonitor) Observe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.conns[id]; ok {
		t.missed = 0
	}
}

// Missed returns the unanswered probe count of a connection.
func (h *HealthMonitor) Missed(id string) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.conns[id]
	if !ok {
		return 0, false
	}
	return t.missed, true
}

// Sweep probes or disconnects every tracked connection and returns the
// ids it disconnected.
func (h *HealthMonitor) Sweep() []string {
	var probe, evict []string
	probers := make(map[string]Prober)

	h.mu.Lock()
	for id, t := range h.conns {
		probers[id] = t.prober
		if t.missed >= h.maxMissed {
			evict = append(evict, id)
			delete(h.conns, id)
			continue
		}
		t.missed++
		probe = append(probe, id)
	}
	h.mu.Unlock()

	for _, id := range evict {
		h.logger.Warn("connection unresponsive, disconnecting", "conn_id", id, "missed", h.maxMissed)
		probers[id].ForceClose(protocol.CloseHealthTimeout, "health check failed")
	}
	for _, id := range probe {
		if err := probers[id].Probe(); err != nil {
			h.logger.Debug("probe failed", "conn_id", id, "error", err)
		}
	}
	return evict
}

// Run sweeps every interval until ctx is done.
func (h *HealthMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Sweep()
		}
	}
}
