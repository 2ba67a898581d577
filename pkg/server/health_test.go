package server

import (
	"errors"
	"sync"
	"testing"

	"github.com/gritskevich/vb/pkg/protocol"
)

type fakeProber struct {
	mu      sync.Mutex
	probes  int
	closed  bool
	reason  protocol.CloseReason
	failing bool
}

func (p *fakeProber) Probe() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	if p.failing {
		return errors.New("broken pipe")
	}
	return nil
}

func (p *fakeProber) ForceClose(reason protocol.CloseReason, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.reason = reason
}

func (p *fakeProber) state() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes, p.closed
}

func TestHealthDisconnectsAfterThreeMissedProbes(t *testing.T) {
	h := NewHealthMonitor(0, 3, nil)
	p := &fakeProber{}
	h.Track("c1", p)

	for i := 1; i <= 3; i++ {
		if evicted := h.Sweep(); len(evicted) != 0 {
			t.Fatalf("sweep %d evicted %v", i, evicted)
		}
		if missed, _ := h.Missed("c1"); missed != i {
			t.Fatalf("after sweep %d missed = %d", i, missed)
		}
	}

	evicted := h.Sweep()
	if len(evicted) != 1 || evicted[0] != "c1" {
		t.Fatalf("fourth sweep evicted %v, want [c1]", evicted)
	}
	probes, closed := p.state()
	if probes != 3 || !closed {
		t.Errorf("probes = %d closed = %v, want 3 probes then close", probes, closed)
	}
	if p.reason != protocol.CloseHealthTimeout {
		t.Errorf("close reason = %v", p.reason)
	}
	if _, ok := h.Missed("c1"); ok {
		t.Error("evicted connection still tracked")
	}
}

func TestHealthObserveResets(t *testing.T) {
	tests := []struct {
		name        string
		sweeps      []bool // true: reply observed after the sweep
		wantMissed  int
		wantEvicted bool
	}{
		{"always_answers", []bool{true, true, true, true, true, true}, 0, false},
		{"answers_late", []bool{false, false, true, false, false}, 2, false},
		{"never_answers", []bool{false, false, false, false}, 0, true},
		{"answers_after_two", []bool{false, false, true, false, false, false, false}, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthMonitor(0, 3, nil)
			p := &fakeProber{}
			h.Track("c1", p)

			for _, reply := range tc.sweeps {
				h.Sweep()
				if reply {
					h.Observe("c1")
				}
			}

			_, closed := p.state()
			if closed != tc.wantEvicted {
				t.Fatalf("closed = %v, want %v", closed, tc.wantEvicted)
			}
			if !tc.wantEvicted {
				if missed, _ := h.Missed("c1"); missed != tc.wantMissed {
					t.Errorf("missed = %d, want %d", missed, tc.wantMissed)
				}
			}
		})
	}
}

func TestHealthProbeFailureCountsAsMissed(t *testing.T) {
	h := NewHealthMonitor(0, 3, nil)
	p := &fakeProber{failing: true}
	h.Track("c1", p)

	for i := 0; i < 4; i++ {
		h.Sweep()
	}
	if _, closed := p.state(); !closed {
		t.Error("connection with failing probes not disconnected")
	}
}

func TestHealthUntrack(t *testing.T) {
	h := NewHealthMonitor(0, 3, nil)
	p := &fakeProber{}
	h.Track("c1", p)
	h.Untrack("c1")
	h.Observe("c1")

	for i := 0; i < 5; i++ {
		h.Sweep()
	}
	if probes, closed := p.state(); probes != 0 || closed {
		t.Errorf("untracked connection probed %d times, closed = %v", probes, closed)
	}
}
