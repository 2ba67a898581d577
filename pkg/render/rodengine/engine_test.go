package rodengine

import (
	"errors"
	"testing"

	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/gritskevich/vb/pkg/render"
)

var (
	_ render.Engine  = (*Engine)(nil)
	_ render.Browser = (*browser)(nil)
	_ render.Page    = (*page)(nil)
)

func TestOpenedBy(t *testing.T) {
	const main proto.TargetTargetID = "main"
	infos := []*proto.TargetTargetInfo{
		{TargetID: "popup-1", Type: "page", OpenerID: main},
		{TargetID: "other", Type: "page", OpenerID: "elsewhere"},
		{TargetID: "worker", Type: "service_worker", OpenerID: main},
		{TargetID: main, Type: "page"},
		{TargetID: "popup-2", Type: "page", OpenerID: main},
	}

	got := openedBy(infos, main)
	want := []proto.TargetTargetID{"popup-1", "popup-2"}
	if len(got) != len(want) {
		t.Fatalf("openedBy() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("openedBy()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if ids := openedBy(nil, main); len(ids) != 0 {
		t.Errorf("openedBy(nil) = %v", ids)
	}
}

func TestMapErr(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantDetached bool
	}{
		{"nil", nil, false},
		{"no_target", errors.New("{-32602 No target with given id found }"), true},
		{"session_gone", errors.New("Session with given id not found"), true},
		{"not_attached", errors.New("Node is not attached to document"), true},
		{"other", errors.New("net::ERR_CONNECTION_REFUSED"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := mapErr(tc.err)
			if errors.Is(got, render.ErrPageDetached) != tc.wantDetached {
				t.Errorf("mapErr(%v) = %v, detached want %v", tc.err, got, tc.wantDetached)
			}
			if tc.err == nil && got != nil {
				t.Errorf("mapErr(nil) = %v", got)
			}
		})
	}
}

func TestLookupKey(t *testing.T) {
	for name, want := range map[string]input.Key{
		render.KeyEnter:     input.Enter,
		render.KeyShift:     input.ShiftLeft,
		render.KeyBackslash: input.Backslash,
	} {
		got, err := lookupKey(name)
		if err != nil || got != want {
			t.Errorf("lookupKey(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := lookupKey("Hyper"); err == nil {
		t.Error("lookupKey(Hyper) succeeded")
	}
}
