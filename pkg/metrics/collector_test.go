package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gritskevich/vb/pkg/stream"
)

func TestLogConnection(t *testing.T) {
	c := New(nil, WithoutRuntime())

	done1 := c.LogConnection("a")
	done2 := c.LogConnection("b")
	if got := testutil.ToFloat64(c.activeConnections); got != 2 {
		t.Fatalf("active_connections = %v, want 2", got)
	}

	done1()
	done1()
	if got := testutil.ToFloat64(c.activeConnections); got != 1 {
		t.Errorf("active_connections after double dispose = %v, want 1", got)
	}
	done2()
	if got := testutil.ToFloat64(c.activeConnections); got != 0 {
		t.Errorf("active_connections = %v, want 0", got)
	}
}

func TestLogStreamStats(t *testing.T) {
	c := New(nil, WithoutRuntime())

	c.LogStreamStats(stream.Stats{
		StreamID:         "s1",
		URL:              "https://example.com/some/path?q=1",
		State:            stream.StateStreaming,
		Streaming:        true,
		FPS:              29.5,
		Frames:           150,
		RecoveryAttempts: 1,
	})
	c.LogStreamStats(stream.Stats{
		StreamID:         "s1",
		URL:              "https://example.com/other",
		State:            stream.StateStopped,
		FPS:              0,
		Frames:           10,
		RecoveryAttempts: 2,
	})

	label := "https://example.com"
	if got := testutil.ToFloat64(c.frames.WithLabelValues(label)); got != 160 {
		t.Errorf("frames_total = %v, want 160", got)
	}
	if got := testutil.ToFloat64(c.recoveryAttempts.WithLabelValues(label)); got != 2 {
		t.Errorf("recovery_attempts_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.streamingStatus.WithLabelValues(label)); got != 0 {
		t.Errorf("streaming_status = %v, want 0 after stop", got)
	}
	if _, ok := c.streams["s1"]; ok {
		t.Error("stopped stream still tracked")
	}
}

func TestStreamGaugesAggregateByURL(t *testing.T) {
	c := New(nil, WithoutRuntime())
	label := "https://example.com"
	report := func(id, url string, state stream.State, fps float64) {
		c.LogStreamStats(stream.Stats{
			StreamID:  id,
			URL:       url,
			State:     state,
			Streaming: state != stream.StateStopped,
			FPS:       fps,
		})
	}

	tests := []struct {
		name       string
		apply      func()
		wantFPS    float64
		wantStatus float64
	}{
		{"first_stream", func() { report("a", label+"/a", stream.StateStreaming, 20) }, 20, 1},
		{"second_stream_same_host", func() { report("b", label+"/b", stream.StateStreaming, 10) }, 30, 1},
		{"one_stops", func() { report("a", label+"/a", stream.StateStopped, 0) }, 10, 1},
		{"other_moves_host", func() { report("b", "https://other.example/", stream.StateStreaming, 10) }, 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.apply()
			if got := testutil.ToFloat64(c.fps.WithLabelValues(label)); got != tc.wantFPS {
				t.Errorf("fps_current = %v, want %v", got, tc.wantFPS)
			}
			if got := testutil.ToFloat64(c.streamingStatus.WithLabelValues(label)); got != tc.wantStatus {
				t.Errorf("streaming_status = %v, want %v", got, tc.wantStatus)
			}
		})
	}

	if got := testutil.ToFloat64(c.streamingStatus.WithLabelValues("https://other.example")); got != 1 {
		t.Errorf("streaming_status for moved stream = %v, want 1", got)
	}
}

func TestNavigationSpan(t *testing.T) {
	c := New(nil, WithoutRuntime())

	ok := c.StartNavigation("https://example.com")
	ok.Success()
	ok.Success()

	bad := c.StartNavigation("https://broken.example")
	bad.Error(errors.New("timeout"))

	if n := testutil.CollectAndCount(c.navigationDuration); n != 2 {
		t.Errorf("navigation series = %d, want 2", n)
	}
	if got := testutil.ToFloat64(c.errors.WithLabelValues("navigation", "https://broken.example")); got != 1 {
		t.Errorf("navigation errors = %v, want 1", got)
	}
}

func TestSnapshot(t *testing.T) {
	c := New(nil)
	c.LogError("capture", errors.New("x"), "https://example.com/a")
	c.TrackRequest("GET", "/health")(200)

	snap, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	for name := range snap {
		if strings.HasPrefix(name, "go_") || strings.HasPrefix(name, "process_") {
			t.Errorf("runtime metric %q in snapshot", name)
		}
	}

	errs, ok := snap["virtual_browser_errors_total"]
	if !ok || errs.Type != "counter" {
		t.Fatalf("errors_total family = %+v", errs)
	}
	var found bool
	for _, s := range errs.Samples {
		if s.Labels["type"] == "capture" && s.Labels["url"] == "https://example.com" && s.Value == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("capture error sample missing: %+v", errs.Samples)
	}

	req := snap["virtual_browser_request_duration_seconds"]
	if len(req.Samples) != 1 || req.Samples[0].Count != 1 || req.Samples[0].Labels["status"] != "200" {
		t.Errorf("request_duration samples = %+v", req.Samples)
	}
}

func TestHandlerExposition(t *testing.T) {
	c := New(nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"virtual_browser_active_connections 0",
		"virtual_browser_fps_current{url=\"none\"} 0",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestURLLabel(t *testing.T) {
	tests := map[string]string{
		"":                          "none",
		"https://example.com/a?b=c": "https://example.com",
		"http://host:8080/":         "http://host:8080",
		"not a url":                 "unknown",
	}
	for in, want := range tests {
		if got := urlLabel(in); got != want {
			t.Errorf("urlLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
