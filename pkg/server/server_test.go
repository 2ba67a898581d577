package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gritskevich/vb/pkg/metrics"
	"github.com/gritskevich/vb/pkg/protocol"
	"github.com/gritskevich/vb/pkg/render"
	"github.com/gritskevich/vb/pkg/render/rendertest"
)

type harness struct {
	srv    *Server
	http   *httptest.Server
	engine *rendertest.Engine
	root   string
}

func newHarness(t *testing.T, setup ...func(*rendertest.Engine)) *harness {
	t.Helper()
	engine := rendertest.NewEngine()
	for _, fn := range setup {
		fn(engine)
	}
	root := t.TempDir()

	cfg := DefaultConfig()
	cfg.Render = render.DefaultOptions()
	cfg.Render.WorkspaceRoot = root
	cfg.Stream = testStreamConfig()
	cfg.HeartbeatInterval = time.Hour

	srv := New(cfg, engine, nil, WithMetrics(metrics.New(nil, metrics.WithoutRuntime())))
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		hs.Close()
	})
	return &harness{srv: srv, http: hs, engine: engine, root: root}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, ft protocol.FrameType, payload []byte) {
	t.Helper()
	if err := ws.WriteMessage(websocket.BinaryMessage, protocol.NewFrame(ft, payload).Encode()); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads frames until one of type ft arrives.
func readUntil(t *testing.T, ws *websocket.Conn, ft protocol.FrameType, timeout time.Duration) *protocol.Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(timeout))
	defer ws.SetReadDeadline(time.Time{})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %v frame: %v", ft, err)
		}
		f, err := protocol.DecodeFrame(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if f.Type == ft {
			return f
		}
	}
}

func TestEndToEndSession(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t)

	send(t, ws, protocol.FrameSession, protocol.EncodeSessionRequest(&protocol.SessionRequest{URL: "example.com"}))

	nav := readUntil(t, ws, protocol.FrameNavigation, 2*time.Second)
	url, err := protocol.DecodeNavigation(nav.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://example.com" {
		t.Errorf("navigation url = %q, want https://example.com", url)
	}

	start := time.Now()
	img := readUntil(t, ws, protocol.FrameImage, time.Second)
	if time.Since(start) > time.Second {
		t.Error("first frame later than 1s")
	}
	if string(img.Payload) != string(rendertest.PNG) || img.Flags.Has(protocol.FlagJPEG) {
		t.Errorf("image frame = %v flags %v", img.Payload, img.Flags)
	}

	ev := &protocol.InputEvent{Kind: protocol.InputClick, X: 10, Y: 20}
	send(t, ws, protocol.FrameInput, protocol.EncodeInputEvent(ev))
	page := h.engine.LastPage()
	ok := rendertest.WaitFor(time.Second, func() bool {
		for _, c := range page.Calls() {
			if c == "click 10,20" {
				return true
			}
		}
		return false
	})
	if !ok {
		t.Errorf("click not dispatched; calls = %v", page.Calls())
	}
}

func TestRedirectWrapperUnwrapped(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t)

	wrapped := "https://www.google.com/url?q=https%3A%2F%2Ftarget.example%2Fpage"
	send(t, ws, protocol.FrameSession, protocol.EncodeSessionRequest(&protocol.SessionRequest{URL: wrapped}))

	nav := readUntil(t, ws, protocol.FrameNavigation, 2*time.Second)
	url, _ := protocol.DecodeNavigation(nav.Payload)
	if url != "https://target.example/page" {
		t.Errorf("navigation url = %q", url)
	}
}

func TestSessionStartFailureReported(t *testing.T) {
	h := newHarness(t, func(e *rendertest.Engine) { e.LaunchErr = io.ErrUnexpectedEOF })
	ws := h.dial(t)

	send(t, ws, protocol.FrameSession, protocol.EncodeSessionRequest(&protocol.SessionRequest{URL: "example.com"}))

	f := readUntil(t, ws, protocol.FrameError, 2*time.Second)
	em, err := protocol.DecodeErrorMessage(f.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if em.Code != protocol.ErrSessionStartFailed || em.Message != "Failed to start session" {
		t.Errorf("error message = %+v", em)
	}
	if h.srv.Registry().Count() != 0 {
		t.Error("failed session registered")
	}
}

func TestDisconnectMidStream(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t)

	send(t, ws, protocol.FrameSession, protocol.EncodeSessionRequest(&protocol.SessionRequest{URL: "example.com"}))
	readUntil(t, ws, protocol.FrameImage, 2*time.Second)

	var sess *Session
	h.srv.Registry().ForEach(func(s *Session) bool {
		sess = s
		return false
	})
	if sess == nil {
		t.Fatal("no session registered")
	}
	workspace := sess.Target.Workspace()
	_ = ws.Close()

	if !rendertest.WaitFor(2*time.Second, func() bool { return h.srv.Registry().Count() == 0 }) {
		t.Fatal("session not torn down after disconnect")
	}
	if !h.engine.Browsers()[0].Closed() {
		t.Error("browser not closed")
	}
	if _, err := os.Stat(workspace); !os.IsNotExist(err) {
		t.Errorf("workspace %s not removed: %v", workspace, err)
	}
}

func TestWebSocketPongResetsHealth(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t)

	// The client answers pings only while it reads.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var id string
	if !rendertest.WaitFor(time.Second, func() bool {
		h.srv.mu.Lock()
		defer h.srv.mu.Unlock()
		for k := range h.srv.conns {
			id = k
		}
		return id != ""
	}) {
		t.Fatal("connection not registered")
	}

	for i := 0; i < 5; i++ {
		h.srv.Health().Sweep()
		if !rendertest.WaitFor(time.Second, func() bool {
			missed, _ := h.srv.Health().Missed(id)
			return missed == 0
		}) {
			t.Fatalf("sweep %d: pong not observed", i)
		}
	}
}

func TestProtocolPing(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t)

	send(t, ws, protocol.FrameControl, protocol.EncodePing(42))
	f := readUntil(t, ws, protocol.FrameControl, time.Second)
	ctrl, err := protocol.DecodeControl(f.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if ctrl.Type != protocol.ControlPong || ctrl.Ping.Timestamp != 42 {
		t.Errorf("control = %+v", ctrl)
	}
}

func TestInvalidFrameReported(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t)

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{0x7f, 0, 0, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	f := readUntil(t, ws, protocol.FrameError, time.Second)
	em, _ := protocol.DecodeErrorMessage(f.Payload)
	if em.Code != protocol.ErrInvalidFrame {
		t.Errorf("code = %v", em.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.http.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("GET /health = %d %v", resp.StatusCode, body)
	}
}

func TestCleanupEndpoint(t *testing.T) {
	h := newHarness(t)

	stale := filepath.Join(h.root, render.DefaultWorkspacePrefix+"1-stale")
	if err := os.Mkdir(stale, 0o700); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(h.http.URL+"/cleanup", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || !body.Success {
		t.Errorf("POST /cleanup = %d %+v", resp.StatusCode, body)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale workspace not removed")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		accept   string
		wantType string
		wantBody string
	}{
		{"prometheus", "", "text/plain", "virtual_browser_active_connections"},
		{"json", "application/json", "application/json", `"virtual_browser_active_connections"`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			req, _ := http.NewRequest(http.MethodGet, h.http.URL+"/metrics", nil)
			if tc.accept != "" {
				req.Header.Set("Accept", tc.accept)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if !strings.HasPrefix(resp.Header.Get("Content-Type"), tc.wantType) {
				t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
			}
			if !strings.Contains(string(body), tc.wantBody) {
				t.Errorf("body missing %s:\n%s", tc.wantBody, body)
			}
		})
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t)
	send(t, ws, protocol.FrameSession, protocol.EncodeSessionRequest(&protocol.SessionRequest{URL: "example.com"}))
	readUntil(t, ws, protocol.FrameImage, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if h.srv.Registry().Count() != 0 {
		t.Error("sessions left after shutdown")
	}
	if !h.engine.Browsers()[0].Closed() {
		t.Error("browser left open after shutdown")
	}
}

func TestInputFromProtocol(t *testing.T) {
	tests := []struct {
		kind protocol.InputKind
		want render.InputKind
		ok   bool
	}{
		{protocol.InputMouseMove, render.InputMouseMove, true},
		{protocol.InputMouseDown, render.InputMouseDown, true},
		{protocol.InputMouseUp, render.InputMouseUp, true},
		{protocol.InputClick, render.InputClick, true},
		{protocol.InputWheel, render.InputWheel, true},
		{protocol.InputScroll, render.InputScroll, true},
		{protocol.InputKeyboard, render.InputKeyboard, true},
		{protocol.InputKind(0x7f), "", false},
	}
	for _, tc := range tests {
		ev, ok := inputFromProtocol(&protocol.InputEvent{Kind: tc.kind, DeltaY: 3})
		if ok != tc.ok || (ok && (ev.Kind != tc.want || ev.DeltaY != 3)) {
			t.Errorf("inputFromProtocol(%v) = %+v, %v", tc.kind, ev, ok)
		}
	}
}
