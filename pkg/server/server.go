package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/gritskevich/vb/pkg/metrics"
	"github.com/gritskevich/vb/pkg/middleware"
	"github.com/gritskevich/vb/pkg/protocol"
	"github.com/gritskevich/vb/pkg/reaper"
	"github.com/gritskevich/vb/pkg/render"
)

// Server accepts client connections and serves the HTTP control surface.
type Server struct {
	cfg      *Config
	logger   *slog.Logger
	metrics  *metrics.Collector
	reaper   *reaper.Reaper
	registry *Registry
	health   *HealthMonitor
	upgrader websocket.Upgrader
	router   chi.Router

	// baseCtx scopes connection goroutines; cancelled by Shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu           sync.Mutex
	conns        map[string]*Conn
	httpServer   *http.Server
	shuttingDown bool
	wg           sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics uses c instead of a private collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// New creates a Server that renders pages with engine.
func New(cfg *Config, engine render.Engine, logger *slog.Logger, opts ...Option) *Server {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		logger:  logger.With("component", "server"),
		baseCtx: ctx,
		cancel:  cancel,
		conns:   make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(logger)
	}

	s.reaper = reaper.New(cfg.Reaper, logger)
	s.registry = NewRegistry(engine, RegistryOptions{
		Render:            cfg.Render,
		Stream:            cfg.Stream,
		Metrics:           s.metrics,
		Reaper:            s.reaper,
		ClearCacheTimeout: cfg.ClearCacheTimeout,
		Logger:            logger,
	})
	s.reaper.SetLiveSet(s.registry.ActiveWorkspaces)
	s.health = NewHealthMonitor(cfg.HeartbeatInterval, cfg.MaxMissedHeartbeats, logger)

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     cfg.CheckOrigin,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.OpenTelemetry(
		middleware.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/metrics" }),
	))

	track := func(route string) func(http.Handler) http.Handler {
		return middleware.Track(s.metrics, route)
	}
	r.With(track("/ws")).Get("/ws", s.handleWebSocket)
	r.With(track("/health")).Get("/health", s.handleHealth)
	r.With(track("/cleanup")).Post("/cleanup", s.handleCleanup)
	r.With(track("/metrics")).Get("/metrics", s.handleMetrics)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry { return s.registry }

// Health returns the health monitor.
func (s *Server) Health() *HealthMonitor { return s.health }

// Reaper returns the workspace reaper.
func (s *Server) Reaper() *reaper.Reaper { return s.reaper }

// Metrics returns the metrics collector.
func (s *Server) Metrics() *metrics.Collector { return s.metrics }

// Config returns the effective configuration.
func (s *Server) Config() *Config { return s.cfg }

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied with an HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := newConn(uuid.NewString(), ws, s.cfg, s.logger)

	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn.ID()] = conn
	s.wg.Add(2)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		conn.WriteLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.serveConn(conn)
	}()
}

// serveConn runs the read loop of conn and its disconnect path.
func (s *Server) serveConn(conn *Conn) {
	id := conn.ID()
	release := s.metrics.LogConnection(id)
	s.health.Track(id, conn)

	ctx, cancel := context.WithCancel(s.baseCtx)
	go func() {
		select {
		case <-conn.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		cancel()
		s.health.Untrack(id)
		s.registry.Teardown(context.WithoutCancel(ctx), id)
		conn.Close()

		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		release()
	}()

	conn.ws.SetReadLimit(s.cfg.MaxMessageSize)
	conn.ws.SetPongHandler(func(string) error {
		s.health.Observe(id)
		return nil
	})

	s.readLoop(ctx, conn)
}

func (s *Server) readLoop(ctx context.Context, conn *Conn) {
	for {
		mt, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) && !conn.closed.Load() {
				conn.logger.Warn("read error", "error", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			conn.SendError(protocol.ErrInvalidFrame, "binary frames only")
			continue
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			conn.logger.Debug("frame decode error", "error", err)
			conn.SendError(protocol.ErrInvalidFrame, "Invalid frame")
			continue
		}

		switch frame.Type {
		case protocol.FrameSession:
			s.handleSessionFrame(ctx, conn, frame.Payload)
		case protocol.FrameInput:
			s.handleInputFrame(ctx, conn, frame.Payload)
		case protocol.FrameControl:
			if !s.handleControlFrame(conn, frame.Payload) {
				return
			}
		default:
			conn.logger.Warn("unexpected frame type", "type", frame.Type)
			conn.SendError(protocol.ErrInvalidFrame, "Unexpected frame type")
		}
	}
}

func (s *Server) handleSessionFrame(ctx context.Context, conn *Conn, payload []byte) {
	req, err := protocol.DecodeSessionRequest(payload)
	if err != nil {
		conn.SendError(protocol.ErrInvalidInput, "Invalid session request")
		return
	}
	// The client has been told; the error is already logged.
	_ = s.registry.RequestSession(ctx, conn, req.URL)
}

func (s *Server) handleInputFrame(ctx context.Context, conn *Conn, payload []byte) {
	pe, err := protocol.DecodeInputEvent(payload)
	if err != nil {
		conn.SendError(protocol.ErrInvalidInput, "Invalid input event")
		return
	}
	ev, ok := inputFromProtocol(pe)
	if !ok {
		conn.logger.Debug("unknown input kind ignored", "kind", pe.Kind)
		return
	}
	if err := s.registry.RouteInput(ctx, conn.ID(), ev); err != nil {
		conn.logger.Debug("input dispatch failed", "kind", ev.Kind, "error", err)
	}
}

// handleControlFrame reports false when the client asked to close.
func (s *Server) handleControlFrame(conn *Conn, payload []byte) bool {
	ctrl, err := protocol.DecodeControl(payload)
	if err != nil {
		conn.logger.Debug("control decode error", "error", err)
		return true
	}
	switch ctrl.Type {
	case protocol.ControlPing:
		s.health.Observe(conn.ID())
		if err := conn.SendPong(ctrl.Ping.Timestamp); err != nil {
			conn.logger.Debug("pong dropped", "error", err)
		}
	case protocol.ControlPong:
		s.health.Observe(conn.ID())
	case protocol.ControlClose:
		conn.logger.Debug("client closed session", "reason", ctrl.Close.Reason)
		return false
	}
	return true
}

func inputFromProtocol(pe *protocol.InputEvent) (render.InputEvent, bool) {
	ev := render.InputEvent{
		X:      pe.X,
		Y:      pe.Y,
		DeltaY: pe.DeltaY,
		Key:    pe.Key,
		Text:   pe.Text,
		Down:   pe.Down,
	}
	switch pe.Kind {
	case protocol.InputMouseMove:
		ev.Kind = render.InputMouseMove
	case protocol.InputMouseDown:
		ev.Kind = render.InputMouseDown
	case protocol.InputMouseUp:
		ev.Kind = render.InputMouseUp
	case protocol.InputClick:
		ev.Kind = render.InputClick
	case protocol.InputWheel:
		ev.Kind = render.InputWheel
	case protocol.InputScroll:
		ev.Kind = render.InputScroll
	case protocol.InputKeyboard:
		ev.Kind = render.InputKeyboard
	default:
		return ev, false
	}
	return ev, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	cleared := s.registry.ClearCaches(r.Context())
	res, err := s.reaper.Sweep(r.Context())
	if err != nil {
		s.logger.Error("cleanup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	s.logger.Info("cleanup completed", "sessions", cleared, "removed", res.Removed)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Cleanup completed successfully",
		"sessions": cleared,
		"removed":  res.Removed,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !wantsJSON(r) {
		s.metrics.Handler().ServeHTTP(w, r)
		return
	}
	snap, err := s.metrics.Snapshot()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics":  snap,
		"sessions": s.registry.Stats(),
	})
}

func wantsJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == "application/json" {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:     s,
		BaseContext: func(net.Listener) context.Context { return s.baseCtx },
	}
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("server listening", "address", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run serves HTTP and runs the health monitor and the reaper until ctx
// is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(s.ListenAndServe)
	g.Go(func() error { return s.health.Run(gctx) })
	g.Go(func() error { return s.reaper.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(sctx)
	})

	return g.Wait()
}

// Shutdown stops accepting connections, tears down every session, closes
// every connection and runs a final workspace sweep.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")

	s.mu.Lock()
	s.shuttingDown = true
	srv := s.httpServer
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.registry.ShutdownAll(ctx); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	s.cancel()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.ForceClose(protocol.CloseServerShutdown, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.reaper.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}
