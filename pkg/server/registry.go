package server

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gritskevich/vb/pkg/protocol"
	"github.com/gritskevich/vb/pkg/reaper"
	"github.com/gritskevich/vb/pkg/render"
	"github.com/gritskevich/vb/pkg/stream"
)

const tracerName = "github.com/gritskevich/vb/pkg/server"

// Client is the connection side of a session: it receives frames,
// navigation notices and errors.
type Client interface {
	ID() string
	stream.Sink
	render.NavigationObserver
	SendError(code protocol.ErrorCode, message string)
}

// Metrics receives stream and navigation metrics.
type Metrics interface {
	stream.Reporter
	render.NavigationRecorder
}

// WorkspaceReaper reclaims workspace directories.
type WorkspaceReaper interface {
	Trigger()
	Sweep(ctx context.Context) (reaper.Result, error)
}

// Session pairs a render target with the streamer reading from it.
type Session struct {
	ID        string
	Target    *render.Target
	Streamer  *stream.Streamer
	CreatedAt time.Time
}

// SessionInfo describes a live session.
type SessionInfo struct {
	ID        string       `json:"id"`
	URL       string       `json:"url"`
	State     string       `json:"state"`
	Workspace string       `json:"workspace"`
	CreatedAt time.Time    `json:"createdAt"`
	Stream    stream.Stats `json:"-"`
}

// RegistryStats contains registry statistics.
type RegistryStats struct {
	Active       int           `json:"active"`
	TotalCreated uint64        `json:"totalCreated"`
	TotalClosed  uint64        `json:"totalClosed"`
	Sessions     []SessionInfo `json:"sessions"`
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Render            *render.Options
	Stream            *stream.Config
	Metrics           Metrics
	Reaper            WorkspaceReaper
	ClearCacheTimeout time.Duration
	Logger            *slog.Logger
}

// Registry maps connection ids to sessions. Each connection has at most
// one session. Operations on one connection are serialized; different
// connections proceed independently.
type Registry struct {
	engine            render.Engine
	renderOpts        *render.Options
	streamCfg         *stream.Config
	metrics           Metrics
	reaper            WorkspaceReaper
	clearCacheTimeout time.Duration
	logger            *slog.Logger
	tracer            trace.Tracer

	mu       sync.RWMutex
	sessions map[string]*Session
	locks    map[string]*connLock
	closing  bool

	totalCreated atomic.Uint64
	totalClosed  atomic.Uint64
}

type connLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry creates a Registry that launches targets on engine.
func NewRegistry(engine render.Engine, opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.ClearCacheTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Registry{
		engine:            engine,
		renderOpts:        opts.Render,
		streamCfg:         opts.Stream,
		metrics:           opts.Metrics,
		reaper:            opts.Reaper,
		clearCacheTimeout: timeout,
		logger:            logger.With("component", "registry"),
		tracer:            otel.Tracer(tracerName),
		sessions:          make(map[string]*Session),
		locks:             make(map[string]*connLock),
	}
}

// lock serializes operations on one connection id and returns the unlock
// function.
func (r *Registry) lock(id string) func() {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &connLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) isClosing() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closing
}

// RequestSession replaces the client's session with a fresh one navigated
// to rawURL. On failure the client receives an error message, any partial
// session is torn down and nothing stays registered.
func (r *Registry) RequestSession(ctx context.Context, client Client, rawURL string) error {
	id := client.ID()
	unlock := r.lock(id)
	defer unlock()

	if r.isClosing() {
		client.SendError(protocol.ErrSessionStartFailed, "Failed to start session")
		return &SessionError{ConnID: id, Op: "request", Err: ErrRegistryClosed}
	}

	ctx, span := r.tracer.Start(ctx, "session.request",
		trace.WithAttributes(
			attribute.String("conn.id", id),
			attribute.String("session.url", rawURL),
		))
	defer span.End()

	// An existing session is fully gone before its replacement launches.
	r.teardownLocked(ctx, id)

	var (
		target   = render.NewTarget(r.engine, r.renderOpts, r.logger)
		streamer *stream.Streamer
	)
	fail := func(op string, err error) error {
		r.discard(ctx, id, target, streamer)
		client.SendError(protocol.ErrSessionStartFailed, "Failed to start session")
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
		r.logger.Error("session start failed", "conn_id", id, "op", op, "url", rawURL, "error", err)
		return &SessionError{ConnID: id, Op: op, Err: err}
	}

	if r.metrics != nil {
		target.SetRecorder(r.metrics)
	}
	if err := target.Initialize(ctx); err != nil {
		return fail("initialize", err)
	}
	target.SetNavigationObserver(client)
	if err := target.Navigate(ctx, rawURL); err != nil {
		return fail("navigate", err)
	}

	var reporter stream.Reporter
	if r.metrics != nil {
		reporter = r.metrics
	}
	streamer = stream.New(id, client, reporter, r.streamCfg, r.logger)
	if err := streamer.Start(target); err != nil {
		return fail("stream", err)
	}

	sess := &Session{ID: id, Target: target, Streamer: streamer, CreatedAt: time.Now()}

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return fail("register", ErrRegistryClosed)
	}
	r.sessions[id] = sess
	r.mu.Unlock()
	r.totalCreated.Add(1)

	r.logger.Info("session started",
		"conn_id", id,
		"url", target.CurrentURL(),
		"workspace", target.Workspace(),
		"active_sessions", r.Count())
	return nil
}

// RouteInput dispatches ev to the connection's session. Input for a
// connection without a session is ignored.
func (r *Registry) RouteInput(ctx context.Context, id string, ev render.InputEvent) error {
	sess, ok := r.Get(id)
	if !ok {
		return nil
	}
	if err := sess.Target.DispatchInput(ctx, ev); err != nil {
		return &SessionError{ConnID: id, Op: "input", Err: err}
	}
	return nil
}

// Get returns the session of a connection.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Teardown ends the connection's session, if any. The entry is removed
// only after the streamer stopped and the target closed. Teardown is
// idempotent.
func (r *Registry) Teardown(ctx context.Context, id string) {
	unlock := r.lock(id)
	defer unlock()
	r.teardownLocked(ctx, id)
}

// teardownLocked tears down the session of id. Callers hold id's lock.
func (r *Registry) teardownLocked(ctx context.Context, id string) bool {
	sess, ok := r.Get(id)
	if !ok {
		return false
	}

	r.release(ctx, id, sess.Target, sess.Streamer)

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	r.totalClosed.Add(1)

	r.logger.Info("session closed",
		"conn_id", id,
		"duration", time.Since(sess.CreatedAt).Round(time.Millisecond),
		"active_sessions", r.Count())

	if r.reaper != nil {
		r.reaper.Trigger()
	}
	return true
}

// discard releases a session that never got registered.
func (r *Registry) discard(ctx context.Context, id string, target *render.Target, streamer *stream.Streamer) {
	r.release(context.WithoutCancel(ctx), id, target, streamer)
	if r.reaper != nil {
		r.reaper.Trigger()
	}
}

// release stops the streamer, then clears and closes the target, then
// removes its workspace.
func (r *Registry) release(ctx context.Context, id string, target *render.Target, streamer *stream.Streamer) {
	if streamer != nil {
		streamer.Stop()
	}

	cctx, cancel := context.WithTimeout(ctx, r.clearCacheTimeout)
	target.ClearCache(cctx)
	cancel()

	if err := target.Close(); err != nil {
		r.logger.Warn("target close failed", "conn_id", id, "error", err)
	}
	if err := target.CleanupWorkspace(); err != nil {
		r.logger.Warn("workspace cleanup failed", "conn_id", id, "error", err)
	}
}

// ShutdownAll refuses new sessions, tears down every session in turn and
// then runs a final synchronous workspace sweep.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	r.logger.Info("shutting down sessions", "count", len(ids))
	for _, id := range ids {
		r.Teardown(context.WithoutCancel(ctx), id)
	}

	if r.reaper == nil {
		return nil
	}
	res, err := r.reaper.Sweep(ctx)
	r.logger.Info("final workspace sweep", "removed", res.Removed, "errors", res.Errors)
	return err
}

// ClearCaches clears the cache of every live session and returns how
// many sessions were cleared.
func (r *Registry) ClearCaches(ctx context.Context) int {
	var targets []*render.Target
	r.ForEach(func(s *Session) bool {
		targets = append(targets, s.Target)
		return true
	})
	for _, t := range targets {
		cctx, cancel := context.WithTimeout(ctx, r.clearCacheTimeout)
		t.ClearCache(cctx)
		cancel()
	}
	return len(targets)
}

// ActiveWorkspaces returns the workspace paths of live sessions.
func (r *Registry) ActiveWorkspaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		if ws := s.Target.Workspace(); ws != "" {
			out = append(out, ws)
		}
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEach calls fn for each live session until fn returns false. fn runs
// without the registry lock held.
func (r *Registry) ForEach(fn func(*Session) bool) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	for _, s := range sessions {
		if !fn(s) {
			return
		}
	}
}

// Stats returns registry statistics.
func (r *Registry) Stats() RegistryStats {
	st := RegistryStats{
		TotalCreated: r.totalCreated.Load(),
		TotalClosed:  r.totalClosed.Load(),
	}
	r.ForEach(func(s *Session) bool {
		ss := s.Streamer.Stats()
		st.Sessions = append(st.Sessions, SessionInfo{
			ID:        s.ID,
			URL:       s.Target.CurrentURL(),
			State:     ss.State.String(),
			Workspace: s.Target.Workspace(),
			CreatedAt: s.CreatedAt,
			Stream:    ss,
		})
		return true
	})
	st.Active = len(st.Sessions)
	return st
}
