package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/termbridge/termbridge/internal/adapters/realclock"
	"github.com/termbridge/termbridge/internal/ports"
	"github.com/termbridge/termbridge/internal/sshconn"
)

// pumpJoinTimeout bounds how long teardown waits for a session's pump
// to stop before giving up on the join.
const pumpJoinTimeout = 2 * time.Second

// Close reasons delivered with the session-closed notification.
const (
	ReasonClientClosed = "closed by client"
	ReasonDisconnect   = "client disconnected"
	ReasonRemoteClosed = "remote end closed"
	ReasonShutdown     = "server shutting down"
)

// EngineOptions configures a session engine.
type EngineOptions struct {
	Opener Opener
	Sink   Sink
	Clock  ports.Clock

	Term          string
	Cols          int
	Rows          int
	ReadQuantum   int
	PollInterval  time.Duration
	KeepaliveIdle time.Duration

	// MaxSessionsPerClient caps concurrent sessions per owner; 0 means
	// no limit.
	MaxSessionsPerClient int
}

// Engine orchestrates session lifecycle: it wires the connection
// factory, the registry, and the output pumps together, and guarantees
// cleanup on every exit path.
type Engine struct {
	opener Opener
	reg    *Registry
	sink   Sink
	clock  ports.Clock

	term          string
	cols          int
	rows          int
	readQuantum   int
	pollInterval  time.Duration
	keepaliveIdle time.Duration
	maxPerClient  int
}

// NewEngine creates an engine, filling in defaults for zero-valued
// options. Opener is the only required dependency.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}
	if opts.Term == "" {
		opts.Term = "xterm-256color"
	}
	if opts.Cols <= 0 {
		opts.Cols = 132
	}
	if opts.Rows <= 0 {
		opts.Rows = 43
	}
	if opts.ReadQuantum <= 0 {
		opts.ReadQuantum = 1024
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.KeepaliveIdle <= 0 {
		opts.KeepaliveIdle = 60 * time.Second
	}

	return &Engine{
		opener:        opts.Opener,
		reg:           NewRegistry(),
		sink:          opts.Sink,
		clock:         opts.Clock,
		term:          opts.Term,
		cols:          opts.Cols,
		rows:          opts.Rows,
		readQuantum:   opts.ReadQuantum,
		pollInterval:  opts.PollInterval,
		keepaliveIdle: opts.KeepaliveIdle,
		maxPerClient:  opts.MaxSessionsPerClient,
	}
}

// Registry exposes the session table for read-side consumers.
func (e *Engine) Registry() *Registry {
	return e.reg
}

// Open connects to the remote host and registers a new session under
// the requesting client. The session id is caller-supplied and must be
// unused. On connect failure no registry entry is created.
func (e *Engine) Open(sessionID, clientID string, params sshconn.ConnectParams) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if _, ok := e.reg.Get(sessionID); ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	if e.maxPerClient > 0 && e.reg.CountByOwner(clientID) >= e.maxPerClient {
		return fmt.Errorf("max sessions reached (%d)", e.maxPerClient)
	}

	// Dial outside any lock: connects take seconds, lookups must not.
	conn, shell, err := e.opener.Open(params, sshconn.ShellOptions{
		Term: e.term,
		Cols: e.cols,
		Rows: e.rows,
	})
	if err != nil {
		return err
	}

	s := newSession(sessionID, clientID, params.Host, params.User, conn, shell, e.cols, e.rows, e.clock.Now())
	s.activate()

	if err := e.reg.Add(s); err != nil {
		// Lost the race on the id: release what we opened.
		s.teardown()
		return err
	}

	go e.runPump(s)

	slog.Info("session opened",
		slog.String("session_id", sessionID),
		slog.String("client_id", clientID),
		slog.String("host", params.Host),
		slog.String("user", params.User),
	)
	return nil
}

// Input forwards client input to an owned, active session.
func (e *Engine) Input(sessionID, clientID, data string, pasted, isLastLine bool) error {
	s, ok := e.reg.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if s.Owner != clientID {
		return fmt.Errorf("%w: %s", ErrNotOwner, sessionID)
	}
	return s.Input(data, pasted, isLastLine)
}

// Resize applies a clamped terminal size to a session. A resize for an
// unknown session is a no-op, not an error, since resize requests race
// session closure. The size that was (or would have been) applied is
// returned.
func (e *Engine) Resize(sessionID string, cols, rows int) (int, int, error) {
	s, ok := e.reg.Get(sessionID)
	if !ok {
		c, r := clampSize(cols, rows)
		return c, r, nil
	}
	return s.Resize(cols, rows)
}

// Close tears down an owned session and removes it from the registry.
func (e *Engine) Close(sessionID, clientID string) error {
	s, ok := e.reg.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if s.Owner != clientID {
		return fmt.Errorf("%w: %s", ErrNotOwner, sessionID)
	}

	e.closeSession(s, ReasonClientClosed)
	return nil
}

// CloseClient closes every session owned by a disconnecting client and
// returns how many were closed.
func (e *Engine) CloseClient(clientID string) int {
	sessions := e.reg.ByOwner(clientID)
	for _, s := range sessions {
		e.closeSession(s, ReasonDisconnect)
	}
	return len(sessions)
}

// Shutdown closes every registered session, without ownership checks.
func (e *Engine) Shutdown() {
	sessions := e.reg.List()
	for _, s := range sessions {
		e.closeSession(s, ReasonShutdown)
	}
	if len(sessions) > 0 {
		slog.Info("all sessions closed", slog.Int("count", len(sessions)))
	}
}

// closeSession is the single teardown path: mark, drop the registry
// entry, notify once, close handles, and join the pump with a bounded
// wait so shutdown stays deterministic. The notification goes out
// before teardown so the pump's own exit (woken by the closing
// channel) never beats us to the closed event with the wrong reason.
func (e *Engine) closeSession(s *Session, reason string) {
	s.markInactive()
	e.reg.Remove(s.ID)
	e.emitClosed(s, reason)
	s.teardown()

	select {
	case <-s.pumpDone:
	case <-e.clock.After(pumpJoinTimeout):
		slog.Warn("output pump did not stop in time",
			slog.String("session_id", s.ID))
	}

	slog.Info("session closed",
		slog.String("session_id", s.ID),
		slog.String("reason", reason),
	)
}

// emitClosed delivers the closed notification exactly once per session.
func (e *Engine) emitClosed(s *Session, reason string) {
	s.closedOnce.Do(func() {
		e.sink.SessionClosed(s.ID, reason)
	})
}
