// Package session tracks interactive remote-shell sessions: who owns
// them, their lifecycle state, and the background pumps draining their
// output.
package session

import (
	"io"
	"sync"
	"time"

	"github.com/termbridge/termbridge/internal/sshconn"
)

// State represents the session lifecycle state.
type State string

const (
	StateOpening State = "opening"
	StateActive  State = "active"
	StateClosing State = "closing"
	StateClosed  State = "closed"
)

// Terminal size bounds applied to resize requests.
const (
	minCols = 80
	maxCols = 500
	minRows = 24
	maxRows = 200
)

// Shell is the interactive channel of one session.
type Shell interface {
	io.Reader
	io.Writer
	Resize(cols, rows int) error
	Close() error
}

// Conn is an authenticated connection carrying a session's shell.
type Conn interface {
	Close() error
}

// Opener establishes a connection and an interactive shell on it. On
// failure nothing stays open.
type Opener interface {
	Open(params sshconn.ConnectParams, opts sshconn.ShellOptions) (Conn, Shell, error)
}

// factoryOpener adapts sshconn.Factory to the Opener interface.
type factoryOpener struct {
	factory *sshconn.Factory
}

// NewFactoryOpener wraps a connection factory as an Opener.
func NewFactoryOpener(f *sshconn.Factory) Opener {
	return &factoryOpener{factory: f}
}

func (o *factoryOpener) Open(params sshconn.ConnectParams, opts sshconn.ShellOptions) (Conn, Shell, error) {
	conn, err := o.factory.Connect(params)
	if err != nil {
		return nil, nil, err
	}
	shell, err := conn.NewShell(opts)
	if err != nil {
		// Never leak the connection when the channel fails
		conn.Close()
		return nil, nil, err
	}
	return conn, shell, nil
}

// Session is one live interactive shell. Channel I/O and state changes
// are serialized by the session's own lock; registry membership is the
// registry's concern.
type Session struct {
	ID        string
	Owner     string
	Host      string
	User      string
	CreatedAt time.Time

	mu    sync.Mutex
	state State
	conn  Conn
	shell Shell
	cols  int
	rows  int

	// pumpDone is closed when the output pump has exited.
	pumpDone chan struct{}
	// closedOnce guards the session-closed notification.
	closedOnce sync.Once
}

func newSession(id, owner, host, user string, conn Conn, shell Shell, cols, rows int, now time.Time) *Session {
	return &Session{
		ID:        id,
		Owner:     owner,
		Host:      host,
		User:      user,
		CreatedAt: now,
		state:     StateOpening,
		conn:      conn,
		shell:     shell,
		cols:      cols,
		rows:      rows,
		pumpDone:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session accepts input.
func (s *Session) Active() bool {
	return s.State() == StateActive
}

// Size returns the last applied terminal dimensions.
func (s *Session) Size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Conn returns the session's underlying connection, so callers can
// run file management or exec requests over the same authenticated
// link.
func (s *Session) Conn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateOpening {
		s.state = StateActive
	}
}

// Input writes client input to the shell. Pasted lines are newline
// terminated unless marked as the last line, so multi-line pastes keep
// their line structure; typed input goes through byte for byte.
func (s *Session) Input(data string, pasted, isLastLine bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return ErrSessionNotActive
	}

	payload := data
	if pasted && !isLastLine {
		payload += "\n"
	}
	_, err := s.shell.Write([]byte(payload))
	return err
}

// Resize clamps the requested dimensions to the supported range and
// applies them to the pseudo-terminal. The applied size is returned.
func (s *Session) Resize(cols, rows int) (int, int, error) {
	cols, rows = clampSize(cols, rows)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return cols, rows, ErrSessionNotActive
	}
	if err := s.shell.Resize(cols, rows); err != nil {
		return cols, rows, err
	}
	s.cols = cols
	s.rows = rows
	return cols, rows, nil
}

// clampSize bounds terminal dimensions to what remote programs cope with.
func clampSize(cols, rows int) (int, int) {
	if cols < minCols {
		cols = minCols
	}
	if cols > maxCols {
		cols = maxCols
	}
	if rows < minRows {
		rows = minRows
	}
	if rows > maxRows {
		rows = maxRows
	}
	return cols, rows
}

// markInactive moves an active session to closing. The pump calls it
// when the remote side goes away; teardown calls it on local close.
// It is idempotent.
func (s *Session) markInactive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive || s.state == StateOpening {
		s.state = StateClosing
	}
}

// teardown closes the channel and connection. Errors are swallowed: the
// goal is resource release, and a half-dead connection fails these calls
// routinely.
func (s *Session) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.state = StateClosing

	if s.shell != nil {
		_ = s.shell.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.state = StateClosed
}

// PumpDone exposes the pump-exit signal for teardown joins.
func (s *Session) PumpDone() <-chan struct{} {
	return s.pumpDone
}
