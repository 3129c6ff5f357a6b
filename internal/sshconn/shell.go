package sshconn

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ShellOptions configures PTY allocation for an interactive shell.
type ShellOptions struct {
	Term string            // Terminal type (default: xterm-256color)
	Cols int               // Terminal columns (default: 132)
	Rows int               // Terminal rows (default: 43)
	Env  map[string]string // Extra environment variables to request
}

// Shell is an interactive login shell running on a remote PTY.
type Shell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	mu      sync.Mutex

	term string
	cols int
	rows int
}

// NewShell allocates a PTY on the connection and starts the login shell.
func (c *Conn) NewShell(opts ShellOptions) (*Shell, error) {
	if opts.Term == "" {
		opts.Term = "xterm-256color"
	}
	if opts.Cols <= 0 {
		opts.Cols = 132
	}
	if opts.Rows <= 0 {
		opts.Rows = 43
	}

	session, err := c.newSession()
	if err != nil {
		return nil, err
	}

	// Servers commonly restrict AcceptEnv, so failures here are expected
	// and harmless.
	for key, value := range shellEnv(opts) {
		_ = session.Setenv(key, value)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	if err := session.RequestPty(opts.Term, opts.Rows, opts.Cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &Shell{
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		term:    opts.Term,
		cols:    opts.Cols,
		rows:    opts.Rows,
	}, nil
}

// shellEnv builds the environment requested for a new shell. Color and
// locale settings come first so full-screen programs render correctly;
// COLUMNS and LINES mirror the PTY size for programs that read them
// instead of issuing TIOCGWINSZ.
func shellEnv(opts ShellOptions) map[string]string {
	env := map[string]string{
		"TERM":      opts.Term,
		"COLORTERM": "truecolor",
		"LANG":      "en_US.UTF-8",
		"LC_ALL":    "en_US.UTF-8",
		"COLUMNS":   strconv.Itoa(opts.Cols),
		"LINES":     strconv.Itoa(opts.Rows),
	}
	for k, v := range opts.Env {
		env[k] = v
	}
	return env
}

// Read reads shell output. It blocks until output arrives and returns
// io.EOF once the remote shell exits.
func (s *Shell) Read(b []byte) (int, error) {
	return s.stdout.Read(b)
}

// Write sends input to the shell.
func (s *Shell) Write(b []byte) (int, error) {
	return s.stdin.Write(b)
}

// Resize changes the PTY window size.
func (s *Shell) Resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return fmt.Errorf("shell closed")
	}
	if err := s.session.WindowChange(rows, cols); err != nil {
		return fmt.Errorf("window change: %w", err)
	}

	s.cols = cols
	s.rows = rows
	return nil
}

// Size returns the current PTY dimensions.
func (s *Shell) Size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Term reports the negotiated terminal type.
func (s *Shell) Term() string { return s.term }

// Signal delivers a signal to the remote process.
func (s *Shell) Signal(sig ssh.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return fmt.Errorf("shell closed")
	}
	return s.session.Signal(sig)
}

// Wait blocks until the remote shell exits.
func (s *Shell) Wait() error {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Wait()
}

// Close tears down the shell channel. Safe to call more than once.
func (s *Shell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}
