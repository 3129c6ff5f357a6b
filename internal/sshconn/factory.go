// Package sshconn establishes SSH connections and interactive shell
// channels for remote sessions.
package sshconn

import (
	"fmt"
	"math"
	"time"

	"github.com/termbridge/termbridge/internal/adapters/realclock"
	"github.com/termbridge/termbridge/internal/adapters/realfs"
	"github.com/termbridge/termbridge/internal/adapters/realsshdialer"
	"github.com/termbridge/termbridge/internal/ports"
	"golang.org/x/crypto/ssh"
)

// FactoryOptions configures connection establishment.
type FactoryOptions struct {
	ConnectTimeout    time.Duration
	Term              string
	Cols              int
	Rows              int
	KnownHostsPath    string
	StrictHostKey     bool
	KeepaliveInterval time.Duration
	Clock             ports.Clock
	Dialer            ports.SSHDialer
	FS                ports.FileSystem
}

// DefaultFactoryOptions returns the default factory options.
func DefaultFactoryOptions() FactoryOptions {
	return FactoryOptions{
		ConnectTimeout:    30 * time.Second,
		Term:              "xterm-256color",
		Cols:              132,
		Rows:              43,
		KeepaliveInterval: 30 * time.Second,
	}
}

// Factory dials SSH servers and hands out live connections.
type Factory struct {
	opts FactoryOptions
}

// NewFactory creates a connection factory, filling in defaults for any
// zero-valued options.
func NewFactory(opts FactoryOptions) *Factory {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
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
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}
	if opts.Dialer == nil {
		opts.Dialer = realsshdialer.New()
	}
	if opts.FS == nil {
		opts.FS = realfs.New()
	}
	return &Factory{opts: opts}
}

// Term returns the terminal type new shells are opened with.
func (f *Factory) Term() string { return f.opts.Term }

// InitialSize returns the terminal dimensions new shells are opened with.
func (f *Factory) InitialSize() (cols, rows int) { return f.opts.Cols, f.opts.Rows }

// Connect dials the host and completes the SSH handshake. Failures come
// back as *ConnectError with a Kind, or *KeyError for unusable keys.
func (f *Factory) Connect(params ConnectParams) (*Conn, error) {
	if params.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if params.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if params.Port == 0 {
		params.Port = 22
	}

	methods, err := buildAuthMethods(params, f.opts.FS)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := buildHostKeyCallback(f.opts.KnownHostsPath, f.opts.StrictHostKey, f.opts.FS)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            params.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         f.opts.ConnectTimeout,
		Config: ssh.Config{
			// Interactive sessions stay open for hours; push rekeying
			// out of the way so long transfers never stall on it.
			RekeyThreshold: math.MaxInt64,
		},
	}

	addr := fmt.Sprintf("%s:%d", params.Host, params.Port)
	client, err := f.opts.Dialer.Dial("tcp", addr, config)
	if err != nil {
		return nil, &ConnectError{Kind: classifyDialError(err), Addr: addr, Err: err}
	}

	conn := newConn(client, params.Host, params.Port, params.User, f.opts.Clock, f.opts.KeepaliveInterval)
	return conn, nil
}
