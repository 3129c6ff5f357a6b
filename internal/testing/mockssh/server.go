// Package mockssh runs a real SSH server on a loopback port so
// integration tests can drive the connection factory, the session
// engine and the transfer pipeline end to end. Shell and exec requests
// run the configured shell on a local PTY; the sftp subsystem serves
// the test process's own filesystem.
package mockssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/creack/pty"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Server accepts SSH connections on 127.0.0.1 with a throwaway ed25519
// host key. Close tears down the listener and every live session.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	shell    string

	mu       sync.RWMutex
	users    map[string]string
	authKeys [][]byte

	done chan struct{}
	wg   sync.WaitGroup

	sessionsMu sync.Mutex
	sessions   []*channelSession
}

type channelSession struct {
	channel ssh.Channel

	mu   sync.Mutex
	ptmx *os.File
	cmd  *exec.Cmd
}

func (cs *channelSession) setProcess(ptmx *os.File, cmd *exec.Cmd) {
	cs.mu.Lock()
	cs.ptmx = ptmx
	cs.cmd = cmd
	cs.mu.Unlock()
}

func (cs *channelSession) setSize(cols, rows uint32) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.ptmx != nil {
		pty.Setsize(cs.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	}
}

func (cs *channelSession) teardown() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.ptmx != nil {
		cs.ptmx.Close()
	}
	if cs.cmd != nil && cs.cmd.Process != nil {
		cs.cmd.Process.Kill()
	}
	if cs.channel != nil {
		cs.channel.Close()
	}
}

// Option configures the server before it starts listening.
type Option func(*Server)

// WithShell sets the program run for shell and exec requests. The
// default is /bin/sh.
func WithShell(shell string) Option {
	return func(s *Server) {
		s.shell = shell
	}
}

// WithUser registers a user allowed to log in with the given password.
func WithUser(user, password string) Option {
	return func(s *Server) {
		s.users[user] = password
	}
}

// WithAuthorizedKey allows public-key logins with the given key, for
// any registered user.
func WithAuthorizedKey(key ssh.PublicKey) Option {
	return func(s *Server) {
		s.authKeys = append(s.authKeys, key.Marshal())
	}
}

// New starts a server on a random loopback port. Register at least one
// user or key, or every handshake will fail.
func New(opts ...Option) (*Server, error) {
	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		return nil, fmt.Errorf("host key signer: %w", err)
	}

	s := &Server{
		shell: "/bin/sh",
		users: make(map[string]string),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.config = &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			s.mu.RLock()
			want, ok := s.users[meta.User()]
			s.mu.RUnlock()
			if ok && string(password) == want {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", meta.User())
		},
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			marshaled := key.Marshal()
			s.mu.RLock()
			defer s.mu.RUnlock()
			for _, allowed := range s.authKeys {
				if string(allowed) == string(marshaled) {
					return nil, nil
				}
			}
			return nil, fmt.Errorf("key rejected for %q", meta.User())
		},
	}
	s.config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Debug("mock ssh server listening", slog.String("addr", s.addr))
	return s, nil
}

// Addr returns the listening address as host:port.
func (s *Server) Addr() string {
	return s.addr
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, portStr, _ := net.SplitHostPort(s.addr)
	port, _ := strconv.Atoi(portStr)
	return port
}

// Close stops the listener, kills every session process and waits for
// the handler goroutines to drain.
func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()

	s.sessionsMu.Lock()
	for _, sess := range s.sessions {
		sess.teardown()
	}
	s.sessions = nil
	s.sessionsMu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("mock ssh accept", slog.String("error", err.Error()))
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("mock ssh handshake", slog.String("error", err.Error()))
		return
	}
	defer sshConn.Close()

	go handleGlobalRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			slog.Debug("mock ssh channel accept", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go s.handleChannel(channel, requests)
	}
}

// handleGlobalRequests answers keepalive probes and discards the rest.
func handleGlobalRequests(reqs <-chan *ssh.Request) {
	for req := range reqs {
		if req.WantReply {
			req.Reply(req.Type == "keepalive@openssh.com", nil)
		}
	}
}

type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	WidthPx  uint32
	HeightPx uint32
	Modes    string
}

type windowChangeMsg struct {
	Columns  uint32
	Rows     uint32
	WidthPx  uint32
	HeightPx uint32
}

type execMsg struct {
	Command string
}

type subsystemMsg struct {
	Name string
}

type envMsg struct {
	Name  string
	Value string
}

func (s *Server) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()

	sess := &channelSession{channel: channel}
	s.sessionsMu.Lock()
	s.sessions = append(s.sessions, sess)
	s.sessionsMu.Unlock()

	var ptyReq *ptyRequestMsg
	var env []string

	for req := range requests {
		switch req.Type {
		case "pty-req":
			var msg ptyRequestMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil {
				ptyReq = &msg
			}
			reply(req, ptyReq != nil)

		case "env":
			var msg envMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil {
				env = append(env, msg.Name+"="+msg.Value)
			}
			reply(req, true)

		case "shell":
			reply(req, true)
			s.startProcess(sess, []string{s.shell}, ptyReq, env)

		case "exec":
			var msg execMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				reply(req, false)
				continue
			}
			reply(req, true)
			s.startProcess(sess, []string{s.shell, "-c", msg.Command}, ptyReq, env)

		case "subsystem":
			var msg subsystemMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil || msg.Name != "sftp" {
				reply(req, false)
				continue
			}
			reply(req, true)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				serveSFTP(channel)
			}()

		case "window-change":
			var msg windowChangeMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil {
				sess.setSize(msg.Columns, msg.Rows)
			}
			reply(req, true)

		default:
			reply(req, false)
		}
	}

	// The client hung up; reap whatever the channel was running.
	sess.teardown()
}

func reply(req *ssh.Request, ok bool) {
	if req.WantReply {
		req.Reply(ok, nil)
	}
}

// startProcess launches argv in the background so the request loop
// keeps answering window changes while the program runs. The channel
// is closed with an exit status once the program finishes.
func (s *Server) startProcess(sess *channelSession, argv []string, ptyReq *ptyRequestMsg, env []string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runProcess(sess, argv, ptyReq, env)
	}()
}

// runProcess executes argv on a PTY when one was requested, or
// captures combined output otherwise, then reports the exit status.
func (s *Server) runProcess(sess *channelSession, argv []string, ptyReq *ptyRequestMsg, env []string) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)

	if ptyReq == nil {
		sess.setProcess(nil, cmd)
		output, err := cmd.CombinedOutput()
		sess.channel.Write(output)
		sendExitStatus(sess.channel, exitCode(err))
		return
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(ptyReq.Rows),
		Cols: uint16(ptyReq.Columns),
	})
	if err != nil {
		slog.Debug("mock ssh pty start", slog.String("error", err.Error()))
		sendExitStatus(sess.channel, 1)
		return
	}
	sess.setProcess(ptmx, cmd)

	outDone := make(chan struct{})
	go func() {
		io.Copy(sess.channel, ptmx)
		close(outDone)
	}()
	go io.Copy(ptmx, sess.channel)

	code := exitCode(cmd.Wait())
	ptmx.Close()
	<-outDone

	sendExitStatus(sess.channel, code)
}

func serveSFTP(channel ssh.Channel) {
	server, err := sftp.NewServer(channel)
	if err != nil {
		slog.Debug("mock ssh sftp server", slog.String("error", err.Error()))
		return
	}
	if err := server.Serve(); err != nil && err != io.EOF {
		slog.Debug("mock ssh sftp serve", slog.String("error", err.Error()))
	}
	server.Close()
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

type exitStatusMsg struct {
	Status uint32
}

func sendExitStatus(channel ssh.Channel, code int) {
	channel.CloseWrite()
	channel.SendRequest("exit-status", false, ssh.Marshal(exitStatusMsg{Status: uint32(code)}))
	channel.Close()
}
