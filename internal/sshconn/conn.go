package sshconn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/termbridge/termbridge/internal/ports"
	"golang.org/x/crypto/ssh"
)

// Conn is an established SSH connection to a remote host.
type Conn struct {
	client *ssh.Client
	host   string
	port   int
	user   string
	mu     sync.Mutex

	keepaliveInterval time.Duration
	keepaliveStop     chan struct{}

	// SFTP client for metadata operations (lazy initialized)
	sftpClient *sftp.Client

	clock ports.Clock
}

func newConn(client *ssh.Client, host string, port int, user string, clock ports.Clock, keepaliveInterval time.Duration) *Conn {
	c := &Conn{
		client:            client,
		host:              host,
		port:              port,
		user:              user,
		keepaliveInterval: keepaliveInterval,
		keepaliveStop:     make(chan struct{}),
		clock:             clock,
	}

	// Hand the goroutine its own reference; Close nils the field under the lock.
	stop := c.keepaliveStop
	go c.keepalive(stop)

	return c
}

// keepalive sends periodic transport-level keepalive requests so NAT
// gateways and firewalls do not drop the idle connection.
func (c *Conn) keepalive(stop <-chan struct{}) {
	ticker := c.clock.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			c.mu.Lock()
			if c.client != nil {
				// A failure here means the connection is probably dead;
				// the next operation will surface it.
				_, _, _ = c.client.SendRequest("keepalive@openssh.com", true, nil)
			}
			c.mu.Unlock()
		}
	}
}

// Host returns the remote host name.
func (c *Conn) Host() string { return c.host }

// Port returns the remote port.
func (c *Conn) Port() int { return c.port }

// User returns the login user.
func (c *Conn) User() string { return c.user }

// Addr returns "host:port" for logging and error messages.
func (c *Conn) Addr() string { return fmt.Sprintf("%s:%d", c.host, c.port) }

// RemoteAddr returns the remote network address, or nil after Close.
func (c *Conn) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client.RemoteAddr()
	}
	return nil
}

// newSession opens a raw SSH session on the connection.
func (c *Conn) newSession() (*ssh.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, fmt.Errorf("connection closed")
	}

	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return session, nil
}

// SFTP returns a shared SFTP client for metadata operations (stat, list,
// mkdir and the like). It is lazily initialized and tied to the
// connection's lifetime. Transfers should use NewSFTP instead so they can
// size their own packet and concurrency options.
func (c *Conn) SFTP() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, fmt.Errorf("connection closed")
	}

	if c.sftpClient == nil {
		client, err := sftp.NewClient(c.client,
			sftp.MaxPacketUnchecked(256*1024),
			sftp.UseConcurrentReads(true),
			sftp.UseConcurrentWrites(true),
		)
		if err != nil {
			return nil, fmt.Errorf("sftp client: %w", err)
		}
		c.sftpClient = client
	}

	return c.sftpClient, nil
}

// NewSFTP opens a dedicated SFTP client with the given options. The caller
// owns it and must Close it; closing it does not affect the connection.
func (c *Conn) NewSFTP(opts ...sftp.ClientOption) (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, fmt.Errorf("connection closed")
	}

	client, err := sftp.NewClient(c.client, opts...)
	if err != nil {
		return nil, fmt.Errorf("sftp client: %w", err)
	}
	return client, nil
}

// Output runs a command on the remote host and returns its combined
// output. The session is torn down if ctx expires first.
func (c *Conn) Output(ctx context.Context, cmd string) ([]byte, error) {
	session, err := c.newSession()
	if err != nil {
		return nil, err
	}

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)

	go func() {
		out, err := session.CombinedOutput(cmd)
		session.Close()
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return r.out, fmt.Errorf("run %q: %w", cmd, r.err)
		}
		return r.out, nil
	}
}

// Close shuts down the keepalive loop, the shared SFTP client, and the
// underlying connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}

	if c.sftpClient != nil {
		c.sftpClient.Close()
		c.sftpClient = nil
	}

	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// Alive reports whether the connection has not been closed locally.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}
