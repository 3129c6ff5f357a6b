// Package fakesshdialer implements the SSHDialer seam without touching the
// network. The connection factory's auth ladder and error classifier run
// against it: tests script the dial outcome and inspect what was attempted.
package fakesshdialer

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Dialer records every Dial and answers with whatever the test scripted.
type Dialer struct {
	mu    sync.Mutex
	fn    func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
	calls []DialCall
}

// DialCall captures the arguments of one Dial attempt. Config is retained
// so tests can check which auth methods and timeouts the factory built.
type DialCall struct {
	Network string
	Addr    string
	Config  *ssh.ClientConfig
}

// New returns a Dialer that fails until a script is installed.
func New() *Dialer {
	d := &Dialer{}
	d.fn = func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, fmt.Errorf("fakesshdialer: dial %s %s: no script installed", network, addr)
	}
	return d
}

// Dial records the attempt and runs the current script.
func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{Network: network, Addr: addr, Config: config})
	fn := d.fn
	d.mu.Unlock()
	return fn(network, addr, config)
}

// Calls returns a copy of every recorded attempt, oldest first.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DialCall, len(d.calls))
	copy(out, d.calls)
	return out
}

// SetDialFunc installs fn as the script behind Dial.
func (d *Dialer) SetDialFunc(fn func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)) {
	d.mu.Lock()
	d.fn = fn
	d.mu.Unlock()
}

// SetError scripts every subsequent Dial to fail with err.
func (d *Dialer) SetError(err error) {
	d.SetDialFunc(func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, err
	})
}
