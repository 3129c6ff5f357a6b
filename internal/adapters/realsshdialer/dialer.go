// Package realsshdialer is the production side of the SSHDialer seam: a
// direct pass-through to ssh.Dial. The factory's auth ladder and error
// classification sit above this line and are tested against a fake instead.
package realsshdialer

import (
	"golang.org/x/crypto/ssh"

	"github.com/termbridge/termbridge/internal/ports"
)

// Dialer dials with the x/crypto ssh client.
type Dialer struct{}

var _ ports.SSHDialer = (*Dialer)(nil)

// New returns a Dialer that performs real TCP and SSH handshakes.
func New() *Dialer {
	return &Dialer{}
}

func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	return ssh.Dial(network, addr, config)
}
