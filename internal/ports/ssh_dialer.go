package ports

import (
	"golang.org/x/crypto/ssh"
)

// SSHDialer performs the TCP dial and SSH handshake. The connection
// factory depends on this seam so its auth ladder and error
// classification can be exercised without a listening sshd.
type SSHDialer interface {
	// Dial connects to addr and completes the handshake per config.
	Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}
