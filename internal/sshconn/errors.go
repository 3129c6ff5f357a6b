package sshconn

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ErrorKind classifies connection failures so callers can react without
// string-matching error text themselves.
type ErrorKind string

const (
	// KindAuth means the server rejected the supplied credentials.
	KindAuth ErrorKind = "auth"
	// KindNetwork means the host could not be reached at the TCP level.
	KindNetwork ErrorKind = "network"
	// KindUnknown is everything else.
	KindUnknown ErrorKind = "unknown"
)

// ConnectError wraps a failed connection attempt with its classification.
type ConnectError struct {
	Kind ErrorKind
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or KindUnknown when err is not
// a ConnectError.
func KindOf(err error) ErrorKind {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// classifyDialError maps a dial or handshake error onto an ErrorKind.
// Auth failures are matched first: the ssh package reports them as plain
// handshake errors, not as net.Errors.
func classifyDialError(err error) ErrorKind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"),
		strings.Contains(msg, "permission denied"):
		return KindAuth
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNetwork
	}

	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no route to host"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "no such host"):
		return KindNetwork
	}

	return KindUnknown
}

// KeyError describes a failure to load or parse a private key.
type KeyError struct {
	Path string
	Err  error
}

func (e *KeyError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("private key: %v", e.Err)
	}
	return fmt.Sprintf("private key %s: %v", e.Path, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// PassphraseNeeded reports whether the key is encrypted and the passphrase
// was missing or wrong.
func (e *KeyError) PassphraseNeeded() bool {
	var missing *ssh.PassphraseMissingError
	if errors.As(e.Err, &missing) {
		return true
	}
	msg := e.Err.Error()
	return strings.Contains(msg, "incorrect passphrase") ||
		strings.Contains(msg, "decryption password incorrect")
}

// IsKeyPassphraseError reports whether err is a key error caused by a
// missing or wrong passphrase.
func IsKeyPassphraseError(err error) bool {
	var ke *KeyError
	return errors.As(err, &ke) && ke.PassphraseNeeded()
}
