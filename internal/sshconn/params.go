package sshconn

import (
	"encoding/base64"
	"strings"
)

// ConnectParams describes a single connection attempt.
type ConnectParams struct {
	Host          string
	Port          int
	User          string
	Password      string // base64-encoded or raw, see DecodePassword
	KeyPath       string // path to a private key file
	KeyData       []byte // raw private key material, takes precedence over KeyPath
	KeyPassphrase string // passphrase for encrypted keys
	UseAgent      bool   // try the SSH agent before other methods
}

// DecodePassword decodes a client-supplied password. Clients send passwords
// base64-encoded; values arriving without padding are padded to a multiple
// of four before decoding. A value that does not decode is used verbatim,
// so raw passwords keep working.
func DecodePassword(value string) string {
	if value == "" {
		return ""
	}
	padded := value
	if rem := len(value) % 4; rem != 0 {
		padded += strings.Repeat("=", 4-rem)
	}
	if decoded, err := base64.StdEncoding.DecodeString(padded); err == nil {
		return string(decoded)
	}
	return value
}
