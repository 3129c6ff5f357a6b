package mcp

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/termbridge/termbridge/internal/security"
	"github.com/termbridge/termbridge/internal/sshconn"
)

// connectParams assembles connection parameters from a tool request,
// consulting the credential store when the request asks for saved
// credentials. The returned message is non-empty when a required
// parameter is missing.
func (s *Server) connectParams(req mcp.CallToolRequest) (sshconn.ConnectParams, string) {
	host := mcp.ParseString(req, "host", "")
	if host == "" {
		return sshconn.ConnectParams{}, errHostRequired
	}
	user := mcp.ParseString(req, "user", "")
	if user == "" {
		return sshconn.ConnectParams{}, errUserRequired
	}

	params := sshconn.ConnectParams{
		Host:          host,
		Port:          mcp.ParseInt(req, "port", 22),
		User:          user,
		Password:      mcp.ParseString(req, "password", ""),
		KeyPath:       mcp.ParseString(req, "key_path", ""),
		KeyPassphrase: mcp.ParseString(req, "passphrase", ""),
		UseAgent:      mcp.ParseBoolean(req, "use_agent", false),
	}

	if !mcp.ParseBoolean(req, "use_saved", false) {
		return params, ""
	}

	if params.Password == "" && params.KeyPath == "" {
		if saved, err := s.creds.Password(user, host, params.Port); err == nil && saved != nil {
			// Password fields travel base64-encoded, so re-encode the
			// saved bytes to survive the decode on the other side.
			params.Password = base64.StdEncoding.EncodeToString(saved)
			security.WipeBytes(saved)
		}
	}
	if params.KeyPath != "" && params.KeyPassphrase == "" {
		if saved, err := s.creds.Passphrase(user, host, params.Port); err == nil && saved != nil {
			params.KeyPassphrase = string(saved)
			security.WipeBytes(saved)
		}
	}
	return params, ""
}

// authLockMessage reports an active lockout for the target, or "".
func (s *Server) authLockMessage(params sshconn.ConnectParams) string {
	locked, remaining := s.authLimiter.IsLocked(params.User, params.Host, params.Port)
	if !locked {
		return ""
	}
	return fmt.Sprintf("too many failed login attempts for %s@%s:%d, locked for another %s",
		params.User, params.Host, params.Port, remaining.Round(time.Second))
}

// noteAuthFailure counts an auth-kind connection failure against the
// target. Other failure kinds do not feed the limiter.
func (s *Server) noteAuthFailure(params sshconn.ConnectParams, err error) {
	if sshconn.KindOf(err) == sshconn.KindAuth {
		s.authLimiter.RecordFailure(params.User, params.Host, params.Port)
	}
}

// noteAuthSuccess clears the failure count after a successful dial.
func (s *Server) noteAuthSuccess(params sshconn.ConnectParams) {
	s.authLimiter.RecordSuccess(params.User, params.Host, params.Port)
}
