// Package recovery maps connection failures to actionable hints.
package recovery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/termbridge/termbridge/internal/sshconn"
)

// Suggestion is one recovery hint for a failed connection attempt.
type Suggestion struct {
	Problem     string   `json:"problem"`
	Category    string   `json:"category"`
	Actions     []string `json:"actions"`
	Explanation string   `json:"explanation"`
}

type rule struct {
	name    string
	matches func(err error, kind sshconn.ErrorKind, msg string) bool
	build   func(err error) *Suggestion
}

// Analyze inspects a connection error and returns matching hints, most
// specific first. Nil when the error carries nothing actionable.
func Analyze(err error) []*Suggestion {
	if err == nil {
		return nil
	}

	kind := sshconn.KindOf(err)
	msg := strings.ToLower(err.Error())

	var suggestions []*Suggestion
	for _, r := range rules() {
		if r.matches(err, kind, msg) {
			suggestions = append(suggestions, r.build(err))
		}
	}
	return suggestions
}

// Annotate appends the most promising hint to the error's message, for
// surfaces that carry a single line.
func Annotate(err error) string {
	if err == nil {
		return ""
	}
	suggestions := Analyze(err)
	if len(suggestions) == 0 || len(suggestions[0].Actions) == 0 {
		return err.Error()
	}
	return fmt.Sprintf("%s (hint: %s)", err.Error(), suggestions[0].Actions[0])
}

func rules() []rule {
	return []rule{
		{
			name: "key_passphrase",
			matches: func(err error, _ sshconn.ErrorKind, _ string) bool {
				return sshconn.IsKeyPassphraseError(err)
			},
			build: func(error) *Suggestion {
				return &Suggestion{
					Problem:  "private key is encrypted",
					Category: "auth",
					Actions: []string{
						"supply key_passphrase with the request",
						"store it once with save_credential",
					},
					Explanation: "The key file needs its passphrase before it can authenticate.",
				}
			},
		},
		{
			name: "key_unreadable",
			matches: func(err error, _ sshconn.ErrorKind, _ string) bool {
				var ke *sshconn.KeyError
				return errors.As(err, &ke) && !ke.PassphraseNeeded()
			},
			build: func(error) *Suggestion {
				return &Suggestion{
					Problem:  "private key could not be loaded",
					Category: "auth",
					Actions: []string{
						"check key_path points at a readable private key",
						"check the file is a PEM/OpenSSH key, not the .pub half",
					},
					Explanation: "The key file is missing, unreadable, or not a parseable private key.",
				}
			},
		},
		{
			name: "auth_rejected",
			matches: func(_ error, kind sshconn.ErrorKind, _ string) bool {
				return kind == sshconn.KindAuth
			},
			build: func(error) *Suggestion {
				return &Suggestion{
					Problem:  "server rejected the credentials",
					Category: "auth",
					Actions: []string{
						"verify the user name and password",
						"refresh a stale saved password with forget_credential then save_credential",
					},
					Explanation: "Authentication reached the server and was refused. Repeated failures trigger a lockout.",
				}
			},
		},
		{
			name: "connection_refused",
			matches: func(_ error, kind sshconn.ErrorKind, msg string) bool {
				return kind == sshconn.KindNetwork && strings.Contains(msg, "connection refused")
			},
			build: func(error) *Suggestion {
				return &Suggestion{
					Problem:  "host refused the connection",
					Category: "network",
					Actions: []string{
						"check sshd is running on the target",
						"check the port number",
					},
					Explanation: "The host answered but nothing is listening on that port.",
				}
			},
		},
		{
			name: "host_unknown",
			matches: func(_ error, kind sshconn.ErrorKind, msg string) bool {
				return kind == sshconn.KindNetwork && strings.Contains(msg, "no such host")
			},
			build: func(error) *Suggestion {
				return &Suggestion{
					Problem:  "host name did not resolve",
					Category: "network",
					Actions: []string{
						"check the host name spelling",
						"try the IP address directly",
					},
					Explanation: "DNS has no record for the host.",
				}
			},
		},
		{
			name: "host_unreachable",
			matches: func(_ error, kind sshconn.ErrorKind, msg string) bool {
				if kind != sshconn.KindNetwork {
					return false
				}
				return strings.Contains(msg, "no route to host") ||
					strings.Contains(msg, "network is unreachable") ||
					strings.Contains(msg, "i/o timeout")
			},
			build: func(error) *Suggestion {
				return &Suggestion{
					Problem:  "host did not answer",
					Category: "network",
					Actions: []string{
						"check the host is up and reachable from here",
						"check firewall rules between this machine and the target",
					},
					Explanation: "Packets to the host went unanswered before the SSH handshake started.",
				}
			},
		},
		{
			name: "network_other",
			matches: func(_ error, kind sshconn.ErrorKind, msg string) bool {
				if kind != sshconn.KindNetwork {
					return false
				}
				return !strings.Contains(msg, "connection refused") &&
					!strings.Contains(msg, "no such host") &&
					!strings.Contains(msg, "no route to host") &&
					!strings.Contains(msg, "network is unreachable") &&
					!strings.Contains(msg, "i/o timeout")
			},
			build: func(error) *Suggestion {
				return &Suggestion{
					Problem:  "network trouble before authentication",
					Category: "network",
					Actions: []string{
						"retry once connectivity to the host is confirmed",
					},
					Explanation: "The connection failed below the SSH layer.",
				}
			},
		},
	}
}
