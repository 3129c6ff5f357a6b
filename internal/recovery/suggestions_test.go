package recovery

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/termbridge/termbridge/internal/sshconn"
)

func connectErr(kind sshconn.ErrorKind, msg string) error {
	return &sshconn.ConnectError{Kind: kind, Addr: "files.example:22", Err: errors.New(msg)}
}

func TestAnalyzeNil(t *testing.T) {
	if got := Analyze(nil); got != nil {
		t.Errorf("Analyze(nil) = %v, want nil", got)
	}
	if got := Annotate(nil); got != "" {
		t.Errorf("Annotate(nil) = %q, want empty", got)
	}
}

func TestAnalyzeEncryptedKey(t *testing.T) {
	err := &sshconn.KeyError{
		Path: "/home/deploy/.ssh/id_ed25519",
		Err:  &ssh.PassphraseMissingError{},
	}

	suggestions := Analyze(err)
	if len(suggestions) != 1 {
		t.Fatalf("got %d suggestions, want 1", len(suggestions))
	}
	s := suggestions[0]
	if s.Problem != "private key is encrypted" {
		t.Errorf("Problem = %q", s.Problem)
	}
	if s.Category != "auth" {
		t.Errorf("Category = %q, want auth", s.Category)
	}
	if len(s.Actions) == 0 || !strings.Contains(s.Actions[0], "key_passphrase") {
		t.Errorf("Actions = %v, first action should name key_passphrase", s.Actions)
	}
}

func TestAnalyzeUnreadableKey(t *testing.T) {
	err := &sshconn.KeyError{
		Path: "/home/deploy/.ssh/id_rsa",
		Err:  errors.New("open /home/deploy/.ssh/id_rsa: no such file or directory"),
	}

	suggestions := Analyze(err)
	if len(suggestions) != 1 {
		t.Fatalf("got %d suggestions, want 1", len(suggestions))
	}
	if suggestions[0].Problem != "private key could not be loaded" {
		t.Errorf("Problem = %q", suggestions[0].Problem)
	}
}

func TestAnalyzeAuthRejected(t *testing.T) {
	err := connectErr(sshconn.KindAuth, "ssh: unable to authenticate, attempted methods [none password]")

	suggestions := Analyze(err)
	if len(suggestions) != 1 {
		t.Fatalf("got %d suggestions, want 1", len(suggestions))
	}
	s := suggestions[0]
	if s.Problem != "server rejected the credentials" {
		t.Errorf("Problem = %q", s.Problem)
	}
	if !strings.Contains(strings.Join(s.Actions, " "), "save_credential") {
		t.Errorf("Actions = %v, should mention save_credential", s.Actions)
	}
}

func TestAnalyzeNetworkVariants(t *testing.T) {
	tests := []struct {
		name        string
		msg         string
		wantProblem string
	}{
		{"refused", "dial tcp 10.0.0.5:22: connect: connection refused", "host refused the connection"},
		{"dns", "dial tcp: lookup files.exmaple: no such host", "host name did not resolve"},
		{"no route", "dial tcp 10.0.0.5:22: connect: no route to host", "host did not answer"},
		{"timeout", "dial tcp 10.0.0.5:22: i/o timeout", "host did not answer"},
		{"other", "read tcp 10.0.0.5:22: connection reset by peer", "network trouble before authentication"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suggestions := Analyze(connectErr(sshconn.KindNetwork, tt.msg))
			if len(suggestions) != 1 {
				t.Fatalf("got %d suggestions, want 1", len(suggestions))
			}
			if suggestions[0].Problem != tt.wantProblem {
				t.Errorf("Problem = %q, want %q", suggestions[0].Problem, tt.wantProblem)
			}
			if suggestions[0].Category != "network" {
				t.Errorf("Category = %q, want network", suggestions[0].Category)
			}
		})
	}
}

func TestAnalyzeUnclassifiedError(t *testing.T) {
	if got := Analyze(errors.New("something else entirely")); got != nil {
		t.Errorf("Analyze = %v, want nil for unclassified errors", got)
	}
}

func TestAnnotate(t *testing.T) {
	err := connectErr(sshconn.KindNetwork, "dial tcp 10.0.0.5:22: connect: connection refused")

	got := Annotate(err)
	if !strings.HasPrefix(got, err.Error()) {
		t.Errorf("Annotate should keep the original message, got %q", got)
	}
	if !strings.Contains(got, "(hint: check sshd is running on the target)") {
		t.Errorf("Annotate = %q, should carry the first action as a hint", got)
	}
}

func TestAnnotatePassthrough(t *testing.T) {
	err := errors.New("opaque failure")
	if got := Annotate(err); got != "opaque failure" {
		t.Errorf("Annotate = %q, want the bare message", got)
	}
}
