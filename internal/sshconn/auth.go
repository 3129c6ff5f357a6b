package sshconn

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"path"
	"path/filepath"
	"strings"

	"github.com/termbridge/termbridge/internal/ports"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// buildAuthMethods constructs SSH auth methods for the given params.
// The password is decoded here, so callers pass it through untouched.
func buildAuthMethods(params ConnectParams, fs ports.FileSystem) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if params.UseAgent {
		if agentAuth, err := sshAgentAuth(fs); err == nil {
			methods = append(methods, agentAuth)
		}
	}

	if len(params.KeyData) > 0 {
		keyAuth, err := parseKeyAuth("", params.KeyData, params.KeyPassphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, keyAuth)
	} else if params.KeyPath != "" {
		keyAuth, err := privateKeyAuth(params.KeyPath, params.KeyPassphrase, fs)
		if err != nil {
			return nil, err
		}
		methods = append(methods, keyAuth)
	}

	// Fall back to the IdentityFile from ~/.ssh/config for this host
	if params.KeyPath == "" && len(params.KeyData) == 0 && params.Host != "" {
		if configKey := sshConfigIdentityFile(params.Host, fs); configKey != "" {
			if keyAuth, err := privateKeyAuth(configKey, params.KeyPassphrase, fs); err == nil {
				methods = append(methods, keyAuth)
			}
		}
	}

	password := DecodePassword(params.Password)
	if password != "" {
		methods = append(methods, ssh.Password(password))
		methods = append(methods, keyboardInteractiveAuth(password))
	}

	// Last resort: default key locations
	if len(methods) == 0 {
		defaultKeys := []string{
			"~/.ssh/id_ed25519",
			"~/.ssh/id_rsa",
			"~/.ssh/id_ecdsa",
		}
		for _, keyPath := range defaultKeys {
			expanded := expandPath(keyPath, fs)
			if _, err := fs.Stat(expanded); err != nil {
				continue
			}
			if keyAuth, err := privateKeyAuth(expanded, params.KeyPassphrase, fs); err == nil {
				methods = append(methods, keyAuth)
				break
			}
		}
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication methods available")
	}

	return methods, nil
}

// sshAgentAuth builds an auth method backed by the running ssh-agent.
func sshAgentAuth(fs ports.FileSystem) (ssh.AuthMethod, error) {
	socket := fs.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK is not set")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial ssh-agent: %w", err)
	}

	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

// privateKeyAuth loads and parses a private key file.
func privateKeyAuth(keyPath, passphrase string, fs ports.FileSystem) (ssh.AuthMethod, error) {
	expanded := expandPath(keyPath, fs)

	keyData, err := fs.ReadFile(expanded)
	if err != nil {
		return nil, &KeyError{Path: expanded, Err: err}
	}

	return parseKeyAuth(expanded, keyData, passphrase)
}

// parseKeyAuth parses raw private key material, retrying with the
// passphrase when the key turns out to be encrypted.
func parseKeyAuth(keyPath string, keyData []byte, passphrase string) (ssh.AuthMethod, error) {
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil && passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	}
	if err != nil {
		return nil, &KeyError{Path: keyPath, Err: err}
	}
	return ssh.PublicKeys(signer), nil
}

// keyboardInteractiveAuth answers every server challenge with the password.
// Some servers only offer keyboard-interactive, not plain password auth.
func keyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
}

// buildHostKeyCallback creates a host key callback. With strict checking
// the known_hosts file must exist and parse; otherwise any host key is
// accepted, matching the auto-accept behavior of first-time connects.
func buildHostKeyCallback(knownHostsPath string, strict bool, fs ports.FileSystem) (ssh.HostKeyCallback, error) {
	if !strict {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}
	expanded := expandPath(knownHostsPath, fs)

	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(p string, fs ports.FileSystem) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := fs.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// sshConfigIdentityFile scans ~/.ssh/config for an IdentityFile bound to
// host. Only Host and IdentityFile directives are understood, which covers
// the per-host key layout without a full ssh_config parser.
func sshConfigIdentityFile(host string, fs ports.FileSystem) string {
	data, err := fs.ReadFile(expandPath("~/.ssh/config", fs))
	if err != nil {
		return ""
	}

	applies := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		value := strings.Join(fields[1:], " ")
		switch {
		case strings.EqualFold(fields[0], "Host"):
			applies = matchHostPattern(host, value)
		case strings.EqualFold(fields[0], "IdentityFile"):
			if applies {
				return expandPath(value, fs)
			}
		}
	}
	return ""
}

// matchHostPattern reports whether host matches any of the space-separated
// ssh_config Host patterns. Patterns use * and ?, and hostnames never
// contain slashes, so path.Match implements exactly the OpenSSH rules.
func matchHostPattern(host, patterns string) bool {
	for _, p := range strings.Fields(patterns) {
		if ok, err := path.Match(p, host); err == nil && ok {
			return true
		}
	}
	return false
}
