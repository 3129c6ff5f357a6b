// Package security provides credential storage, path policy, and auth
// rate limiting for the session engine.
package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringService names this application to the OS keyring.
const KeyringService = "termbridge"

// ErrKeyringUnavailable is returned by every store operation when no OS
// keyring backend could be reached, or the store was disabled by config.
var ErrKeyringUnavailable = errors.New("keyring not available")

// Entry name formats. One credential kind per entry keeps deletes
// independent: forgetting a password never touches the passphrase.
const (
	keyPasswordFmt   = "password:%s@%s:%d"
	keyPassphraseFmt = "passphrase:%s@%s:%d"
)

// CredentialStore keeps SSH passwords and key passphrases in the OS
// keyring (macOS Keychain, Linux Secret Service, Windows Credential
// Manager), keyed by user@host:port. When no keyring is available the
// store disables itself and every operation reports that.
type CredentialStore struct {
	enabled bool
	mu      sync.RWMutex
}

// NewCredentialStore probes the system keyring and returns a store,
// disabled when the probe fails.
func NewCredentialStore() *CredentialStore {
	s := &CredentialStore{enabled: true}

	probe := "__termbridge_probe__"
	if err := keyring.Set(KeyringService, probe, "probe"); err != nil {
		slog.Debug("keyring not available, credential storage disabled",
			slog.String("error", err.Error()),
		)
		s.enabled = false
		return s
	}
	_ = keyring.Delete(KeyringService, probe)

	slog.Debug("keyring credential storage enabled")
	return s
}

// NewDisabledCredentialStore returns a store that refuses every
// operation, for deployments that opt out of the OS keyring. It never
// touches the keyring.
func NewDisabledCredentialStore() *CredentialStore {
	return &CredentialStore{enabled: false}
}

// IsEnabled reports whether the keyring is usable.
func (s *CredentialStore) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled turns keyring usage on or off.
func (s *CredentialStore) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

func credentialKey(kind, user, host string, port int) string {
	if port <= 0 {
		port = 22
	}
	return fmt.Sprintf(kind, user, host, port)
}

func (s *CredentialStore) set(key string, value []byte) error {
	if !s.IsEnabled() {
		return ErrKeyringUnavailable
	}
	encoded := base64.StdEncoding.EncodeToString(value)
	if err := keyring.Set(KeyringService, key, encoded); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

// get returns nil with no error when the entry does not exist.
func (s *CredentialStore) get(key string) ([]byte, error) {
	if !s.IsEnabled() {
		return nil, ErrKeyringUnavailable
	}
	encoded, err := keyring.Get(KeyringService, key)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("read credential: %w", err)
	}
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return value, nil
}

func (s *CredentialStore) delete(key string) error {
	if !s.IsEnabled() {
		return ErrKeyringUnavailable
	}
	if err := keyring.Delete(KeyringService, key); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// SavePassword stores an SSH password for user@host:port.
func (s *CredentialStore) SavePassword(user, host string, port int, password []byte) error {
	if err := s.set(credentialKey(keyPasswordFmt, user, host, port), password); err != nil {
		return err
	}
	slog.Debug("stored password in keyring",
		slog.String("user", user),
		slog.String("host", host),
	)
	return nil
}

// Password retrieves a stored SSH password. A missing entry returns
// nil with no error.
func (s *CredentialStore) Password(user, host string, port int) ([]byte, error) {
	return s.get(credentialKey(keyPasswordFmt, user, host, port))
}

// DeletePassword removes a stored SSH password. Deleting a missing
// entry is not an error.
func (s *CredentialStore) DeletePassword(user, host string, port int) error {
	return s.delete(credentialKey(keyPasswordFmt, user, host, port))
}

// SavePassphrase stores a private key passphrase for user@host:port.
func (s *CredentialStore) SavePassphrase(user, host string, port int, passphrase []byte) error {
	if err := s.set(credentialKey(keyPassphraseFmt, user, host, port), passphrase); err != nil {
		return err
	}
	slog.Debug("stored key passphrase in keyring",
		slog.String("user", user),
		slog.String("host", host),
	)
	return nil
}

// Passphrase retrieves a stored key passphrase. A missing entry
// returns nil with no error.
func (s *CredentialStore) Passphrase(user, host string, port int) ([]byte, error) {
	return s.get(credentialKey(keyPassphraseFmt, user, host, port))
}

// DeletePassphrase removes a stored key passphrase.
func (s *CredentialStore) DeletePassphrase(user, host string, port int) error {
	return s.delete(credentialKey(keyPassphraseFmt, user, host, port))
}

// Forget removes every credential stored for user@host:port.
func (s *CredentialStore) Forget(user, host string, port int) error {
	if err := s.DeletePassword(user, host, port); err != nil {
		return err
	}
	return s.DeletePassphrase(user, host, port)
}
