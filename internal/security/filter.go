package security

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// PathPolicy gates remote paths with deny/allow glob lists. Deny wins;
// when an allowlist is present a path must match it. Patterns use
// doublestar syntax and are evaluated against slash-cleaned paths.
type PathPolicy struct {
	mu    sync.RWMutex
	deny  []string
	allow []string
}

// NewPathPolicy validates the patterns and builds a policy.
func NewPathPolicy(deny, allow []string) (*PathPolicy, error) {
	for _, pattern := range deny {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid deny pattern %q", pattern)
		}
	}
	for _, pattern := range allow {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid allow pattern %q", pattern)
		}
	}
	return &PathPolicy{deny: deny, allow: allow}, nil
}

// IsAllowed checks a remote path against the policy. The second return
// names the rule that blocked the path, empty when it passed.
func (pp *PathPolicy) IsAllowed(remotePath string) (bool, string) {
	pp.mu.RLock()
	defer pp.mu.RUnlock()

	p := normalizePath(remotePath)

	for _, pattern := range pp.deny {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return false, fmt.Sprintf("path blocked by pattern: %s", pattern)
		}
	}

	if len(pp.allow) > 0 {
		for _, pattern := range pp.allow {
			if ok, _ := doublestar.Match(pattern, p); ok {
				return true, ""
			}
		}
		return false, "path not in allowlist"
	}

	return true, ""
}

// Update replaces both pattern lists after validating them. Invalid
// patterns leave the current policy untouched.
func (pp *PathPolicy) Update(deny, allow []string) error {
	for _, pattern := range deny {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid deny pattern %q", pattern)
		}
	}
	for _, pattern := range allow {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid allow pattern %q", pattern)
		}
	}

	pp.mu.Lock()
	defer pp.mu.Unlock()
	pp.deny = deny
	pp.allow = allow
	return nil
}

// HasDenylist returns true if any deny patterns are configured.
func (pp *PathPolicy) HasDenylist() bool {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	return len(pp.deny) > 0
}

// HasAllowlist returns true if any allow patterns are configured.
func (pp *PathPolicy) HasAllowlist() bool {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	return len(pp.allow) > 0
}

// normalizePath slash-cleans a remote path so globs see one canonical
// form: backslashes folded, dot segments resolved.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean(p)
}

// DefaultDenylist returns patterns for paths no transfer should touch.
func DefaultDenylist() []string {
	return []string{
		"/etc/shadow",
		"/etc/sudoers",
		"/etc/sudoers.d/**",
		"**/.ssh/authorized_keys",
		"**/id_rsa",
		"**/id_ed25519",
	}
}
