package transfer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/termbridge/termbridge/internal/adapters/realclock"
	"github.com/termbridge/termbridge/internal/adapters/realfs"
	"github.com/termbridge/termbridge/internal/ports"
)

// Staging owns the temp directory where uploads are reassembled and
// downloads buffered before streaming out. Every staging file belongs
// to exactly one transfer and is deleted when that transfer ends.
type Staging struct {
	dir        string
	fs         ports.FileSystem
	clock      ports.Clock
	retries    int
	retryDelay time.Duration
}

// NewStaging creates a staging area rooted at dir, filling defaults
// for zero values.
func NewStaging(dir string, fsys ports.FileSystem, clock ports.Clock, retries int, retryDelay time.Duration) *Staging {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "termbridge-staging")
	}
	if fsys == nil {
		fsys = realfs.New()
	}
	if clock == nil {
		clock = realclock.New()
	}
	if retries <= 0 {
		retries = 3
	}
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	return &Staging{
		dir:        dir,
		fs:         fsys,
		clock:      clock,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

// Dir returns the staging directory.
func (s *Staging) Dir() string { return s.dir }

// UploadPath returns a fresh path for reassembling an upload.
func (s *Staging) UploadPath() string {
	return filepath.Join(s.dir, "up_"+uuid.New().String())
}

// DownloadPath returns a fresh path for buffering a download.
func (s *Staging) DownloadPath() string {
	return filepath.Join(s.dir, "dl_"+uuid.New().String())
}

// Create opens a new staging file, creating the directory on demand.
func (s *Staging) Create(path string) (ports.FileHandle, error) {
	if err := s.fs.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return f, nil
}

// Remove deletes a staging file, retrying because another task may
// still be closing its handle. Failures are logged and swallowed:
// cleanup must never fail a transfer.
func (s *Staging) Remove(path string) {
	var err error
	for attempt := 0; attempt < s.retries; attempt++ {
		if attempt > 0 {
			s.clock.Sleep(s.retryDelay)
		}
		err = s.fs.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return
		}
	}
	slog.Warn("staging file not removed",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
}

// Sweep removes every staging file left in the directory. Run on
// shutdown so files orphaned by a crash do not accumulate.
func (s *Staging) Sweep() int {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if !strings.HasPrefix(name, "up_") && !strings.HasPrefix(name, "dl_") {
			continue
		}
		if s.fs.Remove(filepath.Join(s.dir, name)) == nil {
			removed++
		}
	}
	if removed > 0 {
		slog.Info("staging directory swept", slog.Int("removed", removed))
	}
	return removed
}
