package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/termbridge/termbridge/internal/adapters/realclock"
	"github.com/termbridge/termbridge/internal/adapters/realfs"
	"github.com/termbridge/termbridge/internal/ports"
	"github.com/termbridge/termbridge/internal/sshconn"
)

// Downloader pulls remote files into staging and serves them out as
// finite chunk streams.
type Downloader struct {
	manager *Manager
	staging *Staging
	dialer  Dialer
	fs      ports.FileSystem
	clock   ports.Clock
}

// DownloaderOptions configures a Downloader. Zero values get
// production defaults.
type DownloaderOptions struct {
	Manager    *Manager
	Staging    *Staging
	Dialer     Dialer
	FileSystem ports.FileSystem
	Clock      ports.Clock
}

// NewDownloader creates a Downloader.
func NewDownloader(opts DownloaderOptions) *Downloader {
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}
	if opts.FileSystem == nil {
		opts.FileSystem = realfs.New()
	}
	if opts.Manager == nil {
		opts.Manager = NewManager(opts.Clock)
	}
	if opts.Staging == nil {
		opts.Staging = NewStaging("", opts.FileSystem, opts.Clock, 0, 0)
	}
	return &Downloader{
		manager: opts.Manager,
		staging: opts.Staging,
		dialer:  opts.Dialer,
		fs:      opts.FileSystem,
		clock:   opts.Clock,
	}
}

// Manager exposes the progress manager the downloader reports into.
func (d *Downloader) Manager() *Manager { return d.manager }

// Fetch pulls remotePath into staging and returns a Stream over the
// staged copy. A cancelled fetch returns a nil Stream, OutcomeCancelled
// and no error; the partial staging file is deleted.
func (d *Downloader) Fetch(ctx context.Context, transferID string, params sshconn.ConnectParams, remotePath string) (*Stream, Outcome, error) {
	if transferID == "" {
		return nil, "", errors.New("transfer id is required")
	}
	if remotePath == "" {
		return nil, "", errors.New("remote path is required")
	}

	remote, err := d.dialer.Dial(params, 0)
	if err != nil {
		return nil, "", err
	}
	defer remote.Close()

	info, err := remote.Stat(remotePath)
	if err != nil {
		return nil, "", fmt.Errorf("stat %s: %w", remotePath, err)
	}
	if info.IsDir() {
		return nil, "", fmt.Errorf("%s is a directory, not a file", remotePath)
	}

	total := info.Size()
	sizing := SizingFor(total)
	progress := d.manager.Create(transferID, DirectionDownload, total)

	stagingPath := d.staging.DownloadPath()
	dst, err := d.staging.Create(stagingPath)
	if err != nil {
		d.manager.Remove(transferID)
		return nil, "", err
	}

	src, err := remote.Open(remotePath)
	if err != nil {
		dst.Close()
		d.staging.Remove(stagingPath)
		d.manager.Remove(transferID)
		return nil, "", fmt.Errorf("open %s: %w", remotePath, err)
	}

	_, outcome, err := d.copyCancellable(ctx, transferID, progress, dst, src, make([]byte, sizing.Buffer), 0)
	src.Close()
	if cerr := dst.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close staging file: %w", cerr)
	}

	if err != nil {
		progress.Fail()
		d.staging.Remove(stagingPath)
		d.manager.Remove(transferID)
		return nil, "", err
	}
	if outcome == OutcomeCancelled {
		d.staging.Remove(stagingPath)
		d.manager.Remove(transferID)
		return nil, OutcomeCancelled, nil
	}

	d.manager.Remove(transferID)
	slog.Info("download staged",
		slog.String("transfer_id", transferID),
		slog.String("remote_path", remotePath),
		slog.Int64("bytes", total),
	)
	return newStream(d.fs, d.staging, stagingPath, sizing.Chunk), OutcomeCompleted, nil
}

// copyCancellable copies src to dst one buffer at a time, checking the
// context and the cancellation tables between quanta and reporting
// progress as base plus bytes copied so far.
func (d *Downloader) copyCancellable(ctx context.Context, transferID string, progress *Progress, dst io.Writer, src io.Reader, buf []byte, base int64) (int64, Outcome, error) {
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, "", err
		}
		if d.manager.IsCancelled(transferID) || progress.Cancelled() {
			return written, OutcomeCancelled, nil
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, "", fmt.Errorf("write staging file: %w", werr)
			}
			written += int64(n)
			progress.Update(base + written)
		}
		if rerr == io.EOF {
			return written, OutcomeCompleted, nil
		}
		if rerr != nil {
			return written, "", fmt.Errorf("read remote file: %w", rerr)
		}
	}
}

// Cancel flags a transfer cancelled. Returns true when the transfer
// was live.
func (d *Downloader) Cancel(id string) bool {
	return d.manager.Cancel(id)
}

// Stream reads a staged download back in fixed-size chunks. The
// staging file is opened lazily on the first Next and deleted on
// Close, which the consumer must call even after io.EOF.
type Stream struct {
	fs      ports.FileSystem
	staging *Staging
	path    string
	chunk   int

	mu     sync.Mutex
	src    io.ReadCloser
	opened bool
	done   bool
}

func newStream(fsys ports.FileSystem, staging *Staging, path string, chunk int) *Stream {
	return &Stream{fs: fsys, staging: staging, path: path, chunk: chunk}
}

// Next returns the next chunk. The final chunk may be short; after it,
// Next returns io.EOF.
func (s *Stream) Next() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, io.EOF
	}
	if !s.opened {
		src, err := s.fs.Open(s.path)
		if err != nil {
			s.done = true
			return nil, fmt.Errorf("open staged file: %w", err)
		}
		s.src = src
		s.opened = true
	}

	buf := make([]byte, s.chunk)
	n, err := io.ReadFull(s.src, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		s.done = true
		if n == 0 {
			return nil, io.EOF
		}
		return buf[:n], nil
	default:
		s.done = true
		return nil, fmt.Errorf("read staged file: %w", err)
	}
}

// Size reports the staged file's length.
func (s *Stream) Size() (int64, error) {
	info, err := s.fs.Stat(s.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close releases the underlying file and deletes it from staging.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.src != nil {
		s.src.Close()
		s.src = nil
	}
	s.staging.Remove(s.path)
	s.done = true
	return nil
}
