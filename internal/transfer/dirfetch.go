package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/termbridge/termbridge/internal/sshconn"
)

// DirResult summarizes a folder download. Files counts fully copied
// files, Bytes the payload written locally, Skipped the entries passed
// over (excluded or not regular files).
type DirResult struct {
	Files   int
	Bytes   int64
	Skipped int
}

type remoteEntry struct {
	remotePath string
	rel        string
	size       int64
}

// FetchDir mirrors remoteDir into localDir. The remote tree is walked
// first so one Progress covers the whole payload, then files are
// pulled one by one. excludes are doublestar globs matched against
// slash-normalized paths relative to remoteDir; a matching directory
// prunes its whole subtree. Cancellation keeps everything already
// written and stops at the next quantum.
func (d *Downloader) FetchDir(ctx context.Context, transferID string, params sshconn.ConnectParams, remoteDir, localDir string, excludes []string) (DirResult, Outcome, error) {
	if transferID == "" {
		return DirResult{}, "", errors.New("transfer id is required")
	}
	if remoteDir == "" || localDir == "" {
		return DirResult{}, "", errors.New("remote and local directories are required")
	}

	remote, err := d.dialer.Dial(params, 0)
	if err != nil {
		return DirResult{}, "", err
	}
	defer remote.Close()

	info, err := remote.Stat(remoteDir)
	if err != nil {
		return DirResult{}, "", fmt.Errorf("stat %s: %w", remoteDir, err)
	}
	if !info.IsDir() {
		return DirResult{}, "", fmt.Errorf("%s is not a directory", remoteDir)
	}

	var (
		entries []remoteEntry
		total   int64
		skipped int
	)
	if err := walkRemote(remote, remoteDir, "", excludes, &entries, &total, &skipped); err != nil {
		return DirResult{}, "", err
	}

	if err := d.fs.MkdirAll(localDir, 0o755); err != nil {
		return DirResult{}, "", fmt.Errorf("create local dir: %w", err)
	}

	progress := d.manager.Create(transferID, DirectionFolder, total)
	result := DirResult{Skipped: skipped}
	buf := make([]byte, SizingFor(total).Buffer)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			d.manager.Remove(transferID)
			return result, "", err
		}
		if d.manager.IsCancelled(transferID) || progress.Cancelled() {
			d.manager.Remove(transferID)
			return result, OutcomeCancelled, nil
		}

		local := filepath.Join(localDir, filepath.FromSlash(e.rel))
		if err := d.fs.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			d.manager.Remove(transferID)
			progress.Fail()
			return result, "", fmt.Errorf("create local dir: %w", err)
		}
		dst, err := d.fs.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			d.manager.Remove(transferID)
			progress.Fail()
			return result, "", fmt.Errorf("create local file: %w", err)
		}
		src, err := remote.Open(e.remotePath)
		if err != nil {
			dst.Close()
			d.manager.Remove(transferID)
			progress.Fail()
			return result, "", fmt.Errorf("open %s: %w", e.remotePath, err)
		}

		n, outcome, err := d.copyCancellable(ctx, transferID, progress, dst, src, buf, result.Bytes)
		src.Close()
		if cerr := dst.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close local file: %w", cerr)
		}
		result.Bytes += n

		if err != nil {
			d.manager.Remove(transferID)
			progress.Fail()
			return result, "", err
		}
		if outcome == OutcomeCancelled {
			d.manager.Remove(transferID)
			return result, OutcomeCancelled, nil
		}
		result.Files++
	}

	d.manager.Remove(transferID)
	slog.Info("folder download completed",
		slog.String("transfer_id", transferID),
		slog.String("remote_dir", remoteDir),
		slog.Int("files", result.Files),
		slog.Int64("bytes", result.Bytes),
		slog.Int("skipped", result.Skipped),
	)
	return result, OutcomeCompleted, nil
}

// walkRemote lists the tree under root depth-first, collecting regular
// files that survive the exclusion patterns.
func walkRemote(remote Remote, root, rel string, excludes []string, entries *[]remoteEntry, total *int64, skipped *int) error {
	dir := root
	if rel != "" {
		dir = path.Join(root, rel)
	}
	infos, err := remote.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}

	for _, info := range infos {
		childRel := info.Name()
		if rel != "" {
			childRel = path.Join(rel, info.Name())
		}
		if matchesAny(excludes, childRel) {
			*skipped++
			continue
		}
		if info.IsDir() {
			if err := walkRemote(remote, root, childRel, excludes, entries, total, skipped); err != nil {
				return err
			}
			continue
		}
		if !info.Mode().IsRegular() {
			*skipped++
			continue
		}
		*entries = append(*entries, remoteEntry{
			remotePath: path.Join(root, childRel),
			rel:        childRel,
			size:       info.Size(),
		})
		*total += info.Size()
	}
	return nil
}

func matchesAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}
