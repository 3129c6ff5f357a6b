package transfer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"

	"github.com/termbridge/termbridge/internal/adapters/realclock"
	"github.com/termbridge/termbridge/internal/adapters/realfs"
	"github.com/termbridge/termbridge/internal/ports"
	"github.com/termbridge/termbridge/internal/sshconn"
)

// Chunk is one piece of an upload. Data is base64 so the payload
// survives any JSON transport unmodified.
type Chunk struct {
	TransferID string
	Index      int
	IsLast     bool
	TotalSize  int64
	RemotePath string
	Data       string
	Params     sshconn.ConnectParams
}

// Outcome reports how a transfer operation ended.
type Outcome string

const (
	OutcomeChunk     Outcome = "chunk_received"
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
)

// ChunkAck is the reply to a stored chunk.
type ChunkAck struct {
	Outcome   Outcome
	Index     int
	Received  int64
	Total     int64
	Duplicate bool
}

var (
	// ErrChunkGap means a chunk arrived ahead of sequence. The sender
	// must resend from the expected index; transfer state is kept.
	ErrChunkGap = errors.New("chunk out of sequence")

	// ErrUnknownTransfer means a non-initial chunk referenced a
	// transfer that was never started or already finished.
	ErrUnknownTransfer = errors.New("unknown transfer")
)

// Uploader reassembles chunked uploads in staging and pushes the
// completed file to the remote host over SFTP.
type Uploader struct {
	manager *Manager
	staging *Staging
	dialer  Dialer
	fs      ports.FileSystem
	clock   ports.Clock

	mu     sync.Mutex
	active map[string]*uploadState
}

// UploaderOptions configures an Uploader. Zero values get production
// defaults.
type UploaderOptions struct {
	Manager    *Manager
	Staging    *Staging
	Dialer     Dialer
	FileSystem ports.FileSystem
	Clock      ports.Clock
}

// NewUploader creates an Uploader.
func NewUploader(opts UploaderOptions) *Uploader {
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
	return &Uploader{
		manager: opts.Manager,
		staging: opts.Staging,
		dialer:  opts.Dialer,
		fs:      opts.FileSystem,
		clock:   opts.Clock,
		active:  map[string]*uploadState{},
	}
}

// uploadState tracks one in-flight upload. Its mutex serializes chunk
// appends and the final push; the Uploader mutex only guards the map.
type uploadState struct {
	mu          sync.Mutex
	transferID  string
	stagingPath string
	file        ports.FileHandle
	next        int
	written     int64
	total       int64
	remotePath  string
	progress    *Progress
}

// Manager exposes the progress manager the uploader reports into.
func (u *Uploader) Manager() *Manager { return u.manager }

// Put stores one chunk. Chunks must arrive in index order starting at
// zero; a duplicate of an already-stored index is acknowledged without
// rewriting, a gap is rejected with ErrChunkGap and the transfer kept
// alive for a resend. The final chunk triggers the remote push and
// releases all transfer state regardless of how the push ends.
func (u *Uploader) Put(ctx context.Context, c Chunk) (ChunkAck, error) {
	if c.TransferID == "" {
		return ChunkAck{}, errors.New("transfer id is required")
	}

	if u.manager.IsCancelled(c.TransferID) {
		u.abandon(c.TransferID)
		u.manager.ClearCancelled(c.TransferID)
		return ChunkAck{Outcome: OutcomeCancelled, Index: c.Index}, nil
	}

	st, err := u.stateFor(c)
	if err != nil {
		return ChunkAck{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if c.Index < st.next {
		return ChunkAck{
			Outcome:   OutcomeChunk,
			Index:     c.Index,
			Received:  st.written,
			Total:     st.total,
			Duplicate: true,
		}, nil
	}
	if c.Index > st.next {
		return ChunkAck{}, fmt.Errorf("%w: got %d, expected %d", ErrChunkGap, c.Index, st.next)
	}

	data, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		u.fail(st)
		return ChunkAck{}, fmt.Errorf("decode chunk %d: %w", c.Index, err)
	}
	if _, err := st.file.Write(data); err != nil {
		u.fail(st)
		return ChunkAck{}, fmt.Errorf("write chunk %d: %w", c.Index, err)
	}
	if err := st.file.Sync(); err != nil {
		u.fail(st)
		return ChunkAck{}, fmt.Errorf("sync chunk %d: %w", c.Index, err)
	}

	st.next++
	st.written += int64(len(data))
	// Report from the file, not the counter, so progress always
	// matches what a crash would leave behind.
	if info, serr := u.fs.Stat(st.stagingPath); serr == nil {
		st.written = info.Size()
	}
	st.progress.Update(st.written)

	if !c.IsLast {
		return ChunkAck{
			Outcome:  OutcomeChunk,
			Index:    c.Index,
			Received: st.written,
			Total:    st.total,
		}, nil
	}
	return u.finish(ctx, st, c)
}

// stateFor returns the transfer state for a chunk, starting a new
// transfer when the chunk is the first of its sequence.
func (u *Uploader) stateFor(c Chunk) (*uploadState, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if st, ok := u.active[c.TransferID]; ok {
		return st, nil
	}
	if c.Index != 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, c.TransferID)
	}
	if c.RemotePath == "" {
		return nil, errors.New("remote path is required")
	}

	stagingPath := u.staging.UploadPath()
	f, err := u.staging.Create(stagingPath)
	if err != nil {
		return nil, err
	}

	st := &uploadState{
		transferID:  c.TransferID,
		stagingPath: stagingPath,
		file:        f,
		total:       c.TotalSize,
		remotePath:  c.RemotePath,
		progress:    u.manager.Create(c.TransferID, DirectionUpload, c.TotalSize),
	}
	u.active[c.TransferID] = st

	slog.Info("upload started",
		slog.String("transfer_id", c.TransferID),
		slog.String("remote_path", c.RemotePath),
		slog.Int64("total_bytes", c.TotalSize),
	)
	return st, nil
}

// finish runs with st.mu held: close the staging file, push it to the
// remote, then release every trace of the transfer.
func (u *Uploader) finish(ctx context.Context, st *uploadState, c Chunk) (ChunkAck, error) {
	if err := st.file.Close(); err != nil {
		st.file = nil
		u.release(st)
		st.progress.Fail()
		return ChunkAck{}, fmt.Errorf("close staging file: %w", err)
	}
	st.file = nil

	cancelled, err := u.push(ctx, st, c.Params)
	u.release(st)

	if err != nil {
		st.progress.Fail()
		return ChunkAck{}, err
	}
	if cancelled {
		return ChunkAck{Outcome: OutcomeCancelled, Index: c.Index}, nil
	}

	slog.Info("upload completed",
		slog.String("transfer_id", st.transferID),
		slog.String("remote_path", st.remotePath),
		slog.Int64("bytes", st.written),
	)
	return ChunkAck{
		Outcome:  OutcomeCompleted,
		Index:    c.Index,
		Received: st.written,
		Total:    st.total,
	}, nil
}

// push copies the staged file to the remote host, checking for
// cancellation between quanta.
func (u *Uploader) push(ctx context.Context, st *uploadState, params sshconn.ConnectParams) (cancelled bool, err error) {
	remote, err := u.dialer.Dial(params, st.written)
	if err != nil {
		return false, err
	}
	defer remote.Close()

	if dir := path.Dir(st.remotePath); dir != "." && dir != "/" {
		if err := remote.MkdirAll(dir); err != nil {
			return false, fmt.Errorf("create remote dir %s: %w", dir, err)
		}
	}

	src, err := u.fs.Open(st.stagingPath)
	if err != nil {
		return false, fmt.Errorf("open staged file: %w", err)
	}
	defer src.Close()

	dst, err := remote.Create(st.remotePath)
	if err != nil {
		return false, fmt.Errorf("create remote file %s: %w", st.remotePath, err)
	}

	buf := make([]byte, SizingFor(st.written).Buffer)
	for {
		if err := ctx.Err(); err != nil {
			dst.Close()
			return false, err
		}
		if u.manager.IsCancelled(st.transferID) || st.progress.Cancelled() {
			dst.Close()
			return true, nil
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				dst.Close()
				return false, fmt.Errorf("write remote file: %w", werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			dst.Close()
			return false, fmt.Errorf("read staged file: %w", rerr)
		}
	}

	if err := dst.Close(); err != nil {
		return false, fmt.Errorf("close remote file: %w", err)
	}
	return false, nil
}

// release drops the transfer from the active map, the progress table,
// and staging. Safe to call more than once per transfer.
func (u *Uploader) release(st *uploadState) {
	u.mu.Lock()
	delete(u.active, st.transferID)
	u.mu.Unlock()

	u.manager.Remove(st.transferID)
	u.staging.Remove(st.stagingPath)
}

// fail marks the progress errored and tears the transfer down after a
// chunk could not be stored.
func (u *Uploader) fail(st *uploadState) {
	st.progress.Fail()
	if st.file != nil {
		st.file.Close()
		st.file = nil
	}
	u.mu.Lock()
	delete(u.active, st.transferID)
	u.mu.Unlock()

	u.manager.Remove(st.transferID)
	u.staging.Remove(st.stagingPath)
}

// Cancel flags a transfer cancelled and discards any staged chunks.
// Returns true when the transfer was live.
func (u *Uploader) Cancel(id string) bool {
	live := u.manager.Cancel(id)
	u.abandon(id)
	return live
}

// abandon discards staged state for a transfer if any exists. The
// cancelled flag in the manager is left for the caller to manage.
func (u *Uploader) abandon(id string) {
	u.mu.Lock()
	st, ok := u.active[id]
	delete(u.active, id)
	u.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	if st.file != nil {
		st.file.Close()
		st.file = nil
	}
	st.mu.Unlock()

	u.manager.Remove(id)
	u.staging.Remove(st.stagingPath)

	slog.Info("upload abandoned", slog.String("transfer_id", id))
}
