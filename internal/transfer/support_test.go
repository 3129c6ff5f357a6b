package transfer

import (
	"bytes"
	"encoding/base64"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/termbridge/termbridge/internal/sshconn"
	"github.com/termbridge/termbridge/internal/testing/fakes/fakeclock"
	"github.com/termbridge/termbridge/internal/testing/fakes/fakefs"
)

const testStagingDir = "/stage"

// --- remote host fake ---

// fakeRemote is an in-memory remote filesystem standing in for an
// SFTP channel.
type fakeRemote struct {
	mu        sync.Mutex
	files     map[string][]byte
	modes     map[string]fs.FileMode
	dirs      map[string]bool
	readers   map[string]io.ReadCloser
	statErr   map[string]error
	openErr   map[string]error
	createErr map[string]error
	writeErr  map[string]error
	writeHook map[string]func()
	mkdirs    []string
	closes    int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files:     map[string][]byte{},
		modes:     map[string]fs.FileMode{},
		dirs:      map[string]bool{"/": true},
		readers:   map[string]io.ReadCloser{},
		statErr:   map[string]error{},
		openErr:   map[string]error{},
		createErr: map[string]error{},
		writeErr:  map[string]error{},
		writeHook: map[string]func(){},
	}
}

func (r *fakeRemote) addDirChain(p string) {
	for d := p; d != "/" && d != "."; d = path.Dir(d) {
		r.dirs[d] = true
	}
}

func (r *fakeRemote) AddFile(p string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[p] = append([]byte(nil), data...)
	r.modes[p] = 0o644
	r.addDirChain(path.Dir(p))
}

func (r *fakeRemote) AddDir(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addDirChain(p)
}

// AddSpecial registers a non-regular entry, e.g. a symlink or socket.
func (r *fakeRemote) AddSpecial(p string, mode fs.FileMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[p] = nil
	r.modes[p] = mode
	r.addDirChain(path.Dir(p))
}

// SetReader overrides the content served for one path.
func (r *fakeRemote) SetReader(p string, rc io.ReadCloser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[p] = rc
}

func (r *fakeRemote) SetStatError(p string, err error)   { r.mu.Lock(); r.statErr[p] = err; r.mu.Unlock() }
func (r *fakeRemote) SetOpenError(p string, err error)   { r.mu.Lock(); r.openErr[p] = err; r.mu.Unlock() }
func (r *fakeRemote) SetCreateError(p string, err error) { r.mu.Lock(); r.createErr[p] = err; r.mu.Unlock() }
func (r *fakeRemote) SetWriteError(p string, err error)  { r.mu.Lock(); r.writeErr[p] = err; r.mu.Unlock() }

// SetWriteHook runs fn once, after the first write to the path.
func (r *fakeRemote) SetWriteHook(p string, fn func()) {
	r.mu.Lock()
	r.writeHook[p] = fn
	r.mu.Unlock()
}

func (r *fakeRemote) File(p string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.files[p]
	return append([]byte(nil), data...), ok
}

func (r *fakeRemote) Mkdirs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.mkdirs...)
}

func (r *fakeRemote) CloseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

func (r *fakeRemote) Stat(p string) (os.FileInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.statErr[p]; err != nil {
		return nil, err
	}
	if r.dirs[p] {
		return &fakeInfo{name: path.Base(p), mode: fs.ModeDir | 0o755, dir: true}, nil
	}
	if data, ok := r.files[p]; ok {
		return &fakeInfo{name: path.Base(p), size: int64(len(data)), mode: r.modes[p]}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
}

func (r *fakeRemote) Open(p string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.openErr[p]; err != nil {
		return nil, err
	}
	if rc, ok := r.readers[p]; ok {
		return rc, nil
	}
	data, ok := r.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

func (r *fakeRemote) Create(p string) (io.WriteCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.createErr[p]; err != nil {
		return nil, err
	}
	return &remoteWriter{remote: r, path: p, writeErr: r.writeErr[p], hook: r.writeHook[p]}, nil
}

func (r *fakeRemote) MkdirAll(p string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mkdirs = append(r.mkdirs, p)
	r.addDirChain(p)
	return nil
}

func (r *fakeRemote) ReadDir(dir string) ([]os.FileInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirs[dir] {
		return nil, &fs.PathError{Op: "readdir", Path: dir, Err: fs.ErrNotExist}
	}

	prefix := strings.TrimSuffix(dir, "/") + "/"
	seen := map[string]os.FileInfo{}
	for p, data := range r.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		seen[rest] = &fakeInfo{name: rest, size: int64(len(data)), mode: r.modes[p]}
	}
	for d := range r.dirs {
		if !strings.HasPrefix(d, prefix) || d == dir {
			continue
		}
		rest := strings.TrimPrefix(d, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		seen[rest] = &fakeInfo{name: rest, mode: fs.ModeDir | 0o755, dir: true}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	infos := make([]os.FileInfo, 0, len(names))
	for _, n := range names {
		infos = append(infos, seen[n])
	}
	return infos, nil
}

func (r *fakeRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

// remoteWriter buffers writes and commits them to the remote map on
// Close, like an SFTP file handle.
type remoteWriter struct {
	remote   *fakeRemote
	path     string
	buf      bytes.Buffer
	writeErr error
	hook     func()
	closed   bool
}

func (w *remoteWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	n, err := w.buf.Write(p)
	if w.hook != nil {
		fn := w.hook
		w.hook = nil
		fn()
	}
	return n, err
}

func (w *remoteWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.remote.mu.Lock()
	w.remote.files[w.path] = append([]byte(nil), w.buf.Bytes()...)
	w.remote.modes[w.path] = 0o644
	w.remote.addDirChain(path.Dir(w.path))
	w.remote.mu.Unlock()
	return nil
}

type fakeInfo struct {
	name string
	size int64
	mode fs.FileMode
	dir  bool
}

func (fi *fakeInfo) Name() string       { return fi.name }
func (fi *fakeInfo) Size() int64        { return fi.size }
func (fi *fakeInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *fakeInfo) ModTime() time.Time { return time.Time{} }
func (fi *fakeInfo) IsDir() bool        { return fi.dir }
func (fi *fakeInfo) Sys() any           { return nil }

// --- dialer fake ---

type fakeDialer struct {
	mu     sync.Mutex
	remote *fakeRemote
	err    error
	sizes  []int64
	params []sshconn.ConnectParams
}

func (d *fakeDialer) Dial(params sshconn.ConnectParams, totalSize int64) (Remote, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params = append(d.params, params)
	d.sizes = append(d.sizes, totalSize)
	if d.err != nil {
		return nil, d.err
	}
	return d.remote, nil
}

func (d *fakeDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sizes)
}

// --- harness ---

// harness wires an uploader and downloader to the same in-memory
// filesystem, clock, remote, and progress manager.
type harness struct {
	fs      *fakefs.FS
	clock   *fakeclock.Clock
	remote  *fakeRemote
	dialer  *fakeDialer
	manager *Manager
	staging *Staging
	up      *Uploader
	down    *Downloader
}

func newHarness() *harness {
	h := &harness{
		fs:     fakefs.New(),
		clock:  fakeclock.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		remote: newFakeRemote(),
	}
	h.dialer = &fakeDialer{remote: h.remote}
	h.manager = NewManager(h.clock)
	h.staging = NewStaging(testStagingDir, h.fs, h.clock, 3, 10*time.Millisecond)
	h.up = NewUploader(UploaderOptions{
		Manager:    h.manager,
		Staging:    h.staging,
		Dialer:     h.dialer,
		FileSystem: h.fs,
		Clock:      h.clock,
	})
	h.down = NewDownloader(DownloaderOptions{
		Manager:    h.manager,
		Staging:    h.staging,
		Dialer:     h.dialer,
		FileSystem: h.fs,
		Clock:      h.clock,
	})
	return h
}

// stagingFiles lists staging entries left on the fake filesystem.
func (h *harness) stagingFiles() []string {
	var out []string
	for _, p := range h.fs.Files() {
		if strings.HasPrefix(p, testStagingDir+"/") {
			out = append(out, p)
		}
	}
	return out
}

func testParams() sshconn.ConnectParams {
	return sshconn.ConnectParams{Host: "files.example", Port: 22, User: "deploy", Password: "c2VjcmV0"}
}

func chunk(id string, index int, last bool, total int64, remotePath string, data []byte) Chunk {
	return Chunk{
		TransferID: id,
		Index:      index,
		IsLast:     last,
		TotalSize:  total,
		RemotePath: remotePath,
		Data:       base64.StdEncoding.EncodeToString(data),
		Params:     testParams(),
	}
}

// hookReader calls fn once after the first successful read, then keeps
// serving the underlying reader.
type hookReader struct {
	r    io.Reader
	once sync.Once
	fn   func()
}

func (h *hookReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.once.Do(h.fn)
	}
	return n, err
}

func (h *hookReader) Close() error { return nil }
