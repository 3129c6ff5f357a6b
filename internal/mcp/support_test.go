package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/termbridge/termbridge/internal/config"
	"github.com/termbridge/termbridge/internal/session"
	"github.com/termbridge/termbridge/internal/sshconn"
	"github.com/termbridge/termbridge/internal/testing/fakes/fakeclock"
	"github.com/termbridge/termbridge/internal/testing/fakes/fakefs"
	"github.com/termbridge/termbridge/internal/transfer"
)

const testStagingDir = "/stage"

// --- request/response helpers ---

func makeRequest(args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(result *mcpgo.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	tc, ok := mcpgo.AsTextContent(result.Content[0])
	if !ok {
		return ""
	}
	return tc.Text
}

func resultJSON(t *testing.T, result *mcpgo.CallToolResult) map[string]any {
	t.Helper()
	text := resultText(result)
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		t.Fatalf("failed to parse result JSON: %v (text: %s)", err, text)
	}
	return m
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

// --- shell fake ---

// fakeShell is an in-memory Shell. Reads block until output is queued
// or the shell is closed, mirroring how an SSH channel behaves.
type fakeShell struct {
	mu       sync.Mutex
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once

	writes  [][]byte
	resizes [][2]int
}

func newFakeShell() *fakeShell {
	return &fakeShell{
		incoming: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

// Feed queues remote output for the next Read.
func (f *fakeShell) Feed(data []byte) {
	f.incoming <- data
}

func (f *fakeShell) Read(p []byte) (int, error) {
	select {
	case data := <-f.incoming:
		n := copy(p, data)
		return n, nil
	case <-f.closed:
		select {
		case data := <-f.incoming:
			n := copy(p, data)
			return n, nil
		default:
		}
		return 0, io.EOF
	}
}

func (f *fakeShell) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	f.writes = append(f.writes, buf)
	return len(p), nil
}

func (f *fakeShell) Resize(cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]int{cols, rows})
	return nil
}

func (f *fakeShell) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeShell) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *fakeShell) Resizes() [][2]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]int, len(f.resizes))
	copy(out, f.resizes)
	return out
}

// --- connection fake ---

// fakeConn counts Close calls and serves canned exec output so the
// host probe tools can run against it.
type fakeConn struct {
	mu       sync.Mutex
	closes   int
	outputs  map[string][]byte
	probeErr error
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// SetOutput registers the response for one remote command.
func (c *fakeConn) SetOutput(cmd string, out string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outputs == nil {
		c.outputs = map[string][]byte{}
	}
	c.outputs[cmd] = []byte(out)
}

// FailProbes makes every Output call return err.
func (c *fakeConn) FailProbes(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeErr = err
}

func (c *fakeConn) Output(ctx context.Context, cmd string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.probeErr != nil {
		return nil, c.probeErr
	}
	if out, ok := c.outputs[cmd]; ok {
		return append([]byte(nil), out...), nil
	}
	return nil, &fs.PathError{Op: "exec", Path: cmd, Err: fs.ErrNotExist}
}

// --- opener fake ---

// fakeOpener hands out preconfigured conn/shell pairs.
type fakeOpener struct {
	mu     sync.Mutex
	err    error
	shells []*fakeShell
	conns  []*fakeConn
	calls  []sshconn.ConnectParams
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{}
}

func (o *fakeOpener) Open(params sshconn.ConnectParams, opts sshconn.ShellOptions) (session.Conn, session.Shell, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls = append(o.calls, params)
	if o.err != nil {
		return nil, nil, o.err
	}
	conn := &fakeConn{}
	shell := newFakeShell()
	o.conns = append(o.conns, conn)
	o.shells = append(o.shells, shell)
	return conn, shell, nil
}

func (o *fakeOpener) SetError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *fakeOpener) Shell(i int) *fakeShell {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shells[i]
}

func (o *fakeOpener) Conn(i int) *fakeConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conns[i]
}

func (o *fakeOpener) CallCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func (o *fakeOpener) Params(i int) sshconn.ConnectParams {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[i]
}

// --- remote host fake ---

// fakeRemote is an in-memory remote filesystem standing in for an
// SFTP channel.
type fakeRemote struct {
	mu     sync.Mutex
	files  map[string][]byte
	modes  map[string]fs.FileMode
	dirs   map[string]bool
	mkdirs []string
	closes int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files: map[string][]byte{},
		modes: map[string]fs.FileMode{},
		dirs:  map[string]bool{"/": true},
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

func (r *fakeRemote) File(p string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.files[p]
	return append([]byte(nil), data...), ok
}

func (r *fakeRemote) Stat(p string) (os.FileInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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
	data, ok := r.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

func (r *fakeRemote) Create(p string) (io.WriteCloser, error) {
	return &remoteWriter{remote: r, path: p}, nil
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
	remote *fakeRemote
	path   string
	buf    bytes.Buffer
	closed bool
}

func (w *remoteWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
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
	params []sshconn.ConnectParams
}

func (d *fakeDialer) Dial(params sshconn.ConnectParams, totalSize int64) (transfer.Remote, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params = append(d.params, params)
	if d.err != nil {
		return nil, d.err
	}
	return d.remote, nil
}

func (d *fakeDialer) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.params)
}

func (d *fakeDialer) Params(i int) sshconn.ConnectParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params[i]
}

// --- harness ---

// harness wires a server to in-memory fakes for every boundary.
type harness struct {
	srv    *Server
	opener *fakeOpener
	remote *fakeRemote
	dialer *fakeDialer
	fs     *fakefs.FS
	clock  *fakeclock.Clock
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Transfer.StagingDir = testStagingDir
	cfg.Security.UseKeyring = false
	return cfg
}

func newHarness(cfg *config.Config) *harness {
	if cfg == nil {
		cfg = testConfig()
	}
	h := &harness{
		opener: newFakeOpener(),
		remote: newFakeRemote(),
		fs:     fakefs.New(),
		clock:  fakeclock.New(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	h.dialer = &fakeDialer{remote: h.remote}
	h.srv = NewServer(cfg,
		WithOpener(h.opener),
		WithTransferDialer(h.dialer),
		WithFileSystem(h.fs),
		WithClock(h.clock),
	)
	return h
}

// open establishes a session through the open_session handler.
func (h *harness) open(t *testing.T, sessionID string) {
	t.Helper()
	result, err := h.srv.handleOpenSession(context.Background(), makeRequest(map[string]any{
		"session_id": sessionID,
		"host":       "host.example",
		"user":       "deploy",
		"password":   "c2VjcmV0",
	}))
	if err != nil {
		t.Fatalf("open_session(%s) error: %v", sessionID, err)
	}
	if result.IsError {
		t.Fatalf("open_session(%s) failed: %s", sessionID, resultText(result))
	}
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
