package session

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/termbridge/termbridge/internal/sshconn"
)

// fakeShell is an in-memory Shell. Reads block until output is queued
// or the shell is closed, mirroring how an SSH channel behaves.
type fakeShell struct {
	mu       sync.Mutex
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once

	writes    [][]byte
	resizes   [][2]int
	resizeErr error
	writeErr  error
	readErr   error // returned after incoming is drained and readErr set
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

// FailReads makes the next Read return err once the queue is drained.
func (f *fakeShell) FailReads(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
	f.once.Do(func() { close(f.closed) })
}

func (f *fakeShell) Read(p []byte) (int, error) {
	select {
	case data := <-f.incoming:
		n := copy(p, data)
		return n, nil
	case <-f.closed:
		// Drain anything queued before the close won the race
		select {
		case data := <-f.incoming:
			n := copy(p, data)
			return n, nil
		default:
		}
		f.mu.Lock()
		err := f.readErr
		f.mu.Unlock()
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
}

func (f *fakeShell) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	f.writes = append(f.writes, buf)
	return len(p), nil
}

func (f *fakeShell) Resize(cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resizeErr != nil {
		return f.resizeErr
	}
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

func (f *fakeShell) WriteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeShell) Resizes() [][2]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]int, len(f.resizes))
	copy(out, f.resizes)
	return out
}

// fakeConn counts Close calls.
type fakeConn struct {
	mu     sync.Mutex
	closes int
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

// fakeOpener hands out preconfigured conn/shell pairs.
type fakeOpener struct {
	mu     sync.Mutex
	err    error
	shells []*fakeShell
	conns  []*fakeConn
	calls  []sshconn.ConnectParams
	opts   []sshconn.ShellOptions
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{}
}

func (o *fakeOpener) Open(params sshconn.ConnectParams, opts sshconn.ShellOptions) (Conn, Shell, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls = append(o.calls, params)
	o.opts = append(o.opts, opts)
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

func (o *fakeOpener) Opts(i int) sshconn.ShellOptions {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opts[i]
}

// recordingSink captures emitted events.
type recordingSink struct {
	mu     sync.Mutex
	output map[string][]string
	closed map[string][]string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		output: make(map[string][]string),
		closed: make(map[string][]string),
	}
}

func (r *recordingSink) SessionOutput(id, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output[id] = append(r.output[id], text)
}

func (r *recordingSink) SessionClosed(id, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed[id] = append(r.closed[id], reason)
}

func (r *recordingSink) Output(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out string
	for _, chunk := range r.output[id] {
		out += chunk
	}
	return out
}

func (r *recordingSink) ClosedEvents(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.closed[id]))
	copy(out, r.closed[id])
	return out
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

var errConnRefused = errors.New("dial tcp: connect: connection refused")
