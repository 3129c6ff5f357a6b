// Package fakefs backs the FileSystem port with an in-memory tree so
// tests can stage files, inject failures and inspect what was written.
package fakefs

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/termbridge/termbridge/internal/ports"
)

// FS holds the fake tree. The zero value is not usable; call New.
type FS struct {
	mu      sync.RWMutex
	files   map[string]*fakeFile
	dirs    map[string]bool
	homeDir string
	env     map[string]string

	// Error injection
	openFileErr map[string]error
	removeErr   map[string]*removeFailure
	syncCount   int
}

// removeFailure is an injected Remove error; remaining < 0 keeps it
// failing forever, otherwise it succeeds once the count runs out.
type removeFailure struct {
	err       error
	remaining int
}

type fakeFile struct {
	data    []byte
	mode    fs.FileMode
	modTime time.Time
}

// New returns an empty filesystem with / present and a stub home dir.
func New() *FS {
	return &FS{
		files:       make(map[string]*fakeFile),
		dirs:        map[string]bool{"/": true},
		homeDir:     "/home/test",
		env:         make(map[string]string),
		openFileErr: make(map[string]error),
		removeErr:   make(map[string]*removeFailure),
	}
}

// ReadFile reads the named file and returns its contents.
func (f *FS) ReadFile(name string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name = filepath.Clean(name)
	file, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}

	// Callers get their own copy; the stored bytes stay immutable.
	data := make([]byte, len(file.data))
	copy(data, file.data)
	return data, nil
}

// WriteFile writes data to the named file, creating it and any missing
// parent directories.
func (f *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	f.mkdirAllLocked(filepath.Dir(name))

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	f.files[name] = &fakeFile{
		data:    dataCopy,
		mode:    perm,
		modTime: time.Now(),
	}
	return nil
}

// OpenFile opens a file handle. Writes go straight through to the file;
// O_TRUNC clears existing content, O_EXCL fails when the file exists.
func (f *FS) OpenFile(name string, flag int, perm fs.FileMode) (ports.FileHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)

	if err, ok := f.openFileErr[name]; ok {
		return nil, err
	}

	file, exists := f.files[name]
	if exists && flag&os.O_EXCL != 0 && flag&os.O_CREATE != 0 {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
	}
	if !exists {
		if flag&os.O_CREATE == 0 {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		f.mkdirAllLocked(filepath.Dir(name))
		file = &fakeFile{mode: perm, modTime: time.Now()}
		f.files[name] = file
	}
	if flag&os.O_TRUNC != 0 {
		file.data = nil
	}

	return &fakeHandle{fs: f, name: name}, nil
}

// fakeHandle is a write-through handle into the fake filesystem.
type fakeHandle struct {
	fs     *FS
	name   string
	closed bool
}

func (h *fakeHandle) Write(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.closed {
		return 0, fs.ErrClosed
	}
	file, ok := h.fs.files[h.name]
	if !ok {
		return 0, &fs.PathError{Op: "write", Path: h.name, Err: fs.ErrNotExist}
	}
	file.data = append(file.data, p...)
	file.modTime = time.Now()
	return len(p), nil
}

func (h *fakeHandle) Sync() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.closed {
		return fs.ErrClosed
	}
	h.fs.syncCount++
	return nil
}

func (h *fakeHandle) Close() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.closed {
		return fs.ErrClosed
	}
	h.closed = true
	return nil
}

// Open opens the named file for reading. The reader sees a snapshot of
// the content at open time.
func (f *FS) Open(name string) (io.ReadCloser, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name = filepath.Clean(name)
	file, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}

	data := make([]byte, len(file.data))
	copy(data, file.data)
	return io.NopCloser(bytes.NewReader(data)), nil
}

// mkdirAllLocked records path and every parent as directories.
// Callers hold f.mu.
func (f *FS) mkdirAllLocked(path string) {
	path = filepath.Clean(path)
	parts := strings.Split(path, string(filepath.Separator))

	current := ""
	for _, part := range parts {
		if part == "" {
			current = "/"
			continue
		}
		if current == "/" {
			current = "/" + part
		} else {
			current = current + "/" + part
		}
		f.dirs[current] = true
	}
}

// Stat returns file info for the named file.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name = filepath.Clean(name)

	// Directories win over files of the same name.
	if f.dirs[name] {
		return &fakeFileInfo{
			name:    filepath.Base(name),
			mode:    fs.ModeDir | 0755,
			modTime: time.Now(),
			isDir:   true,
		}, nil
	}

	file, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}

	return &fakeFileInfo{
		name:    filepath.Base(name),
		size:    int64(len(file.data)),
		mode:    file.mode,
		modTime: file.modTime,
		isDir:   false,
	}, nil
}

// ReadDir returns the entries directly under the named directory.
func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name = filepath.Clean(name)
	if !f.dirs[name] {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}

	prefix := name + "/"
	if name == "/" {
		prefix = "/"
	}

	seen := make(map[string]fs.DirEntry)
	for path, file := range f.files {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		if rest == "" {
			continue
		}
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			continue // nested deeper, directory entry handled below
		}
		seen[rest] = &fakeDirEntry{info: &fakeFileInfo{
			name:    rest,
			size:    int64(len(file.data)),
			mode:    file.mode,
			modTime: file.modTime,
		}}
	}
	for dir := range f.dirs {
		if !strings.HasPrefix(dir, prefix) || dir == name {
			continue
		}
		rest := strings.TrimPrefix(dir, prefix)
		if rest == "" || strings.ContainsRune(rest, '/') {
			continue
		}
		seen[rest] = &fakeDirEntry{info: &fakeFileInfo{
			name:  rest,
			mode:  fs.ModeDir | 0755,
			isDir: true,
		}}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)

	entries := make([]fs.DirEntry, 0, len(names))
	for _, n := range names {
		entries = append(entries, seen[n])
	}
	return entries, nil
}

// MkdirAll creates a directory and all parent directories.
func (f *FS) MkdirAll(path string, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mkdirAllLocked(path)
	return nil
}

// removeErrLocked consumes one injected failure for name, if any.
func (f *FS) removeErrLocked(name string) error {
	failure, ok := f.removeErr[name]
	if !ok {
		return nil
	}
	if failure.remaining == 0 {
		delete(f.removeErr, name)
		return nil
	}
	if failure.remaining > 0 {
		failure.remaining--
	}
	return failure.err
}

// Remove removes the named file or empty directory.
func (f *FS) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)

	if err := f.removeErrLocked(name); err != nil {
		return err
	}

	if _, ok := f.files[name]; ok {
		delete(f.files, name)
		return nil
	}

	if f.dirs[name] {
		// Like os.Remove, only an empty directory may go.
		for path := range f.files {
			if strings.HasPrefix(path, name+"/") {
				return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrInvalid}
			}
		}
		delete(f.dirs, name)
		return nil
	}

	return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
}

// RemoveAll removes path and everything under it. Like os.RemoveAll it
// returns nil when the path does not exist.
func (f *FS) RemoveAll(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path = filepath.Clean(path)

	if err := f.removeErrLocked(path); err != nil {
		return err
	}

	delete(f.files, path)
	delete(f.dirs, path)
	prefix := path + "/"
	for p := range f.files {
		if strings.HasPrefix(p, prefix) {
			delete(f.files, p)
		}
	}
	for d := range f.dirs {
		if strings.HasPrefix(d, prefix) {
			delete(f.dirs, d)
		}
	}
	return nil
}

// Rename renames (moves) oldpath to newpath.
func (f *FS) Rename(oldpath, newpath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	oldpath = filepath.Clean(oldpath)
	newpath = filepath.Clean(newpath)

	file, ok := f.files[oldpath]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldpath, Err: fs.ErrNotExist}
	}

	f.files[newpath] = file
	delete(f.files, oldpath)
	return nil
}

// Chtimes changes the access and modification times of the named file.
func (f *FS) Chtimes(name string, atime, mtime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	file, ok := f.files[name]
	if !ok {
		return &fs.PathError{Op: "chtimes", Path: name, Err: fs.ErrNotExist}
	}

	file.modTime = mtime
	return nil
}

// UserHomeDir reports the stub home directory, /home/test by default.
func (f *FS) UserHomeDir() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.homeDir, nil
}

// Getenv returns the value set through SetEnv, or "".
func (f *FS) Getenv(key string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.env[key]
}

// --- test hooks ---

// AddFile seeds a file, creating parent directories as needed.
func (f *FS) AddFile(name string, data []byte, mode fs.FileMode) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	f.mkdirAllLocked(filepath.Dir(name))

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	f.files[name] = &fakeFile{
		data:    dataCopy,
		mode:    mode,
		modTime: time.Now(),
	}
}

// SetHomeDir overrides what UserHomeDir reports.
func (f *FS) SetHomeDir(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.homeDir = dir
}

// SetEnv stores a variable for Getenv to find.
func (f *FS) SetEnv(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.env[key] = value
}

// SetOpenFileError makes OpenFile fail for the given path.
func (f *FS) SetOpenFileError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openFileErr[filepath.Clean(name)] = err
}

// SetRemoveError makes Remove and RemoveAll fail for the given path.
func (f *FS) SetRemoveError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeErr[filepath.Clean(name)] = &removeFailure{err: err, remaining: -1}
}

// SetRemoveErrorCount makes Remove and RemoveAll fail n times for the
// given path, then succeed.
func (f *FS) SetRemoveErrorCount(name string, err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeErr[filepath.Clean(name)] = &removeFailure{err: err, remaining: n}
}

// ClearRemoveError removes an injected Remove failure.
func (f *FS) ClearRemoveError(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.removeErr, filepath.Clean(name))
}

// SyncCount returns how many times handles have been synced.
func (f *FS) SyncCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.syncCount
}

// Files lists every stored file path in sorted order.
func (f *FS) Files() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	paths := make([]string, 0, len(f.files))
	for path := range f.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

type fakeFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

func (fi *fakeFileInfo) Name() string       { return fi.name }
func (fi *fakeFileInfo) Size() int64        { return fi.size }
func (fi *fakeFileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *fakeFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fakeFileInfo) IsDir() bool        { return fi.isDir }
func (fi *fakeFileInfo) Sys() any           { return nil }

type fakeDirEntry struct {
	info *fakeFileInfo
}

func (e *fakeDirEntry) Name() string               { return e.info.name }
func (e *fakeDirEntry) IsDir() bool                { return e.info.isDir }
func (e *fakeDirEntry) Type() fs.FileMode          { return e.info.mode.Type() }
func (e *fakeDirEntry) Info() (fs.FileInfo, error) { return e.info, nil }

var (
	_ ports.FileSystem = (*FS)(nil)
	_ os.FileInfo      = (*fakeFileInfo)(nil)
)
