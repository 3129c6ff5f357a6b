package fakefs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"testing"
	"time"
)

// --- error shapes ---

func TestFS_ReadFileNotExist(t *testing.T) {
	f := New()

	_, err := f.ReadFile("/nonexistent/file.txt")
	if err == nil {
		t.Fatal("ReadFile should return error for nonexistent file")
	}

	pathErr, ok := err.(*fs.PathError)
	if !ok {
		t.Fatalf("expected *fs.PathError, got %T", err)
	}
	if pathErr.Op != "open" {
		t.Errorf("PathError.Op = %q, want %q", pathErr.Op, "open")
	}
	if pathErr.Err != fs.ErrNotExist {
		t.Errorf("PathError.Err = %v, want %v", pathErr.Err, fs.ErrNotExist)
	}
}

func TestFS_OpenNotExist(t *testing.T) {
	f := New()

	if _, err := f.Open("/missing.bin"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open() error = %v, want ErrNotExist", err)
	}
}

// --- OpenFile and handles ---

func TestFS_OpenFileCreatesAndAppends(t *testing.T) {
	f := New()

	fh, err := f.OpenFile("/staging/up_1", os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if _, err := fh.Write([]byte("first ")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := fh.Write([]byte("second")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := fh.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := f.ReadFile("/staging/up_1")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "first second" {
		t.Errorf("ReadFile() = %q, want %q", data, "first second")
	}

	// Parent directory was created on the way.
	info, err := f.Stat("/staging")
	if err != nil || !info.IsDir() {
		t.Errorf("Stat(/staging) = %v, %v, want a directory", info, err)
	}
}

func TestFS_OpenFileExclusiveCollision(t *testing.T) {
	f := New()
	f.AddFile("/staging/up_1", []byte("already here"), 0600)

	_, err := f.OpenFile("/staging/up_1", os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if !errors.Is(err, fs.ErrExist) {
		t.Errorf("OpenFile(O_EXCL) error = %v, want ErrExist", err)
	}
}

func TestFS_OpenFileTruncates(t *testing.T) {
	f := New()
	f.AddFile("/log.txt", []byte("old content"), 0644)

	fh, err := f.OpenFile("/log.txt", os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if _, err := fh.Write([]byte("new")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	fh.Close()

	data, _ := f.ReadFile("/log.txt")
	if string(data) != "new" {
		t.Errorf("ReadFile() = %q, want %q", data, "new")
	}
}

func TestFS_OpenFileMissingWithoutCreate(t *testing.T) {
	f := New()

	if _, err := f.OpenFile("/absent", os.O_WRONLY, 0644); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("OpenFile() error = %v, want ErrNotExist", err)
	}
}

func TestFS_OpenFileInjectedError(t *testing.T) {
	f := New()
	boom := errors.New("disk full")
	f.SetOpenFileError("/staging/up_1", boom)

	if _, err := f.OpenFile("/staging/up_1", os.O_WRONLY|os.O_CREATE, 0600); err != boom {
		t.Errorf("OpenFile() error = %v, want injected error", err)
	}
}

func TestFS_HandleAfterClose(t *testing.T) {
	f := New()
	fh, err := f.OpenFile("/f", os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if err := fh.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := fh.Write([]byte("x")); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("Write() after close = %v, want ErrClosed", err)
	}
	if err := fh.Sync(); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("Sync() after close = %v, want ErrClosed", err)
	}
	if err := fh.Close(); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("second Close() = %v, want ErrClosed", err)
	}
}

func TestFS_SyncCount(t *testing.T) {
	f := New()
	fh, _ := f.OpenFile("/a", os.O_WRONLY|os.O_CREATE, 0644)
	fh2, _ := f.OpenFile("/b", os.O_WRONLY|os.O_CREATE, 0644)

	fh.Sync()
	fh.Sync()
	fh2.Sync()

	if f.SyncCount() != 3 {
		t.Errorf("SyncCount() = %d, want 3", f.SyncCount())
	}
}

func TestFS_OpenReturnsSnapshot(t *testing.T) {
	f := New()
	f.AddFile("/snap.txt", []byte("before"), 0644)

	r, err := f.Open("/snap.txt")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	// A write landing after Open must not leak into the reader.
	f.WriteFile("/snap.txt", []byte("after"), 0644)

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != "before" {
		t.Errorf("read %q, want the snapshot %q", data, "before")
	}
}

// --- directory listings ---

func TestFS_ReadDir(t *testing.T) {
	f := New()
	f.AddFile("/srv/app.yaml", []byte("a"), 0644)
	f.AddFile("/srv/data/rows.csv", []byte("bb"), 0644)
	f.AddFile("/srv/zz.txt", []byte("ccc"), 0644)

	entries, err := f.ReadDir("/srv")
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	// Sorted by name; the nested file shows up only as its parent dir.
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	want := []string{"app.yaml", "data", "zz.txt"}
	if len(names) != len(want) {
		t.Fatalf("ReadDir() names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ReadDir() names = %v, want %v", names, want)
		}
	}

	if entries[0].IsDir() || !entries[1].IsDir() {
		t.Error("ReadDir() directory flags are wrong")
	}
	info, err := entries[2].Info()
	if err != nil || info.Size() != 3 {
		t.Errorf("Info() = %v, %v, want a 3 byte file", info, err)
	}
}

func TestFS_ReadDirNotExist(t *testing.T) {
	f := New()

	if _, err := f.ReadDir("/nowhere"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadDir() error = %v, want ErrNotExist", err)
	}
}

// --- removal ---

func TestFS_RemoveNonEmptyDir(t *testing.T) {
	f := New()
	f.AddFile("/dir/inner.txt", []byte("x"), 0644)

	if err := f.Remove("/dir"); err == nil {
		t.Error("Remove() of a non-empty directory succeeded")
	}

	if err := f.RemoveAll("/dir"); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if _, err := f.Stat("/dir/inner.txt"); err == nil {
		t.Error("file survived RemoveAll of its directory")
	}
	if _, err := f.Stat("/dir"); err == nil {
		t.Error("directory survived RemoveAll")
	}
}

func TestFS_RemoveAllMissingPathIsNil(t *testing.T) {
	f := New()

	if err := f.RemoveAll("/never/was"); err != nil {
		t.Errorf("RemoveAll() of a missing path = %v, want nil", err)
	}
}

func TestFS_RemoveErrorInjection(t *testing.T) {
	f := New()
	f.AddFile("/locked", []byte("x"), 0644)
	boom := errors.New("text file busy")

	f.SetRemoveError("/locked", boom)
	if err := f.Remove("/locked"); err != boom {
		t.Errorf("Remove() error = %v, want injected error", err)
	}
	if err := f.Remove("/locked"); err != boom {
		t.Errorf("Remove() keeps failing, got %v", err)
	}

	f.ClearRemoveError("/locked")
	if err := f.Remove("/locked"); err != nil {
		t.Errorf("Remove() after clear = %v, want nil", err)
	}
}

func TestFS_RemoveErrorCountExpires(t *testing.T) {
	f := New()
	f.AddFile("/flaky", []byte("x"), 0644)
	boom := errors.New("resource busy")

	// Two failures, then the retry gets through.
	f.SetRemoveErrorCount("/flaky", boom, 2)
	if err := f.Remove("/flaky"); err != boom {
		t.Fatalf("first Remove() = %v, want injected error", err)
	}
	if err := f.Remove("/flaky"); err != boom {
		t.Fatalf("second Remove() = %v, want injected error", err)
	}
	if err := f.Remove("/flaky"); err != nil {
		t.Fatalf("third Remove() = %v, want nil", err)
	}
	if _, err := f.Stat("/flaky"); err == nil {
		t.Error("file still present after successful Remove")
	}
}

// --- metadata and environment ---

func TestFS_Chtimes(t *testing.T) {
	f := New()
	f.AddFile("/tmp/test.txt", []byte("hello"), 0644)

	newTime := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	if err := f.Chtimes("/tmp/test.txt", newTime, newTime); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	info, err := f.Stat("/tmp/test.txt")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.ModTime().Equal(newTime) {
		t.Errorf("ModTime() = %v, want %v", info.ModTime(), newTime)
	}
}

func TestFS_ChtimesNotExist(t *testing.T) {
	f := New()

	if err := f.Chtimes("/missing", time.Now(), time.Now()); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Chtimes() error = %v, want ErrNotExist", err)
	}
}

func TestFS_HomeDir(t *testing.T) {
	f := New()

	home, err := f.UserHomeDir()
	if err != nil {
		t.Fatalf("UserHomeDir() error = %v", err)
	}
	if home != "/home/test" {
		t.Errorf("UserHomeDir() = %q, want the default %q", home, "/home/test")
	}

	f.SetHomeDir("/home/deploy")
	home, _ = f.UserHomeDir()
	if home != "/home/deploy" {
		t.Errorf("UserHomeDir() = %q, want %q", home, "/home/deploy")
	}
}

func TestFS_Env(t *testing.T) {
	f := New()

	if got := f.Getenv("XDG_CONFIG_HOME"); got != "" {
		t.Errorf("Getenv() on unset key = %q, want empty", got)
	}

	f.SetEnv("XDG_CONFIG_HOME", "/etc/xdg")
	if got := f.Getenv("XDG_CONFIG_HOME"); got != "/etc/xdg" {
		t.Errorf("Getenv() = %q, want %q", got, "/etc/xdg")
	}
}

func TestFS_FilesSorted(t *testing.T) {
	f := New()
	f.AddFile("/b.txt", nil, 0644)
	f.AddFile("/a/z.txt", nil, 0644)
	f.AddFile("/c.txt", nil, 0644)

	got := f.Files()
	want := []string{"/a/z.txt", "/b.txt", "/c.txt"}
	if len(got) != len(want) {
		t.Fatalf("Files() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Files() = %v, want %v", got, want)
		}
	}
}
