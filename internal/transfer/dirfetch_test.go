package transfer

import (
	"bytes"
	"context"
	"io/fs"
	"strings"
	"testing"
)

// --- walking ---

func TestFetchDirMirrorsTree(t *testing.T) {
	h := newHarness()
	a := uploadPayload(100)
	b := uploadPayload(200)
	c := uploadPayload(50)
	h.remote.AddFile("/src/a.txt", a)
	h.remote.AddFile("/src/sub/b.bin", b)
	h.remote.AddFile("/src/sub/deep/c.txt", c)

	result, outcome, err := h.down.FetchDir(context.Background(), "f1", testParams(), "/src", "/dl", nil)
	if err != nil {
		t.Fatalf("FetchDir() error: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeCompleted)
	}
	if result.Files != 3 || result.Bytes != 350 || result.Skipped != 0 {
		t.Fatalf("result = %+v, want 3 files, 350 bytes, 0 skipped", result)
	}

	for path, want := range map[string][]byte{
		"/dl/a.txt":          a,
		"/dl/sub/b.bin":      b,
		"/dl/sub/deep/c.txt": c,
	} {
		got, err := h.fs.ReadFile(path)
		if err != nil {
			t.Fatalf("local %s missing: %v", path, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("local %s differs from the remote copy", path)
		}
	}
	if h.manager.Count() != 0 {
		t.Fatalf("manager.Count() = %d, want 0", h.manager.Count())
	}
}

func TestFetchDirExcludes(t *testing.T) {
	h := newHarness()
	h.remote.AddFile("/src/a.txt", []byte("keep"))
	h.remote.AddFile("/src/a.log", []byte("drop"))
	h.remote.AddFile("/src/node_modules/x.js", []byte("drop"))
	h.remote.AddFile("/src/sub/y.log", []byte("drop"))

	result, outcome, err := h.down.FetchDir(context.Background(), "f1", testParams(), "/src", "/dl",
		[]string{"**/*.log", "node_modules"})
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("FetchDir() = %q, %v, want completed", outcome, err)
	}
	if result.Files != 1 || result.Skipped != 3 {
		t.Fatalf("result = %+v, want 1 file and 3 skipped", result)
	}

	if _, err := h.fs.ReadFile("/dl/a.txt"); err != nil {
		t.Fatalf("kept file missing: %v", err)
	}
	for _, p := range []string{"/dl/a.log", "/dl/node_modules/x.js", "/dl/sub/y.log"} {
		if _, err := h.fs.ReadFile(p); err == nil {
			t.Fatalf("excluded file %s was copied", p)
		}
	}
}

func TestFetchDirSkipsSpecialFiles(t *testing.T) {
	h := newHarness()
	h.remote.AddFile("/src/real.txt", []byte("data"))
	h.remote.AddSpecial("/src/sock", fs.ModeSocket)

	result, _, err := h.down.FetchDir(context.Background(), "f1", testParams(), "/src", "/dl", nil)
	if err != nil {
		t.Fatalf("FetchDir() error: %v", err)
	}
	if result.Files != 1 || result.Skipped != 1 {
		t.Fatalf("result = %+v, want 1 file and 1 skipped", result)
	}
}

func TestFetchDirEmptyTree(t *testing.T) {
	h := newHarness()
	h.remote.AddDir("/src")

	result, outcome, err := h.down.FetchDir(context.Background(), "f1", testParams(), "/src", "/dl", nil)
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("FetchDir() = %q, %v, want completed", outcome, err)
	}
	if result.Files != 0 || result.Bytes != 0 {
		t.Fatalf("result = %+v, want nothing copied", result)
	}
	info, err := h.fs.Stat("/dl")
	if err != nil || !info.IsDir() {
		t.Fatalf("local root not created: %v", err)
	}
}

// --- failure and cancellation ---

func TestFetchDirValidation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, _, err := h.down.FetchDir(ctx, "", testParams(), "/src", "/dl", nil); err == nil {
		t.Fatal("FetchDir() with empty transfer id succeeded")
	}
	if _, _, err := h.down.FetchDir(ctx, "f1", testParams(), "", "/dl", nil); err == nil {
		t.Fatal("FetchDir() with empty remote dir succeeded")
	}
	if _, _, err := h.down.FetchDir(ctx, "f1", testParams(), "/src", "", nil); err == nil {
		t.Fatal("FetchDir() with empty local dir succeeded")
	}
}

func TestFetchDirMissingRemote(t *testing.T) {
	h := newHarness()

	_, _, err := h.down.FetchDir(context.Background(), "f1", testParams(), "/nope", "/dl", nil)
	if err == nil {
		t.Fatal("FetchDir() on a missing directory succeeded")
	}
}

func TestFetchDirRejectsFile(t *testing.T) {
	h := newHarness()
	h.remote.AddFile("/src", []byte("a file, not a dir"))

	_, _, err := h.down.FetchDir(context.Background(), "f1", testParams(), "/src", "/dl", nil)
	if err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Fatalf("FetchDir() on a file = %v, want a directory error", err)
	}
}

func TestFetchDirCancelKeepsWrittenFiles(t *testing.T) {
	h := newHarness()
	a := uploadPayload(4096)
	b := uploadPayload(4096)
	h.remote.AddFile("/src/a.bin", a)
	h.remote.AddFile("/src/b.bin", b)
	h.remote.SetReader("/src/a.bin", &hookReader{
		r:  bytes.NewReader(a),
		fn: func() { h.down.Cancel("f1") },
	})

	result, outcome, err := h.down.FetchDir(context.Background(), "f1", testParams(), "/src", "/dl", nil)
	if err != nil {
		t.Fatalf("FetchDir() error: %v", err)
	}
	if outcome != OutcomeCancelled {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeCancelled)
	}
	if result.Bytes != 4096 {
		t.Fatalf("result.Bytes = %d, want the 4096 already pulled", result.Bytes)
	}

	// What landed stays; what never started is absent.
	if _, err := h.fs.ReadFile("/dl/a.bin"); err != nil {
		t.Fatalf("partially transferred tree lost a written file: %v", err)
	}
	if _, err := h.fs.ReadFile("/dl/b.bin"); err == nil {
		t.Fatal("file after the cancel point was copied")
	}

	snap, ok := h.manager.Status("f1")
	if !ok || snap.Status != StatusCancelled {
		t.Fatalf("Status = %+v, %v, want cancelled", snap, ok)
	}
	if h.manager.Count() != 0 {
		t.Fatalf("manager.Count() = %d, want 0", h.manager.Count())
	}
}

func TestFetchDirTotalsDriveProgress(t *testing.T) {
	h := newHarness()
	h.remote.AddFile("/src/a.bin", uploadPayload(300))
	h.remote.AddFile("/src/b.bin", uploadPayload(700))

	// Observe the shared progress mid-run, from the second file's pull.
	var midTotal, midTransferred int64
	h.remote.SetReader("/src/b.bin", &hookReader{
		r: bytes.NewReader(uploadPayload(700)),
		fn: func() {
			if snap, ok := h.manager.Status("f1"); ok {
				midTotal, midTransferred = snap.Total, snap.Transferred
			}
		},
	})

	if _, _, err := h.down.FetchDir(context.Background(), "f1", testParams(), "/src", "/dl", nil); err != nil {
		t.Fatalf("FetchDir() error: %v", err)
	}
	if midTotal != 1000 {
		t.Fatalf("mid-run Total = %d, want the whole tree's 1000", midTotal)
	}
	if midTransferred != 300 {
		t.Fatalf("mid-run Transferred = %d, want the 300 from the first file", midTransferred)
	}
}
