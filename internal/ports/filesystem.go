package ports

import (
	"io"
	"io/fs"
	"time"
)

// FileSystem is the local-disk seam: staging files, recordings,
// config and key material all go through it, so a test can run a full
// transfer without touching the real filesystem.
type FileSystem interface {
	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(name string, data []byte, perm fs.FileMode) error

	// OpenFile opens the named file with the given flag and permissions.
	OpenFile(name string, flag int, perm fs.FileMode) (FileHandle, error)

	// Open opens the named file for reading.
	Open(name string) (io.ReadCloser, error)

	// Stat returns file info for the named file.
	Stat(name string) (fs.FileInfo, error)

	// ReadDir reads the named directory and returns its entries.
	ReadDir(name string) ([]fs.DirEntry, error)

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm fs.FileMode) error

	// Remove removes the named file or empty directory.
	Remove(name string) error

	// RemoveAll removes the named path and any children it contains.
	RemoveAll(path string) error

	// Rename renames (moves) oldpath to newpath.
	Rename(oldpath, newpath string) error

	// Chtimes changes the access and modification times of the named file.
	Chtimes(name string, atime, mtime time.Time) error

	// UserHomeDir returns the current user's home directory.
	UserHomeDir() (string, error)

	// Getenv retrieves the value of the environment variable named by the key.
	Getenv(key string) string
}

// FileHandle is an open file returned by FileSystem.OpenFile. Chunk
// reassembly syncs after every append so a crash leaves the staging
// file no shorter than the last acknowledged chunk.
type FileHandle interface {
	io.Writer
	io.Closer

	// Sync flushes the file's contents to stable storage.
	Sync() error
}
