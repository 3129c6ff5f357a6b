// Package realfs backs the FileSystem port with the os package. Staging
// files, session recordings and config all land on real disk through this
// adapter; fakefs stands in for it under test.
package realfs

import (
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/termbridge/termbridge/internal/ports"
)

// FS delegates every call to the corresponding os function.
type FS struct{}

var _ ports.FileSystem = (*FS)(nil)

// New returns an FS rooted in the real filesystem.
func New() *FS {
	return &FS{}
}

func (f *FS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (f *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (f *FS) OpenFile(name string, flag int, perm fs.FileMode) (ports.FileHandle, error) {
	return os.OpenFile(name, flag, perm)
}

func (f *FS) Open(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

func (f *FS) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(name)
}

func (f *FS) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (f *FS) Remove(name string) error {
	return os.Remove(name)
}

func (f *FS) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (f *FS) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

func (f *FS) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(name, atime, mtime)
}

func (f *FS) UserHomeDir() (string, error) {
	return os.UserHomeDir()
}

func (f *FS) Getenv(key string) string {
	return os.Getenv(key)
}
