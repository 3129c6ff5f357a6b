// Package sftpx provides remote file management over a session's SFTP
// channel: directory listing, mkdir, rename, recursive delete, and
// bounded file previews.
package sftpx

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/sftp"

	"github.com/termbridge/termbridge/internal/sshconn"
)

// DefaultPreviewLimit caps how much of a remote file a preview returns.
const DefaultPreviewLimit = 3 * 1024 * 1024

// Entry is one row of a remote listing.
type Entry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	IsDir   bool   `json:"is_dir"`
	Size    int64  `json:"size"`
	Mode    string `json:"mode"`
	ModTime int64  `json:"mod_time"` // Unix timestamp
	IsLink  bool   `json:"is_link"`
}

func newEntry(fullPath string, info os.FileInfo) Entry {
	return Entry{
		Name:    info.Name(),
		Path:    fullPath,
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		Mode:    info.Mode().String(),
		ModTime: info.ModTime().Unix(),
		IsLink:  info.Mode()&os.ModeSymlink != 0,
	}
}

// Client performs file management on the connection's shared SFTP
// channel, which the connection creates lazily and guards.
type Client struct {
	conn *sshconn.Conn
}

// NewClient wraps a connection for file management.
func NewClient(conn *sshconn.Conn) *Client {
	return &Client{conn: conn}
}

// List returns the entries directly under dir, directories first, each
// group sorted by name. Dot entries are filtered unless showHidden.
func (c *Client) List(dir string, showHidden bool) ([]Entry, error) {
	client, err := c.conn.SFTP()
	if err != nil {
		return nil, err
	}
	infos, err := client.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return buildEntries(dir, infos, showHidden), nil
}

// Stat returns the entry for a single remote path.
func (c *Client) Stat(p string) (Entry, error) {
	client, err := c.conn.SFTP()
	if err != nil {
		return Entry{}, err
	}
	info, err := client.Stat(p)
	if err != nil {
		return Entry{}, fmt.Errorf("stat %s: %w", p, err)
	}
	return newEntry(p, info), nil
}

// Mkdir creates a directory, including missing parents.
func (c *Client) Mkdir(p string) error {
	client, err := c.conn.SFTP()
	if err != nil {
		return err
	}
	if err := client.MkdirAll(p); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

// Rename moves oldPath to newPath.
func (c *Client) Rename(oldPath, newPath string) error {
	client, err := c.conn.SFTP()
	if err != nil {
		return err
	}
	if err := client.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename %s: %w", oldPath, err)
	}
	return nil
}

// Remove deletes a file, or a directory when recursive is set. A
// non-empty directory without recursive fails.
func (c *Client) Remove(p string, recursive bool) error {
	client, err := c.conn.SFTP()
	if err != nil {
		return err
	}
	info, err := client.Stat(p)
	if err != nil {
		return fmt.Errorf("stat %s: %w", p, err)
	}
	if !info.IsDir() {
		if err := client.Remove(p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
		return nil
	}
	if !recursive {
		if err := client.RemoveDirectory(p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
		return nil
	}
	return removeTree(client, p)
}

// removeTree deletes a directory depth-first: children before their
// parent, so the final RemoveDirectory always sees an empty dir.
func removeTree(client *sftp.Client, dir string) error {
	infos, err := client.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	for _, info := range infos {
		child := path.Join(dir, info.Name())
		if info.IsDir() {
			if err := removeTree(client, child); err != nil {
				return err
			}
			continue
		}
		if err := client.Remove(child); err != nil {
			return fmt.Errorf("remove %s: %w", child, err)
		}
	}
	if err := client.RemoveDirectory(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

// ReadPreview reads up to limit bytes of a remote file, reporting
// whether the file was truncated. limit <= 0 applies the default cap.
func (c *Client) ReadPreview(p string, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	client, err := c.conn.SFTP()
	if err != nil {
		return nil, false, err
	}
	f, err := client.Open(p)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return nil, false, fmt.Errorf("%s is a directory", p)
	}

	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", p, err)
	}
	return data, info.Size() > limit, nil
}

// Walk visits root and everything under it, parents before children.
// Returning an error from fn stops the walk.
func (c *Client) Walk(root string, fn func(p string, info os.FileInfo) error) error {
	client, err := c.conn.SFTP()
	if err != nil {
		return err
	}
	info, err := client.Stat(root)
	if err != nil {
		return fmt.Errorf("stat %s: %w", root, err)
	}
	return walk(client, root, info, fn)
}

func walk(client *sftp.Client, p string, info os.FileInfo, fn func(p string, info os.FileInfo) error) error {
	if err := fn(p, info); err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}
	infos, err := client.ReadDir(p)
	if err != nil {
		return fmt.Errorf("list %s: %w", p, err)
	}
	for _, child := range infos {
		if err := walk(client, path.Join(p, child.Name()), child, fn); err != nil {
			return err
		}
	}
	return nil
}

// buildEntries filters and orders a raw listing: hidden entries out
// unless requested, directories ahead of files, names alphabetical
// within each group.
func buildEntries(dir string, infos []os.FileInfo, showHidden bool) []Entry {
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if !showHidden && strings.HasPrefix(info.Name(), ".") {
			continue
		}
		entries = append(entries, newEntry(path.Join(dir, info.Name()), info))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}
