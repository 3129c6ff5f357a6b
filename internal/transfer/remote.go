package transfer

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/sftp"

	"github.com/termbridge/termbridge/internal/sshconn"
)

// Remote is the slice of SFTP used by transfers. Dialers return one
// per transfer so channel sizing can match the payload.
type Remote interface {
	Stat(path string) (os.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	MkdirAll(path string) error
	ReadDir(path string) ([]os.FileInfo, error)
	Close() error
}

// Dialer opens a Remote for a transfer. totalSize is the expected
// payload in bytes, or zero when unknown, and drives channel sizing.
type Dialer interface {
	Dial(params sshconn.ConnectParams, totalSize int64) (Remote, error)
}

type factoryDialer struct {
	factory *sshconn.Factory
}

// NewFactoryDialer wraps a connection factory as a transfer Dialer.
// Each Dial opens a dedicated SSH connection so bulk traffic never
// competes with an interactive session on the same channel.
func NewFactoryDialer(f *sshconn.Factory) Dialer {
	return &factoryDialer{factory: f}
}

func (d *factoryDialer) Dial(params sshconn.ConnectParams, totalSize int64) (Remote, error) {
	conn, err := d.factory.Connect(params)
	if err != nil {
		return nil, err
	}
	client, err := conn.NewSFTP(SizingFor(totalSize).ClientOptions()...)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open transfer channel: %w", err)
	}
	return &sftpRemote{conn: conn, client: client}, nil
}

type sftpRemote struct {
	conn   *sshconn.Conn
	client *sftp.Client
}

func (r *sftpRemote) Stat(path string) (os.FileInfo, error) { return r.client.Stat(path) }

func (r *sftpRemote) Open(path string) (io.ReadCloser, error) { return r.client.Open(path) }

func (r *sftpRemote) Create(path string) (io.WriteCloser, error) { return r.client.Create(path) }

func (r *sftpRemote) MkdirAll(path string) error { return r.client.MkdirAll(path) }

func (r *sftpRemote) ReadDir(path string) ([]os.FileInfo, error) { return r.client.ReadDir(path) }

func (r *sftpRemote) Close() error {
	err := r.client.Close()
	if cerr := r.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
