package transfer

import "github.com/pkg/sftp"

const (
	kib = 1 << 10
	mib = 1 << 20
	gib = 1 << 30

	// maxPacket is the SFTP packet size negotiated for transfer
	// channels. OpenSSH accepts it despite being above the RFC limit.
	maxPacket = 256 * kib
)

// Sizing is the buffer and chunk policy for one transfer, scaled to
// the file size so big files get wide buffers and small ones stay
// cheap.
type Sizing struct {
	Buffer int
	Chunk  int
}

// SizingFor returns the policy for a file of the given size. It is
// applied symmetrically to uploads and downloads.
func SizingFor(size int64) Sizing {
	switch {
	case size > gib:
		return Sizing{Buffer: 16 * mib, Chunk: 4 * mib}
	case size > 100*mib:
		return Sizing{Buffer: 8 * mib, Chunk: 2 * mib}
	default:
		return Sizing{Buffer: mib, Chunk: mib}
	}
}

// ClientOptions returns the SFTP client options matching the size
// class: bigger packets and concurrent requests keep the pipe full on
// long hauls, and large files get more in-flight requests per file.
func (s Sizing) ClientOptions() []sftp.ClientOption {
	opts := []sftp.ClientOption{
		sftp.MaxPacketUnchecked(maxPacket),
		sftp.UseConcurrentReads(true),
		sftp.UseConcurrentWrites(true),
	}
	if s.Buffer >= 8*mib {
		opts = append(opts, sftp.MaxConcurrentRequestsPerFile(64))
	}
	return opts
}
