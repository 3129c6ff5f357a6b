// Package mcp exposes the session engine, the transfer pipeline and
// remote file management as MCP tools over stdio.
package mcp

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"github.com/termbridge/termbridge/internal/adapters/realclock"
	"github.com/termbridge/termbridge/internal/adapters/realfs"
	"github.com/termbridge/termbridge/internal/config"
	"github.com/termbridge/termbridge/internal/ports"
	"github.com/termbridge/termbridge/internal/recording"
	"github.com/termbridge/termbridge/internal/security"
	"github.com/termbridge/termbridge/internal/session"
	"github.com/termbridge/termbridge/internal/sshconn"
	"github.com/termbridge/termbridge/internal/transfer"
)

// Server wires the engine and its guards behind the MCP tool surface.
type Server struct {
	mcpServer *server.MCPServer

	engine     *session.Engine
	output     *OutputBuffer
	transfers  *transfer.Manager
	uploader   *transfer.Uploader
	downloader *transfer.Downloader
	staging    *transfer.Staging

	creds       *security.CredentialStore
	pathPolicy  *security.PathPolicy
	authLimiter *security.AuthRateLimiter
	recorder    *recording.Manager

	config *config.Config
	fs     ports.FileSystem
	clock  ports.Clock

	opener session.Opener
	dialer transfer.Dialer
}

// ServerOption adjusts a Server during construction.
type ServerOption func(*Server)

// WithFileSystem sets the filesystem used by the server and every
// component it builds.
func WithFileSystem(fs ports.FileSystem) ServerOption {
	return func(s *Server) {
		s.fs = fs
	}
}

// WithClock sets the clock used by the server and every component it
// builds.
func WithClock(clock ports.Clock) ServerOption {
	return func(s *Server) {
		s.clock = clock
	}
}

// WithOpener replaces the session connection opener.
func WithOpener(op session.Opener) ServerOption {
	return func(s *Server) {
		s.opener = op
	}
}

// WithTransferDialer replaces the transfer connection dialer.
func WithTransferDialer(d transfer.Dialer) ServerOption {
	return func(s *Server) {
		s.dialer = d
	}
}

// WithCredentialStore replaces the saved-credential store.
func WithCredentialStore(cs *security.CredentialStore) ServerOption {
	return func(s *Server) {
		s.creds = cs
	}
}

// NewServer builds the full tool surface from a configuration.
func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		config:    cfg,
		fs:        realfs.New(),
		clock:     realclock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	factory := sshconn.NewFactory(sshconn.FactoryOptions{
		ConnectTimeout: cfg.SSH.ConnectTimeout,
		Term:           cfg.SSH.Term,
		Cols:           cfg.SSH.Cols,
		Rows:           cfg.SSH.Rows,
		KnownHostsPath: cfg.SSH.KnownHostsPath,
		StrictHostKey:  cfg.SSH.StrictHostKey,
		Clock:          s.clock,
		FS:             s.fs,
	})
	if s.opener == nil {
		s.opener = session.NewFactoryOpener(factory)
	}
	if s.dialer == nil {
		s.dialer = transfer.NewFactoryDialer(factory)
	}
	if s.creds == nil {
		if cfg.Security.UseKeyring {
			s.creds = security.NewCredentialStore()
		} else {
			s.creds = security.NewDisabledCredentialStore()
		}
	}

	pathPolicy, err := security.NewPathPolicy(denyPatterns(cfg), cfg.Security.PathAllowlist)
	if err != nil {
		slog.Warn("invalid path policy, using default denylist",
			slog.String("error", err.Error()),
		)
		pathPolicy, _ = security.NewPathPolicy(security.DefaultDenylist(), nil)
	}
	s.pathPolicy = pathPolicy
	s.authLimiter = security.NewAuthRateLimiter(
		cfg.Security.MaxAuthFailures,
		cfg.Security.AuthLockoutDuration,
		s.clock,
	)
	s.recorder = recording.NewManager(recordingDir(cfg), cfg.Recording.Enabled, s.fs, s.clock)

	s.output = NewOutputBuffer(0)
	s.engine = session.NewEngine(session.EngineOptions{
		Opener:               s.opener,
		Sink:                 session.MultiSink{s.output, s.recorder},
		Clock:                s.clock,
		Term:                 cfg.SSH.Term,
		Cols:                 cfg.SSH.Cols,
		Rows:                 cfg.SSH.Rows,
		PollInterval:         cfg.SSH.PollInterval,
		KeepaliveIdle:        cfg.SSH.KeepaliveIdle,
		MaxSessionsPerClient: cfg.Limits.MaxSessionsPerClient,
	})

	s.transfers = transfer.NewManager(s.clock)
	s.staging = transfer.NewStaging(
		cfg.Transfer.StagingDir,
		s.fs,
		s.clock,
		cfg.Transfer.CleanupRetries,
		cfg.Transfer.CleanupRetryDelay,
	)
	s.uploader = transfer.NewUploader(transfer.UploaderOptions{
		Manager:    s.transfers,
		Staging:    s.staging,
		Dialer:     s.dialer,
		FileSystem: s.fs,
		Clock:      s.clock,
	})
	s.downloader = transfer.NewDownloader(transfer.DownloaderOptions{
		Manager:    s.transfers,
		Staging:    s.staging,
		Dialer:     s.dialer,
		FileSystem: s.fs,
		Clock:      s.clock,
	})

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio transport and blocks until the
// client disconnects.
func (s *Server) Run() error {
	slog.Info("starting MCP server on stdio transport")
	return server.ServeStdio(s.mcpServer)
}

// Shutdown closes every session, finalizes recordings and sweeps the
// staging directory.
func (s *Server) Shutdown() {
	s.engine.Shutdown()
	s.recorder.CloseAll()
	if n := s.staging.Sweep(); n > 0 {
		slog.Info("staging directory swept", slog.Int("files", n))
	}
}

// UpdateConfig applies a new configuration at runtime. The path
// policy, the auth rate limiter and the recording settings reload in
// place; connection and transfer settings require a restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	slog.Debug("applying config update")

	if err := s.pathPolicy.Update(denyPatterns(cfg), cfg.Security.PathAllowlist); err != nil {
		slog.Warn("failed to update path policy, keeping previous",
			slog.String("error", err.Error()),
		)
	} else {
		slog.Debug("path policy updated")
	}

	s.authLimiter.Configure(cfg.Security.MaxAuthFailures, cfg.Security.AuthLockoutDuration)
	slog.Debug("auth rate limiter updated")

	s.recorder.Reconfigure(recordingDir(cfg), cfg.Recording.Enabled)
	slog.Debug("recording settings updated")

	s.config = cfg
	slog.Info("configuration hot-reloaded")
}

// denyPatterns returns the configured denylist, or the built-in one
// when the config leaves it unset.
func denyPatterns(cfg *config.Config) []string {
	if cfg.Security.PathDenylist != nil {
		return cfg.Security.PathDenylist
	}
	return security.DefaultDenylist()
}

// recordingDir returns where session transcripts go.
func recordingDir(cfg *config.Config) string {
	if cfg.Recording.Path != "" {
		return cfg.Recording.Path
	}
	return filepath.Join(os.TempDir(), "termbridge-recordings")
}
