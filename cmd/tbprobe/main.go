// tbprobe opens an interactive session against a real host through the
// same connection stack termbridged uses. It exists for manual
// verification: bridge a terminal to a remote shell, or run a one-shot
// transfer and watch its progress.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/termbridge/termbridge/internal/adapters/realclock"
	"github.com/termbridge/termbridge/internal/adapters/realfs"
	"github.com/termbridge/termbridge/internal/config"
	"github.com/termbridge/termbridge/internal/logging"
	"github.com/termbridge/termbridge/internal/recovery"
	"github.com/termbridge/termbridge/internal/sshconn"
	"github.com/termbridge/termbridge/internal/transfer"
)

const putChunkSize = 4 << 20

func main() {
	var (
		configPath    string
		host          string
		port          int
		user          string
		keyPath       string
		passwordEnv   string
		passphraseEnv string
		useAgent      bool
		putPath       string
		getPath       string
		remotePath    string
		localPath     string
	)

	pflag.StringVar(&configPath, "config", "", "Path to configuration file")
	pflag.StringVar(&host, "host", "", "Remote host name or address")
	pflag.IntVar(&port, "port", 22, "SSH port")
	pflag.StringVar(&user, "user", "", "SSH username")
	pflag.StringVar(&keyPath, "key", "", "Path to a private key file")
	pflag.StringVar(&passwordEnv, "password-env", "", "Environment variable holding the password")
	pflag.StringVar(&passphraseEnv, "passphrase-env", "", "Environment variable holding the key passphrase")
	pflag.BoolVar(&useAgent, "agent", false, "Try the SSH agent before other authentication methods")
	pflag.StringVar(&putPath, "put", "", "Upload this local file and exit")
	pflag.StringVar(&getPath, "get", "", "Download this remote file and exit")
	pflag.StringVar(&remotePath, "remote", "", "Remote path for --put (default: file name in the login directory)")
	pflag.StringVar(&localPath, "local", "", "Local path for --get (default: file name in the working directory)")
	pflag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration: %v", err)
	}

	// Keep slog quiet; the probe talks to the terminal directly.
	logging.Setup("warn", cfg.Logging.Sanitize)

	password := ""
	if passwordEnv != "" {
		password = os.Getenv(passwordEnv)
	}
	if err := promptMissing(&host, &user, &password, keyPath, useAgent); err != nil {
		fatal("%v", err)
	}
	if host == "" || user == "" {
		fatal("host and user are required")
	}

	params := sshconn.ConnectParams{
		Host:     host,
		Port:     port,
		User:     user,
		KeyPath:  keyPath,
		UseAgent: useAgent,
	}
	if password != "" {
		params.Password = base64.StdEncoding.EncodeToString([]byte(password))
	}
	if passphraseEnv != "" {
		params.KeyPassphrase = os.Getenv(passphraseEnv)
	}

	switch {
	case putPath != "":
		err = runPut(cfg, params, putPath, remotePath)
	case getPath != "":
		err = runGet(cfg, params, getPath, localPath)
	default:
		err = runInteractive(cfg, params)
	}
	if err != nil {
		fatal("%s", recovery.Annotate(err))
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "tbprobe: "+format+"\n", args...)
	os.Exit(1)
}

// promptMissing collects whatever the flags left blank. The password
// is only asked for when no other authentication method is in play.
func promptMissing(host, user, password *string, keyPath string, useAgent bool) error {
	var fields []huh.Field
	if *host == "" {
		fields = append(fields, huh.NewInput().
			Title("Host").
			Description("SSH hostname or IP address").
			Value(host))
	}
	if *user == "" {
		fields = append(fields, huh.NewInput().
			Title("User").
			Description("SSH username").
			Value(user))
	}
	if *password == "" && keyPath == "" && !useAgent {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(password))
	}
	if len(fields) == 0 {
		return nil
	}
	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

// --- interactive bridge ---

func runInteractive(cfg *config.Config, params sshconn.ConnectParams) error {
	factory := newFactory(cfg)

	fmt.Fprintf(os.Stderr, "Connecting to %s@%s:%d...\n", params.User, params.Host, params.Port)
	conn, err := factory.Connect(params)
	if err != nil {
		return err
	}
	defer conn.Close()

	fd := int(os.Stdin.Fd())
	cols, rows := cfg.SSH.Cols, cfg.SSH.Rows
	if term.IsTerminal(fd) {
		if c, r, err := term.GetSize(fd); err == nil {
			cols, rows = c, r
		}
	}

	shell, err := conn.NewShell(sshconn.ShellOptions{
		Term: cfg.SSH.Term,
		Cols: cols,
		Rows: rows,
	})
	if err != nil {
		return err
	}
	defer shell.Close()

	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(fd, state)
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			if c, r, err := term.GetSize(fd); err == nil {
				shell.Resize(c, r)
			}
		}
	}()

	go io.Copy(shell, os.Stdin)
	io.Copy(os.Stdout, shell)

	fmt.Fprintf(os.Stderr, "\r\nConnection to %s closed.\r\n", params.Host)
	return nil
}

// --- one-shot transfers ---

func runPut(cfg *config.Config, params sshconn.ConnectParams, localPath, remotePath string) error {
	if remotePath == "" {
		remotePath = filepath.Base(localPath)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	manager, uploader, _ := newTransferStack(cfg)
	transferID := fmt.Sprintf("tbprobe-put-%d", time.Now().UnixNano())

	stop := startProgressPrinter(manager, transferID)
	defer stop()

	if info.Size() == 0 {
		_, err := uploader.Put(context.Background(), transfer.Chunk{
			TransferID: transferID,
			IsLast:     true,
			RemotePath: remotePath,
			Params:     params,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Uploaded empty %s to %s:%s\n", localPath, params.Host, remotePath)
		return nil
	}

	buf := make([]byte, putChunkSize)
	index := 0
	sent := int64(0)
	for {
		n, readErr := io.ReadFull(f, buf)
		if readErr == io.EOF {
			break
		}
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			return readErr
		}
		sent += int64(n)

		chunk := transfer.Chunk{
			TransferID: transferID,
			Index:      index,
			IsLast:     sent == info.Size(),
			Data:       base64.StdEncoding.EncodeToString(buf[:n]),
			Params:     params,
		}
		if index == 0 {
			chunk.TotalSize = info.Size()
			chunk.RemotePath = remotePath
		}

		ack, err := uploader.Put(context.Background(), chunk)
		if err != nil {
			return err
		}
		if ack.Outcome == transfer.OutcomeCancelled {
			return fmt.Errorf("transfer cancelled")
		}
		if ack.Outcome == transfer.OutcomeCompleted {
			break
		}
		index++
	}

	stop()
	fmt.Fprintf(os.Stderr, "\nUploaded %s to %s:%s (%s)\n",
		localPath, params.Host, remotePath, transfer.FormatBytes(info.Size()))
	return nil
}

func runGet(cfg *config.Config, params sshconn.ConnectParams, remotePath, localPath string) error {
	if localPath == "" {
		localPath = filepath.Base(remotePath)
	}

	manager, _, downloader := newTransferStack(cfg)
	transferID := fmt.Sprintf("tbprobe-get-%d", time.Now().UnixNano())

	stop := startProgressPrinter(manager, transferID)
	defer stop()

	stream, outcome, err := downloader.Fetch(context.Background(), transferID, params, remotePath)
	if err != nil {
		return err
	}
	if outcome == transfer.OutcomeCancelled {
		return fmt.Errorf("transfer cancelled")
	}
	defer stream.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	written := int64(0)
	for {
		data, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Close()
			return err
		}
		n, err := out.Write(data)
		if err != nil {
			out.Close()
			return err
		}
		written += int64(n)
	}
	if err := out.Close(); err != nil {
		return err
	}

	stop()
	fmt.Fprintf(os.Stderr, "\nDownloaded %s:%s to %s (%s)\n",
		params.Host, remotePath, localPath, transfer.FormatBytes(written))
	return nil
}

func newFactory(cfg *config.Config) *sshconn.Factory {
	return sshconn.NewFactory(sshconn.FactoryOptions{
		ConnectTimeout: cfg.SSH.ConnectTimeout,
		Term:           cfg.SSH.Term,
		Cols:           cfg.SSH.Cols,
		Rows:           cfg.SSH.Rows,
		KnownHostsPath: cfg.SSH.KnownHostsPath,
		StrictHostKey:  cfg.SSH.StrictHostKey,
	})
}

func newTransferStack(cfg *config.Config) (*transfer.Manager, *transfer.Uploader, *transfer.Downloader) {
	fs := realfs.New()
	clock := realclock.New()
	dialer := transfer.NewFactoryDialer(newFactory(cfg))

	manager := transfer.NewManager(clock)
	staging := transfer.NewStaging(
		cfg.Transfer.StagingDir,
		fs,
		clock,
		cfg.Transfer.CleanupRetries,
		cfg.Transfer.CleanupRetryDelay,
	)
	uploader := transfer.NewUploader(transfer.UploaderOptions{
		Manager:    manager,
		Staging:    staging,
		Dialer:     dialer,
		FileSystem: fs,
		Clock:      clock,
	})
	downloader := transfer.NewDownloader(transfer.DownloaderOptions{
		Manager:    manager,
		Staging:    staging,
		Dialer:     dialer,
		FileSystem: fs,
		Clock:      clock,
	})
	return manager, uploader, downloader
}

// startProgressPrinter repaints one status line until stopped. Calling
// the returned function more than once is fine.
func startProgressPrinter(manager *transfer.Manager, transferID string) func() {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				snap, ok := manager.Status(transferID)
				if !ok || snap.Status != transfer.StatusActive {
					continue
				}
				fmt.Fprintf(os.Stderr, "\r%s / %s  %s  ETA %s    ",
					transfer.FormatBytes(snap.Transferred),
					transfer.FormatBytes(snap.Total),
					snap.HumanSpeed,
					snap.HumanETA,
				)
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
		<-finished
	}
}
