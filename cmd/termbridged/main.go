// termbridged is an MCP server managing interactive SSH sessions and
// SFTP transfers on behalf of a local client speaking over stdio.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/termbridge/termbridge/internal/config"
	"github.com/termbridge/termbridge/internal/logging"
	"github.com/termbridge/termbridge/internal/mcp"
)

// Overridden through -ldflags on release builds.
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath  string
		showVersion bool
		debug       bool
	)

	pflag.StringVar(&configPath, "config", "", "Path to configuration file")
	pflag.BoolVar(&showVersion, "version", false, "Show version information")
	pflag.BoolVar(&debug, "debug", false, "Force debug-level logging")
	pflag.Parse()

	if showVersion {
		fmt.Printf("termbridged version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if debug {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if cfg.Logging.File != "" {
		logFile, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer logFile.Close()
		logging.SetupWriter(logFile, cfg.Logging.Level, cfg.Logging.Sanitize)
	} else {
		logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)
	}

	slog.Info("starting termbridged",
		slog.String("version", Version),
	)

	server := mcp.NewServer(cfg)

	// Hot-reload security and recording settings when the config file
	// changes underneath us.
	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = config.NewWatcher(configPath, func(newCfg *config.Config) {
			if debug {
				newCfg.Logging.Level = "debug"
			}
			server.UpdateConfig(newCfg)
		})
		if err != nil {
			slog.Warn("config hot-reload disabled",
				slog.String("error", err.Error()),
			)
		} else {
			slog.Info("config hot-reload enabled",
				slog.String("path", configPath),
			)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("received shutdown signal")
		if watcher != nil {
			watcher.Close()
		}
		server.Shutdown()
		os.Exit(0)
	}()

	err = server.Run()

	// The client hung up; close every session before exiting.
	if watcher != nil {
		watcher.Close()
	}
	server.Shutdown()

	if err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
