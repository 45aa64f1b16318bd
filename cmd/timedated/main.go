// timedated: System time and timezone daemon
//
// Configuration is layered: built-in defaults, then the YAML file named by
// --config, then TIMEDATED_* environment variables, then flags.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agilira/timedated"
	"github.com/agilira/timedated/internal/hwclock"
	"github.com/agilira/timedated/shellparser"
	"github.com/agilira/timedated/transport"
	"github.com/spf13/afero"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args)
	if err != nil {
		if err == errHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	logger, err := newLogger(opts.logLevel, opts.logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, opts, logger); err != nil {
		logger.Error("timedated failed", "error", err)
		return 1
	}
	return 0
}

// serve runs the daemon until ctx is cancelled.
func serve(ctx context.Context, cfg *timedated.Config, opts *options, logger *slog.Logger) error {
	audit, err := timedated.NewAuditLogger(cfg.Audit)
	if err != nil {
		return err
	}
	defer func() {
		if err := audit.Close(); err != nil {
			logger.Warn("closing audit trail", "error", err)
		}
	}()

	device := timedated.DiscoverRTCDevice(ctx, shellparser.NewEvaluator(cfg.Shell), cfg.HwclockConfig)
	fsys := afero.NewOsFs()

	daemon := timedated.New(*cfg, timedated.Options{
		Clock:  hwclock.NewSystem(device),
		Fs:     fsys,
		Logger: logger,
		Audit:  audit,
	})
	if err := daemon.Init(ctx); err != nil {
		return err
	}

	if !opts.noWatch {
		watcher := timedated.NewWatcher(fsys, cfg, logger)
		if err := daemon.WatchBackingStores(ctx, watcher); err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer func() { _ = watcher.Stop() }()
	}

	server := transport.NewServer(cfg.SocketPath, logger)
	timedated.RegisterHandlers(server, daemon)

	logger.Info("timedated started", "socket", cfg.SocketPath, "read_only", cfg.ReadOnly, "rtc_device", device)
	err = server.Serve(ctx)
	logger.Info("timedated stopped")
	return err
}
