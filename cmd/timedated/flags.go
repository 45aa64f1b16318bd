// flags.go: Command-line flags and configuration layering for timedated
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	goerrors "errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	flashflags "github.com/agilira/flash-flags"
	"github.com/agilira/go-errors"
	"github.com/agilira/timedated"
)

// DefaultConfigFile is read when present; --config makes the file required.
const DefaultConfigFile = "/etc/timedated/timedated.yaml"

const version = "1.0.0"

var errHelp = goerrors.New("help requested")

type options struct {
	configFile     string
	configExplicit bool

	socket        string
	hwclockConfig string
	zoneinfoDir   string
	readOnly      bool
	noWatch       bool
	pollInterval  time.Duration

	logLevel  string
	logFormat string
}

func newFlagSet() *flashflags.FlagSet {
	flags := flashflags.New("timedated")
	flags.SetDescription("System time and timezone daemon")
	flags.SetVersion(version)

	flags.String("config", DefaultConfigFile, "YAML configuration file")
	flags.String("socket", "", "Control socket path")
	flags.String("hwclock-config", "", "Hardware clock configuration file")
	flags.String("zoneinfo-dir", "", "Timezone database directory")
	flags.Bool("read-only", false, "Reject every change request")
	flags.Bool("no-watch", false, "Do not watch backing stores for external changes")
	flags.Duration("poll-interval", 0, "Backing store polling interval")
	flags.String("log-level", "info", "Log level (debug|info|warn|error)")
	flags.String("log-format", "text", "Log format (text|json)")
	return flags
}

// parseFlags returns errHelp after printing usage for -h or --help.
func parseFlags(args []string) (*options, error) {
	flags := newFlagSet()

	// Check for help flags first to prevent double output
	configExplicit := false
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			flags.PrintHelp()
			return nil, errHelp
		}
		if isConfigFlag(arg) {
			configExplicit = true
		}
	}

	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse command-line flags: %w", err)
	}

	opts := &options{
		configFile:    flags.GetString("config"),
		socket:        flags.GetString("socket"),
		hwclockConfig: flags.GetString("hwclock-config"),
		zoneinfoDir:   flags.GetString("zoneinfo-dir"),
		readOnly:      flags.GetBool("read-only"),
		noWatch:       flags.GetBool("no-watch"),
		pollInterval:  flags.GetDuration("poll-interval"),
		logLevel:      flags.GetString("log-level"),
		logFormat:     flags.GetString("log-format"),
	}
	opts.configExplicit = configExplicit
	return opts, nil
}

// isConfigFlag reports whether arg sets --config, in either the separate or
// the name=value form.
func isConfigFlag(arg string) bool {
	name, _, _ := strings.Cut(strings.TrimLeft(arg, "-"), "=")
	return strings.HasPrefix(arg, "-") && name == "config"
}

// loadConfig layers the config file, the environment and opts, in that
// order, over the defaults.
func loadConfig(opts *options) (*timedated.Config, error) {
	cfg := &timedated.Config{}

	if _, err := os.Stat(opts.configFile); err == nil || opts.configExplicit {
		loaded, err := timedated.LoadConfigFile(opts.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := timedated.ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if opts.socket != "" {
		cfg.SocketPath = opts.socket
	}
	if opts.hwclockConfig != "" {
		cfg.HwclockConfig = opts.hwclockConfig
	}
	if opts.zoneinfoDir != "" {
		cfg.ZoneinfoDir = opts.zoneinfoDir
	}
	if opts.readOnly {
		cfg.ReadOnly = true
	}
	if opts.pollInterval > 0 {
		cfg.PollInterval = opts.pollInterval
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger on stderr.
func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrap(err, timedated.ErrCodeInvalidConfig, "invalid log level").
			WithContext("level", level)
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
	default:
		return nil, errors.New(timedated.ErrCodeInvalidConfig, "invalid log format").
			WithContext("format", format)
	}
}
