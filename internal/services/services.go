// Package services starts, stops and inspects system services through the
// OpenRC service manager.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package services

import (
	"context"
	goerrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/agilira/go-errors"
)

// Error codes for service operations.
const (
	ErrCodeCommandFailed = "SERVICES_COMMAND_FAILED"
	ErrCodeNotInstalled  = "SERVICES_NOT_INSTALLED"
)

// Manager is the service lifecycle surface used by the daemon.
type Manager interface {
	Exists(name string) bool
	Running(ctx context.Context, name string) (bool, error)
	Enable(ctx context.Context, name string) error
	Disable(ctx context.Context, name string) error
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// OpenRC manages services with rc-service and rc-update.
type OpenRC struct {
	InitDir  string
	Runlevel string
	Run      Runner
}

// NewOpenRC returns a manager for scripts in /etc/init.d added to the
// default runlevel.
func NewOpenRC() *OpenRC {
	return &OpenRC{InitDir: "/etc/init.d", Runlevel: "default", Run: ExecRunner}
}

// Exists reports whether an init script for name is installed.
func (o *OpenRC) Exists(name string) bool {
	if name == "" || strings.ContainsRune(name, '/') {
		return false
	}
	info, err := os.Stat(filepath.Join(o.InitDir, name))
	return err == nil && !info.IsDir()
}

// Running reports whether the service is started. A non-zero status exit
// means stopped, crashed or inactive.
func (o *OpenRC) Running(ctx context.Context, name string) (bool, error) {
	if !o.Exists(name) {
		return false, errors.New(ErrCodeNotInstalled, "service is not installed").
			WithContext("service", name)
	}
	_, err := o.Run(ctx, "rc-service", name, "status")
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if goerrors.As(err, &exitErr) {
		return false, nil
	}
	return false, errors.Wrap(err, ErrCodeCommandFailed, "failed to query service status").
		WithContext("service", name)
}

// Enable adds the service to the runlevel and starts it.
func (o *OpenRC) Enable(ctx context.Context, name string) error {
	if !o.Exists(name) {
		return errors.New(ErrCodeNotInstalled, "service is not installed").
			WithContext("service", name)
	}
	if err := o.command(ctx, "rc-update", "add", name, o.Runlevel); err != nil {
		return err
	}
	return o.command(ctx, "rc-service", name, "start")
}

// Disable stops the service and removes it from the runlevel.
func (o *OpenRC) Disable(ctx context.Context, name string) error {
	if !o.Exists(name) {
		return errors.New(ErrCodeNotInstalled, "service is not installed").
			WithContext("service", name)
	}
	if err := o.command(ctx, "rc-service", name, "stop"); err != nil {
		return err
	}
	return o.command(ctx, "rc-update", "del", name, o.Runlevel)
}

func (o *OpenRC) command(ctx context.Context, cmd string, args ...string) error {
	out, err := o.Run(ctx, cmd, args...)
	if err != nil {
		return errors.Wrap(err, ErrCodeCommandFailed, cmd+" "+strings.Join(args, " ")+": "+strings.TrimSpace(string(out)))
	}
	return nil
}

var _ Manager = (*OpenRC)(nil)
