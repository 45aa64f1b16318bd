// cli_integration_test.go: timedatectl commands against a live daemon
//
// Each fixture runs a real timedated daemon on a private socket, backed by
// temp-dir stores and fake clock and service collaborators, and drives it
// through the Manager exactly as the binary would.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/agilira/timedated"
	"github.com/agilira/timedated/internal/hwclock"
	"github.com/agilira/timedated/internal/services"
	"github.com/agilira/timedated/shellparser"
	"github.com/agilira/timedated/transport"
	"github.com/spf13/afero"
)

// =============================================================================
// CLI TEST INFRASTRUCTURE
// =============================================================================

var fixtureNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// tzif builds a minimal version 1 zoneinfo file with one fixed offset.
func tzif(offsetSeconds int32, abbrev string) []byte {
	buf := append([]byte("TZif"), 0)
	buf = append(buf, make([]byte, 15)...)
	for _, n := range []uint32{0, 0, 0, 0, 1, uint32(len(abbrev) + 1)} {
		buf = binary.BigEndian.AppendUint32(buf, n)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(offsetSeconds))
	buf = append(buf, 0, 0)
	buf = append(buf, abbrev...)
	return append(buf, 0)
}

// assignmentShell answers ${name} and ${name:-...} from plain assignments
// and reports a fixed RTC device for ${rtc:-...}.
type assignmentShell struct {
	device string
}

func (s assignmentShell) Evaluate(_ context.Context, path string, exprs ...string) ([]shellparser.Value, error) {
	values := make([]shellparser.Value, len(exprs))
	p, err := shellparser.Load(path)
	if err != nil {
		return values, nil
	}
	for i, expr := range exprs {
		if strings.HasPrefix(expr, "${rtc") {
			values[i] = shellparser.Value{Text: s.device, Set: true}
			continue
		}
		name, _, _ := strings.Cut(strings.TrimPrefix(expr, "${"), ":-")
		text, _ := p.Get(strings.TrimSuffix(name, "}"))
		values[i] = shellparser.Value{Text: text, Set: true}
	}
	return values, nil
}

// DaemonFixture is a running daemon plus a Manager pointed at it.
type DaemonFixture struct {
	t        *testing.T
	dir      string
	socket   string
	config   timedated.Config
	clock    *hwclock.Fake
	services *services.Fake
	daemon   *timedated.Daemon
	manager  *Manager
	out      *bytes.Buffer
}

// NewDaemonFixture starts a daemon with localtime linked to Europe/Rome,
// the hardware clock in UTC and ntpd installed but stopped.
func NewDaemonFixture(t *testing.T) *DaemonFixture {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("peer credentials require linux")
	}

	// unix socket paths are short; t.TempDir can exceed the limit
	dir, err := os.MkdirTemp("", "tdc")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	f := &DaemonFixture{
		t:        t,
		dir:      dir,
		socket:   filepath.Join(dir, "s"),
		clock:    hwclock.NewFake(fixtureNow),
		services: services.NewFake("ntpd"),
		out:      &bytes.Buffer{},
	}
	f.config = timedated.Config{
		HwclockConfig: filepath.Join(dir, "hwclock"),
		TimezoneFile:  filepath.Join(dir, "timezone"),
		LocaltimeFile: filepath.Join(dir, "localtime"),
		ZoneinfoDir:   filepath.Join(dir, "zoneinfo"),
		RTCZoneLink:   filepath.Join(dir, "rtc-zone"),
		KernelCmdline: filepath.Join(dir, "cmdline"),
		SocketPath:    f.socket,
	}

	for name, data := range map[string][]byte{
		"UTC":              tzif(0, "UTC"),
		"Europe/Rome":      tzif(3600, "CET"),
		"Europe/Paris":     tzif(3600, "CET"),
		"America/New_York": tzif(-5*3600, "EST"),
	} {
		f.WriteFile(filepath.Join(f.config.ZoneinfoDir, filepath.FromSlash(name)), string(data))
	}
	device := filepath.Join(dir, "rtc0")
	f.WriteFile(device, "")
	f.WriteFile(f.config.HwclockConfig, "# hardware clock\nclock=\"UTC\"\n")
	if err := os.Symlink(filepath.Join(f.config.ZoneinfoDir, "Europe", "Rome"), f.config.LocaltimeFile); err != nil {
		t.Fatalf("Failed to link localtime: %v", err)
	}

	f.daemon = timedated.New(f.config, timedated.Options{
		Clock:      f.clock,
		Services:   f.services,
		Authorizer: timedated.AllowAll,
		Shell:      assignmentShell{device: device},
		Fs:         afero.NewOsFs(),
		Logger:     slog.New(slog.DiscardHandler),
	})
	if err := f.daemon.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	server := transport.NewServer(f.socket, slog.New(slog.DiscardHandler))
	timedated.RegisterHandlers(server, f.daemon)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(f.socket); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("control socket was not created")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.manager = NewManager().WithOutput(f.out)
	f.manager.interactive = func() bool { return false }
	return f
}

// WriteFile creates path with content, making parent directories.
func (f *DaemonFixture) WriteFile(path, content string) {
	f.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		f.t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		f.t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// RunCLI runs a daemon command with --socket appended and returns stdout.
func (f *DaemonFixture) RunCLI(args ...string) (string, error) {
	f.t.Helper()
	f.out.Reset()
	err := f.manager.Run(append(args, "--socket", f.socket))
	return f.out.String(), err
}

// =============================================================================
// DAEMON COMMANDS
// =============================================================================

func TestStatusCommand(t *testing.T) {
	fixture := NewDaemonFixture(t)

	output, err := fixture.RunCLI("status", "--zoneinfo-dir", fixture.config.ZoneinfoDir)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{
		"Local time: Sat 2025-03-01 13:00:00 CET",
		"Universal time: Sat 2025-03-01 12:00:00 UTC",
		"Time zone: Europe/Rome (CET, +0100)",
		"NTP available: yes",
		"NTP enabled: no",
		"NTP service: ntpd",
		"RTC in local TZ: no",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("status output missing %q:\n%s", want, output)
		}
	}
}

func TestSetTimezoneCommand(t *testing.T) {
	fixture := NewDaemonFixture(t)

	if _, err := fixture.RunCLI("set-timezone", "America/New_York"); err != nil {
		t.Fatalf("set-timezone: %v", err)
	}
	if got := fixture.daemon.State().Timezone; got != "America/New_York" {
		t.Errorf("Timezone = %q", got)
	}
	target, err := os.Readlink(fixture.config.LocaltimeFile)
	if err != nil || target != filepath.Join(fixture.config.ZoneinfoDir, "America", "New_York") {
		t.Errorf("localtime -> %q, %v", target, err)
	}

	t.Run("unknown_zone_rejected", func(t *testing.T) {
		if _, err := fixture.RunCLI("set-timezone", "Mars/Olympus_Mons"); err == nil {
			t.Error("unknown timezone should fail")
		}
		if got := fixture.daemon.State().Timezone; got != "America/New_York" {
			t.Errorf("Timezone changed to %q", got)
		}
	})

	t.Run("missing_argument", func(t *testing.T) {
		if _, err := fixture.RunCLI("set-timezone"); err == nil {
			t.Error("set-timezone without a zone should fail")
		}
	})
}

func TestSetTimeCommand(t *testing.T) {
	fixture := NewDaemonFixture(t)

	if _, err := fixture.RunCLI("set-time", "+90s"); err != nil {
		t.Fatalf("relative set-time: %v", err)
	}
	if got := fixture.clock.Now(); !got.Equal(fixtureNow.Add(90 * time.Second)) {
		t.Errorf("clock = %v after +90s", got)
	}

	if _, err := fixture.RunCLI("set-time", "2025-06-01T08:30:00Z"); err != nil {
		t.Fatalf("absolute set-time: %v", err)
	}
	if got := fixture.clock.Now(); !got.Equal(time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("clock = %v", got)
	}

	if _, err := fixture.RunCLI("set-time", "next tuesday"); err == nil {
		t.Error("unparseable time should fail")
	}
}

func TestSetLocalRTCCommand(t *testing.T) {
	fixture := NewDaemonFixture(t)

	if _, err := fixture.RunCLI("set-local-rtc", "yes"); err != nil {
		t.Fatalf("set-local-rtc: %v", err)
	}
	if !fixture.daemon.State().LocalRTC {
		t.Error("LocalRTC should be published as true")
	}
	data, err := os.ReadFile(fixture.config.HwclockConfig)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `clock="local"`) || !strings.HasPrefix(string(data), "# hardware clock\n") {
		t.Errorf("hwclock config = %q", data)
	}

	if _, err := fixture.RunCLI("set-local-rtc", "0", "--adjust-system-clock"); err != nil {
		t.Fatalf("set-local-rtc 0: %v", err)
	}
	if fixture.daemon.State().LocalRTC {
		t.Error("LocalRTC should be false again")
	}

	if _, err := fixture.RunCLI("set-local-rtc", "sometimes"); err == nil {
		t.Error("invalid boolean should fail")
	}
}

func TestSetNTPCommand(t *testing.T) {
	fixture := NewDaemonFixture(t)

	if _, err := fixture.RunCLI("set-ntp", "on"); err != nil {
		t.Fatalf("set-ntp on: %v", err)
	}
	if !fixture.services.IsRunning("ntpd") || !fixture.daemon.State().NTP {
		t.Error("ntpd should be running and NTP published")
	}

	if _, err := fixture.RunCLI("set-ntp", "off", "--no-ask-password"); err != nil {
		t.Fatalf("set-ntp off: %v", err)
	}
	if fixture.services.IsRunning("ntpd") {
		t.Error("ntpd should be stopped")
	}
}

func TestDaemonUnavailable(t *testing.T) {
	manager := NewManager().WithOutput(&bytes.Buffer{})
	manager.interactive = func() bool { return false }

	missing := filepath.Join(t.TempDir(), "absent.sock")
	if err := manager.Run([]string{"status", "--socket", missing}); err == nil {
		t.Error("status without a daemon should fail")
	}
}
