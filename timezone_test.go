// timezone_test.go: Tests for timezone identifiers and the localtime reference
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/afero"
)

func TestValidTimezoneName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"UTC", true},
		{"Europe/Rome", true},
		{"America/Argentina/Buenos_Aires", true},
		{"Etc/GMT+5", true},
		{"Etc/GMT-14", true},
		{"", false},
		{"/etc/passwd", false},
		{"Europe/", false},
		{"../secret", false},
		{"Europe/../UTC", false},
		{"Europe//Rome", false},
		{"./UTC", false},
		{"Europe/Rome;rm", false},
		{"Europe/Ro me", false},
	}
	for _, tt := range tests {
		if got := ValidTimezoneName(tt.name); got != tt.want {
			t.Errorf("ValidTimezoneName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestListTimezones(t *testing.T) {
	dir := t.TempDir()
	writeZoneinfo(t, dir)
	writeFile(t, filepath.Join(dir, "posixrules"), testZones["UTC"])

	names, err := ListTimezones(afero.NewOsFs(), dir)
	if err != nil {
		t.Fatalf("ListTimezones: %v", err)
	}
	want := []string{"America/New_York", "Europe/Rome", "UTC"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("ListTimezones = %v, want %v", names, want)
	}
}

func TestListTimezonesMissingDir(t *testing.T) {
	_, err := ListTimezones(afero.NewOsFs(), filepath.Join(t.TempDir(), "missing"))
	if Code(err) != ErrCodeIO {
		t.Errorf("code = %q, want %q", Code(err), ErrCodeIO)
	}
}

func TestLoadLocation(t *testing.T) {
	dir := t.TempDir()
	writeZoneinfo(t, dir)
	fs := afero.NewOsFs()

	loc, err := LoadLocation(fs, dir, "Europe/Rome")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	if name, offset := testNow.In(loc).Zone(); name != "CET" || offset != 3600 {
		t.Errorf("zone = %s %d, want CET 3600", name, offset)
	}

	if _, err := LoadLocation(fs, dir, "zone.tab"); Code(err) != ErrCodeInvalidArgument {
		t.Errorf("non-zone file code = %q", Code(err))
	}
	if _, err := LoadLocation(fs, dir, "Atlantis/Capital"); Code(err) != ErrCodeInvalidArgument {
		t.Errorf("missing zone code = %q", Code(err))
	}
}

func resolveConfig(dir string) *Config {
	return (&Config{
		LocaltimeFile: filepath.Join(dir, "localtime"),
		TimezoneFile:  filepath.Join(dir, "timezone"),
		ZoneinfoDir:   filepath.Join(dir, "zoneinfo"),
	}).WithDefaults()
}

func TestResolveTimezone(t *testing.T) {
	fs := afero.NewOsFs()

	t.Run("symlink wins", func(t *testing.T) {
		dir := t.TempDir()
		cfg := resolveConfig(dir)
		writeZoneinfo(t, cfg.ZoneinfoDir)
		writeFile(t, cfg.TimezoneFile, []byte("UTC\n"))
		if err := os.Symlink(filepath.Join(cfg.ZoneinfoDir, "Europe", "Rome"), cfg.LocaltimeFile); err != nil {
			t.Fatal(err)
		}
		if got := ResolveTimezone(fs, cfg); got != "Europe/Rome" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("relative posix symlink", func(t *testing.T) {
		dir := t.TempDir()
		cfg := resolveConfig(dir)
		writeZoneinfo(t, cfg.ZoneinfoDir)
		if err := os.Symlink("zoneinfo/posix/Europe/Rome", cfg.LocaltimeFile); err != nil {
			t.Fatal(err)
		}
		if got := ResolveTimezone(fs, cfg); got != "Europe/Rome" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("timezone file", func(t *testing.T) {
		dir := t.TempDir()
		cfg := resolveConfig(dir)
		writeZoneinfo(t, cfg.ZoneinfoDir)
		writeFile(t, cfg.TimezoneFile, []byte("America/New_York\n# comment\n"))
		if got := ResolveTimezone(fs, cfg); got != "America/New_York" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("copied zone data", func(t *testing.T) {
		dir := t.TempDir()
		cfg := resolveConfig(dir)
		writeZoneinfo(t, cfg.ZoneinfoDir)
		writeFile(t, cfg.LocaltimeFile, testZones["America/New_York"])
		if got := ResolveTimezone(fs, cfg); got != "America/New_York" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("fallback", func(t *testing.T) {
		dir := t.TempDir()
		cfg := resolveConfig(dir)
		writeFile(t, cfg.TimezoneFile, []byte("../../bad\n"))
		if got := ResolveTimezone(fs, cfg); got != "UTC" {
			t.Errorf("got %q", got)
		}
	})
}

func TestUpdateLocaltimeCreatesMissingLink(t *testing.T) {
	dir := t.TempDir()
	cfg := resolveConfig(dir)
	writeZoneinfo(t, cfg.ZoneinfoDir)

	if err := updateLocaltime(afero.NewOsFs(), cfg, "UTC", discardLogger()); err != nil {
		t.Fatalf("updateLocaltime: %v", err)
	}
	if target := readLink(t, cfg.LocaltimeFile); target != filepath.Join(cfg.ZoneinfoDir, "UTC") {
		t.Errorf("localtime -> %q", target)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "localtime" && e.Name() != "zoneinfo" {
			t.Errorf("stray file left behind: %s", e.Name())
		}
	}
}

func TestUpdateLocaltimeRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	cfg := resolveConfig(dir)
	writeZoneinfo(t, cfg.ZoneinfoDir)
	if err := os.Mkdir(cfg.LocaltimeFile, 0755); err != nil {
		t.Fatal(err)
	}
	if err := updateLocaltime(afero.NewOsFs(), cfg, "UTC", discardLogger()); Code(err) != ErrCodeIO {
		t.Errorf("code = %q, want %q", Code(err), ErrCodeIO)
	}
}

func TestSymlinkOperationsNeedSymlinkSupport(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := resolveConfig("/")
	for name, data := range testZones {
		path := filepath.Join(cfg.ZoneinfoDir, name)
		if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := afero.WriteFile(fs, path, data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	if err := updateLocaltime(fs, cfg, "UTC", discardLogger()); Code(err) != ErrCodeUnsupported {
		t.Errorf("updateLocaltime code = %q, want %q", Code(err), ErrCodeUnsupported)
	}

	// a regular localtime file works without symlinks
	if err := afero.WriteFile(fs, cfg.LocaltimeFile, testZones["UTC"], 0644); err != nil {
		t.Fatal(err)
	}
	if err := updateLocaltime(fs, cfg, "Europe/Rome", discardLogger()); err != nil {
		t.Fatalf("updateLocaltime on regular file: %v", err)
	}
	if got := ResolveTimezone(fs, cfg); got != "Europe/Rome" {
		t.Errorf("ResolveTimezone = %q", got)
	}
}

func TestEnsureRTCZoneLink(t *testing.T) {
	fs := afero.NewOsFs()
	link := filepath.Join(t.TempDir(), "state", "rtc-zone")

	if err := ensureRTCZoneLink(fs, link, "Europe/Rome"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ensureRTCZoneLink(fs, link, "Europe/Rome"); err != nil {
		t.Fatalf("unchanged: %v", err)
	}
	if err := ensureRTCZoneLink(fs, link, "UTC"); err != nil {
		t.Fatalf("retarget: %v", err)
	}
	if target := readLink(t, link); target != "UTC" {
		t.Errorf("link -> %q, want UTC", target)
	}

	if err := os.Remove(link); err != nil {
		t.Fatal(err)
	}
	writeFile(t, link, []byte("x"))
	if err := ensureRTCZoneLink(fs, link, "UTC"); Code(err) != ErrCodeIO {
		t.Errorf("regular file code = %q, want %q", Code(err), ErrCodeIO)
	}
}

func TestWriteTimezoneFileOnlyWhenPresent(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := writeTimezoneFile(fs, "/etc/timezone", "UTC", discardLogger()); err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if exists, _ := afero.Exists(fs, "/etc/timezone"); exists {
		t.Error("timezone file should not be created")
	}

	if err := afero.WriteFile(fs, "/etc/timezone", []byte("Europe/Rome\n"), 0640); err != nil {
		t.Fatal(err)
	}
	if err := writeTimezoneFile(fs, "/etc/timezone", "UTC", discardLogger()); err != nil {
		t.Fatalf("existing file: %v", err)
	}
	data, _ := afero.ReadFile(fs, "/etc/timezone")
	if string(data) != "UTC\n" {
		t.Errorf("timezone file = %q", data)
	}
	if info, _ := fs.Stat("/etc/timezone"); info.Mode().Perm() != 0640 {
		t.Errorf("mode = %v, want 0640 preserved", info.Mode().Perm())
	}
}

func TestKernelCmdlineLocalRTC(t *testing.T) {
	fs := afero.NewMemMapFs()
	tests := []struct {
		cmdline string
		want    bool
	}{
		{"BOOT_IMAGE=/vmlinuz rtc=local quiet", true},
		{"rd.rtc=local", true},
		{"rtc=localtime", false},
		{"myrtc=local", false},
		{"rtc", false},
		{"", false},
	}
	for _, tt := range tests {
		if err := afero.WriteFile(fs, "/proc/cmdline", []byte(tt.cmdline+"\n"), 0444); err != nil {
			t.Fatal(err)
		}
		if got := KernelCmdlineLocalRTC(fs, "/proc/cmdline"); got != tt.want {
			t.Errorf("KernelCmdlineLocalRTC(%q) = %v, want %v", tt.cmdline, got, tt.want)
		}
	}
	if KernelCmdlineLocalRTC(fs, "/missing") {
		t.Error("missing cmdline should report false")
	}
}

func TestIsLocalClock(t *testing.T) {
	for value, want := range map[string]bool{
		"local": true, "localtime": true, "LOCALTIME": true,
		"UTC": false, "utc": false, "": false, "Local": false,
	} {
		if got := isLocalClock(value); got != want {
			t.Errorf("isLocalClock(%q) = %v, want %v", value, got, want)
		}
	}
}
