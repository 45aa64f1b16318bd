// fixtures_test.go: Shared fixtures for timedated tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	"context"
	"encoding/binary"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agilira/timedated/internal/hwclock"
	"github.com/agilira/timedated/internal/services"
	"github.com/agilira/timedated/shellparser"
	"github.com/spf13/afero"
)

// tzif builds a minimal version 1 zoneinfo file with one fixed offset.
func tzif(offsetSeconds int32, abbrev string) []byte {
	buf := append([]byte("TZif"), 0)
	buf = append(buf, make([]byte, 15)...)
	// isutcnt, isstdcnt, leapcnt, timecnt, typecnt, charcnt
	for _, n := range []uint32{0, 0, 0, 0, 1, uint32(len(abbrev) + 1)} {
		buf = binary.BigEndian.AppendUint32(buf, n)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(offsetSeconds))
	buf = append(buf, 0, 0) // isdst, abbreviation index
	buf = append(buf, abbrev...)
	return append(buf, 0)
}

var testZones = map[string][]byte{
	"UTC":               tzif(0, "UTC"),
	"Europe/Rome":       tzif(3600, "CET"),
	"America/New_York":  tzif(-5*3600, "EST"),
	"posix/Europe/Rome": tzif(3600, "CET"),
	"right/UTC":         tzif(0, "UTC"),
	"zone.tab":          []byte("# not a zone\nIT\t+4154+01229\tEurope/Rome\n"),
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeZoneinfo(t *testing.T, dir string) {
	t.Helper()
	for name, data := range testZones {
		writeFile(t, filepath.Join(dir, filepath.FromSlash(name)), data)
	}
}

func readLink(t *testing.T, path string) string {
	t.Helper()
	target, err := os.Readlink(path)
	if err != nil {
		t.Fatalf("readlink %s: %v", path, err)
	}
	return target
}

func readString(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// eventually polls cond until it holds or timeout expires.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// fileShell answers ${name}, ${name:-word} and ${name+word} from the literal
// assignments in a file, the way sourcing it would for a plain config.
type fileShell struct {
	err error
}

func (s *fileShell) Evaluate(_ context.Context, path string, exprs ...string) ([]shellparser.Value, error) {
	if s.err != nil {
		return nil, s.err
	}
	values := make([]shellparser.Value, len(exprs))
	p, err := shellparser.Load(path, shellparser.WithFs(afero.NewOsFs()))
	if err != nil {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return values, nil
		}
		return nil, err
	}
	for i, expr := range exprs {
		values[i] = shellparser.Value{Text: expandLiteral(p, expr), Set: true}
	}
	return values, nil
}

func expandLiteral(p *shellparser.Parser, expr string) string {
	if !strings.HasPrefix(expr, "${") || !strings.HasSuffix(expr, "}") {
		return expr
	}
	body := expr[2 : len(expr)-1]
	if name, word, ok := strings.Cut(body, ":-"); ok {
		if text, _ := p.Get(name); text != "" {
			return text
		}
		return expandLiteral(p, word)
	}
	if name, word, ok := strings.Cut(body, "+"); ok {
		if _, set := p.Get(name); set {
			return word
		}
		return ""
	}
	text, _ := p.Get(body)
	return text
}

// recordingAuthorizer wraps a decision function and counts calls.
type recordingAuthorizer struct {
	mu      sync.Mutex
	actions []string
	decide  func(ctx context.Context, action string) Decision
}

func (r *recordingAuthorizer) Authorize(ctx context.Context, subject Subject, action string, interactive bool) <-chan Decision {
	r.mu.Lock()
	r.actions = append(r.actions, action)
	r.mu.Unlock()
	return AuthorizerFunc(func(ctx context.Context, _ Subject, action string, _ bool) Decision {
		if r.decide == nil {
			return Decision{Allowed: true}
		}
		return r.decide(ctx, action)
	}).Authorize(ctx, subject, action, interactive)
}

func (r *recordingAuthorizer) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

// testEnv is a self-contained set of backing stores under a temp dir.
type testEnv struct {
	dir      string
	cfg      Config
	clock    *hwclock.Fake
	services *services.Fake
	shell    *fileShell
	system   ShellReader
	auth     *recordingAuthorizer
	audit    *AuditLogger
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestEnv creates stores with localtime linked to Europe/Rome and an
// RTC device present. hwclockVars is appended to the hardware-clock config.
func newTestEnv(t *testing.T, hwclockVars string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir: dir,
		cfg: Config{
			HwclockConfig: filepath.Join(dir, "etc", "conf.d", "hwclock"),
			TimezoneFile:  filepath.Join(dir, "etc", "timezone"),
			LocaltimeFile: filepath.Join(dir, "etc", "localtime"),
			ZoneinfoDir:   filepath.Join(dir, "zoneinfo"),
			RTCZoneLink:   filepath.Join(dir, "var", "lib", "timedated", "rtc-zone"),
			KernelCmdline: filepath.Join(dir, "proc", "cmdline"),
			SocketPath:    filepath.Join(dir, "timedated.sock"),
		},
		clock:    hwclock.NewFake(testNow),
		services: services.NewFake(),
		shell:    &fileShell{},
		auth:     &recordingAuthorizer{},
	}
	writeZoneinfo(t, env.cfg.ZoneinfoDir)

	rtc := filepath.Join(dir, "dev", "rtc0")
	writeFile(t, rtc, nil)
	writeFile(t, env.cfg.HwclockConfig, []byte("# hardware clock\nrtc=\""+rtc+"\"\n"+hwclockVars))

	if err := os.Symlink(filepath.Join(env.cfg.ZoneinfoDir, "Europe", "Rome"), env.cfg.LocaltimeFile); err != nil {
		t.Fatalf("symlink localtime: %v", err)
	}
	return env
}

// withAudit attaches a JSONL audit logger that is closed with the test.
func (e *testEnv) withAudit(t *testing.T) *testEnv {
	t.Helper()
	audit, err := NewAuditLogger(AuditConfig{
		Enabled:    true,
		OutputFile: filepath.Join(e.dir, "audit.jsonl"),
		MinLevel:   AuditInfo,
		BufferSize: 100,
	})
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })
	e.audit = audit
	return e
}

// withSystemShell evaluates the hardware-clock config with /bin/sh instead
// of fileShell, skipping the test when no shell is installed.
func (e *testEnv) withSystemShell(t *testing.T) *testEnv {
	t.Helper()
	if _, err := exec.LookPath(shellparser.DefaultShell); err != nil {
		t.Skip("no " + shellparser.DefaultShell + " available")
	}
	e.system = shellparser.NewEvaluator(shellparser.DefaultShell)
	return e
}

func (e *testEnv) daemon(t *testing.T) *Daemon {
	t.Helper()
	var shell ShellReader = e.shell
	if e.system != nil {
		shell = e.system
	}
	d := New(e.cfg, Options{
		Clock:      e.clock,
		Services:   e.services,
		Authorizer: e.auth,
		Shell:      shell,
		Fs:         afero.NewOsFs(),
		Logger:     discardLogger(),
		Audit:      e.audit,
	})
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return d
}

func (e *testEnv) auditCount(t *testing.T, event string) int64 {
	t.Helper()
	stats, err := e.audit.Stats()
	if err != nil {
		t.Fatalf("audit stats: %v", err)
	}
	return stats.EventsByName[event]
}

var rootSubject = Subject{UID: 0, GID: 0, PID: 1}
