// manager_test.go: Tests for CLI manager construction
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/agilira/timedated"
)

// TestNewManager verifies proper initialization of CLI manager.
func TestNewManager(t *testing.T) {
	manager := NewManager()

	if manager == nil {
		t.Fatal("NewManager() returned nil")
	}
	if manager.app == nil {
		t.Fatal("Manager.app not initialized")
	}
	if manager.out == nil || manager.fs == nil || manager.interactive == nil {
		t.Error("Manager defaults not set")
	}
	if manager.auditLogger != nil {
		t.Error("Manager.auditLogger should be nil by default")
	}
}

// TestManagerWithAudit verifies that offline edits reach the audit trail.
func TestManagerWithAudit(t *testing.T) {
	auditLogger, err := timedated.NewAuditLogger(timedated.AuditConfig{
		Enabled:    true,
		OutputFile: filepath.Join(t.TempDir(), "cli_audit.jsonl"),
		MinLevel:   timedated.AuditInfo,
		BufferSize: 100,
	})
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	defer func() {
		if err := auditLogger.Close(); err != nil {
			t.Logf("Failed to close auditLogger: %v", err)
		}
	}()

	manager := NewManager().WithOutput(&bytes.Buffer{}).WithAudit(auditLogger)
	if manager.auditLogger != auditLogger {
		t.Fatal("WithAudit() did not set the audit logger")
	}

	path := createTestConfig(t, hwclockFixture)
	if err := manager.Run([]string{"config", "set", path, "clock", "local"}); err != nil {
		t.Fatalf("config set: %v", err)
	}
	if err := manager.Run([]string{"config", "unset", path, "clock_args"}); err != nil {
		t.Fatalf("config unset: %v", err)
	}
	// reads are not audited
	if err := manager.Run([]string{"config", "get", path, "clock"}); err != nil {
		t.Fatalf("config get: %v", err)
	}

	stats, err := auditLogger.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.EventsByName["cli_config_set"] != 1 || stats.EventsByName["cli_config_unset"] != 1 || stats.TotalEvents != 2 {
		t.Errorf("audit stats = %+v", stats)
	}
}
