// audit.go: Audit trail for time and timezone changes
//
// Every mutation of the published time state, every authorization denial and
// every change detected outside the daemon is recorded with a tamper-detection
// checksum. Events are buffered and flushed to a pluggable backend.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// AuditLevel represents the severity of audit events
type AuditLevel int

const (
	AuditInfo AuditLevel = iota
	AuditWarn
	AuditCritical
	AuditSecurity
)

func (al AuditLevel) String() string {
	switch al {
	case AuditInfo:
		return "INFO"
	case AuditWarn:
		return "WARN"
	case AuditCritical:
		return "CRITICAL"
	case AuditSecurity:
		return "SECURITY"
	default:
		return "UNKNOWN"
	}
}

// ParseAuditLevel parses a level name such as "info" or "security".
func ParseAuditLevel(levelStr string) (AuditLevel, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "info":
		return AuditInfo, nil
	case "warn", "warning":
		return AuditWarn, nil
	case "critical", "error":
		return AuditCritical, nil
	case "security":
		return AuditSecurity, nil
	default:
		return AuditInfo, errors.New(ErrCodeInvalidConfig, "invalid audit level").
			WithContext("level", levelStr)
	}
}

// MarshalText writes levels by name in JSONL trails and YAML.
func (al AuditLevel) MarshalText() ([]byte, error) {
	return []byte(al.String()), nil
}

// UnmarshalText lets YAML configuration name levels as strings.
func (al *AuditLevel) UnmarshalText(text []byte) error {
	level, err := ParseAuditLevel(string(text))
	if err != nil {
		return err
	}
	*al = level
	return nil
}

// Audit event names
const (
	EventTimeSet             = "time_set"
	EventTimezoneChange      = "timezone_change"
	EventLocalRTCChange      = "local_rtc_change"
	EventNTPChange           = "ntp_change"
	EventAuthorizationDenied = "authorization_denied"
	EventStartupState        = "startup_state"
	EventExternalChange      = "external_change"
	EventSelfHeal            = "self_heal"
)

// AuditEvent represents a single auditable event
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	Level       AuditLevel             `json:"level"`
	Event       string                 `json:"event"`
	Component   string                 `json:"component"`
	Target      string                 `json:"target,omitempty"`
	OldValue    interface{}            `json:"old_value,omitempty"`
	NewValue    interface{}            `json:"new_value,omitempty"`
	CallerUID   *uint32                `json:"caller_uid,omitempty"`
	CallerPID   int32                  `json:"caller_pid,omitempty"`
	ProcessID   int                    `json:"process_id"`
	ProcessName string                 `json:"process_name"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Checksum    string                 `json:"checksum"` // For tamper detection
}

// AuditConfig configures the audit system
type AuditConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	OutputFile    string        `yaml:"output_file" json:"output_file"`
	MinLevel      AuditLevel    `yaml:"min_level" json:"min_level"`
	BufferSize    int           `yaml:"buffer_size" json:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// DefaultAuditConfig returns the default audit configuration: enabled, with
// the SQLite store at DefaultAuditDatabase. An OutputFile ending in .jsonl
// selects the JSONL backend instead.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       true,
		OutputFile:    "",
		MinLevel:      AuditInfo,
		BufferSize:    64,
		FlushInterval: 5 * time.Second,
	}
}

// AuditLogger buffers audit events and flushes them to a backend, either when
// the buffer fills or on a timer. A nil or disabled logger drops events.
type AuditLogger struct {
	config      AuditConfig
	backend     auditBackend
	buffer      []AuditEvent
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
	processID   int
	processName string
}

// NewAuditLogger creates a logger with a backend chosen from config. A
// disabled configuration returns a logger that records nothing.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	logger := &AuditLogger{
		config:      config,
		stopCh:      make(chan struct{}),
		processID:   os.Getpid(),
		processName: getProcessName(),
	}
	if !config.Enabled {
		return logger, nil
	}

	backend, err := createAuditBackend(config)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIO, "failed to initialize audit backend")
	}
	logger.backend = backend
	logger.buffer = make([]AuditEvent, 0, config.BufferSize)

	if config.FlushInterval > 0 {
		logger.flushTicker = time.NewTicker(config.FlushInterval)
		go logger.flushLoop()
	}

	return logger, nil
}

// Log records an audit event.
func (al *AuditLogger) Log(level AuditLevel, event, target string, oldVal, newVal interface{}, subject *Subject, context map[string]interface{}) {
	if al == nil || al.backend == nil || !al.config.Enabled || level < al.config.MinLevel {
		return
	}

	auditEvent := AuditEvent{
		Timestamp:   timecache.CachedTime(),
		Level:       level,
		Event:       event,
		Component:   "timedated",
		Target:      target,
		OldValue:    oldVal,
		NewValue:    newVal,
		ProcessID:   al.processID,
		ProcessName: al.processName,
		Context:     context,
	}
	if subject != nil {
		uid := subject.UID
		auditEvent.CallerUID = &uid
		auditEvent.CallerPID = subject.PID
	}

	auditEvent.Checksum = al.generateChecksum(auditEvent)

	al.bufferMu.Lock()
	al.buffer = append(al.buffer, auditEvent)
	if len(al.buffer) >= al.config.BufferSize {
		_ = al.flushBufferUnsafe() // flush errors surface on the next Flush
	}
	al.bufferMu.Unlock()
}

// LogStateChange records a successful mutation of the published state.
func (al *AuditLogger) LogStateChange(event, target string, oldVal, newVal interface{}, subject *Subject) {
	al.Log(AuditCritical, event, target, oldVal, newVal, subject, nil)
}

// LogDenied records a refused request.
func (al *AuditLogger) LogDenied(action string, subject Subject, reason string) {
	al.Log(AuditSecurity, EventAuthorizationDenied, action, nil, nil, &subject,
		map[string]interface{}{"reason": reason, "gid": subject.GID})
}

// LogExternalChange records a backing store edited outside the daemon.
func (al *AuditLogger) LogExternalChange(target string, oldVal, newVal interface{}) {
	al.Log(AuditWarn, EventExternalChange, target, oldVal, newVal, nil, nil)
}

// Flush immediately writes all buffered events
func (al *AuditLogger) Flush() error {
	if al == nil || al.backend == nil {
		return nil
	}
	al.bufferMu.Lock()
	defer al.bufferMu.Unlock()
	return al.flushBufferUnsafe()
}

// Stats returns backend statistics.
func (al *AuditLogger) Stats() (*AuditDatabaseStats, error) {
	if al == nil || al.backend == nil {
		return &AuditDatabaseStats{}, nil
	}
	if err := al.Flush(); err != nil {
		return nil, err
	}
	return al.backend.GetStats()
}

// Close flushes pending events and releases the backend. It is safe to call
// more than once.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	var closeErr error
	al.closeOnce.Do(func() {
		close(al.stopCh)
		if al.flushTicker != nil {
			al.flushTicker.Stop()
		}
		if al.backend == nil {
			return
		}

		if err := al.Flush(); err != nil {
			closeErr = errors.Wrap(err, ErrCodeIO, "failed to flush audit logger during close")
		}
		if err := al.backend.Close(); err != nil && closeErr == nil {
			closeErr = errors.Wrap(err, ErrCodeIO, "failed to close audit backend")
		}
	})
	return closeErr
}

// flushLoop runs the background flush process
func (al *AuditLogger) flushLoop() {
	for {
		select {
		case <-al.flushTicker.C:
			_ = al.Flush()
		case <-al.stopCh:
			return
		}
	}
}

// flushBufferUnsafe writes the buffer to the backend (caller holds bufferMu).
func (al *AuditLogger) flushBufferUnsafe() error {
	if len(al.buffer) == 0 {
		return nil
	}

	if err := al.backend.Write(al.buffer); err != nil {
		return fmt.Errorf("failed to write audit events to backend: %w", err)
	}

	al.buffer = al.buffer[:0]
	return nil
}

// generateChecksum creates a tamper-detection checksum using SHA-256
func (al *AuditLogger) generateChecksum(event AuditEvent) string {
	var uid interface{}
	if event.CallerUID != nil {
		uid = *event.CallerUID
	}
	data := fmt.Sprintf("%s:%s:%s:%v:%v:%v",
		event.Timestamp.Format(time.RFC3339Nano),
		event.Event, event.Target, event.OldValue, event.NewValue, uid)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

func getProcessName() string {
	if len(os.Args) > 0 && os.Args[0] != "" {
		return filepath.Base(os.Args[0])
	}
	return "timedated"
}
