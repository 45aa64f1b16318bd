// env_config.go: Environment variable overrides for timedated
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// EnvConfig represents configuration loaded from environment variables
type EnvConfig struct {
	// Backing stores
	HwclockConfig string `env:"TIMEDATED_HWCLOCK_CONFIG"`
	TimezoneFile  string `env:"TIMEDATED_TIMEZONE_FILE"`
	LocaltimeFile string `env:"TIMEDATED_LOCALTIME_FILE"`
	ZoneinfoDir   string `env:"TIMEDATED_ZONEINFO_DIR"`
	RTCZoneLink   string `env:"TIMEDATED_RTC_ZONE_LINK"`

	// Daemon
	SocketPath         string `env:"TIMEDATED_SOCKET"`
	Shell              string `env:"TIMEDATED_SHELL"`
	ReadOnly           *bool  `env:"TIMEDATED_READ_ONLY"`
	HonorKernelCmdline *bool  `env:"TIMEDATED_HONOR_KERNEL_CMDLINE"`

	// NTP
	NTPService          string   `env:"TIMEDATED_NTP_SERVICE"`
	NTPFallbackServices []string `env:"TIMEDATED_NTP_FALLBACK"`

	// Watcher
	PollInterval time.Duration `env:"TIMEDATED_POLL_INTERVAL"`
	CacheTTL     time.Duration `env:"TIMEDATED_CACHE_TTL"`

	// Audit
	AuditEnabled       *bool         `env:"TIMEDATED_AUDIT_ENABLED"`
	AuditOutputFile    string        `env:"TIMEDATED_AUDIT_OUTPUT_FILE"`
	AuditMinLevel      string        `env:"TIMEDATED_AUDIT_MIN_LEVEL"`
	AuditBufferSize    int           `env:"TIMEDATED_AUDIT_BUFFER_SIZE"`
	AuditFlushInterval time.Duration `env:"TIMEDATED_AUDIT_FLUSH_INTERVAL"`
}

// LoadConfigFromEnv builds a configuration from environment variables alone,
// with defaults for everything unset.
func LoadConfigFromEnv() (*Config, error) {
	config := &Config{}
	if err := ApplyEnv(config); err != nil {
		return nil, err
	}
	return config.WithDefaults(), nil
}

// ApplyEnv overrides fields of config with any TIMEDATED_* variables set.
func ApplyEnv(config *Config) error {
	envConfig := &EnvConfig{}

	if err := loadEnvVars(envConfig); err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "failed to load environment configuration")
	}
	if err := convertEnvToConfig(envConfig, config); err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "failed to convert environment configuration")
	}
	return nil
}

// loadEnvVars loads environment variables into the EnvConfig struct
func loadEnvVars(envConfig *EnvConfig) error {
	loadPathConfig(envConfig)
	if err := loadDaemonConfig(envConfig); err != nil {
		return err
	}
	loadNTPConfig(envConfig)
	if err := loadWatcherConfig(envConfig); err != nil {
		return err
	}
	return loadAuditConfig(envConfig)
}

// loadPathConfig loads backing store paths from environment variables
func loadPathConfig(envConfig *EnvConfig) {
	envConfig.HwclockConfig = os.Getenv("TIMEDATED_HWCLOCK_CONFIG")
	envConfig.TimezoneFile = os.Getenv("TIMEDATED_TIMEZONE_FILE")
	envConfig.LocaltimeFile = os.Getenv("TIMEDATED_LOCALTIME_FILE")
	envConfig.ZoneinfoDir = os.Getenv("TIMEDATED_ZONEINFO_DIR")
	envConfig.RTCZoneLink = os.Getenv("TIMEDATED_RTC_ZONE_LINK")
}

// loadDaemonConfig loads daemon settings from environment variables
func loadDaemonConfig(envConfig *EnvConfig) error {
	envConfig.SocketPath = os.Getenv("TIMEDATED_SOCKET")
	envConfig.Shell = os.Getenv("TIMEDATED_SHELL")

	if roStr := os.Getenv("TIMEDATED_READ_ONLY"); roStr != "" {
		ro, err := parseBool(roStr)
		if err != nil {
			return errors.New(ErrCodeInvalidConfig, "invalid TIMEDATED_READ_ONLY value")
		}
		envConfig.ReadOnly = &ro
	}

	if cmdlineStr := os.Getenv("TIMEDATED_HONOR_KERNEL_CMDLINE"); cmdlineStr != "" {
		honor, err := parseBool(cmdlineStr)
		if err != nil {
			return errors.New(ErrCodeInvalidConfig, "invalid TIMEDATED_HONOR_KERNEL_CMDLINE value")
		}
		envConfig.HonorKernelCmdline = &honor
	}
	return nil
}

// loadNTPConfig loads NTP service selection from environment variables
func loadNTPConfig(envConfig *EnvConfig) {
	envConfig.NTPService = os.Getenv("TIMEDATED_NTP_SERVICE")

	if fallback := os.Getenv("TIMEDATED_NTP_FALLBACK"); fallback != "" {
		for _, name := range strings.Split(fallback, ",") {
			if name = strings.TrimSpace(name); name != "" {
				envConfig.NTPFallbackServices = append(envConfig.NTPFallbackServices, name)
			}
		}
	}
}

// loadWatcherConfig loads watcher timing from environment variables
func loadWatcherConfig(envConfig *EnvConfig) error {
	if pollStr := os.Getenv("TIMEDATED_POLL_INTERVAL"); pollStr != "" {
		if duration, err := time.ParseDuration(pollStr); err == nil {
			envConfig.PollInterval = duration
		} else {
			return errors.New(ErrCodeInvalidConfig, "invalid TIMEDATED_POLL_INTERVAL format")
		}
	}

	if cacheStr := os.Getenv("TIMEDATED_CACHE_TTL"); cacheStr != "" {
		if duration, err := time.ParseDuration(cacheStr); err == nil {
			envConfig.CacheTTL = duration
		} else {
			return errors.New(ErrCodeInvalidConfig, "invalid TIMEDATED_CACHE_TTL format")
		}
	}
	return nil
}

// loadAuditConfig loads audit configuration from environment variables
func loadAuditConfig(envConfig *EnvConfig) error {
	if auditStr := os.Getenv("TIMEDATED_AUDIT_ENABLED"); auditStr != "" {
		enabled, err := parseBool(auditStr)
		if err != nil {
			return errors.New(ErrCodeInvalidConfig, "invalid TIMEDATED_AUDIT_ENABLED value")
		}
		envConfig.AuditEnabled = &enabled
	}

	envConfig.AuditOutputFile = os.Getenv("TIMEDATED_AUDIT_OUTPUT_FILE")
	envConfig.AuditMinLevel = os.Getenv("TIMEDATED_AUDIT_MIN_LEVEL")

	if bufferStr := os.Getenv("TIMEDATED_AUDIT_BUFFER_SIZE"); bufferStr != "" {
		if buffer, err := strconv.Atoi(bufferStr); err == nil && buffer > 0 {
			envConfig.AuditBufferSize = buffer
		} else {
			return errors.New(ErrCodeInvalidConfig, "invalid TIMEDATED_AUDIT_BUFFER_SIZE value")
		}
	}

	if flushStr := os.Getenv("TIMEDATED_AUDIT_FLUSH_INTERVAL"); flushStr != "" {
		if duration, err := time.ParseDuration(flushStr); err == nil {
			envConfig.AuditFlushInterval = duration
		} else {
			return errors.New(ErrCodeInvalidConfig, "invalid TIMEDATED_AUDIT_FLUSH_INTERVAL format")
		}
	}
	return nil
}

// convertEnvToConfig applies every set EnvConfig field to config
func convertEnvToConfig(envConfig *EnvConfig, config *Config) error {
	convertPathConfig(envConfig, config)
	convertDaemonConfig(envConfig, config)
	if envConfig.PollInterval > 0 {
		config.PollInterval = envConfig.PollInterval
	}
	if envConfig.CacheTTL > 0 {
		config.CacheTTL = envConfig.CacheTTL
	}
	return convertAuditConfig(envConfig, config)
}

func convertPathConfig(envConfig *EnvConfig, config *Config) {
	if envConfig.HwclockConfig != "" {
		config.HwclockConfig = envConfig.HwclockConfig
	}
	if envConfig.TimezoneFile != "" {
		config.TimezoneFile = envConfig.TimezoneFile
	}
	if envConfig.LocaltimeFile != "" {
		config.LocaltimeFile = envConfig.LocaltimeFile
	}
	if envConfig.ZoneinfoDir != "" {
		config.ZoneinfoDir = envConfig.ZoneinfoDir
	}
	if envConfig.RTCZoneLink != "" {
		config.RTCZoneLink = envConfig.RTCZoneLink
	}
}

func convertDaemonConfig(envConfig *EnvConfig, config *Config) {
	if envConfig.SocketPath != "" {
		config.SocketPath = envConfig.SocketPath
	}
	if envConfig.Shell != "" {
		config.Shell = envConfig.Shell
	}
	if envConfig.ReadOnly != nil {
		config.ReadOnly = *envConfig.ReadOnly
	}
	if envConfig.HonorKernelCmdline != nil {
		config.HonorKernelCmdline = *envConfig.HonorKernelCmdline
	}
	if envConfig.NTPService != "" {
		config.NTPService = envConfig.NTPService
	}
	if len(envConfig.NTPFallbackServices) > 0 {
		config.NTPFallbackServices = envConfig.NTPFallbackServices
	}
}

// convertAuditConfig converts audit configuration from EnvConfig to Config
func convertAuditConfig(envConfig *EnvConfig, config *Config) error {
	if envConfig.AuditEnabled != nil {
		if config.Audit == (AuditConfig{}) {
			config.Audit = DefaultAuditConfig()
		}
		config.Audit.Enabled = *envConfig.AuditEnabled
	}
	if envConfig.AuditOutputFile != "" {
		config.Audit.OutputFile = envConfig.AuditOutputFile
	}
	if envConfig.AuditMinLevel != "" {
		level, err := ParseAuditLevel(envConfig.AuditMinLevel)
		if err != nil {
			return err
		}
		config.Audit.MinLevel = level
	}
	if envConfig.AuditBufferSize > 0 {
		config.Audit.BufferSize = envConfig.AuditBufferSize
	}
	if envConfig.AuditFlushInterval > 0 {
		config.Audit.FlushInterval = envConfig.AuditFlushInterval
	}
	return nil
}

// parseBool parses boolean values from environment variables
// Supports: true/false, 1/0, yes/no, on/off, enabled/disabled
func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on", "enabled":
		return true, nil
	case "false", "0", "no", "off", "disabled":
		return false, nil
	default:
		return false, errors.New(ErrCodeInvalidConfig, "invalid boolean value").
			WithContext("value", value)
	}
}
