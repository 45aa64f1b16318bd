// config.go: Daemon configuration for timedated
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"
)

// Default locations of the backing stores
const (
	DefaultHwclockConfig = "/etc/conf.d/hwclock"
	DefaultTimezoneFile  = "/etc/timezone"
	DefaultLocaltimeFile = "/etc/localtime"
	DefaultZoneinfoDir   = "/usr/share/zoneinfo"
	DefaultRTCZoneLink   = "/var/lib/timedated/rtc-zone"
	DefaultKernelCmdline = "/proc/cmdline"
	DefaultSocketPath    = "/run/timedated.sock"
)

// DefaultNTPServices is the fallback search order for an NTP implementation.
var DefaultNTPServices = []string{"ntpd", "chronyd", "busybox-ntpd"}

// DefaultNTPPackages names the packages that provide DefaultNTPServices.
const DefaultNTPPackages = "ntp, openntpd, chrony, busybox-ntpd"

// AuthorizationRule lists the unprivileged users and groups allowed to
// perform one action.
type AuthorizationRule struct {
	UIDs []uint32 `yaml:"uids"`
	GIDs []uint32 `yaml:"gids"`
}

// Config holds the daemon settings. Zero values are replaced by WithDefaults.
type Config struct {
	// Backing stores
	HwclockConfig string `yaml:"hwclock_config"`
	TimezoneFile  string `yaml:"timezone_file"`
	LocaltimeFile string `yaml:"localtime_file"`
	ZoneinfoDir   string `yaml:"zoneinfo_dir"`

	// RTCZoneLink is a symlink whose target records the zone the hardware
	// clock is kept in while it runs in local time.
	RTCZoneLink string `yaml:"rtc_zone_link"`

	// KernelCmdline is consulted for rtc=local when HonorKernelCmdline is
	// set and the hardware-clock config has no clock value.
	KernelCmdline      string `yaml:"kernel_cmdline"`
	HonorKernelCmdline bool   `yaml:"honor_kernel_cmdline"`

	// Shell evaluates the hardware-clock config.
	Shell string `yaml:"shell"`

	SocketPath string `yaml:"socket_path"`
	ReadOnly   bool   `yaml:"read_only"`

	// NTPService is tried first; NTPFallbackServices are tried in order.
	NTPService          string   `yaml:"ntp_service"`
	NTPFallbackServices []string `yaml:"ntp_fallback_services"`
	NTPPackages         string   `yaml:"ntp_packages"`

	// External change watcher
	PollInterval time.Duration `yaml:"poll_interval"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`

	// Authorization maps action names, or "*", to allow-lists.
	Authorization map[string]AuthorizationRule `yaml:"authorization"`

	Audit AuditConfig `yaml:"audit"`
}

// WithDefaults applies sensible defaults to the configuration
func (c *Config) WithDefaults() *Config {
	config := *c

	if config.HwclockConfig == "" {
		config.HwclockConfig = DefaultHwclockConfig
	}
	if config.TimezoneFile == "" {
		config.TimezoneFile = DefaultTimezoneFile
	}
	if config.LocaltimeFile == "" {
		config.LocaltimeFile = DefaultLocaltimeFile
	}
	if config.ZoneinfoDir == "" {
		config.ZoneinfoDir = DefaultZoneinfoDir
	}
	if config.RTCZoneLink == "" {
		config.RTCZoneLink = DefaultRTCZoneLink
	}
	if config.KernelCmdline == "" {
		config.KernelCmdline = DefaultKernelCmdline
	}
	if config.SocketPath == "" {
		config.SocketPath = DefaultSocketPath
	}

	if len(config.NTPFallbackServices) == 0 {
		config.NTPFallbackServices = append([]string(nil), DefaultNTPServices...)
	}
	if config.NTPPackages == "" {
		config.NTPPackages = DefaultNTPPackages
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = config.PollInterval / 2
	}

	// GUARD RAIL: a TTL longer than the poll interval hides changes
	if config.CacheTTL > config.PollInterval {
		config.CacheTTL = config.PollInterval / 2
	}

	if config.Audit == (AuditConfig{}) {
		config.Audit = DefaultAuditConfig()
	}
	if config.Audit.BufferSize <= 0 {
		config.Audit.BufferSize = DefaultAuditConfig().BufferSize
	}

	return &config
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	paths := map[string]string{
		"hwclock_config": c.HwclockConfig,
		"timezone_file":  c.TimezoneFile,
		"localtime_file": c.LocaltimeFile,
		"zoneinfo_dir":   c.ZoneinfoDir,
		"rtc_zone_link":  c.RTCZoneLink,
		"socket_path":    c.SocketPath,
	}
	for _, key := range []string{"hwclock_config", "timezone_file", "localtime_file", "zoneinfo_dir", "rtc_zone_link", "socket_path"} {
		if p := paths[key]; p == "" || !filepath.IsAbs(p) {
			return errors.New(ErrCodeInvalidConfig, "path must be absolute").
				WithContext("setting", key).
				WithContext("value", p)
		}
	}

	if c.PollInterval <= 0 {
		return errors.New(ErrCodeInvalidConfig, "poll interval must be positive")
	}
	if c.CacheTTL < 0 {
		return errors.New(ErrCodeInvalidConfig, "cache TTL must not be negative")
	}

	services := append([]string{c.NTPService}, c.NTPFallbackServices...)
	for i, name := range services {
		if i == 0 && name == "" {
			continue
		}
		if name == "" || strings.ContainsAny(name, "/ \t\n") {
			return errors.New(ErrCodeInvalidConfig, "invalid NTP service name").
				WithContext("service", name)
		}
	}

	for action := range c.Authorization {
		if action != "*" && !isKnownAction(action) {
			return errors.New(ErrCodeInvalidConfig, "unknown authorization action").
				WithContext("action", action)
		}
	}

	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New(ErrCodeInvalidConfig, "audit buffer size must be positive")
		}
		if c.Audit.FlushInterval < 0 {
			return errors.New(ErrCodeInvalidConfig, "audit flush interval must not be negative")
		}
	}
	return nil
}

// LoadConfigFile reads a YAML configuration file. Unset keys keep their
// zero value; call WithDefaults afterwards.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to read configuration file").
			WithContext("path", path)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration, rejecting unknown keys.
func ParseConfig(data []byte) (*Config, error) {
	config := &Config{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return config, nil
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse configuration")
	}
	return config, nil
}
