// operations.go: Mutating requests on the time state
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	"context"
	"math"
	"os"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/timedated/shellparser"
)

// clockVariable and its legacy spelling in the hardware-clock config.
const (
	clockVariable       = "clock"
	legacyClockVariable = "CLOCK"
)

// SetTime sets the system clock to usecUTC microseconds since the epoch, or
// moves it by usecUTC when relative is set, then pushes the new time to the
// hardware clock.
func (d *Daemon) SetTime(ctx context.Context, subject Subject, usecUTC int64, relative, interactive bool) error {
	return d.execute(ctx, request{
		action:      ActionSetTime,
		subject:     subject,
		interactive: interactive,
		domain:      &d.clockMu,
		validate: func(context.Context) error {
			if !relative && usecUTC < 0 {
				return errors.New(ErrCodeInvalidArgument, "time must not be before the epoch").
					WithContext("usec_utc", usecUTC)
			}
			if relative && (usecUTC > math.MaxInt64/1000 || usecUTC < math.MinInt64/1000) {
				return errors.New(ErrCodeInvalidArgument, "relative time adjustment out of range").
					WithContext("usec_utc", usecUTC)
			}
			return nil
		},
		apply: func(context.Context) error {
			before := d.clock.Now()
			target := time.UnixMicro(usecUTC)
			if relative {
				target = before.Add(time.Duration(usecUTC) * time.Microsecond)
			}

			if err := d.clock.SetSystemTime(target); err != nil {
				return errors.Wrap(err, ErrCodeSystemCall, "failed to set system time: "+err.Error())
			}
			d.logger.Info("system time set", "time", target.UTC().Format(time.RFC3339Nano), "relative", relative)

			d.syncRTCLocked(target)

			d.audit.LogStateChange(EventTimeSet, "system_clock",
				before.UTC().Format(time.RFC3339Nano), target.UTC().Format(time.RFC3339Nano), &subject)
			return nil
		},
	})
}

// syncRTCLocked writes t to the hardware clock in its configured mode.
// Failures are logged. Caller holds clockMu.
func (d *Daemon) syncRTCLocked(t time.Time) {
	if !d.canRTC {
		return
	}
	rtc := t.UTC()
	if d.localRTC {
		rtc = t.In(d.location(d.timezone))
	}
	if err := d.clock.SetRTC(rtc); err != nil {
		d.logger.Warn("could not update hardware clock", "device", d.rtcDevice, "error", err)
	}
}

// SetTimezone makes name the system timezone.
func (d *Daemon) SetTimezone(ctx context.Context, subject Subject, name string, interactive bool) error {
	return d.execute(ctx, request{
		action:      ActionSetTimezone,
		subject:     subject,
		interactive: interactive,
		domain:      &d.clockMu,
		validate: func(context.Context) error {
			_, err := readZone(d.fs, d.config.ZoneinfoDir, name)
			return err
		},
		apply: func(context.Context) error {
			old := d.timezone

			if err := writeTimezoneFile(d.fs, d.config.TimezoneFile, name, d.logger); err != nil {
				d.logger.Warn("could not update timezone file", "path", d.config.TimezoneFile, "error", err)
			}
			if err := updateLocaltime(d.fs, d.config, name, d.logger); err != nil {
				return err
			}

			// same zone: the stores are rewritten in case they were damaged
			if name == old {
				if d.localRTC {
					if err := ensureRTCZoneLink(d.fs, d.config.RTCZoneLink, name); err != nil {
						d.logger.Warn("could not update RTC zone link", "link", d.config.RTCZoneLink, "error", err)
					}
				}
				d.logger.Debug("timezone unchanged; localtime refreshed", "timezone", name)
				return nil
			}

			if d.localRTC {
				loc := d.location(name)
				if _, err := d.clock.ApplyLocaltimeDelta(loc); err != nil {
					d.logger.Warn("could not update kernel timezone offset", "timezone", name, "error", err)
				}
				if err := ensureRTCZoneLink(d.fs, d.config.RTCZoneLink, name); err != nil {
					d.logger.Warn("could not update RTC zone link", "link", d.config.RTCZoneLink, "error", err)
				}
			}

			d.timezone = name
			if d.localRTC {
				d.syncRTCLocked(d.clock.Now())
			}

			d.publish(func(s *State) { s.Timezone = name })
			d.logger.Info("timezone changed", "old", old, "new", name)
			d.audit.LogStateChange(EventTimezoneChange, d.config.LocaltimeFile, old, name, &subject)
			return nil
		},
	})
}

// SetLocalRTC switches the hardware clock between local time and UTC. With
// fixSystem the system clock is set from the RTC reinterpreted in the new
// mode; otherwise the RTC is set from the system clock.
func (d *Daemon) SetLocalRTC(ctx context.Context, subject Subject, local, fixSystem, interactive bool) error {
	return d.execute(ctx, request{
		action:      ActionSetLocalRTC,
		subject:     subject,
		interactive: interactive,
		domain:      &d.clockMu,
		apply: func(ctx context.Context) error {
			if err := d.persistClockLocked(ctx, local); err != nil {
				return err
			}
			if local == d.localRTC {
				return nil
			}

			loc := d.location(d.timezone)
			if local {
				if _, err := d.clock.ApplyLocaltimeDelta(loc); err != nil {
					return errors.Wrap(err, ErrCodeSystemCall, "failed to apply kernel timezone offset: "+err.Error())
				}
			} else {
				if err := d.clock.ResetLocaltimeDelta(); err != nil {
					return errors.Wrap(err, ErrCodeSystemCall, "failed to reset kernel timezone offset: "+err.Error())
				}
			}

			zone := time.UTC
			if local {
				zone = loc
			}
			if d.canRTC {
				if fixSystem {
					rtc, err := d.clock.ReadRTC()
					if err != nil {
						return errors.Wrap(err, ErrCodeSystemCall, "failed to read hardware clock: "+err.Error())
					}
					now := d.clock.Now().In(zone)
					fixed := time.Date(rtc.Year(), rtc.Month(), rtc.Day(),
						rtc.Hour(), rtc.Minute(), rtc.Second(), now.Nanosecond(), zone)
					if err := d.clock.SetSystemTime(fixed); err != nil {
						return errors.Wrap(err, ErrCodeSystemCall, "failed to set system time: "+err.Error())
					}
				} else {
					if err := d.clock.SetRTC(d.clock.Now().In(zone)); err != nil {
						return errors.Wrap(err, ErrCodeSystemCall, "failed to set hardware clock: "+err.Error())
					}
				}
			} else {
				d.logger.Warn("no hardware clock present; only the mode was changed", "device", d.rtcDevice)
			}

			if local {
				if err := ensureRTCZoneLink(d.fs, d.config.RTCZoneLink, d.timezone); err != nil {
					d.logger.Warn("could not update RTC zone link", "link", d.config.RTCZoneLink, "error", err)
				}
			} else {
				d.removeRTCZoneLink()
			}

			old := d.localRTC
			d.localRTC = local
			d.publish(func(s *State) { s.LocalRTC = local })
			d.logger.Info("hardware clock mode changed", "local_rtc", local, "fix_system", fixSystem)
			d.audit.LogStateChange(EventLocalRTCChange, d.config.HwclockConfig, old, local, &subject)
			return nil
		},
	})
}

// persistClockLocked records the mode in the hardware-clock config. The
// file is only rewritten when it already sets clock or CLOCK, or the mode is
// local. A clock computed by a non-literal line is overridden by appending a
// literal assignment, which the shell reads last.
func (d *Daemon) persistClockLocked(ctx context.Context, local bool) error {
	value := "UTC"
	if local {
		value = "local"
	}
	opts := []shellparser.Option{shellparser.WithFs(d.fs), shellparser.WithLogger(d.logger)}

	var hasClock, hasLegacy bool
	p, err := shellparser.Load(d.config.HwclockConfig, opts...)
	switch {
	case err == nil:
		_, hasClock = p.Get(clockVariable)
		_, hasLegacy = p.Get(legacyClockVariable)
	case shellparser.Code(err) == shellparser.ErrCodeIO && !d.fileExists(d.config.HwclockConfig):
	default:
		return errors.Wrap(err, ErrCodeIO, "failed to read hardware clock configuration").
			WithContext("path", d.config.HwclockConfig)
	}

	// assignments the structural parser cannot edit are still visible to the shell
	computed := false
	if err == nil && !hasClock {
		values, evalErr := d.shell.Evaluate(ctx, d.config.HwclockConfig, "${"+clockVariable+"+set}")
		switch {
		case evalErr != nil:
			d.logger.Warn("could not evaluate hardware clock configuration; writing clock explicitly",
				"path", d.config.HwclockConfig, "error", evalErr)
			computed = true
		case values[0].Text != "":
			computed = true
		}
	}

	if !hasClock && !hasLegacy && !computed && !local {
		return nil
	}

	update := shellparser.Update{Name: clockVariable, AltName: legacyClockVariable, Value: value}
	if computed {
		update.AltName = ""
	}
	if err := shellparser.SetAndSave(d.config.HwclockConfig, []shellparser.Update{update}, opts...); err != nil {
		return errors.Wrap(err, ErrCodeIO, "failed to save hardware clock configuration").
			WithContext("path", d.config.HwclockConfig)
	}
	return nil
}

func (d *Daemon) fileExists(path string) bool {
	_, err := d.fs.Stat(path)
	return !os.IsNotExist(err)
}

func (d *Daemon) removeRTCZoneLink() {
	info, err := lstat(d.fs, d.config.RTCZoneLink)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return
	}
	if err := d.fs.Remove(d.config.RTCZoneLink); err != nil {
		d.logger.Warn("could not remove RTC zone link", "link", d.config.RTCZoneLink, "error", err)
	}
}

// SetNTP enables or disables the resolved NTP service.
func (d *Daemon) SetNTP(ctx context.Context, subject Subject, enabled, interactive bool) error {
	return d.execute(ctx, request{
		action:      ActionSetNTP,
		subject:     subject,
		interactive: interactive,
		domain:      &d.ntpMu,
		validate: func(context.Context) error {
			_, err := d.resolveNTPService()
			return err
		},
		apply: func(ctx context.Context) error {
			service, err := d.resolveNTPService()
			if err != nil {
				return err
			}

			if enabled {
				err = d.services.Enable(ctx, service)
			} else {
				err = d.services.Disable(ctx, service)
			}
			if err != nil {
				if Code(err) != "" {
					return err
				}
				return errors.Wrap(err, ErrCodeSystemCall, err.Error()).
					WithContext("service", service)
			}

			old := d.useNTP
			d.useNTP = enabled
			d.ntpService = service
			d.publish(func(s *State) {
				s.NTP = enabled
				s.NTPService = service
				s.CanNTP = true
			})
			d.logger.Info("NTP state changed", "service", service, "enabled", enabled)
			d.audit.LogStateChange(EventNTPChange, service, old, enabled, &subject)
			return nil
		},
	})
}

// resolveNTPService returns the preferred NTP service if installed, else
// the first installed fallback.
func (d *Daemon) resolveNTPService() (string, error) {
	candidates := make([]string, 0, len(d.config.NTPFallbackServices)+1)
	if d.config.NTPService != "" {
		candidates = append(candidates, d.config.NTPService)
	}
	candidates = append(candidates, d.config.NTPFallbackServices...)

	for _, name := range candidates {
		if d.services.Exists(name) {
			return name, nil
		}
	}
	return "", errors.New(ErrCodeNoNTPService,
		"no NTP implementation available; install one of: "+d.config.NTPPackages).
		WithContext("packages", d.config.NTPPackages).
		WithContext("searched", strings.Join(candidates, ", "))
}

// Reload re-reads the clock domain's backing stores and publishes anything
// changed outside the daemon.
func (d *Daemon) Reload(ctx context.Context) {
	d.clockMu.Lock()
	defer d.clockMu.Unlock()

	local, device, err := d.readClockConfig(ctx)
	if err != nil {
		d.logger.Warn("could not evaluate hardware clock configuration; keeping the current mode",
			"path", d.config.HwclockConfig, "error", err)
		local, device = d.localRTC, d.rtcDevice
	}
	timezone := ResolveTimezone(d.fs, d.config)

	if local && (local != d.localRTC || timezone != d.timezone) {
		if err := ensureRTCZoneLink(d.fs, d.config.RTCZoneLink, timezone); err != nil {
			d.logger.Warn("RTC zone link could not be repaired after external change; reporting UTC",
				"link", d.config.RTCZoneLink, "error", err)
			d.audit.Log(AuditWarn, EventSelfHeal, d.config.RTCZoneLink, true, false, nil,
				map[string]interface{}{"error": err.Error()})
			local = false
		}
	}

	d.rtcDevice = device
	d.canRTC = d.deviceExists(device)

	if timezone != d.timezone {
		d.logger.Info("timezone changed externally", "old", d.timezone, "new", timezone)
		d.audit.LogExternalChange(d.config.LocaltimeFile, d.timezone, timezone)
		d.timezone = timezone
	}
	if local != d.localRTC {
		d.logger.Info("hardware clock mode changed externally", "local_rtc", local)
		d.audit.LogExternalChange(d.config.HwclockConfig, d.localRTC, local)
		d.localRTC = local
	}

	canRTC := d.canRTC
	d.publish(func(s *State) {
		s.Timezone = timezone
		s.LocalRTC = local
		s.RTCDevice = device
		s.CanRTC = canRTC
	})
}
