// Package hwclock provides the system clock and hardware clock primitives
// used by the time daemon.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package hwclock

import (
	"time"
)

// Error codes for clock primitives.
const (
	ErrCodeSyscall     = "HWCLOCK_SYSCALL_FAILED"
	ErrCodeUnsupported = "HWCLOCK_UNSUPPORTED"
)

// DefaultDevice is the RTC character device.
const DefaultDevice = "/dev/rtc"

// Clock is the set of clock operations the daemon depends on.
//
// ReadRTC returns the hardware clock's broken-down fields as a time in UTC;
// callers reinterpret them in the zone the RTC is kept in. SetRTC writes the
// wall-clock fields of t unchanged, so callers convert t to UTC or to the
// local zone first.
type Clock interface {
	Now() time.Time
	SetSystemTime(t time.Time) error
	ReadRTC() (time.Time, error)
	SetRTC(t time.Time) error

	// ApplyLocaltimeDelta tells the kernel the offset of loc at the current
	// instant and returns it in minutes east of UTC. The first call after
	// boot warps the system clock from local time to UTC.
	ApplyLocaltimeDelta(loc *time.Location) (int, error)
	ResetLocaltimeDelta() error
}

// rtcFields converts broken-down RTC fields into a UTC-labeled time.
func rtcFields(year, month, day, hour, min, sec int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
}

// offsetMinutes returns the UTC offset of loc at t in minutes east.
func offsetMinutes(t time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	_, offset := t.In(loc).Zone()
	return offset / 60
}

var _ Clock = (*System)(nil)
