// hwclock_linux.go: Linux clock primitives over settimeofday and RTC ioctls
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

//go:build linux

package hwclock

import (
	"time"
	"unsafe"

	"github.com/agilira/go-errors"
	"golang.org/x/sys/unix"
)

// kernelTimezone mirrors struct timezone.
type kernelTimezone struct {
	minuteswest int32
	dsttime     int32
}

// System drives the real system clock and the RTC device.
type System struct {
	Device string
}

// NewSystem returns clock primitives backed by device, or DefaultDevice.
func NewSystem(device string) *System {
	if device == "" {
		device = DefaultDevice
	}
	return &System{Device: device}
}

func (s *System) Now() time.Time {
	return time.Now()
}

func (s *System) SetSystemTime(t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	if err := unix.Settimeofday(&tv); err != nil {
		return errors.Wrap(err, ErrCodeSyscall, "settimeofday: "+err.Error())
	}
	return nil
}

func (s *System) ReadRTC() (time.Time, error) {
	fd, err := unix.Open(s.Device, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return time.Time{}, errors.Wrap(err, ErrCodeSyscall, "open rtc: "+err.Error()).
			WithContext("device", s.Device)
	}
	defer unix.Close(fd)

	rt, err := unix.IoctlGetRTCTime(fd)
	if err != nil {
		return time.Time{}, errors.Wrap(err, ErrCodeSyscall, "RTC_RD_TIME: "+err.Error()).
			WithContext("device", s.Device)
	}
	return rtcFields(int(rt.Year)+1900, int(rt.Mon)+1, int(rt.Mday),
		int(rt.Hour), int(rt.Min), int(rt.Sec)), nil
}

func (s *System) SetRTC(t time.Time) error {
	fd, err := unix.Open(s.Device, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return errors.Wrap(err, ErrCodeSyscall, "open rtc: "+err.Error()).
			WithContext("device", s.Device)
	}
	defer unix.Close(fd)

	rt := unix.RTCTime{
		Sec:   int32(t.Second()),
		Min:   int32(t.Minute()),
		Hour:  int32(t.Hour()),
		Mday:  int32(t.Day()),
		Mon:   int32(t.Month()) - 1,
		Year:  int32(t.Year()) - 1900,
		Wday:  int32(t.Weekday()),
		Yday:  int32(t.YearDay()) - 1,
		Isdst: 0,
	}
	if err := unix.IoctlSetRTCTime(fd, &rt); err != nil {
		return errors.Wrap(err, ErrCodeSyscall, "RTC_SET_TIME: "+err.Error()).
			WithContext("device", s.Device)
	}
	return nil
}

func (s *System) ApplyLocaltimeDelta(loc *time.Location) (int, error) {
	minutes := offsetMinutes(time.Now(), loc)
	if err := setKernelTimezone(-minutes); err != nil {
		return 0, err
	}
	return minutes, nil
}

func (s *System) ResetLocaltimeDelta() error {
	return setKernelTimezone(0)
}

// setKernelTimezone calls settimeofday(NULL, &tz).
func setKernelTimezone(minuteswest int) error {
	tz := kernelTimezone{minuteswest: int32(minuteswest)}
	_, _, errno := unix.Syscall(unix.SYS_SETTIMEOFDAY, 0, uintptr(unsafe.Pointer(&tz)), 0)
	if errno != 0 {
		return errors.Wrap(errno, ErrCodeSyscall, "settimeofday(tz): "+errno.Error())
	}
	return nil
}
