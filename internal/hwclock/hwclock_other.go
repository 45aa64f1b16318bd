// hwclock_other.go: Clock primitives on platforms without RTC support
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package hwclock

import (
	"time"

	"github.com/agilira/go-errors"
)

// System reports every mutating primitive as unsupported.
type System struct {
	Device string
}

func NewSystem(device string) *System {
	if device == "" {
		device = DefaultDevice
	}
	return &System{Device: device}
}

func (s *System) Now() time.Time { return time.Now() }

func (s *System) SetSystemTime(time.Time) error { return unsupported("set system time") }

func (s *System) ReadRTC() (time.Time, error) { return time.Time{}, unsupported("read rtc") }

func (s *System) SetRTC(time.Time) error { return unsupported("set rtc") }

func (s *System) ApplyLocaltimeDelta(*time.Location) (int, error) {
	return 0, unsupported("apply localtime delta")
}

func (s *System) ResetLocaltimeDelta() error { return unsupported("reset localtime delta") }

func unsupported(op string) error {
	return errors.New(ErrCodeUnsupported, op+" is not supported on this platform")
}
