// fake.go: In-memory clock for tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package hwclock

import (
	"sync"
	"time"
)

// Fake is an in-memory Clock. Errors set on the struct are returned by the
// matching operation.
type Fake struct {
	mu sync.Mutex

	System       time.Time
	RTC          time.Time
	DeltaMinutes int
	DeltaApplied bool

	SetSystemErr error
	ReadRTCErr   error
	SetRTCErr    error
	DeltaErr     error

	calls []string
}

// NewFake returns a fake whose system clock and RTC both read now in UTC.
func NewFake(now time.Time) *Fake {
	return &Fake{System: now, RTC: now.UTC()}
}

func (f *Fake) record(op string) {
	f.calls = append(f.calls, op)
}

// Calls returns the operations performed so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.System
}

func (f *Fake) SetSystemTime(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set_system")
	if f.SetSystemErr != nil {
		return f.SetSystemErr
	}
	f.System = t
	return nil
}

func (f *Fake) ReadRTC() (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("read_rtc")
	if f.ReadRTCErr != nil {
		return time.Time{}, f.ReadRTCErr
	}
	r := f.RTC
	return rtcFields(r.Year(), int(r.Month()), r.Day(), r.Hour(), r.Minute(), r.Second()), nil
}

func (f *Fake) SetRTC(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set_rtc")
	if f.SetRTCErr != nil {
		return f.SetRTCErr
	}
	f.RTC = rtcFields(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	return nil
}

func (f *Fake) ApplyLocaltimeDelta(loc *time.Location) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("apply_delta")
	if f.DeltaErr != nil {
		return 0, f.DeltaErr
	}
	f.DeltaMinutes = offsetMinutes(f.System, loc)
	f.DeltaApplied = true
	return f.DeltaMinutes, nil
}

func (f *Fake) ResetLocaltimeDelta() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reset_delta")
	if f.DeltaErr != nil {
		return f.DeltaErr
	}
	f.DeltaMinutes = 0
	f.DeltaApplied = false
	return nil
}

var _ Clock = (*Fake)(nil)
