// Utility functions for the timedatectl client
//
// This file provides argument parsing for clock values and the status
// report shown by the status command.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/timedated"
	"github.com/agilira/timedated/transport"
)

const statusTimeLayout = "Mon 2006-01-02 15:04:05 MST"

// localTimeLayouts are accepted by ParseTimeArgument after RFC 3339.
var localTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
}

// ParseBool accepts the boolean spellings timedatectl users type.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "yes", "y", "true", "t", "on":
		return true, nil
	case "0", "no", "n", "false", "f", "off":
		return false, nil
	}
	return false, errors.New(timedated.ErrCodeInvalidArgument, "invalid boolean").
		WithContext("value", value)
}

// ParseTimeArgument converts a set-time argument to microseconds. A leading
// sign makes it a relative adjustment parsed as a Go duration ("+90s",
// "-1h30m"); otherwise it is an RFC 3339 time or a wall time in loc.
func ParseTimeArgument(arg string, loc *time.Location) (usec int64, relative bool, err error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 0, false, errors.New(timedated.ErrCodeInvalidArgument, "missing time")
	}

	if arg[0] == '+' || arg[0] == '-' {
		d, err := time.ParseDuration(arg)
		if err != nil {
			return 0, false, errors.Wrap(err, timedated.ErrCodeInvalidArgument, "invalid relative time").
				WithContext("value", arg)
		}
		return d.Microseconds(), true, nil
	}

	if t, err := time.Parse(time.RFC3339Nano, arg); err == nil {
		return t.UnixMicro(), false, nil
	}
	for _, layout := range localTimeLayouts {
		if t, err := time.ParseInLocation(layout, arg, loc); err == nil {
			return t.UnixMicro(), false, nil
		}
	}
	return 0, false, errors.New(timedated.ErrCodeInvalidArgument, "invalid time").
		WithContext("value", arg)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// FormatStatus writes the status report for p. loc is the zone named by
// p.Timezone, or UTC when it could not be loaded.
func FormatStatus(w io.Writer, p transport.Properties, loc *time.Location) error {
	now := time.UnixMicro(p.TimeUSec)
	local := now.In(loc)

	rtc := "n/a"
	if p.CanRTC && p.RTCTimeUSec != 0 {
		rtc = time.UnixMicro(p.RTCTimeUSec).UTC().Format("Mon 2006-01-02 15:04:05")
	}
	service := p.NTPService
	if service == "" {
		service = "n/a"
	}

	lines := [][2]string{
		{"Local time", local.Format(statusTimeLayout)},
		{"Universal time", now.UTC().Format(statusTimeLayout)},
		{"RTC time", rtc},
		{"Time zone", fmt.Sprintf("%s (%s)", p.Timezone, local.Format("MST, -0700"))},
		{"NTP available", yesNo(p.CanNTP)},
		{"NTP enabled", yesNo(p.NTP)},
		{"NTP service", service},
		{"RTC in local TZ", yesNo(p.LocalRTC)},
	}
	for _, line := range lines {
		if _, err := fmt.Fprintf(w, "%18s: %s\n", line[0], line[1]); err != nil {
			return err
		}
	}

	if p.LocalRTC {
		_, err := fmt.Fprint(w, "\nWarning: The hardware clock is kept in the local time zone.\n"+
			"         Daylight saving changes are not applied to it automatically.\n"+
			"         Use 'timedatectl set-local-rtc 0' to keep it in UTC.\n")
		return err
	}
	return nil
}
