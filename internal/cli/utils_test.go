// utils_test.go: Tests for timedatectl argument parsing and status output
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/agilira/timedated"
	"github.com/agilira/timedated/transport"
)

func TestParseBool(t *testing.T) {
	for input, want := range map[string]bool{
		"1": true, "yes": true, "TRUE": true, "on": true, " y ": true,
		"0": false, "no": false, "False": false, "off": false, "n": false,
	} {
		got, err := ParseBool(input)
		if err != nil || got != want {
			t.Errorf("ParseBool(%q) = %v, %v", input, got, err)
		}
	}
	if _, err := ParseBool("maybe"); timedated.Code(err) != timedated.ErrCodeInvalidArgument {
		t.Errorf("ParseBool(maybe) error = %v", err)
	}
}

func TestParseTimeArgument(t *testing.T) {
	rome := time.FixedZone("CET", 3600)
	tests := []struct {
		arg      string
		usec     int64
		relative bool
	}{
		{"+90s", 90_000_000, true},
		{"-1h30m", -5_400_000_000, true},
		{"2025-03-01T12:00:00Z", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).UnixMicro(), false},
		{"2025-03-01T12:00:00+01:00", time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC).UnixMicro(), false},
		{"2025-03-01 13:00:00", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).UnixMicro(), false},
		{"2025-03-01 13:00", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).UnixMicro(), false},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			usec, relative, err := ParseTimeArgument(tt.arg, rome)
			if err != nil {
				t.Fatalf("ParseTimeArgument: %v", err)
			}
			if usec != tt.usec || relative != tt.relative {
				t.Errorf("got %d relative=%v, want %d relative=%v", usec, relative, tt.usec, tt.relative)
			}
		})
	}

	for _, bad := range []string{"", "tomorrow", "+soon", "2025-13-01 00:00"} {
		if _, _, err := ParseTimeArgument(bad, time.UTC); timedated.Code(err) != timedated.ErrCodeInvalidArgument {
			t.Errorf("ParseTimeArgument(%q) error = %v", bad, err)
		}
	}
}

func TestFormatStatus(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	props := transport.Properties{
		Timezone:    "Europe/Rome",
		LocalRTC:    true,
		NTP:         true,
		CanNTP:      true,
		NTPService:  "ntpd",
		CanRTC:      true,
		TimeUSec:    now.UnixMicro(),
		RTCTimeUSec: now.Add(time.Hour).UnixMicro(),
	}

	var out bytes.Buffer
	if err := FormatStatus(&out, props, time.FixedZone("CET", 3600)); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	for _, want := range []string{
		"Local time: Sat 2025-03-01 13:00:00 CET",
		"Universal time: Sat 2025-03-01 12:00:00 UTC",
		"RTC time: Sat 2025-03-01 13:00:00",
		"Time zone: Europe/Rome (CET, +0100)",
		"NTP enabled: yes",
		"NTP service: ntpd",
		"RTC in local TZ: yes",
		"Warning:",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("status missing %q:\n%s", want, text)
		}
	}
}

func TestFormatStatusWithoutRTC(t *testing.T) {
	props := transport.Properties{Timezone: "UTC", TimeUSec: 0}

	var out bytes.Buffer
	if err := FormatStatus(&out, props, time.UTC); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	if !strings.Contains(text, "RTC time: n/a") || !strings.Contains(text, "NTP service: n/a") {
		t.Errorf("unexpected status:\n%s", text)
	}
	if strings.Contains(text, "Warning:") {
		t.Error("UTC hardware clock should not warn")
	}
}
