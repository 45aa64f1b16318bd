// protocol.go: Control socket actions and message shapes
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package transport

// Action names understood by the daemon.
const (
	ActionSetTime     = "SetTime"
	ActionSetTimezone = "SetTimezone"
	ActionSetLocalRTC = "SetLocalRTC"
	ActionSetNTP      = "SetNTP"
	ActionProperties  = "Properties"
)

// SetTimeRequest sets the system clock. USecUTC is microseconds since the
// epoch, or a signed delta when Relative is set.
type SetTimeRequest struct {
	USecUTC     int64 `cbor:"usec_utc"`
	Relative    bool  `cbor:"relative"`
	Interactive bool  `cbor:"user_interaction"`
}

// SetTimezoneRequest changes the system timezone.
type SetTimezoneRequest struct {
	Timezone    string `cbor:"timezone"`
	Interactive bool   `cbor:"user_interaction"`
}

// SetLocalRTCRequest switches the RTC between local time and UTC. With
// FixSystem the system clock is set from the RTC, otherwise the RTC is set
// from the system clock.
type SetLocalRTCRequest struct {
	LocalRTC    bool `cbor:"local_rtc"`
	FixSystem   bool `cbor:"fix_system"`
	Interactive bool `cbor:"user_interaction"`
}

// SetNTPRequest enables or disables network time synchronization.
type SetNTPRequest struct {
	Enabled     bool `cbor:"enabled"`
	Interactive bool `cbor:"user_interaction"`
}

// Properties are the attributes published by the daemon.
type Properties struct {
	Timezone    string `cbor:"timezone"`
	LocalRTC    bool   `cbor:"local_rtc"`
	NTP         bool   `cbor:"ntp"`
	CanNTP      bool   `cbor:"can_ntp"`
	NTPService  string `cbor:"ntp_service,omitempty"`
	CanRTC      bool   `cbor:"can_rtc"`
	RTCDevice   string `cbor:"rtc_device,omitempty"`
	TimeUSec    int64  `cbor:"time_usec"`
	RTCTimeUSec int64  `cbor:"rtc_time_usec,omitempty"`
}
