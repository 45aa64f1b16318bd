// ipc.go: Control socket bindings
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	"context"

	"github.com/agilira/timedated/transport"
)

// RegisterHandlers binds the daemon's operations to server. The caller's
// identity is taken from the socket peer credentials.
func RegisterHandlers(server *transport.Server, d *Daemon) {
	server.Handle(transport.ActionSetTime, func(ctx context.Context, peer transport.Peer, raw []byte) (any, error) {
		var req transport.SetTimeRequest
		if err := transport.Decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, d.SetTime(ctx, subjectOf(peer), req.USecUTC, req.Relative, req.Interactive)
	})

	server.Handle(transport.ActionSetTimezone, func(ctx context.Context, peer transport.Peer, raw []byte) (any, error) {
		var req transport.SetTimezoneRequest
		if err := transport.Decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, d.SetTimezone(ctx, subjectOf(peer), req.Timezone, req.Interactive)
	})

	server.Handle(transport.ActionSetLocalRTC, func(ctx context.Context, peer transport.Peer, raw []byte) (any, error) {
		var req transport.SetLocalRTCRequest
		if err := transport.Decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, d.SetLocalRTC(ctx, subjectOf(peer), req.LocalRTC, req.FixSystem, req.Interactive)
	})

	server.Handle(transport.ActionSetNTP, func(ctx context.Context, peer transport.Peer, raw []byte) (any, error) {
		var req transport.SetNTPRequest
		if err := transport.Decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, d.SetNTP(ctx, subjectOf(peer), req.Enabled, req.Interactive)
	})

	server.Handle(transport.ActionProperties, func(context.Context, transport.Peer, []byte) (any, error) {
		return wireProperties(d.Properties()), nil
	})
}

func subjectOf(peer transport.Peer) Subject {
	return Subject{UID: peer.UID, GID: peer.GID, PID: peer.PID}
}

func wireProperties(p Properties) transport.Properties {
	out := transport.Properties{
		Timezone:   p.Timezone,
		LocalRTC:   p.LocalRTC,
		NTP:        p.NTP,
		CanNTP:     p.CanNTP,
		NTPService: p.NTPService,
		CanRTC:     p.CanRTC,
		RTCDevice:  p.RTCDevice,
		TimeUSec:   p.Time.UnixMicro(),
	}
	if !p.RTCTime.IsZero() {
		out.RTCTimeUSec = p.RTCTime.UnixMicro()
	}
	return out
}
