// Package timedated implements a time and date settings daemon for systems
// whose clock configuration lives in shell-sourced files, such as OpenRC
// based distributions.
//
// # Published State
//
// The daemon publishes three mutable attributes:
//   - Timezone: the Olson identifier of the system timezone, derived from
//     the localtime reference (a symlink into the zoneinfo tree or a copy
//     of a zone file) and the optional timezone file
//   - LocalRTC: whether the hardware clock keeps local time rather than UTC,
//     read from the clock variable of the hardware-clock config
//   - NTP: whether the network time service is enabled and running
//
// Alongside them it reports whether an NTP implementation is installed, the
// RTC device path and whether that device exists.
//
// # Operations
//
// Four mutating operations are exposed, each authorized per caller:
//
//	d := timedated.New(cfg, timedated.Options{Logger: logger, Audit: audit})
//	if err := d.Init(ctx); err != nil {
//		return err
//	}
//	err := d.SetTimezone(ctx, subject, "Europe/Rome", false)
//
// SetTime, SetTimezone and SetLocalRTC serialize on the clock domain;
// SetNTP serializes on its own ntp domain. Argument validation and the
// authorization check run before the domain lock is taken, so a pending
// authorization prompt never blocks other callers.
//
// # Errors
//
// Errors carry codes from github.com/agilira/go-errors. Use Code to read
// them, IsUnsupported to detect read-only mode or a missing NTP service,
// and IsAuthorizationError for denials and failed checks.
//
// # External Changes
//
// A Watcher polls the backing stores. Daemon.WatchBackingStores wires it to
// Reload, which republishes state edited outside the daemon and repairs the
// RTC zone link when the hardware clock keeps local time.
//
// # Audit
//
// State changes, denials and self-healing are recorded by AuditLogger to a
// SQLite database or a JSON Lines file, each event carrying a SHA-256
// checksum.
//
// # Transport
//
// RegisterHandlers binds the operations to a transport.Server listening on
// a Unix socket. Callers are identified by their peer credentials.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package timedated
