// cmdline.go: Hardware clock mode hints
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	"strings"

	"github.com/spf13/afero"
)

// KernelCmdlineLocalRTC reports whether the kernel command line at path
// carries rtc=local or rd.rtc=local. It is false when the file cannot be
// read or no token matches.
func KernelCmdlineLocalRTC(fsys afero.Fs, path string) bool {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return false
	}
	for _, token := range strings.Fields(string(data)) {
		key, value, ok := strings.Cut(token, "=")
		if !ok || value != "local" {
			continue
		}
		if key == "rtc" || key == "rd.rtc" {
			return true
		}
	}
	return false
}

// isLocalClock interprets the hardware-clock config's clock value. Both
// "local" and the OpenRC spelling "localtime" select local time.
func isLocalClock(value string) bool {
	return value == "local" || strings.EqualFold(value, "localtime")
}
