// errors.go: Error codes for the time daemon
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	goerrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes returned by the coordinator and its helpers
const (
	ErrCodeIO                  = "TIMEDATED_IO_ERROR"
	ErrCodeAuthorizationDenied = "TIMEDATED_AUTHORIZATION_DENIED"
	ErrCodeAuthorizationFailed = "TIMEDATED_AUTHORIZATION_FAILED"
	ErrCodeUnsupported         = "TIMEDATED_UNSUPPORTED"
	ErrCodeReadOnly            = "TIMEDATED_READ_ONLY"
	ErrCodeSystemCall          = "TIMEDATED_SYSTEM_CALL"
	ErrCodeInvalidArgument     = "TIMEDATED_INVALID_ARGUMENT"
	ErrCodeInvalidConfig       = "TIMEDATED_INVALID_CONFIG"
	ErrCodeNoNTPService        = "TIMEDATED_NO_NTP_SERVICE"
	ErrCodeWatcherBusy         = "TIMEDATED_WATCHER_BUSY"
	ErrCodeWatcherStopped      = "TIMEDATED_WATCHER_STOPPED"
)

// Code returns the code of a coded error, or "" for plain errors.
func Code(err error) string {
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return string(coder.ErrorCode())
	}
	return ""
}

// IsUnsupported reports whether err means the operation cannot be served at
// all: read-only mode or no usable NTP implementation.
func IsUnsupported(err error) bool {
	switch Code(err) {
	case ErrCodeUnsupported, ErrCodeReadOnly, ErrCodeNoNTPService:
		return true
	}
	return false
}

// IsAuthorizationError reports whether err came from the authorization step.
func IsAuthorizationError(err error) bool {
	switch Code(err) {
	case ErrCodeAuthorizationDenied, ErrCodeAuthorizationFailed:
		return true
	}
	return false
}
