// errors.go: Error codes for the shell configuration editor
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shellparser

import (
	goerrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes returned by this package.
const (
	ErrCodeParse        = "SHELLPARSER_PARSE_ERROR"
	ErrCodeIO           = "SHELLPARSER_IO_ERROR"
	ErrCodeEval         = "SHELLPARSER_EVAL_ERROR"
	ErrCodeInvalidName  = "SHELLPARSER_INVALID_NAME"
	ErrCodeInvalidValue = "SHELLPARSER_INVALID_VALUE"
)

// Code returns the error code carried by err, or "" if err is not a coded error.
func Code(err error) string {
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return string(coder.ErrorCode())
	}
	return ""
}
