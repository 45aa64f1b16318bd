// peer_other.go: Peer credentials on platforms without SO_PEERCRED
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package transport

import (
	"net"

	"github.com/agilira/go-errors"
)

func peerCredentials(net.Conn) (Peer, error) {
	return Peer{}, errors.New(ErrCodeInternal, "peer credentials are not supported on this platform")
}
