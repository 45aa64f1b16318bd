// peer_linux.go: Peer credentials via SO_PEERCRED
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

//go:build linux

package transport

import (
	"net"

	"github.com/agilira/go-errors"
	"golang.org/x/sys/unix"
)

func peerCredentials(conn net.Conn) (Peer, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return Peer{}, errors.New(ErrCodeBadRequest, "not a unix socket connection")
	}
	rawConn, err := unixConn.SyscallConn()
	if err != nil {
		return Peer{}, errors.Wrap(err, ErrCodeInternal, "failed to access socket")
	}

	var cred *unix.Ucred
	var credErr error
	if err := rawConn.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return Peer{}, errors.Wrap(err, ErrCodeInternal, "failed to access socket")
	}
	if credErr != nil {
		return Peer{}, errors.Wrap(credErr, ErrCodeInternal, "SO_PEERCRED failed")
	}
	return Peer{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}
