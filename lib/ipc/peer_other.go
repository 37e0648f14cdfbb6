// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package ipc

import (
	"errors"
	"net"
)

func peerCredentials(*net.UnixConn) (Peer, error) {
	return Peer{PID: -1}, errors.New("peer credentials are only available on Linux")
}
