// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package eventloop

import "golang.org/x/sys/unix"

// currentThreadID identifies the OS thread running the caller. Only
// meaningful for a goroutine locked to its thread.
func currentThreadID() int64 {
	return int64(unix.Gettid())
}
