// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package eventloop

import "runtime"

// currentThreadID falls back to the goroutine id where gettid is not
// available. The loop goroutine is still the only one that matches.
func currentThreadID() int64 {
	var buffer [64]byte
	n := runtime.Stack(buffer[:], false)
	var id int64
	for i := len("goroutine "); i < n; i++ {
		if buffer[i] < '0' || buffer[i] > '9' {
			break
		}
		id = id*10 + int64(buffer[i]-'0')
	}
	return id
}
