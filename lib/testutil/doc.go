// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by the package tests.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-deadline pattern so a broken test fails instead of
// hanging. They are the only place tests use real wall-clock
// timeouts; everything else runs against lib/clock.FakeClock.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// whose paths are limited to 108 bytes. [Logger] returns a logger that
// only prints errors. [Eventually] polls a condition for state that is
// observed through another goroutine.
//
// Helpers call t.Fatalf on failure.
package testutil
