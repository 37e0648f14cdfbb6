// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventloop is the single-threaded reactor that the resource
// broker runs on.
//
// A [Loop] owns three kinds of work:
//
//   - Sources: readiness channels (a mailbox, an IPC endpoint's inbound
//     queue) registered with [Loop.AddSource]. When a source signals,
//     its handler runs on the loop goroutine and drains whatever is
//     ready.
//   - Self-events: deferred work the loop schedules onto itself through
//     its [EventManager], either once as soon as the loop is idle
//     ([EventManager.SendImmediate]) or on a fixed period
//     ([EventManager.SendPeriodic]).
//   - The exit request, made through [Scope.Exit].
//
// [Loop.Run] pins its goroutine to an OS thread and records that
// thread's id. Everything that mutates loop state checks the caller's
// thread against it: a foreign goroutine that tries to schedule a
// self-event or exit the loop while it is running panics with
// [ErrForeignThread]. Other goroutines must hand work to the loop
// through a source, usually a lib/mailbox.Mailbox.
//
// A [Scope] is the loop goroutine's capability handle. Handlers and
// self-event callbacks receive one, and [Loop.Scope] only returns one
// when called on the loop thread.
package eventloop
