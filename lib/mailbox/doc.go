// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mailbox implements the one-way channel that a control
// goroutine uses to inject messages into an event loop it does not own.
//
// A Mailbox has one sender and one receiver. The sender hands over a
// [Message] by value; the receiver owns the resulting [Envelope] after
// [Mailbox.Receive] returns it. Every successful Send queues exactly one
// envelope and stamps it with a sequence number one greater than the
// previous send, so the receiver can verify it has seen every message
// in order.
//
// The queue is bounded. When it is full, Send waits up to its timeout
// and then fails with [ErrTimeout] rather than dropping the message:
// the caller decides whether to retry.
//
// [Mailbox.Readable] is the receiver's readiness signal. The event loop
// registers it as an I/O source; it fires at least once after any
// message is queued, and the handler drains with non-blocking
// Receive(0) calls until [ErrEmpty].
package mailbox
