// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the event
// loop, the mailbox, and the broker.
//
// Periodic self-events are scheduled against a Clock so that their
// deadlines (send time + k*period) can be driven deterministically in
// tests. Mailbox send and receive timeouts use Clock.After for the same
// reason.
//
// Production code passes Real(). Tests pass Fake(epoch) and move time
// with Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	loop, _ := eventloop.New(eventloop.Options{Clock: fake})
//	// ... schedule a periodic event, start the loop ...
//	fake.WaitForTimers(1)
//	fake.Advance(time.Second)
//
// WaitForTimers blocks until the code under test has registered its
// timers, which removes the registration/advance race without sleeping.
package clock
