// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailbox

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/cloudconnect/lib/clock"
)

// DefaultTimeout bounds Send and Receive when the caller has no better
// value. Tens of milliseconds is enough for the reactor to drain a
// queue slot under normal load.
const DefaultTimeout = 50 * time.Millisecond

// DefaultCapacity is the number of queued envelopes a mailbox holds
// before Send starts waiting.
const DefaultCapacity = 16

var (
	// ErrTimeout means the operation did not complete within its
	// timeout. For Send, nothing was queued.
	ErrTimeout = errors.New("mailbox: timed out")

	// ErrEmpty is returned by a non-blocking Receive when nothing is
	// queued.
	ErrEmpty = errors.New("mailbox: empty")

	// ErrClosed means the receiver has closed the mailbox.
	ErrClosed = errors.New("mailbox: closed")
)

// Mailbox is a bounded single-producer single-consumer queue of
// envelopes. It holds no mutex: the Go channel is the only
// synchronization, and the sequence counter is only advanced by the
// single sender.
type Mailbox struct {
	clock clock.Clock

	slots    chan Envelope
	readable chan struct{}
	closed   chan struct{}
	isClosed atomic.Bool

	sequence atomic.Uint64
}

// New creates a mailbox holding up to capacity queued envelopes.
// Panics if capacity < 1.
func New(capacity int, c clock.Clock) *Mailbox {
	if capacity < 1 {
		panic(fmt.Sprintf("mailbox: capacity must be at least 1, got %d", capacity))
	}
	return &Mailbox{
		clock:    c,
		slots:    make(chan Envelope, capacity),
		readable: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// Send queues message, waiting up to timeout for a free slot.
func (m *Mailbox) Send(message Message, timeout time.Duration) error {
	if message == nil {
		return fmt.Errorf("mailbox: nil message")
	}
	if m.isClosed.Load() {
		return ErrClosed
	}

	// The sequence number is only committed once the envelope is
	// actually queued, so a timed-out send does not leave a gap.
	envelope := Envelope{
		Sequence: m.sequence.Load() + 1,
		Message:  message,
	}

	select {
	case m.slots <- envelope:
	default:
		select {
		case m.slots <- envelope:
		case <-m.closed:
			return ErrClosed
		case <-m.clock.After(timeout):
			return fmt.Errorf("sending %s: %w", envelope, ErrTimeout)
		}
	}
	m.sequence.Store(envelope.Sequence)

	select {
	case m.readable <- struct{}{}:
	default:
		// A wakeup is already pending; the receiver drains every
		// queued envelope per wakeup.
	}
	return nil
}

// Receive dequeues the next envelope. A zero timeout polls without
// blocking and returns ErrEmpty when nothing is queued.
func (m *Mailbox) Receive(timeout time.Duration) (Envelope, error) {
	if m.isClosed.Load() {
		return Envelope{}, ErrClosed
	}
	select {
	case envelope := <-m.slots:
		return envelope, nil
	default:
	}
	if timeout <= 0 {
		return Envelope{}, ErrEmpty
	}

	select {
	case envelope := <-m.slots:
		return envelope, nil
	case <-m.closed:
		return Envelope{}, ErrClosed
	case <-m.clock.After(timeout):
		return Envelope{}, ErrTimeout
	}
}

// Readable fires after one or more envelopes have been queued. Wakeups
// coalesce: one signal may stand for many envelopes.
func (m *Mailbox) Readable() <-chan struct{} {
	return m.readable
}

// Len returns the number of queued envelopes.
func (m *Mailbox) Len() int {
	return len(m.slots)
}

// Close releases the mailbox. Blocked and future Send and Receive
// calls fail with ErrClosed; envelopes still queued are never
// delivered. Close is called by the receiver and is idempotent.
func (m *Mailbox) Close() {
	if m.isClosed.CompareAndSwap(false, true) {
		close(m.closed)
	}
}
