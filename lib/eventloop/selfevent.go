// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/cloudconnect/lib/clock"
)

// PayloadCapacity is the number of bytes a self-event can carry.
const PayloadCapacity = 64

// Bounds for periodic self-events.
const (
	MinPeriod = 100 * time.Millisecond
	MaxPeriod = 10 * 24 * time.Hour
)

// EventID identifies a self-event. IDs are unique across every loop in
// the process and increase monotonically; the first is 1.
type EventID uint64

var lastEventID atomic.Uint64

// PayloadKind discriminates what a Payload holds.
type PayloadKind uint8

const (
	// PayloadNone is the zero Payload.
	PayloadNone PayloadKind = iota

	// PayloadRaw carries up to PayloadCapacity opaque bytes.
	PayloadRaw
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadNone:
		return "none"
	case PayloadRaw:
		return "raw"
	default:
		return fmt.Sprintf("PayloadKind(%d)", k)
	}
}

// Payload is the fixed-size data a self-event carries. It is copied by
// value into the event, so the caller's buffer may be reused.
type Payload struct {
	kind   PayloadKind
	length uint8
	data   [PayloadCapacity]byte
}

// RawPayload copies data into a raw payload.
func RawPayload(data []byte) (Payload, error) {
	if len(data) > PayloadCapacity {
		return Payload{}, fmt.Errorf("%d bytes: %w", len(data), ErrPayloadTooLarge)
	}
	payload := Payload{kind: PayloadRaw, length: uint8(len(data))}
	copy(payload.data[:], data)
	return payload, nil
}

// Kind returns the payload's discriminant.
func (p Payload) Kind() PayloadKind { return p.kind }

// Bytes returns a copy of the payload data.
func (p Payload) Bytes() []byte {
	out := make([]byte, p.length)
	copy(out, p.data[:p.length])
	return out
}

// Callback is run on the loop goroutine when a self-event fires. A
// returned error is logged and otherwise ignored: periodic events keep
// firing until they are disabled.
type Callback func(scope *Scope, event *SelfEvent) error

// SelfEvent is a unit of deferred work a loop schedules onto itself.
// Events are created and released by the EventManager; callers hold
// only the EventID.
type SelfEvent struct {
	id          EventID
	description string
	payload     Payload
	callback    Callback
	loop        *Loop

	created   time.Time
	sent      time.Time
	lastFired time.Time
	fireCount uint64

	// Periodic events only.
	period   time.Duration
	interval uint64
	timer    *clock.Timer

	disabled bool
}

// ID returns the event's id.
func (e *SelfEvent) ID() EventID { return e.id }

// Description returns the label given when the event was sent.
func (e *SelfEvent) Description() string { return e.description }

// Payload returns the event's payload.
func (e *SelfEvent) Payload() Payload { return e.payload }

// Created returns when the event was created.
func (e *SelfEvent) Created() time.Time { return e.created }

// Sent returns when the event was handed to the loop. Periodic
// deadlines are Sent + k*Period.
func (e *SelfEvent) Sent() time.Time { return e.sent }

// LastFired returns when the callback last started, or the zero time.
func (e *SelfEvent) LastFired() time.Time { return e.lastFired }

// FireCount returns how many times the callback has run.
func (e *SelfEvent) FireCount() uint64 { return e.fireCount }

// Periodic reports whether the event re-arms itself.
func (e *SelfEvent) Periodic() bool { return e.period > 0 }

// Period returns the period of a periodic event, or zero.
func (e *SelfEvent) Period() time.Duration { return e.period }

// Disable stops a periodic event from firing again. The EventManager
// releases it once the running callback returns. Must be called on the
// loop goroutine.
func (e *SelfEvent) Disable() {
	e.loop.checkAffinity("disable self-event")
	e.disabled = true
}

// Disabled reports whether Disable has been called.
func (e *SelfEvent) Disabled() bool { return e.disabled }

func (e *SelfEvent) String() string {
	return fmt.Sprintf("self-event %d (%s)", e.id, e.description)
}
