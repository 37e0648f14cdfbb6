// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

import "errors"

var (
	// ErrForeignThread is the panic value (and error) for loop
	// operations attempted from a thread that does not own the loop.
	ErrForeignThread = errors.New("eventloop: called from a thread that does not own the loop")

	// ErrRunning is returned by operations that need the loop stopped.
	ErrRunning = errors.New("eventloop: loop is running")

	// ErrNotRunning is returned by Loop.Scope when no Run is in progress.
	ErrNotRunning = errors.New("eventloop: loop is not running")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("eventloop: loop is closed")

	// ErrInvalidPeriod rejects periodic events outside
	// [MinPeriod, MaxPeriod].
	ErrInvalidPeriod = errors.New("eventloop: period out of range")

	// ErrPayloadTooLarge rejects payloads over PayloadCapacity bytes.
	ErrPayloadTooLarge = errors.New("eventloop: payload exceeds capacity")

	// ErrUnknownSource is returned by RemoveSource for ids that are not
	// registered.
	ErrUnknownSource = errors.New("eventloop: unknown source")
)
