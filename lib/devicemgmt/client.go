// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicemgmt

import (
	"errors"
	"time"

	"github.com/bureau-foundation/cloudconnect/lib/eventloop"
	"github.com/bureau-foundation/cloudconnect/lib/resource"
	"github.com/bureau-foundation/cloudconnect/lib/status"
)

// Errors returned synchronously by Begin calls.
var (
	ErrNotAttached   = errors.New("devicemgmt: client is not attached to a loop")
	ErrBusy          = errors.New("devicemgmt: a request is already in flight")
	ErrNotRegistered = errors.New("devicemgmt: nothing is registered")
)

// Callbacks receives request outcomes on the loop goroutine.
type Callbacks interface {
	OnRegistered()
	OnRegistrationFailed(code status.Code)
	OnUnregistered()
	OnDeregistrationFailed(code status.Code)
}

// Scheduler is the part of an event loop a backend uses to defer work
// onto the loop goroutine. *eventloop.EventManager implements it.
type Scheduler interface {
	SendImmediate(payload eventloop.Payload, callback eventloop.Callback, description string) (eventloop.EventID, error)
	SendPeriodic(payload eventloop.Payload, callback eventloop.Callback, period time.Duration, description string) (eventloop.EventID, error)
	Cancel(id eventloop.EventID) bool
}

// Client starts registration requests. All methods are called on the
// loop goroutine, or before the loop runs.
type Client interface {
	// Attach binds the client to the loop that will receive its
	// callbacks. It is called once per reactor Init.
	Attach(scheduler Scheduler, callbacks Callbacks) error

	// BeginRegister starts registering tree. Exactly one of
	// OnRegistered or OnRegistrationFailed follows unless the client
	// is detached first.
	BeginRegister(tree *resource.Tree) error

	// BeginDeregister starts removing the registration identified by
	// token. Exactly one of OnUnregistered or OnDeregistrationFailed
	// follows unless the client is detached first.
	BeginDeregister(token string) error

	// Detach drops pending work and the callbacks. Called on reactor
	// Deinit.
	Detach()
}
