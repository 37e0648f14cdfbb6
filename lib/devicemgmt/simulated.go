// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicemgmt

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/cloudconnect/lib/eventloop"
	"github.com/bureau-foundation/cloudconnect/lib/resource"
	"github.com/bureau-foundation/cloudconnect/lib/status"
)

// SimulatedOptions configures a Simulated backend.
type SimulatedOptions struct {
	// Delay before a request completes. Delays below
	// eventloop.MinPeriod complete on the next idle pass of the loop.
	Delay time.Duration

	// RegistrationFailure, when not status.Success, fails every
	// registration with that code.
	RegistrationFailure status.Code

	// DeregistrationFailure, when not status.Success, fails every
	// deregistration with that code.
	DeregistrationFailure status.Code

	Logger *slog.Logger
}

// Simulated completes requests locally. It holds at most one request
// in flight, like a device-management client with a single endpoint.
type Simulated struct {
	options   SimulatedOptions
	logger    *slog.Logger
	scheduler Scheduler
	callbacks Callbacks

	pending    eventloop.EventID
	registered bool

	registrations   int
	deregistrations int
}

// NewSimulated returns a detached Simulated backend.
func NewSimulated(options SimulatedOptions) *Simulated {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulated{
		options: options,
		logger:  logger.With("component", "devicemgmt-simulated"),
	}
}

func (s *Simulated) Attach(scheduler Scheduler, callbacks Callbacks) error {
	if scheduler == nil || callbacks == nil {
		return fmt.Errorf("devicemgmt: Attach needs a scheduler and callbacks")
	}
	s.scheduler = scheduler
	s.callbacks = callbacks
	return nil
}

func (s *Simulated) Detach() {
	if s.scheduler != nil && s.pending != 0 {
		s.scheduler.Cancel(s.pending)
	}
	s.pending = 0
	s.scheduler = nil
	s.callbacks = nil
	s.registered = false
}

func (s *Simulated) BeginRegister(tree *resource.Tree) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.logger.Info("registering resources",
		"resources", tree.Len(),
		"fingerprint", tree.Fingerprint().Short(),
	)
	return s.schedule("simulated registration", func() {
		s.registrations++
		if code := s.options.RegistrationFailure; code != status.Success {
			s.callbacks.OnRegistrationFailed(code)
			return
		}
		s.registered = true
		s.callbacks.OnRegistered()
	})
}

func (s *Simulated) BeginDeregister(token string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !s.registered {
		return ErrNotRegistered
	}
	s.logger.Info("deregistering resources", "token", token)
	return s.schedule("simulated deregistration", func() {
		s.deregistrations++
		if code := s.options.DeregistrationFailure; code != status.Success {
			s.callbacks.OnDeregistrationFailed(code)
			return
		}
		s.registered = false
		s.callbacks.OnUnregistered()
	})
}

// Registered reports whether the last completed request left a
// registration in place.
func (s *Simulated) Registered() bool { return s.registered }

// Completed returns how many registrations and deregistrations have
// completed, successfully or not.
func (s *Simulated) Completed() (registrations, deregistrations int) {
	return s.registrations, s.deregistrations
}

func (s *Simulated) ready() error {
	if s.scheduler == nil {
		return ErrNotAttached
	}
	if s.pending != 0 {
		return ErrBusy
	}
	return nil
}

// schedule runs complete once, after the configured delay. Delays long
// enough for a periodic event use one that disables itself on its
// first firing.
func (s *Simulated) schedule(description string, complete func()) error {
	callback := func(_ *eventloop.Scope, event *eventloop.SelfEvent) error {
		if event.Periodic() {
			event.Disable()
		}
		if s.pending != event.ID() {
			return nil
		}
		s.pending = 0
		complete()
		return nil
	}

	var (
		id  eventloop.EventID
		err error
	)
	if s.options.Delay < eventloop.MinPeriod {
		id, err = s.scheduler.SendImmediate(eventloop.Payload{}, callback, description)
	} else {
		id, err = s.scheduler.SendPeriodic(eventloop.Payload{}, callback, s.options.Delay, description)
	}
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", description, err)
	}
	s.pending = id
	return nil
}
