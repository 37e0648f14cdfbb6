// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

import (
	"fmt"
	"time"
)

// EventManager owns the live self-events of one loop. It is the only
// code that creates, fires, or releases a SelfEvent, so a released
// event can never be fired through a stale handle: callers only hold
// EventIDs.
//
// All methods must be called on the loop goroutine, or from the single
// goroutine setting the loop up before Run.
type EventManager struct {
	loop   *Loop
	events map[EventID]*SelfEvent
}

// timerFiring is a periodic event's deadline reached, as posted by its
// clock timer. interval is the k in Sent + k*Period that the timer was
// armed for.
type timerFiring struct {
	event    *SelfEvent
	interval uint64
}

func newEventManager(loop *Loop) *EventManager {
	return &EventManager{
		loop:   loop,
		events: make(map[EventID]*SelfEvent),
	}
}

// SendImmediate schedules callback to run once, the next time the loop
// is idle. Immediate events run in the order they were sent.
func (m *EventManager) SendImmediate(payload Payload, callback Callback, description string) (EventID, error) {
	m.loop.checkAffinity("send immediate event " + description)
	if err := m.usable(callback); err != nil {
		return 0, err
	}

	event := m.create(payload, callback, description)
	m.loop.ready.Add(event)
	return event.id, nil
}

// SendPeriodic schedules callback to run every period, measured from
// now on the loop's clock. The event re-arms itself until its callback
// calls Disable or the manager is closed.
func (m *EventManager) SendPeriodic(payload Payload, callback Callback, period time.Duration, description string) (EventID, error) {
	m.loop.checkAffinity("send periodic event " + description)
	if period < MinPeriod || period > MaxPeriod {
		return 0, fmt.Errorf("%s: %v not in [%v, %v]: %w",
			description, period, MinPeriod, MaxPeriod, ErrInvalidPeriod)
	}
	if err := m.usable(callback); err != nil {
		return 0, err
	}

	event := m.create(payload, callback, description)
	event.period = period
	m.arm(event, 1)
	return event.id, nil
}

// Cancel releases an event that has not fired yet (immediate) or stops
// a periodic one. Reports whether the id was live.
func (m *EventManager) Cancel(id EventID) bool {
	m.loop.checkAffinity("cancel self-event")
	event, exists := m.events[id]
	if !exists {
		return false
	}
	event.disabled = true
	m.release(event)
	return true
}

// Lookup returns a live event by id.
func (m *EventManager) Lookup(id EventID) (*SelfEvent, bool) {
	event, exists := m.events[id]
	return event, exists
}

// Len returns the number of live events.
func (m *EventManager) Len() int {
	return len(m.events)
}

// Close disables and releases every live event.
func (m *EventManager) Close() {
	for _, event := range m.events {
		event.disabled = true
		m.release(event)
	}
}

func (m *EventManager) usable(callback Callback) error {
	if callback == nil {
		return fmt.Errorf("eventloop: nil self-event callback")
	}
	if m.loop.state.Load() == stateClosed {
		return ErrClosed
	}
	return nil
}

func (m *EventManager) create(payload Payload, callback Callback, description string) *SelfEvent {
	now := m.loop.clock.Now()
	event := &SelfEvent{
		id:          EventID(lastEventID.Add(1)),
		description: description,
		payload:     payload,
		callback:    callback,
		loop:        m.loop,
		created:     now,
		sent:        now,
	}
	m.events[event.id] = event
	return event
}

func (m *EventManager) release(event *SelfEvent) {
	if event.timer != nil {
		event.timer.Stop()
		event.timer = nil
	}
	delete(m.events, event.id)
}

// arm starts the clock timer for deadline Sent + interval*Period.
func (m *EventManager) arm(event *SelfEvent, interval uint64) {
	event.interval = interval
	deadline := event.sent.Add(time.Duration(interval) * event.period)
	delay := deadline.Sub(m.loop.clock.Now())
	firing := &timerFiring{event: event, interval: interval}
	event.timer = m.loop.clock.AfterFunc(delay, func() {
		m.loop.wake(wakeup{timer: firing})
	})
}

// fireImmediate runs a one-shot event and releases it.
func (m *EventManager) fireImmediate(scope *Scope, event *SelfEvent) {
	if _, live := m.events[event.id]; !live {
		// Cancelled while queued.
		return
	}
	m.run(scope, event)
	m.release(event)
}

// firePeriodic runs a periodic event whose timer fired and re-arms it
// for the next deadline that is still in the future.
func (m *EventManager) firePeriodic(scope *Scope, firing *timerFiring) {
	event := firing.event
	if current, live := m.events[event.id]; !live || current != event || event.interval != firing.interval {
		return
	}
	event.timer = nil

	m.run(scope, event)
	if event.disabled {
		m.release(event)
		return
	}
	if _, live := m.events[event.id]; !live {
		return
	}

	next := firing.interval + 1
	now := m.loop.clock.Now()
	if elapsed := now.Sub(event.sent); elapsed >= time.Duration(next)*event.period {
		// The loop fell at least a whole period behind; skip the
		// missed deadlines rather than firing a burst.
		skipped := uint64(elapsed/event.period) + 1
		m.loop.logger.Debug("periodic event overran",
			"event", event.id,
			"description", event.description,
			"skipped", skipped-next,
		)
		next = skipped
	}
	m.arm(event, next)
}

func (m *EventManager) run(scope *Scope, event *SelfEvent) {
	event.lastFired = m.loop.clock.Now()
	event.fireCount++
	m.loop.guard(event.String(), func() error {
		return event.callback(scope, event)
	})
}
