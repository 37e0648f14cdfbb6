// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/cloudconnect/lib/clock"
	"github.com/bureau-foundation/cloudconnect/lib/testutil"
)

func TestRawPayload(t *testing.T) {
	payload, err := RawPayload([]byte("hello"))
	if err != nil {
		t.Fatalf("RawPayload: %v", err)
	}
	if payload.Kind() != PayloadRaw {
		t.Errorf("Kind = %v, want raw", payload.Kind())
	}
	if got := payload.Bytes(); !bytes.Equal(got, []byte("hello")) {
		t.Errorf("Bytes = %q", got)
	}

	full := bytes.Repeat([]byte{0xAB}, PayloadCapacity)
	if _, err := RawPayload(full); err != nil {
		t.Errorf("payload of exactly PayloadCapacity bytes: %v", err)
	}
	if _, err := RawPayload(append(full, 0)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized payload = %v, want ErrPayloadTooLarge", err)
	}

	var zero Payload
	if zero.Kind() != PayloadNone || len(zero.Bytes()) != 0 {
		t.Errorf("zero payload = %v %q", zero.Kind(), zero.Bytes())
	}
}

func TestImmediateEventsFireOnceInOrder(t *testing.T) {
	loop := newTestLoop(t, clock.Real())
	manager := loop.Events()

	fired := make(chan string, 8)
	var ids []EventID
	for _, name := range []string{"first", "second", "third"} {
		payload, err := RawPayload([]byte(name))
		if err != nil {
			t.Fatalf("RawPayload: %v", err)
		}
		id, err := manager.SendImmediate(payload, func(scope *Scope, event *SelfEvent) error {
			fired <- string(event.Payload().Bytes())
			if event.Periodic() {
				return fmt.Errorf("immediate event reports periodic")
			}
			return nil
		}, name)
		if err != nil {
			t.Fatalf("SendImmediate(%s): %v", name, err)
		}
		ids = append(ids, id)
	}

	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("event ids not increasing: %v", ids)
		}
	}
	if manager.Len() != 3 {
		t.Fatalf("Len before run = %d, want 3", manager.Len())
	}

	exit := exitSource(t, loop)
	done := runLoop(t, loop)

	for _, want := range []string{"first", "second", "third"} {
		if got := testutil.RequireReceive(t, fired, 5*time.Second, "immediate event %s", want); got != want {
			t.Fatalf("fired %q, want %q", got, want)
		}
	}

	exit <- 0
	testutil.RequireReceive(t, done, 5*time.Second, "loop exit")

	if manager.Len() != 0 {
		t.Fatalf("Len after firing = %d, want 0 (one-shot events are released)", manager.Len())
	}
	select {
	case extra := <-fired:
		t.Fatalf("event %q fired twice", extra)
	default:
	}
}

func TestImmediateEventScheduledFromCallback(t *testing.T) {
	loop := newTestLoop(t, clock.Real())
	chain := make(chan int, 4)

	var step Callback
	step = func(scope *Scope, event *SelfEvent) error {
		depth := int(event.Payload().Bytes()[0])
		chain <- depth
		if depth == 3 {
			scope.Exit(depth)
			return nil
		}
		payload, _ := RawPayload([]byte{byte(depth + 1)})
		_, err := scope.Events().SendImmediate(payload, step, "chain")
		return err
	}
	payload, _ := RawPayload([]byte{1})
	if _, err := loop.Events().SendImmediate(payload, step, "chain"); err != nil {
		t.Fatalf("SendImmediate: %v", err)
	}

	done := runLoop(t, loop)
	if code := testutil.RequireReceive(t, done, 5*time.Second, "loop exit"); code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
	for want := 1; want <= 3; want++ {
		if got := <-chain; got != want {
			t.Fatalf("chain step = %d, want %d", got, want)
		}
	}
}

func TestPeriodicEventFiresUntilDisabled(t *testing.T) {
	fake := clock.Fake(epoch)
	loop := newTestLoop(t, fake)

	type firing struct {
		at    time.Time
		count uint64
	}
	fired := make(chan firing, 8)
	period := 250 * time.Millisecond
	id, err := loop.Events().SendPeriodic(Payload{}, func(scope *Scope, event *SelfEvent) error {
		fired <- firing{at: scope.Now(), count: event.FireCount()}
		if event.FireCount() == 3 {
			event.Disable()
		}
		return nil
	}, period, "heartbeat")
	if err != nil {
		t.Fatalf("SendPeriodic: %v", err)
	}
	event, ok := loop.Events().Lookup(id)
	if !ok || event.Period() != period || !event.Periodic() {
		t.Fatalf("Lookup(%d) = %v, %v", id, event, ok)
	}

	exit := exitSource(t, loop)
	done := runLoop(t, loop)

	for k := 1; k <= 3; k++ {
		fake.WaitForTimers(1)
		fake.Advance(period)
		got := testutil.RequireReceive(t, fired, 5*time.Second, "periodic firing %d", k)
		if got.count != uint64(k) {
			t.Fatalf("firing %d reports FireCount %d", k, got.count)
		}
		if want := epoch.Add(time.Duration(k) * period); got.at.Before(want) {
			t.Fatalf("firing %d at %v, before its deadline %v", k, got.at, want)
		}
	}

	exit <- 0
	testutil.RequireReceive(t, done, 5*time.Second, "loop exit")

	if loop.Events().Len() != 0 {
		t.Fatalf("disabled periodic event still live")
	}
	if fake.PendingCount() != 0 {
		t.Fatalf("disabled periodic event left %d timers", fake.PendingCount())
	}
}

func TestPeriodicEventSkipsMissedDeadlines(t *testing.T) {
	fake := clock.Fake(epoch)
	loop := newTestLoop(t, fake)

	fired := make(chan uint64, 8)
	period := 100 * time.Millisecond
	id, err := loop.Events().SendPeriodic(Payload{}, func(scope *Scope, event *SelfEvent) error {
		fired <- event.FireCount()
		return errors.New("callback errors are logged, not fatal")
	}, period, "overrun")
	if err != nil {
		t.Fatalf("SendPeriodic: %v", err)
	}

	// Jump three and a half periods while the loop is not running: one
	// firing, then the next deadline is re-armed at 4*period rather
	// than replaying 2 and 3.
	fake.Advance(350 * time.Millisecond)

	exit := exitSource(t, loop)
	done := runLoop(t, loop)

	testutil.RequireReceive(t, fired, 5*time.Second, "first firing")
	fake.WaitForTimers(1)
	fake.Advance(50 * time.Millisecond)
	if count := testutil.RequireReceive(t, fired, 5*time.Second, "second firing"); count != 2 {
		t.Fatalf("FireCount = %d, want 2", count)
	}

	exit <- 0
	testutil.RequireReceive(t, done, 5*time.Second, "loop exit")

	if !loop.Events().Cancel(id) {
		t.Fatal("Cancel of a live periodic event returned false")
	}
	if loop.Events().Cancel(id) {
		t.Fatal("second Cancel returned true")
	}
}

func TestSendPeriodicRejectsOutOfRangePeriod(t *testing.T) {
	loop := newTestLoop(t, clock.Fake(epoch))
	noop := func(*Scope, *SelfEvent) error { return nil }

	for _, period := range []time.Duration{0, MinPeriod - time.Millisecond, MaxPeriod + time.Second} {
		if _, err := loop.Events().SendPeriodic(Payload{}, noop, period, "bad"); !errors.Is(err, ErrInvalidPeriod) {
			t.Errorf("period %v: err = %v, want ErrInvalidPeriod", period, err)
		}
	}
	for _, period := range []time.Duration{MinPeriod, MaxPeriod} {
		if _, err := loop.Events().SendPeriodic(Payload{}, noop, period, "edge"); err != nil {
			t.Errorf("period %v: %v", period, err)
		}
	}
	if _, err := loop.Events().SendImmediate(Payload{}, nil, "nil callback"); err == nil {
		t.Error("SendImmediate accepted a nil callback")
	}
}

func TestSendFromForeignThreadPanics(t *testing.T) {
	loop := newTestLoop(t, clock.Real())
	exit := exitSource(t, loop)
	done := runLoop(t, loop)

	func() {
		defer func() {
			recovered := recover()
			err, ok := recovered.(error)
			if !ok || !errors.Is(err, ErrForeignThread) {
				t.Fatalf("SendImmediate from test goroutine panicked with %v", recovered)
			}
			if !strings.Contains(err.Error(), "intruder") {
				t.Errorf("panic does not name the event: %v", err)
			}
		}()
		loop.Events().SendImmediate(Payload{}, func(*Scope, *SelfEvent) error { return nil }, "intruder")
	}()

	exit <- 0
	testutil.RequireReceive(t, done, 5*time.Second, "loop exit")
}

func TestCloseReleasesEvents(t *testing.T) {
	fake := clock.Fake(epoch)
	loop := New(Options{Clock: fake, Logger: testutil.Logger()})
	noop := func(*Scope, *SelfEvent) error { return nil }
	if _, err := loop.Events().SendPeriodic(Payload{}, noop, time.Second, "periodic"); err != nil {
		t.Fatalf("SendPeriodic: %v", err)
	}
	if _, err := loop.Events().SendImmediate(Payload{}, noop, "immediate"); err != nil {
		t.Fatalf("SendImmediate: %v", err)
	}
	if err := loop.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if loop.Events().Len() != 0 {
		t.Fatalf("Len after Close = %d", loop.Events().Len())
	}
	if fake.PendingCount() != 0 {
		t.Fatalf("timers left after Close: %d", fake.PendingCount())
	}
}
