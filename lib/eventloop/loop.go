// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

import (
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/bureau-foundation/cloudconnect/lib/clock"
)

// wakeupBuffer is the capacity of the channel that source watchers
// and timers use to wake the loop. Senders block when it is full, so
// it only needs to absorb bursts.
const wakeupBuffer = 128

const (
	stateIdle int32 = iota
	stateRunning
	stateClosed
)

// Options configures a Loop.
type Options struct {
	// Name labels the loop in logs.
	Name string

	// Clock drives periodic self-events. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives handler and callback failures. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Loop is a single-threaded event loop. Create one with New, register
// sources, then call Run on the goroutine that should own it.
type Loop struct {
	name   string
	clock  clock.Clock
	logger *slog.Logger

	state atomic.Int32

	// ownerThread is the thread id recorded by Run, or 0 when the
	// loop is not running.
	ownerThread atomic.Int64

	// wakeups carries readiness from source watchers and periodic
	// timers. It is the only channel the loop blocks on.
	wakeups chan wakeup
	closed  chan struct{}

	// The fields below are only touched by the owning goroutine (or by
	// any goroutine while the loop is idle).
	ready      *queue.Queue
	sources    map[SourceID]*source
	nextSource SourceID
	events     *EventManager

	exitRequested bool
	exitCode      int
}

// wakeup is one unit of readiness delivered to the loop goroutine.
// Exactly one field is set.
type wakeup struct {
	source *source
	timer  *timerFiring
}

// New creates a loop. The loop does nothing until Run is called.
func New(options Options) *Loop {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Name == "" {
		options.Name = "eventloop"
	}

	loop := &Loop{
		name:    options.Name,
		clock:   options.Clock,
		logger:  options.Logger.With("loop", options.Name),
		wakeups: make(chan wakeup, wakeupBuffer),
		closed:  make(chan struct{}),
		ready:   queue.New(),
		sources: make(map[SourceID]*source),
	}
	loop.events = newEventManager(loop)
	return loop
}

// Name returns the loop's name.
func (l *Loop) Name() string { return l.name }

// Clock returns the loop's clock.
func (l *Loop) Clock() clock.Clock { return l.clock }

// Events returns the loop's event manager.
func (l *Loop) Events() *EventManager { return l.events }

// Running reports whether Run is in progress.
func (l *Loop) Running() bool { return l.state.Load() == stateRunning }

// OnLoopThread reports whether the caller is the goroutine running the
// loop.
func (l *Loop) OnLoopThread() bool {
	owner := l.ownerThread.Load()
	return owner != 0 && owner == currentThreadID()
}

// Scope returns the loop goroutine's capability handle. It fails with
// ErrNotRunning when the loop is not running and ErrForeignThread when
// called from any other goroutine.
func (l *Loop) Scope() (*Scope, error) {
	if !l.Running() {
		return nil, ErrNotRunning
	}
	if !l.OnLoopThread() {
		return nil, ErrForeignThread
	}
	return &Scope{loop: l}, nil
}

// Run processes sources and self-events on the calling goroutine until
// Scope.Exit is called, and returns the exit code. The goroutine is
// locked to its OS thread for the duration. Run may be called again
// after it returns.
func (l *Loop) Run() (int, error) {
	if !l.state.CompareAndSwap(stateIdle, stateRunning) {
		if l.state.Load() == stateClosed {
			return 0, ErrClosed
		}
		return 0, ErrRunning
	}
	defer l.state.Store(stateIdle)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	l.ownerThread.Store(currentThreadID())
	defer l.ownerThread.Store(0)

	l.exitRequested = false
	l.exitCode = 0
	scope := &Scope{loop: l}

	l.logger.Debug("event loop running")
	for !l.exitRequested {
		if pending := l.ready.Length(); pending > 0 {
			// Only run what was queued before this pass so that
			// events scheduling events cannot starve the sources.
			for i := 0; i < pending && !l.exitRequested; i++ {
				event := l.ready.Remove().(*SelfEvent)
				l.events.fireImmediate(scope, event)
			}
			select {
			case wake := <-l.wakeups:
				l.dispatch(scope, wake)
			default:
			}
			continue
		}

		l.dispatch(scope, <-l.wakeups)
	}
	l.logger.Debug("event loop exiting", "code", l.exitCode)
	return l.exitCode, nil
}

// dispatch runs the handler for one wakeup on the loop goroutine.
func (l *Loop) dispatch(scope *Scope, wake wakeup) {
	switch {
	case wake.source != nil:
		source := wake.source
		if source.removed.Load() {
			return
		}
		l.guard("source "+source.name, func() error {
			return source.handler(scope)
		})
	case wake.timer != nil:
		l.events.firePeriodic(scope, wake.timer)
	}
}

// guard runs fn, logging a returned error or a recovered panic. A
// failing handler never stops the loop.
func (l *Loop) guard(what string, fn func() error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			l.logger.Error("panic in loop handler",
				"handler", what,
				"panic", fmt.Sprint(recovered),
				"stack", string(debug.Stack()),
			)
		}
	}()
	if err := fn(); err != nil {
		l.logger.Warn("loop handler failed", "handler", what, "error", err)
	}
}

// wake hands w to the loop goroutine. Returns false if the loop was
// closed first.
func (l *Loop) wake(w wakeup) bool {
	select {
	case l.wakeups <- w:
		return true
	case <-l.closed:
		return false
	}
}

// checkAffinity panics with ErrForeignThread when the loop is running
// and the caller is not its goroutine. While the loop is idle any
// single goroutine may set it up.
func (l *Loop) checkAffinity(operation string) {
	if l.state.Load() == stateRunning && !l.OnLoopThread() {
		panic(fmt.Errorf("%s: %w", operation, ErrForeignThread))
	}
}

// Close releases every self-event and source. The loop cannot be run
// again. Close fails with ErrRunning while Run is in progress.
func (l *Loop) Close() error {
	if !l.state.CompareAndSwap(stateIdle, stateClosed) {
		if l.state.Load() == stateClosed {
			return nil
		}
		return ErrRunning
	}
	l.events.Close()
	for id := range l.sources {
		l.removeSource(id)
	}
	for l.ready.Length() > 0 {
		l.ready.Remove()
	}
	close(l.closed)
	return nil
}

// Scope is the capability handle of the loop goroutine.
type Scope struct {
	loop *Loop
}

// Loop returns the loop this scope belongs to.
func (s *Scope) Loop() *Loop { return s.loop }

// Events returns the loop's event manager.
func (s *Scope) Events() *EventManager { return s.loop.events }

// Now returns the loop clock's current time.
func (s *Scope) Now() time.Time { return s.loop.clock.Now() }

// Logger returns the loop's logger.
func (s *Scope) Logger() *slog.Logger { return s.loop.logger }

// Exit asks Run to return code once the current handler finishes. It
// panics with ErrForeignThread if the scope has escaped to another
// goroutine.
func (s *Scope) Exit(code int) {
	if !s.loop.OnLoopThread() {
		panic(fmt.Errorf("exit: %w", ErrForeignThread))
	}
	s.loop.exitRequested = true
	s.loop.exitCode = code
}
