// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

import (
	"fmt"
	"sync/atomic"
)

// SourceID identifies a registered source.
type SourceID uint64

// Handler runs on the loop goroutine when its source signals. It
// should drain everything the source has ready: signals coalesce, so
// one call may stand for many queued items. A returned error is
// logged; it does not stop the loop.
type Handler func(scope *Scope) error

type source struct {
	id       SourceID
	name     string
	readable <-chan struct{}
	handler  Handler
	stop     chan struct{}
	removed  atomic.Bool
}

// AddSource registers readable as an I/O source. Each value received
// from readable schedules one handler call on the loop goroutine. A
// watcher goroutine forwards readiness to the loop; it never runs the
// handler itself.
func (l *Loop) AddSource(name string, readable <-chan struct{}, handler Handler) (SourceID, error) {
	l.checkAffinity("add source " + name)
	if l.state.Load() == stateClosed {
		return 0, ErrClosed
	}
	if readable == nil || handler == nil {
		return 0, fmt.Errorf("eventloop: source %q needs a readiness channel and a handler", name)
	}

	l.nextSource++
	registered := &source{
		id:       l.nextSource,
		name:     name,
		readable: readable,
		handler:  handler,
		stop:     make(chan struct{}),
	}
	l.sources[registered.id] = registered
	go l.watch(registered)

	l.logger.Debug("source added", "source", name, "id", registered.id)
	return registered.id, nil
}

// RemoveSource unregisters a source. A wakeup already queued for it is
// discarded.
func (l *Loop) RemoveSource(id SourceID) error {
	l.checkAffinity("remove source")
	if _, exists := l.sources[id]; !exists {
		return fmt.Errorf("source %d: %w", id, ErrUnknownSource)
	}
	l.removeSource(id)
	return nil
}

// SourceCount returns the number of registered sources.
func (l *Loop) SourceCount() int {
	return len(l.sources)
}

func (l *Loop) removeSource(id SourceID) {
	registered := l.sources[id]
	delete(l.sources, id)
	registered.removed.Store(true)
	close(registered.stop)
	l.logger.Debug("source removed", "source", registered.name, "id", id)
}

// watch forwards readiness from one source to the loop until the
// source is removed or the loop is closed. A closed readiness channel
// produces one last wakeup so the handler can observe the closure.
func (l *Loop) watch(registered *source) {
	for open := true; open; {
		select {
		case _, open = <-registered.readable:
		case <-registered.stop:
			return
		case <-l.closed:
			return
		}
		select {
		case l.wakeups <- wakeup{source: registered}:
		case <-registered.stop:
			return
		case <-l.closed:
			return
		}
	}
}
