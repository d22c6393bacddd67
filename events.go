// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"errors"
	"log"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// ErrNotObserving is returned by Unobserve when the callable was never
// registered on the event.
var ErrNotObserving = errors.New("events: observer not registered")

// Observer is an event callback. args carry whatever the firing site
// attached: the raw line for IRC_RAW_MSG, the *Message for IRC_MSG_*.
type Observer func(irc *Context, args ...interface{})

// Event is one named broadcast point. Observers are kept in
// registration order; firing snapshots the list and runs each observer
// on its own supervised goroutine.
type Event struct {
	name string

	mu        sync.RWMutex
	observers []Observer
}

// Observe adds fn to the event. Adding the same function twice is a
// no-op, so components can be re-loaded without doubling callbacks.
// Identity is the code pointer: method values of one method on
// different receivers compare equal, so instances that must observe
// independently should register distinct closures.
func (e *Event) Observe(fn Observer) {
	if fn == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ptr := reflect.ValueOf(fn).Pointer()
	for _, existing := range e.observers {
		if reflect.ValueOf(existing).Pointer() == ptr {
			return
		}
	}
	e.observers = append(e.observers, fn)
}

// Unobserve removes fn by callable identity.
func (e *Event) Unobserve(fn Observer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ptr := reflect.ValueOf(fn).Pointer()
	for i, existing := range e.observers {
		if reflect.ValueOf(existing).Pointer() == ptr {
			e.observers = append(e.observers[:i], e.observers[i+1:]...)
			return nil
		}
	}
	return ErrNotObserving
}

// Fire invokes every observer registered at call time, each on its own
// goroutine, and returns without waiting for any of them. Observers
// added mid-fire catch the next one.
func (e *Event) Fire(irc *Context, args ...interface{}) {
	e.mu.RLock()
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	e.mu.RUnlock()

	for _, fn := range observers {
		fn := fn
		irc.spawn("event "+e.name, func() {
			fn(irc, args...)
		})
	}
}

// ObserverCount returns how many observers are registered.
func (e *Event) ObserverCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.observers)
}

// Events is the named event table. Names are case-insensitive; firing a
// name nothing observes is a silent no-op, so emitters never need to
// know who, if anyone, is listening.
type Events struct {
	mu    sync.RWMutex
	table map[string]*Event
	debug *log.Logger
}

func newEvents(debug *log.Logger) *Events {
	return &Events{table: make(map[string]*Event), debug: debug}
}

func eventKey(name string) string { return strings.ToUpper(name) }

// Get returns the event for name, or nil if it has never been observed.
func (ev *Events) Get(name string) *Event {
	ev.mu.RLock()
	defer ev.mu.RUnlock()
	return ev.table[eventKey(name)]
}

// GetOrMake returns the event for name, creating it on first use.
func (ev *Events) GetOrMake(name string) *Event {
	key := eventKey(name)

	ev.mu.Lock()
	defer ev.mu.Unlock()

	e := ev.table[key]
	if e == nil {
		e = &Event{name: key}
		ev.table[key] = e
	}
	return e
}

// Observe registers fn on name, creating the event if needed.
func (ev *Events) Observe(name string, fn Observer) {
	ev.GetOrMake(name).Observe(fn)
}

// Unobserve removes fn from name.
func (ev *Events) Unobserve(name string, fn Observer) error {
	e := ev.Get(name)
	if e == nil {
		return ErrNotObserving
	}
	return e.Unobserve(fn)
}

// Fire dispatches name to its observers. Unknown names fire into the
// void without creating an event.
func (ev *Events) Fire(irc *Context, name string, args ...interface{}) {
	e := ev.Get(name)
	if e == nil {
		return
	}
	e.Fire(irc, args...)
}

// IsEvent reports whether name has ever been observed.
func (ev *Events) IsEvent(name string) bool {
	return ev.Get(name) != nil
}

// List returns the known event names, sorted.
func (ev *Events) List() []string {
	ev.mu.RLock()
	defer ev.mu.RUnlock()

	names := make([]string, 0, len(ev.table))
	for name := range ev.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
