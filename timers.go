// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"errors"
	"log"
	"reflect"
	"sync"
	"time"
)

var (
	// ErrTimerSchedule is returned by Set when the options name neither
	// or both of At and Every.
	ErrTimerSchedule = errors.New("timers: exactly one of At or Every required")
	// ErrTimerNotFound is returned by Reset and Clear when no timer
	// matches the name and function.
	ErrTimerNotFound = errors.New("timers: no matching timer")
)

// TimerFunc is a timer callback. name is the name the timer was
// registered under, so one function can serve several schedules.
type TimerFunc func(irc *Context, name string)

// TimerOptions describes a schedule: a one-shot absolute time, or a
// recurring interval with an optional firing budget.
type TimerOptions struct {
	At    time.Time
	Every time.Duration
	// Count caps recurring firings; zero means unlimited.
	Count int
}

type timer struct {
	name  string
	fn    TimerFunc
	at    time.Time
	every time.Duration
	count int
}

// fire runs the callback and re-arms or expires the timer. Recurring
// timers re-arm relative to now, not to the old deadline, so a stalled
// tick loop does not cause a burst of catch-up firings.
func (t *timer) fire(irc *Context, now time.Time) (expired bool) {
	name, fn := t.name, t.fn
	irc.spawn("timer "+name, func() {
		fn(irc, name)
	})

	if t.every <= 0 {
		return true
	}
	if t.count > 0 {
		t.count--
		if t.count == 0 {
			return true
		}
	}
	t.at = now.Add(t.every)
	return false
}

// Timers schedules callbacks at 1 Hz resolution. The client's tick loop
// drives it; nothing here owns a goroutine. Timers fire in registration
// order and callbacks run under the task group, off the tick loop.
type Timers struct {
	mu    sync.Mutex
	list  []*timer
	debug *log.Logger
}

func newTimers(debug *log.Logger) *Timers {
	return &Timers{debug: debug}
}

// Set registers fn under name. Exactly one of opts.At and opts.Every
// must be given; Every schedules the first firing one interval out.
// The same (name, fn) pair can be registered once per schedule.
func (ts *Timers) Set(name string, fn TimerFunc, opts TimerOptions) error {
	hasAt := !opts.At.IsZero()
	hasEvery := opts.Every > 0
	if hasAt == hasEvery {
		return ErrTimerSchedule
	}

	t := &timer{name: name, fn: fn, count: opts.Count}
	if hasEvery {
		t.every = opts.Every
		t.at = time.Now().Add(opts.Every)
	} else {
		t.at = opts.At
	}

	ts.mu.Lock()
	ts.list = append(ts.list, t)
	ts.mu.Unlock()
	return nil
}

// Reset re-arms the matching recurring timer a full interval out, or
// removes a matching one-shot. The PONG handler uses this to push the
// auto-ping timer back whenever the server pings us first.
func (ts *Timers) Reset(name string, fn TimerFunc) error {
	ptr := reflect.ValueOf(fn).Pointer()

	ts.mu.Lock()
	defer ts.mu.Unlock()

	for i, t := range ts.list {
		if t.name != name || reflect.ValueOf(t.fn).Pointer() != ptr {
			continue
		}
		if t.every > 0 {
			t.at = time.Now().Add(t.every)
		} else {
			ts.list = append(ts.list[:i], ts.list[i+1:]...)
		}
		return nil
	}
	return ErrTimerNotFound
}

// Clear removes every timer matching name and fn.
func (ts *Timers) Clear(name string, fn TimerFunc) error {
	ptr := reflect.ValueOf(fn).Pointer()
	found := false

	ts.mu.Lock()
	defer ts.mu.Unlock()

	kept := ts.list[:0]
	for _, t := range ts.list {
		if t.name == name && reflect.ValueOf(t.fn).Pointer() == ptr {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	ts.list = kept

	if !found {
		return ErrTimerNotFound
	}
	return nil
}

// Tick fires every timer due at now and prunes what expired. Called
// once a second from the client loop.
func (ts *Timers) Tick(irc *Context, now time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	kept := ts.list[:0]
	for _, t := range ts.list {
		if !t.at.After(now) {
			if t.fire(irc, now) {
				continue
			}
		}
		kept = append(kept, t)
	}
	// Zero the freed tail so expired timers do not pin their callbacks.
	for i := len(kept); i < len(ts.list); i++ {
		ts.list[i] = nil
	}
	ts.list = kept
}

// Len reports how many timers are armed.
func (ts *Timers) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.list)
}
