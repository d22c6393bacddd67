// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"
)

var (
	// ErrSignalTimeout is returned by Await when no emission arrives in
	// time.
	ErrSignalTimeout = errors.New("signals: timed out waiting for signal")
	// ErrReservedPayload is returned by Emit for a bare false payload,
	// which waiters could not tell apart from an internal failure.
	ErrReservedPayload = errors.New("signals: false payload is reserved")
)

// SignalFunc is a decorator observer, called on every emission of the
// signal it watches.
type SignalFunc func(irc *Context, name string, data interface{})

// Signal is one named rendezvous point. Observers persist across
// emissions; waiters are one-shot and consumed by the next Emit.
type Signal struct {
	name string

	mu        sync.Mutex
	observers []SignalFunc
	waiters   []chan interface{}
}

// Observe adds a decorator observer for every future emission.
func (s *Signal) Observe(fn SignalFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// enrol registers a fresh single-slot channel to catch the next
// emission. The slot guarantees Emit never blocks on a slow waiter.
func (s *Signal) enrol() chan interface{} {
	ch := make(chan interface{}, 1)
	s.mu.Lock()
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()
	return ch
}

// drop removes a waiter channel after a timeout so an abandoned slot
// does not swallow a later emission.
func (s *Signal) drop(ch chan interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// Signals routes one-shot rendezvous between emitters and waiters, plus
// persistent decorator observers. Names are case-insensitive. The
// component manager's dependency ordering is built on top of the same
// pattern; this is the general-purpose surface for plugins.
type Signals struct {
	mu    sync.RWMutex
	table map[string]*Signal
	debug *log.Logger
}

func newSignals(debug *log.Logger) *Signals {
	return &Signals{table: make(map[string]*Signal), debug: debug}
}

func signalKey(name string) string { return strings.ToUpper(name) }

// GetOrMake returns the signal for name, creating it on first use.
func (sg *Signals) GetOrMake(name string) *Signal {
	key := signalKey(name)

	sg.mu.Lock()
	defer sg.mu.Unlock()

	s := sg.table[key]
	if s == nil {
		s = &Signal{name: key}
		sg.table[key] = s
	}
	return s
}

// Observe adds a decorator observer on name.
func (sg *Signals) Observe(name string, fn SignalFunc) {
	sg.GetOrMake(name).Observe(fn)
}

// Emit wakes every waiter currently enrolled on name exactly once and
// runs each observer on its own goroutine. Every recipient gets its own
// deep copy of data, so none of them can see another's mutations.
func (sg *Signals) Emit(irc *Context, name string, data interface{}) error {
	if b, ok := data.(bool); ok && !b {
		return ErrReservedPayload
	}

	s := sg.GetOrMake(name)

	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	observers := make([]SignalFunc, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- deepCopy(data)
	}

	for _, fn := range observers {
		fn := fn
		payload := deepCopy(data)
		irc.spawn("signal "+s.name, func() {
			fn(irc, s.name, payload)
		})
	}
	return nil
}

// Await blocks until the next emission of name or the timeout elapses.
// Enrolment happens before Await returns control, so an Emit racing the
// timeout is either delivered or left for the next waiter, never lost.
func (sg *Signals) Await(irc *Context, name string, timeout time.Duration) (interface{}, error) {
	s := sg.GetOrMake(name)
	ch := s.enrol()

	select {
	case data := <-ch:
		return data, nil
	case <-time.After(timeout):
	}

	s.drop(ch)
	// An emission may have landed in the slot before drop removed it.
	select {
	case data := <-ch:
		return data, nil
	default:
		return nil, ErrSignalTimeout
	}
}

// deepCopy clones the payload shapes that cross the signal boundary in
// practice. Other types pass through by value; sharing a pointer
// payload is the emitter's own choice.
func deepCopy(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = deepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = deepCopy(val)
		}
		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	default:
		return data
	}
}
