// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestEventsObserveIdempotent(t *testing.T) {
	irc, _ := newTestContext(nil)

	var calls int32
	fn := func(irc *Context, args ...interface{}) {
		atomic.AddInt32(&calls, 1)
	}

	irc.Events.Observe("test_event", fn)
	irc.Events.Observe("TEST_EVENT", fn)

	if n := irc.Events.Get("test_event").ObserverCount(); n != 1 {
		t.Fatalf("ObserverCount = %d, want 1 after duplicate observe", n)
	}

	irc.Events.Fire(irc, "Test_Event")
	if !waitFor(2*time.Second, func() bool { return atomic.LoadInt32(&calls) == 1 }) {
		t.Errorf("calls = %d, want 1", atomic.LoadInt32(&calls))
	}
}

func TestEventsUndefinedFireIsNoop(t *testing.T) {
	irc, _ := newTestContext(nil)

	// Must neither panic nor create the event.
	irc.Events.Fire(irc, "never_observed", 1, 2, 3)

	if irc.Events.IsEvent("never_observed") {
		t.Error("firing an undefined event created it")
	}
}

func TestEventsUnobserve(t *testing.T) {
	irc, _ := newTestContext(nil)

	fn := func(irc *Context, args ...interface{}) {}
	other := func(irc *Context, args ...interface{}) {}

	irc.Events.Observe("ev", fn)

	if err := irc.Events.Unobserve("ev", other); err != ErrNotObserving {
		t.Errorf("Unobserve(unknown fn) = %v, want ErrNotObserving", err)
	}
	if err := irc.Events.Unobserve("missing", fn); err != ErrNotObserving {
		t.Errorf("Unobserve(unknown event) = %v, want ErrNotObserving", err)
	}
	if err := irc.Events.Unobserve("EV", fn); err != nil {
		t.Errorf("Unobserve = %v", err)
	}
	if n := irc.Events.Get("ev").ObserverCount(); n != 0 {
		t.Errorf("ObserverCount = %d after unobserve", n)
	}
}

// Fire must return before observers complete.
func TestEventsFireDoesNotBlock(t *testing.T) {
	irc, _ := newTestContext(nil)

	release := make(chan struct{})
	ran := make(chan struct{})
	irc.Events.Observe("slow", func(irc *Context, args ...interface{}) {
		<-release
		close(ran)
	})

	fired := make(chan struct{})
	go func() {
		irc.Events.Fire(irc, "slow")
		close(fired)
	}()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("Fire blocked on a slow observer")
	}

	close(release)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("observer never ran")
	}
}

// A panicking observer must not take down the rest.
func TestEventsPanicContainment(t *testing.T) {
	irc, _ := newTestContext(nil)

	ran := make(chan struct{})
	irc.Events.Observe("boom", func(irc *Context, args ...interface{}) {
		panic("observer bug")
	})
	irc.Events.Observe("boom", func(irc *Context, args ...interface{}) {
		close(ran)
	})

	irc.Events.Fire(irc, "boom")

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("sibling observer never ran after a panic")
	}
}

func TestEventsFireArgs(t *testing.T) {
	irc, _ := newTestContext(nil)

	got := make(chan []interface{}, 1)
	irc.Events.Observe("args", func(irc *Context, args ...interface{}) {
		got <- args
	})
	irc.Events.Fire(irc, "args", "one", 2)

	select {
	case args := <-got:
		if len(args) != 2 || args[0] != "one" || args[1] != 2 {
			t.Errorf("args = %v", args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer never ran")
	}
}

type countingObserver struct{ n int32 }

func (c *countingObserver) observe(irc *Context, args ...interface{}) {
	atomic.AddInt32(&c.n, 1)
}

// Method values carry the method's code pointer, so the same method on
// two receivers registers once. Instances that must observe
// independently wrap themselves in closures.
func TestEventObserverMethodValueIdentity(t *testing.T) {
	irc, _ := newTestContext(nil)

	a := &countingObserver{}
	b := &countingObserver{}
	e := irc.Events.GetOrMake("SHARED")
	e.Observe(a.observe)
	e.Observe(b.observe)

	if got := e.ObserverCount(); got != 1 {
		t.Fatalf("ObserverCount() = %d, want method values collapsed", got)
	}

	e.Observe(func(irc *Context, args ...interface{}) { a.observe(irc, args...) })
	e.Observe(func(irc *Context, args ...interface{}) { b.observe(irc, args...) })
	if got := e.ObserverCount(); got != 3 {
		t.Errorf("ObserverCount() = %d, want distinct closures kept", got)
	}
}

func TestEventsList(t *testing.T) {
	irc, _ := newTestContext(nil)
	fn := func(irc *Context, args ...interface{}) {}

	irc.Events.Observe("b_event", fn)
	irc.Events.Observe("a_event", fn)

	list := irc.Events.List()
	if len(list) != 2 || list[0] != "A_EVENT" || list[1] != "B_EVENT" {
		t.Errorf("List() = %v", list)
	}
}
