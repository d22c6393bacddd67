// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"io"
	"log"
	"sync"
	"time"
)

// capture collects outbound lines in place of a socket.
type capture struct {
	mu    sync.Mutex
	lines []string
}

func (c *capture) add(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

func (c *capture) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *capture) reset() {
	c.mu.Lock()
	c.lines = nil
	c.mu.Unlock()
}

// newTestContext builds a full runtime context with the writer replaced
// by a capture.
func newTestContext(conf map[string]interface{}) (*Context, *capture) {
	debug := log.New(io.Discard, "", 0)

	irc := newContext(NewConfigTree(conf), debug)
	irc.Events = newEvents(debug)
	irc.Timers = newTimers(debug)
	irc.Signals = newSignals(debug)
	irc.Parsers = newParsers(debug)
	irc.setTasks(newTaskGroup(debug))

	out := &capture{}
	irc.bindWriter(out.add)
	return irc, out
}

const defaultTestWait = 2 * time.Second

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
