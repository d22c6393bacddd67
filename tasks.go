// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// taskGroup supervises the goroutines spawned on behalf of one
// connection: observers, trigger handlers, timer callbacks, signal
// decorators. Each connection gets a fresh group so a reconnect never
// waits on the previous connection's stragglers.
type taskGroup struct {
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	debug  *log.Logger
}

func newTaskGroup(debug *log.Logger) *taskGroup {
	ctx, cancel := context.WithCancel(context.Background())
	return &taskGroup{ctx: ctx, cancel: cancel, debug: debug}
}

// spawn runs fn on its own goroutine under the group. A panic in fn is
// contained: the stack is logged and no other task is disturbed.
func (g *taskGroup) spawn(name string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.debug.Printf("panic in %s: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}

// join waits up to timeout for every task to finish, reporting whether
// the group drained cleanly.
func (g *taskGroup) join(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// kill cancels the group context and abandons whatever is still
// running. Goroutines cannot be forced down; tasks that watch done()
// exit promptly, the rest are orphaned with the old connection.
func (g *taskGroup) kill() {
	g.cancel()
}

// done exposes the group's cancellation channel for long-running tasks.
func (g *taskGroup) done() <-chan struct{} {
	return g.ctx.Done()
}
