// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"io"
	"log"
	"os"
	"os/signal"
)

// autoload is the component set every bot carries; everything else
// loads from the components.load config list.
var autoload = []string{"triggers", "channels", "plugins"}

// Bot wires the whole runtime together: context, event and timer
// systems, the client, and the configured components.
type Bot struct {
	irc    *Context
	client *Client
	debug  *log.Logger
}

// NewBot assembles a bot from a parsed configuration. debugWriter
// receives the debug log; pass nil to discard it. Component loading
// happens here, so configuration mistakes surface before any
// connection is made.
func NewBot(conf *ConfigTree, debugWriter io.Writer) (*Bot, error) {
	if debugWriter == nil {
		debugWriter = io.Discard
	}
	debug := log.New(debugWriter, "debug:", log.Ltime|log.Lshortfile)

	irc := newContext(conf, debug)
	irc.Events = newEvents(debug)
	irc.Timers = newTimers(debug)
	irc.Signals = newSignals(debug)
	irc.Parsers = newParsers(debug)
	irc.setTasks(newTaskGroup(debug))
	irc.Components = newComponentManager(irc, debug)

	client, err := newClient(irc, debug)
	if err != nil {
		return nil, err
	}

	names := append([]string{}, autoload...)
	if err := irc.Components.LoadConfigured(names...); err != nil {
		return nil, err
	}

	return &Bot{irc: irc, client: client, debug: debug}, nil
}

// Context exposes the runtime handle, mostly for embedding the bot in a
// larger program.
func (b *Bot) Context() *Context { return b.irc }

// Run connects and serves until the bot dies. Ctrl+c quits cleanly with
// a parting message instead of dropping the socket.
func (b *Bot) Run() {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	go func() {
		<-interrupt
		b.client.Die("Received a ctrl+c exiting")
	}()

	b.client.Run()
}
