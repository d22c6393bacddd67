// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"log"
	"strings"
	"sync"

	cmap "github.com/orcaman/concurrent-map"
)

// Context is the shared runtime handle passed to every observer, trigger,
// timer and signal callback. It carries the configuration, the service
// registries, connection state and the outbound send helpers.
type Context struct {
	Config *ConfigTree

	Events     *Events
	Timers     *Timers
	Triggers   *Triggers
	Signals    *Signals
	Components *ComponentManager
	Plugins    *PluginManager
	DB         *ObjectStore
	Parsers    *Parsers
	Client     *Client

	// objects holds component instances published under their context
	// names, so plugins can look services up without import cycles.
	objects cmap.ConcurrentMap

	mu         sync.RWMutex
	botnick    string
	botsender  Sender
	server     string
	registered bool
	write      func(line string)
	tasks      *taskGroup

	debug   *log.Logger
	version string
}

func newContext(conf *ConfigTree, debug *log.Logger) *Context {
	return &Context{
		Config:  conf,
		objects: cmap.New(),
		debug:   debug,
		version: Version,
	}
}

// Set publishes an object under name, making it visible to Lookup.
func (c *Context) Set(name string, obj interface{}) {
	c.objects.Set(name, obj)
}

// Lookup returns an object previously published with Set.
func (c *Context) Lookup(name string) (interface{}, bool) {
	return c.objects.Get(name)
}

// BotNick returns the nick the bot currently believes it owns.
func (c *Context) BotNick() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.botnick
}

func (c *Context) setBotNick(nick string) {
	c.mu.Lock()
	c.botnick = nick
	c.mu.Unlock()
}

// BotSender is the bot's own prefix as last seen from the server. Zero
// until the server has echoed something from us.
func (c *Context) BotSender() Sender {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.botsender
}

func (c *Context) setBotSender(s Sender) {
	c.mu.Lock()
	c.botsender = s
	c.mu.Unlock()
}

// Server returns the name the connected server introduced itself with.
func (c *Context) Server() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

func (c *Context) setServer(name string) {
	c.mu.Lock()
	c.server = name
	c.mu.Unlock()
}

// Registered reports whether the 001 welcome has been seen on the
// current connection.
func (c *Context) Registered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

func (c *Context) setRegistered(v bool) {
	c.mu.Lock()
	c.registered = v
	c.mu.Unlock()
}

// spawn runs fn on the current connection's task group. Handlers left
// over from a previous connection may still be firing events, so the
// group pointer is read under the lock.
func (c *Context) spawn(name string, fn func()) {
	c.mu.RLock()
	tasks := c.tasks
	c.mu.RUnlock()
	tasks.spawn(name, fn)
}

func (c *Context) setTasks(tasks *taskGroup) {
	c.mu.Lock()
	c.tasks = tasks
	c.mu.Unlock()
}

// bindWriter points RAW at the current connection's outbound queue. A
// nil fn unbinds; RAW then drops lines.
func (c *Context) bindWriter(fn func(line string)) {
	c.mu.Lock()
	c.write = fn
	c.mu.Unlock()
}

// RAW queues one line for the server. Parts are joined with single
// spaces; embedded CR, LF and NUL are stripped, tabs expand to 4-column
// stops and trailing whitespace is removed. Empty results are dropped.
// Every line sent fires IRC_RAW_SEND.
func (c *Context) RAW(parts ...string) {
	line := strings.Join(parts, " ")
	line = strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', 0:
			return -1
		}
		return r
	}, line)
	line = strings.TrimRight(expandTabs(line, 4), " \t")
	if line == "" {
		return
	}

	c.mu.RLock()
	write := c.write
	c.mu.RUnlock()

	if write == nil {
		c.debug.Printf("dropping line, not connected: %q", line)
		return
	}

	write(line)
	c.Events.Fire(c, "IRC_RAW_SEND", line)
}

// NICK requests a nick change. Before registration the server sends no
// confirmation, so the change is assumed immediately.
func (c *Context) NICK(nick string) {
	if !c.Registered() {
		c.setBotNick(nick)
	}
	c.RAW("NICK", nick)
}

// PRIVMSG sends text to target, splitting it so every emitted line fits
// the 510-byte payload limit even after the server prepends our own
// prefix when relaying. Splits prefer the last space so the chunks
// concatenate back into the original text.
func (c *Context) PRIVMSG(target, text string) {
	c.sendWrapped("PRIVMSG", target, text)
}

// NOTICE is PRIVMSG with the NOTICE verb, same wrapping rules.
func (c *Context) NOTICE(target, text string) {
	c.sendWrapped("NOTICE", target, text)
}

func (c *Context) sendWrapped(verb, target, text string) {
	// The relayed form is ":<ourprefix> <verb> <target> :<chunk>".
	overhead := len(c.BotSender().Raw()) + 2 + len(verb) + len(target) + 3
	width := maxLength - overhead
	if width < 1 {
		width = 1
	}

	for _, chunk := range wrapBytes(text, width) {
		c.RAW(verb, target, ":"+chunk)
	}
}

// JOIN joins one or more channels, batching names into comma-separated
// JOIN lines that stay within the payload limit.
func (c *Context) JOIN(channels ...string) {
	var batch []string
	length := len("JOIN ")

	flush := func() {
		if len(batch) > 0 {
			c.RAW("JOIN", strings.Join(batch, ","))
			batch = batch[:0]
			length = len("JOIN ")
		}
	}

	for _, name := range splitNames(channels) {
		cost := len(name)
		if len(batch) > 0 {
			cost++ // the comma
		}
		if length+cost > maxLength {
			flush()
			cost = len(name)
		}
		batch = append(batch, name)
		length += cost
	}
	flush()
}

// PART leaves the given channels, with an optional part message.
func (c *Context) PART(message string, channels ...string) {
	names := splitNames(channels)
	if len(names) == 0 {
		return
	}

	if message == "" {
		c.RAW("PART", strings.Join(names, ","))
		return
	}
	c.RAW("PART", strings.Join(names, ","), ":"+message)
}

// QUIT tells the server goodbye. The socket teardown is the server's
// side of the bargain.
func (c *Context) QUIT(message string) {
	if message == "" {
		c.RAW("QUIT")
		return
	}
	c.RAW("QUIT", ":"+message)
}

// splitNames flattens channel arguments that arrive comma or space
// separated inside a single string.
func splitNames(args []string) []string {
	var names []string
	for _, arg := range args {
		for _, name := range strings.FieldsFunc(arg, func(r rune) bool {
			return r == ',' || r == ' '
		}) {
			names = append(names, name)
		}
	}
	return names
}

// wrapBytes splits text into chunks of at most width bytes, cutting at
// the last space when one exists so the space carries into the next
// chunk. The chunks concatenate back to the original text.
func wrapBytes(text string, width int) []string {
	if text == "" {
		return []string{""}
	}

	var chunks []string
	for len(text) > width {
		cut := strings.LastIndexByte(text[:width+1], ' ')
		if cut < 1 {
			cut = width
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return append(chunks, text)
}

// expandTabs replaces tabs with spaces up to the next multiple of
// tabsize columns.
func expandTabs(text string, tabsize int) string {
	if !strings.ContainsRune(text, '\t') {
		return text
	}

	var out strings.Builder
	col := 0
	for _, r := range text {
		if r == '\t' {
			pad := tabsize - col%tabsize
			out.WriteString(strings.Repeat(" ", pad))
			col += pad
			continue
		}
		out.WriteRune(r)
		col++
	}
	return out.String()
}
