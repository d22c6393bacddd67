// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"log"
	"sort"
	"strings"
	"sync"
)

// Channels tracks which channels the bot occupies and joins the
// configured set on every connect. With channels.db enabled and storage
// loaded, the occupied set persists, so channels picked up at runtime
// survive a restart.
type Channels struct {
	autojoin []string
	useDB    bool

	mu     sync.Mutex
	joined map[string]bool

	debug *log.Logger
}

func newChannels(irc *Context, conf *ConfigTree) (Component, error) {
	ch := &Channels{
		autojoin: lowerAll(conf.GetStringSlice("autojoin")),
		useDB:    conf.GetBool("db"),
		joined:   make(map[string]bool),
		debug:    irc.debug,
	}
	return ch, nil
}

func (ch *Channels) Hooks() []Hook {
	return []Hook{
		WatchEvent(ch.onConnect, "IRC_ONCONNECT"),
		WatchEvent(ch.onJoin, "IRC_MSG_JOIN"),
		WatchEvent(ch.onPart, "IRC_MSG_PART"),
		WatchEvent(ch.onKick, "IRC_MSG_KICK"),
	}
}

// Contains reports whether the bot currently occupies channel.
func (ch *Channels) Contains(channel string) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.joined[strings.ToLower(channel)]
}

// List returns the occupied channels, sorted.
func (ch *Channels) List() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	names := make([]string, 0, len(ch.joined))
	for name := range ch.joined {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// onConnect joins the autojoin set: the configured list, unioned with
// whatever the persisted set remembers from the last run.
func (ch *Channels) onConnect(irc *Context, args ...interface{}) {
	ch.mu.Lock()
	ch.joined = make(map[string]bool)
	ch.mu.Unlock()

	channels := ch.startupList(irc)
	if len(channels) > 0 {
		irc.JOIN(channels...)
	}
}

func (ch *Channels) startupList(irc *Context) []string {
	set := make(map[string]bool)
	for _, name := range ch.autojoin {
		set[name] = true
	}

	if ch.useDB && irc.DB != nil {
		item, err := irc.DB.Get("channels", "joined")
		if err != nil {
			ch.debug.Printf("channels: loading persisted set: %v", err)
		} else if persisted, ok := item.Value.([]interface{}); ok {
			for _, name := range persisted {
				if s, ok := name.(string); ok {
					set[strings.ToLower(s)] = true
				}
			}
		}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ch *Channels) onJoin(irc *Context, args ...interface{}) {
	msg, ok := eventMessage(args)
	if !ok || !strings.EqualFold(msg.Nick, irc.BotNick()) {
		return
	}

	ch.mu.Lock()
	ch.joined[msg.Channel] = true
	ch.mu.Unlock()
	ch.persist(irc)
}

func (ch *Channels) onPart(irc *Context, args ...interface{}) {
	msg, ok := eventMessage(args)
	if !ok || !strings.EqualFold(msg.Nick, irc.BotNick()) {
		return
	}
	ch.forget(irc, msg.Channel)
}

func (ch *Channels) onKick(irc *Context, args ...interface{}) {
	msg, ok := eventMessage(args)
	if !ok || !strings.EqualFold(msg.Victim, irc.BotNick()) {
		return
	}
	ch.forget(irc, msg.Channel)
}

func (ch *Channels) forget(irc *Context, channel string) {
	ch.mu.Lock()
	delete(ch.joined, channel)
	ch.mu.Unlock()
	ch.persist(irc)
}

func (ch *Channels) persist(irc *Context) {
	if !ch.useDB || irc.DB == nil {
		return
	}

	item, err := irc.DB.Get("channels", "joined")
	if err != nil {
		ch.debug.Printf("channels: persisting set: %v", err)
		return
	}

	item.Value = toInterfaceSlice(ch.List())
	if err := item.Commit(); err != nil {
		ch.debug.Printf("channels: persisting set: %v", err)
	}
}

func lowerAll(names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = strings.ToLower(name)
	}
	return out
}

func toInterfaceSlice(names []string) []interface{} {
	out := make([]interface{}, len(names))
	for i, name := range names {
		out[i] = name
	}
	return out
}

func init() {
	RegisterComponent(Registration{
		Name:        "channels",
		ContextName: "channels",
		New:         newChannels,
	})
}
