// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"log"
	"strings"
	"time"
)

const nickWatchInterval = 90 * time.Second

// NickServ identifies with the network's nick service on connect and
// keeps watch over the configured nick, ghosting whoever holds it when
// we lost it to a collision.
type NickServ struct {
	service  string
	wanted   string
	password string
	debug    *log.Logger
}

func newNickServ(irc *Context, conf *ConfigTree) (Component, error) {
	ns := &NickServ{
		service:  conf.GetString("service"),
		wanted:   conf.GetString("nick"),
		password: conf.GetString("password"),
		debug:    irc.debug,
	}
	if ns.service == "" {
		ns.service = "NickServ"
	}
	if ns.wanted == "" {
		ns.wanted = irc.Config.GetString("irc.nick")
	}
	return ns, nil
}

func (ns *NickServ) Hooks() []Hook {
	return []Hook{WatchEvent(ns.onConnect, "IRC_ONCONNECT")}
}

func (ns *NickServ) onConnect(irc *Context, args ...interface{}) {
	ns.identify(irc)

	// One watcher per connection; stale ones from the previous
	// connection are cleared first.
	_ = irc.Timers.Clear("nickserv", ns.watch)
	if err := irc.Timers.Set("nickserv", ns.watch, TimerOptions{Every: nickWatchInterval}); err != nil {
		ns.debug.Printf("nickserv: watcher: %v", err)
	}
}

func (ns *NickServ) watch(irc *Context, name string) {
	if !strings.EqualFold(irc.BotNick(), ns.wanted) {
		ns.identify(irc)
	}
}

// identify reclaims the configured nick if somebody else holds it, then
// authenticates with the service.
func (ns *NickServ) identify(irc *Context) {
	if ns.password == "" {
		return
	}

	if !strings.EqualFold(irc.BotNick(), ns.wanted) {
		irc.PRIVMSG(ns.service, "GHOST "+ns.wanted+" "+ns.password)
		irc.NICK(ns.wanted)
	}
	irc.PRIVMSG(ns.service, "IDENTIFY "+ns.password)
}

func init() {
	RegisterComponent(Registration{
		Name:        "nickserv",
		ContextName: "nickserv",
		New:         newNickServ,
	})
}
