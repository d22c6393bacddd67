// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultIRCPort    = 6667
	defaultAutoPing   = 600 * time.Second
	reconnectBackoff  = 10 * time.Second
	disconnectTimeout = time.Second
)

// ErrNoServers is returned when the irc.servers config is missing or
// empty.
var ErrNoServers = errors.New("client: no servers configured")

// [ssl:[//]]host[:port]
var serverRE = regexp.MustCompile(`^(ssl:(?://)?)?([^:]+)(?::(\d+))?$`)

type serverSpec struct {
	host string
	port int
	ssl  bool
}

// parseServer interprets one entry of the irc.servers list. The port
// defaults to 6667; an ssl: scheme turns on TLS.
func parseServer(spec string) (serverSpec, error) {
	m := serverRE.FindStringSubmatch(strings.TrimSpace(spec))
	if m == nil {
		return serverSpec{}, fmt.Errorf("client: bad server spec %q", spec)
	}

	s := serverSpec{host: m[2], port: defaultIRCPort, ssl: m[1] != ""}
	if m[3] != "" {
		port, err := strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return serverSpec{}, fmt.Errorf("client: bad port in server spec %q", spec)
		}
		s.port = port
	}
	return s, nil
}

// Client owns the connection lifecycle: it walks the configured server
// list, registers, pumps inbound lines through the parser and event
// system, drives the 1 Hz timer tick, and reconnects after failures.
type Client struct {
	irc  *Context
	conf *ConfigTree

	servers []serverSpec
	proxy   string

	mu        sync.Mutex
	reconnect bool

	autoPing time.Duration
	pingFn   TimerFunc

	debug *log.Logger
}

func newClient(irc *Context, debug *log.Logger) (*Client, error) {
	conf := irc.Config.Sub("irc")

	c := &Client{
		irc:       irc,
		conf:      conf,
		proxy:     conf.GetString("proxy"),
		reconnect: true,
		debug:     debug,
	}

	for _, spec := range conf.GetStringSlice("servers") {
		server, err := parseServer(spec)
		if err != nil {
			return nil, err
		}
		c.servers = append(c.servers, server)
	}
	if len(c.servers) == 0 {
		return nil, ErrNoServers
	}

	nick := conf.GetString("nick")
	if nick == "" {
		return nil, errors.New("client: no nick configured")
	}
	irc.setBotNick(nick)
	irc.Client = c

	c.installHandlers()
	return c, nil
}

// installHandlers wires the protocol-level observers the client itself
// needs: registration, PING/PONG, welcome, nick collision and nick
// tracking, plus the idle auto-ping timer.
func (c *Client) installHandlers() {
	ev := c.irc.Events

	ev.Observe("IRC_SOCKET_CONNECT", c.register)
	ev.Observe("IRC_MSG_PING", c.onPing)
	ev.Observe("IRC_MSG_001", c.onWelcome)
	ev.Observe("IRC_MSG_433", c.onNickInUse)
	ev.Observe("IRC_MSG_NICK", c.onNickChange)

	c.autoPing = defaultAutoPing
	if _, ok := c.conf.Get("auto_ping"); ok {
		c.autoPing = time.Duration(c.conf.GetInt("auto_ping")) * time.Second
	}
	if c.autoPing > 0 {
		c.pingFn = func(irc *Context, name string) {
			target := irc.Server()
			if target == "" {
				target = "keepalive"
			}
			irc.RAW("PING", ":"+target)
		}
		if err := c.irc.Timers.Set("autoping", c.pingFn, TimerOptions{Every: c.autoPing}); err != nil {
			c.debug.Printf("autoping timer: %v", err)
		}
	}
}

// register runs on every fresh socket: optional PASS, then USER and the
// configured NICK. The {version} token in the realname expands to the
// library version.
func (c *Client) register(irc *Context, args ...interface{}) {
	irc.setRegistered(false)

	if pass := c.conf.GetString("password"); pass != "" {
		irc.RAW("PASS", pass)
	}

	user := c.conf.GetString("user")
	if user == "" {
		user = irc.BotNick()
	}
	realname := c.conf.GetString("realname")
	if realname == "" {
		realname = "goaib {version}"
	}
	realname = strings.ReplaceAll(realname, "{version}", irc.version)

	irc.RAW("USER", user, "8", "*", ":"+realname)
	irc.RAW("NICK", irc.BotNick())
}

func (c *Client) onPing(irc *Context, args ...interface{}) {
	msg, ok := eventMessage(args)
	if !ok {
		return
	}
	irc.RAW("PONG", ":"+msg.Args)

	// The server is clearly alive; push the idle probe back out.
	if c.pingFn != nil {
		if err := irc.Timers.Reset("autoping", c.pingFn); err != nil {
			c.debug.Printf("autoping reset: %v", err)
		}
	}
}

func (c *Client) onWelcome(irc *Context, args ...interface{}) {
	msg, ok := eventMessage(args)
	if !ok {
		return
	}
	irc.setServer(msg.Sender.Raw())
	irc.setRegistered(true)
	irc.Events.Fire(irc, "IRC_ONCONNECT")
}

// onNickInUse retries with underscores appended until registration
// succeeds. Collisions after registration are surfaced on
// IRC_NICK_INUSE and left to components like nickserv.
func (c *Client) onNickInUse(irc *Context, args ...interface{}) {
	msg, ok := eventMessage(args)
	if !ok {
		return
	}

	taken := irc.BotNick()
	if fields := strings.Fields(msg.Args); len(fields) >= 2 {
		taken = fields[1]
	}

	if !irc.Registered() {
		irc.NICK(taken + "_")
	}
	irc.Events.Fire(irc, "IRC_NICK_INUSE", taken)
}

func (c *Client) onNickChange(irc *Context, args ...interface{}) {
	msg, ok := eventMessage(args)
	if !ok {
		return
	}
	if !strings.EqualFold(msg.Nick, irc.BotNick()) {
		return
	}

	old := irc.BotNick()
	irc.setBotNick(msg.Args)
	irc.Events.Fire(irc, "IRC_NICK_CHANGE", old, msg.Args)
}

func eventMessage(args []interface{}) (*Message, bool) {
	if len(args) == 0 {
		return nil, false
	}
	msg, ok := args[0].(*Message)
	return msg, ok && msg != nil
}

// Run connects and pumps messages until Die is called. Each pass walks
// the whole server list; when every server refuses us it sleeps out the
// backoff and starts over.
func (c *Client) Run() {
	for c.shouldReconnect() {
		sock := c.tryConnect()
		if sock == nil {
			c.debug.Printf("all servers failed, retrying in %s", reconnectBackoff)
			time.Sleep(reconnectBackoff)
			continue
		}
		c.runConnection(sock)
	}
}

func (c *Client) tryConnect() *lineSocket {
	for _, server := range c.servers {
		sock := newLineSocket(server.host, server.port, server.ssl, nil, c.proxy, c.debug)
		if err := sock.connect(); err != nil {
			c.debug.Printf("connect %s:%d: %v", server.host, server.port, err)
			continue
		}
		return sock
	}
	return nil
}

// runConnection services one established socket until it dies: a fresh
// task group, the timer tick loop, and the read/parse/fire pump.
func (c *Client) runConnection(sock *lineSocket) {
	irc := c.irc

	tasks := newTaskGroup(c.debug)
	irc.setTasks(tasks)
	irc.bindWriter(func(line string) {
		c.debug.Print("> ", line)
		sock.writeline(line)
	})

	runErr := make(chan error, 1)
	go func() { runErr <- sock.run() }()

	irc.Events.Fire(irc, "IRC_SOCKET_CONNECT")

	tasks.spawn("tick", func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-tasks.done():
				return
			case now := <-ticker.C:
				irc.Timers.Tick(irc, now)
			}
		}
	})

	for {
		line, ok := sock.readline()
		if !ok {
			break
		}
		c.debug.Print("< ", line)

		irc.Events.Fire(irc, "IRC_RAW_MSG", line)

		msg := parseMessage(irc, line)
		if msg == nil {
			continue
		}

		if !msg.Sender.IsServer() && strings.EqualFold(msg.Nick, irc.BotNick()) {
			irc.setBotSender(msg.Sender)
		}

		irc.Events.Fire(irc, "IRC_MSG_"+strings.ToUpper(msg.Kind), msg)
		irc.Events.Fire(irc, "IRC_MSG", msg)
	}

	err := <-runErr
	c.debug.Printf("connection lost: %v", err)

	irc.bindWriter(nil)
	sock.close()

	// Give in-flight handlers a moment, then abandon the stragglers
	// with the dead connection.
	if !tasks.join(disconnectTimeout) {
		c.debug.Print("abandoning unfinished handlers")
		tasks.kill()
	}
}

func (c *Client) shouldReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect
}

// Die says goodbye and stops the reconnect loop; Run returns once the
// server closes the connection.
func (c *Client) Die(message string) {
	c.mu.Lock()
	c.reconnect = false
	c.mu.Unlock()
	c.irc.QUIT(message)
}

// Cycle asks the server to drop the connection; reconnect stays on, so
// the run loop dials right back.
func (c *Client) Cycle() {
	c.irc.QUIT("Reconnecting")
}
