// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"bufio"
	"io"
	"log"
	"net"
	"strings"
	"testing"
	"time"
)

func TestParseServer(t *testing.T) {
	tests := []struct {
		in   string
		host string
		port int
		ssl  bool
		bad  bool
	}{
		{in: "irc.example.org", host: "irc.example.org", port: 6667},
		{in: "irc.example.org:7000", host: "irc.example.org", port: 7000},
		{in: "ssl:irc.example.org", host: "irc.example.org", port: 6667, ssl: true},
		{in: "ssl://irc.example.org:6697", host: "irc.example.org", port: 6697, ssl: true},
		{in: " irc.example.org:6667 ", host: "irc.example.org", port: 6667},
		{in: "irc.example.org:0", bad: true},
		{in: "irc.example.org:not-a-port", bad: true},
		{in: "a:b:c", bad: true},
	}

	for _, tt := range tests {
		got, err := parseServer(tt.in)
		if tt.bad {
			if err == nil {
				t.Errorf("parseServer(%q) = %+v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseServer(%q) = %v", tt.in, err)
			continue
		}
		if got.host != tt.host || got.port != tt.port || got.ssl != tt.ssl {
			t.Errorf("parseServer(%q) = %+v", tt.in, got)
		}
	}
}

func clientFixture(t *testing.T, conf map[string]interface{}) (*Client, *Context, *capture) {
	t.Helper()

	if conf == nil {
		conf = map[string]interface{}{
			"irc": map[string]interface{}{
				"servers": []interface{}{"irc.example.org"},
				"nick":    "goaib",
			},
		}
	}

	irc, out := newTestContext(conf)
	c, err := newClient(irc, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	return c, irc, out
}

func TestNewClientValidation(t *testing.T) {
	irc, _ := newTestContext(map[string]interface{}{
		"irc": map[string]interface{}{"nick": "goaib"},
	})
	if _, err := newClient(irc, log.New(io.Discard, "", 0)); err != ErrNoServers {
		t.Errorf("no servers: err = %v, want ErrNoServers", err)
	}

	irc, _ = newTestContext(map[string]interface{}{
		"irc": map[string]interface{}{"servers": "irc.example.org"},
	})
	if _, err := newClient(irc, log.New(io.Discard, "", 0)); err == nil {
		t.Error("missing nick accepted")
	}
}

func TestClientRegister(t *testing.T) {
	c, irc, out := clientFixture(t, map[string]interface{}{
		"irc": map[string]interface{}{
			"servers":  "irc.example.org",
			"nick":     "goaib",
			"password": "sekrit",
			"realname": "bot {version}",
		},
	})

	c.register(irc)

	want := []string{
		"PASS sekrit",
		"USER goaib 8 * :bot " + Version,
		"NICK goaib",
	}
	got := out.all()
	if len(got) != len(want) {
		t.Fatalf("lines = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
	if irc.Registered() {
		t.Error("register left the registered flag set")
	}
}

func TestClientPong(t *testing.T) {
	c, irc, out := clientFixture(t, nil)

	msg := parseMessage(irc, "PING :abc123")
	c.onPing(irc, msg)

	if lines := out.all(); len(lines) != 1 || lines[0] != "PONG :abc123" {
		t.Errorf("lines = %q", lines)
	}
}

func TestClientWelcome(t *testing.T) {
	c, irc, _ := clientFixture(t, nil)

	connected := make(chan struct{})
	irc.Events.Observe("IRC_ONCONNECT", func(irc *Context, args ...interface{}) {
		close(connected)
	})

	msg := parseMessage(irc, ":irc.example.org 001 goaib :Welcome to the network")
	c.onWelcome(irc, msg)

	if !irc.Registered() {
		t.Error("001 did not set registered")
	}
	if irc.Server() != "irc.example.org" {
		t.Errorf("Server() = %q", irc.Server())
	}
	select {
	case <-connected:
	case <-time.After(defaultTestWait):
		t.Fatal("IRC_ONCONNECT never fired")
	}
}

func TestClientNickCollision(t *testing.T) {
	c, irc, out := clientFixture(t, nil)

	msg := parseMessage(irc, ":irc.example.org 433 * goaib :Nickname is already in use.")
	c.onNickInUse(irc, msg)

	if irc.BotNick() != "goaib_" {
		t.Errorf("BotNick() = %q, want underscore retry", irc.BotNick())
	}
	if lines := out.all(); len(lines) != 1 || lines[0] != "NICK goaib_" {
		t.Errorf("lines = %q", lines)
	}

	// Once registered, a collision is somebody else's problem.
	irc.setRegistered(true)
	out.reset()
	c.onNickInUse(irc, msg)
	if lines := out.all(); len(lines) != 0 {
		t.Errorf("post-registration collision sent %q", lines)
	}
}

func TestClientNickTracking(t *testing.T) {
	c, irc, _ := clientFixture(t, nil)
	irc.setRegistered(true)

	changed := make(chan [2]string, 1)
	irc.Events.Observe("IRC_NICK_CHANGE", func(irc *Context, args ...interface{}) {
		changed <- [2]string{args[0].(string), args[1].(string)}
	})

	// Somebody else renaming is not our business.
	c.onNickChange(irc, parseMessage(irc, ":other!u@h NICK :fresh"))
	if irc.BotNick() != "goaib" {
		t.Errorf("BotNick() = %q after a stranger's NICK", irc.BotNick())
	}

	c.onNickChange(irc, parseMessage(irc, ":goaib!u@h NICK :goaib2"))
	if irc.BotNick() != "goaib2" {
		t.Errorf("BotNick() = %q, want goaib2", irc.BotNick())
	}

	select {
	case pair := <-changed:
		if pair[0] != "goaib" || pair[1] != "goaib2" {
			t.Errorf("IRC_NICK_CHANGE args = %v", pair)
		}
	case <-time.After(defaultTestWait):
		t.Fatal("IRC_NICK_CHANGE never fired")
	}
}

// Full handshake over a pipe: registration, nick collision retry,
// welcome, teardown.
func TestClientConnectionLifecycle(t *testing.T) {
	c, irc, _ := clientFixture(t, nil)

	clientEnd, serverEnd := net.Pipe()
	sock := newLineSocketConn(clientEnd, c.debug)

	connected := make(chan struct{})
	irc.Events.Observe("IRC_ONCONNECT", func(irc *Context, args ...interface{}) {
		close(connected)
	})

	finished := make(chan struct{})
	go func() {
		c.runConnection(sock)
		close(finished)
	}()

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(serverEnd)
		for scanner.Scan() {
			lines <- strings.TrimRight(scanner.Text(), "\r")
		}
	}()

	expect := func(want string) {
		t.Helper()
		for {
			select {
			case line := <-lines:
				if line == want {
					return
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("never saw %q", want)
			}
		}
	}

	expect("USER goaib 8 * :goaib " + Version)
	expect("NICK goaib")

	serverEnd.Write([]byte(":irc.example.org 433 * goaib :Nickname is already in use.\r\n"))
	expect("NICK goaib_")

	serverEnd.Write([]byte(":irc.example.org 001 goaib_ :Welcome\r\n"))
	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("IRC_ONCONNECT never fired")
	}
	if !irc.Registered() || irc.Server() != "irc.example.org" {
		t.Errorf("state after 001: registered=%v server=%q", irc.Registered(), irc.Server())
	}

	serverEnd.Close()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("runConnection never returned after the server hung up")
	}
}

func TestClientDieStopsReconnect(t *testing.T) {
	c, _, out := clientFixture(t, nil)

	c.Die("so long")
	if c.shouldReconnect() {
		t.Error("Die left the reconnect flag set")
	}
	if lines := out.all(); len(lines) != 1 || lines[0] != "QUIT :so long" {
		t.Errorf("lines = %q", lines)
	}
}

// Cycle says goodbye but keeps the reconnect loop alive.
func TestClientCycleKeepsReconnect(t *testing.T) {
	c, _, out := clientFixture(t, nil)

	c.Cycle()
	if !c.shouldReconnect() {
		t.Error("Cycle cleared the reconnect flag")
	}
	if lines := out.all(); len(lines) != 1 || lines[0] != "QUIT :Reconnecting" {
		t.Errorf("lines = %q", lines)
	}
}
