// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"reflect"
	"strings"
	"testing"
)

func channelsFixture(t *testing.T, conf map[string]interface{}, withDB bool) (*Channels, *Context, *capture) {
	t.Helper()

	irc, out := newTestContext(map[string]interface{}{"channels": conf})
	irc.setBotNick("bot")
	if withDB {
		irc.DB = newTestStore()
	}

	comp, err := newChannels(irc, irc.Config.Sub("channels"))
	if err != nil {
		t.Fatalf("newChannels: %v", err)
	}
	return comp.(*Channels), irc, out
}

func TestChannelsAutojoin(t *testing.T) {
	ch, irc, out := channelsFixture(t, map[string]interface{}{
		"autojoin": []interface{}{"#Go", "#ops"},
	}, false)

	ch.onConnect(irc)

	lines := out.all()
	if len(lines) != 1 || lines[0] != "JOIN #go,#ops" {
		t.Errorf("lines = %q", lines)
	}
}

func TestChannelsMembership(t *testing.T) {
	ch, irc, _ := channelsFixture(t, nil, false)

	ch.onJoin(irc, parseMessage(irc, ":bot!u@h JOIN :#Go"))
	if !ch.Contains("#GO") {
		t.Error("Contains misses a joined channel")
	}

	// Other people's churn is not membership.
	ch.onJoin(irc, parseMessage(irc, ":other!u@h JOIN :#lurk"))
	if ch.Contains("#lurk") {
		t.Error("tracked somebody else's join")
	}

	ch.onPart(irc, parseMessage(irc, ":bot!u@h PART #go :bye"))
	if ch.Contains("#go") {
		t.Error("Contains still true after part")
	}

	ch.onJoin(irc, parseMessage(irc, ":bot!u@h JOIN :#kickme"))
	ch.onKick(irc, parseMessage(irc, ":op!u@h KICK #kickme bot :out"))
	if ch.Contains("#kickme") {
		t.Error("Contains still true after kick")
	}

	// Kicks of others do not evict us.
	ch.onJoin(irc, parseMessage(irc, ":bot!u@h JOIN :#stay"))
	ch.onKick(irc, parseMessage(irc, ":op!u@h KICK #stay other :out"))
	if !ch.Contains("#stay") {
		t.Error("somebody else's kick evicted the bot")
	}
}

func TestChannelsPersistedUnion(t *testing.T) {
	ch, irc, out := channelsFixture(t, map[string]interface{}{
		"autojoin": []interface{}{"#base"},
		"db":       true,
	}, true)

	// A previous run remembered two channels, one overlapping.
	irc.DB.Set("channels", "joined", []interface{}{"#base", "#extra"})

	ch.onConnect(irc)

	lines := out.all()
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	got := strings.Split(strings.TrimPrefix(lines[0], "JOIN "), ",")
	want := []string{"#base", "#extra"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("autojoin = %q, want sorted union %q", got, want)
	}
}

func TestChannelsPersistOnChange(t *testing.T) {
	ch, irc, _ := channelsFixture(t, map[string]interface{}{"db": true}, true)

	ch.onJoin(irc, parseMessage(irc, ":bot!u@h JOIN :#a"))
	ch.onJoin(irc, parseMessage(irc, ":bot!u@h JOIN :#b"))
	ch.onPart(irc, parseMessage(irc, ":bot!u@h PART #a"))

	item, err := irc.DB.Get("channels", "joined")
	if err != nil {
		t.Fatalf("Get = %v", err)
	}
	want := []interface{}{"#b"}
	if !reflect.DeepEqual(item.Value, want) {
		t.Errorf("persisted set = %#v, want %#v", item.Value, want)
	}
}

func TestChannelsList(t *testing.T) {
	ch, irc, _ := channelsFixture(t, nil, false)

	ch.onJoin(irc, parseMessage(irc, ":bot!u@h JOIN :#z"))
	ch.onJoin(irc, parseMessage(irc, ":bot!u@h JOIN :#a"))

	if got := ch.List(); !reflect.DeepEqual(got, []string{"#a", "#z"}) {
		t.Errorf("List() = %q", got)
	}
}
