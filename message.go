// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"log"
	"regexp"
	"strings"
	"sync"
	"time"
)

// maxLength is the maximum IRC line payload; the wire adds 2 bytes of CRLF.
const maxLength = 510

var (
	// <message> :: [':' <prefix> ' '] <command> ' ' <args>
	msgRegex = regexp.MustCompile(`^(?::([^ ]+) )?([^ ]+) (.+)$`)
	// directed messages: <target> [':'] <text>
	directRegex = regexp.MustCompile(`^([^ ]+) :?(.+)$`)
)

// ChannelPrefix records a channel-notice prefix (@#chan, %#chan, +#chan)
// observed on a directed message target.
type ChannelPrefix int

const (
	PrefixNone ChannelPrefix = iota
	PrefixOp
	PrefixHalfop
	PrefixVoice
)

// Sender is the parsed prefix of an IRC line: either a plain server name,
// or the nick!user@host form for users.
//
//	<servername> | <nick> '!' <user> '@' <host>
type Sender struct {
	raw    string
	nick   string
	user   string
	host   string
	isUser bool
}

// ParseSender splits a raw prefix into its pieces. Prefixes without a
// '!' are treated as server names.
func ParseSender(raw string) Sender {
	s := Sender{raw: raw}

	nick, rest, found := strings.Cut(raw, "!")
	if !found {
		return s
	}

	s.isUser = true
	s.nick = nick
	s.user, s.host, _ = strings.Cut(rest, "@")
	return s
}

// Raw returns the prefix as it appeared on the wire. Empty for the zero
// Sender, which keeps prefix length math correct before the bot has seen
// itself speak.
func (s Sender) Raw() string { return s.raw }

// Nick returns the nickname, or "" for server prefixes.
func (s Sender) Nick() string { return s.nick }

// User returns the username with any leading ident "~" stripped, or ""
// for server prefixes.
func (s Sender) User() string {
	if !s.isUser {
		return ""
	}
	return strings.TrimPrefix(s.user, "~")
}

// Hostname returns the host portion for users, or the whole prefix for
// servers.
func (s Sender) Hostname() string {
	if s.isUser {
		return s.host
	}
	return s.raw
}

// Usermask returns "user@host", or "" for server prefixes.
func (s Sender) Usermask() string {
	if !s.isUser {
		return ""
	}
	return s.user + "@" + s.host
}

// IsServer reports whether the prefix was a bare server name.
func (s Sender) IsServer() bool { return !s.isUser }

func (s Sender) String() string {
	if s.isUser {
		return s.nick
	}
	return s.raw
}

// Message is the parsed form of one inbound line. Kind-specific fields
// (Target, Channel, Text, ...) are populated by the registered parser for
// that kind and read as zero values when absent.
type Message struct {
	Raw       string
	Sender    Sender
	Nick      string
	Kind      string
	Args      string
	Timestamp time.Time

	// Populated by the directed-message parser (PRIVMSG/NOTICE/INVITE).
	Target        string
	ReplyTarget   string
	Channel       string
	RawChannel    string
	ChannelPrefix ChannelPrefix
	Text          string

	// Populated by the KICK parser.
	Victim string

	// Unparsed is the raw trigger tail, set by the trigger dispatcher
	// before argument parsing.
	Unparsed string

	reply func(target, text string)
}

// parseMessage parses one raw line. A line that does not match the IRC
// grammar, or that a secondary parser rejects, returns nil.
func parseMessage(irc *Context, raw string) *Message {
	match := msgRegex.FindStringSubmatch(raw)
	if match == nil {
		return nil
	}

	m := &Message{
		Raw:       raw,
		Kind:      match[2],
		Args:      match[3],
		Timestamp: time.Now(),
	}

	// A blank prefix means the connected server is speaking.
	prefix := match[1]
	if prefix == "" {
		prefix = irc.Server()
	}
	m.Sender = ParseSender(prefix)
	m.Nick = m.Sender.Nick()

	// Secondary parsers see args before the leading ':' strip.
	if parser := irc.Parsers.get(m.Kind); parser != nil {
		parser(irc, m)
		if m.Kind == "" {
			return nil
		}
	}

	m.Args = strings.TrimPrefix(m.Args, ":")
	return m
}

// Reply sends text back to wherever the message came from. The target
// is read at call time, so rewriting ReplyTarget redirects later
// replies. A no-op on messages that never had a reply target.
func (m *Message) Reply(text string) {
	if m.reply != nil {
		m.reply(m.ReplyTarget, text)
	}
}

// CanReply reports whether a reply helper was attached during parsing.
func (m *Message) CanReply() bool { return m.reply != nil }

// Copy returns a shallow copy, sharing the reply helper. Used by trigger
// filters that rewrite the unparsed tail for sub-commands.
func (m *Message) Copy() *Message {
	dup := *m
	return &dup
}

func (m *Message) String() string { return m.Raw }

// ChainMode controls how a parser registration interacts with an
// existing parser for the same kind.
type ChainMode int

const (
	// ChainReplace installs the new parser in place of any existing one.
	ChainReplace ChainMode = iota
	// ChainBefore runs the new parser, then the existing one.
	ChainBefore
	// ChainAfter runs the existing parser, then the new one.
	ChainAfter
)

// ParserFunc is a kind-specific secondary parser. It may decorate the
// message with extra fields, or clear Kind to reject the message.
type ParserFunc func(irc *Context, m *Message)

// Parsers maps command tokens to secondary parsers. It belongs to the
// runtime, not the package: components install parsers at load time via
// the parsers hook.
type Parsers struct {
	mu    sync.RWMutex
	table map[string]ParserFunc
	debug *log.Logger
}

func newParsers(debug *log.Logger) *Parsers {
	p := &Parsers{
		table: make(map[string]ParserFunc),
		debug: debug,
	}

	p.Add("PRIVMSG", parseDirected, ChainReplace)
	p.Add("NOTICE", parseDirected, ChainReplace)
	p.Add("INVITE", parseDirected, ChainReplace)
	p.Add("JOIN", parseJoin, ChainReplace)
	p.Add("PART", parsePart, ChainReplace)
	p.Add("KICK", parseKick, ChainReplace)
	return p
}

// Add registers a parser for kind. ChainBefore and ChainAfter compose
// with an existing parser; ChainReplace (the default mode) overrides it.
func (p *Parsers) Add(kind string, fn ParserFunc, chain ChainMode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing := p.table[kind]
	if existing == nil || chain == ChainReplace {
		p.table[kind] = fn
		return
	}

	switch chain {
	case ChainBefore:
		p.table[kind] = func(irc *Context, m *Message) {
			fn(irc, m)
			existing(irc, m)
		}
	case ChainAfter:
		p.table[kind] = func(irc *Context, m *Message) {
			existing(irc, m)
			fn(irc, m)
		}
	}
}

func (p *Parsers) get(kind string) ParserFunc {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.table[kind]
}

// parseDirected handles PRIVMSG/NOTICE/INVITE: it splits args into a
// target and text, works out the channel (and any @%+ prefix) or marks
// the message private, and binds a reply helper.
func parseDirected(irc *Context, m *Message) {
	match := directRegex.FindStringSubmatch(m.Args)
	if match == nil {
		m.Kind = ""
		return
	}

	m.Target = strings.ToLower(match[1])
	m.Text = match[2]

	if m.Target != strings.ToLower(irc.BotNick()) {
		m.ReplyTarget = m.Target

		m.RawChannel = strings.TrimLeft(m.Target, "@%+")
		m.Channel = strings.ToLower(m.RawChannel)

		switch {
		case strings.HasPrefix(m.Target, "@"):
			m.ChannelPrefix = PrefixOp
		case strings.HasPrefix(m.Target, "%"):
			m.ChannelPrefix = PrefixHalfop
		case strings.HasPrefix(m.Target, "+"):
			m.ChannelPrefix = PrefixVoice
		}
	} else {
		m.ReplyTarget = m.Nick
	}

	m.reply = irc.PRIVMSG
}

func parseJoin(irc *Context, m *Message) {
	m.RawChannel = strings.TrimPrefix(strings.TrimSpace(m.Args), ":")
	m.Channel = strings.ToLower(m.RawChannel)
}

func parsePart(irc *Context, m *Message) {
	channel, text, _ := strings.Cut(strings.TrimSpace(m.Args), " ")
	m.RawChannel = channel
	m.Channel = strings.ToLower(channel)
	m.Text = strings.TrimPrefix(text, ":")
}

func parseKick(irc *Context, m *Message) {
	parts := strings.SplitN(m.Args, " ", 3)
	if len(parts) < 2 {
		m.Kind = ""
		return
	}

	m.RawChannel = parts[0]
	m.Channel = strings.ToLower(parts[0])
	m.Victim = parts[1]
	if len(parts) == 3 {
		m.Text = strings.TrimPrefix(parts[2], ":")
	}
}
