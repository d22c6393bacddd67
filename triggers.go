// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"fmt"
	"log"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
)

const defaultTriggerPrefix = "!"

// TriggerFunc handles one activation of a trigger word. args are the
// positional arguments, kwargs the --key[=value] options (flags carry
// an empty value). msg.Unparsed holds the raw tail after the word.
type TriggerFunc func(irc *Context, msg *Message, trigger string, args []string, kwargs map[string]string)

// TriggerHandler bundles a trigger function with the help text the
// built-in help command serves for it. Subs documents sub-commands for
// the long help form.
type TriggerHandler struct {
	Fn   TriggerFunc
	Help string
	Subs map[string]string
}

var (
	// --key, --key=value, -flag; keys start with a letter.
	keywordRE = regexp.MustCompile(`(?i)^--?([a-z]\w*)(?:\s*(=))?\s*(.*)$`)

	// Value tokens: double-quoted, single-quoted or bare. Quoted forms
	// admit backslash escapes.
	dquotedRE = regexp.MustCompile(`^"((?:\\.|[^"\\])*)"\s*(.*)$`)
	squotedRE = regexp.MustCompile(`^'((?:\\.|[^'\\])*)'\s*(.*)$`)
	bareRE    = regexp.MustCompile(`^(\S+)\s*(.*)$`)

	unescaper = strings.NewReplacer(`\"`, `"`, `\'`, `'`, `\\`, `\`)
)

// ParseArgs parses a trigger tail into positional arguments and keyword
// options. Quoted positionals keep their spaces; a keyword followed by
// '=' consumes the next token as its value, otherwise it is a flag with
// an empty value.
func ParseArgs(text string) (args []string, kwargs map[string]string) {
	kwargs = make(map[string]string)

	rest := strings.TrimSpace(text)
	for rest != "" {
		if m := keywordRE.FindStringSubmatch(rest); m != nil {
			if m[2] == "=" {
				value, tail := parseToken(m[3])
				kwargs[m[1]] = value
				rest = tail
			} else {
				kwargs[m[1]] = ""
				rest = m[3]
			}
			continue
		}

		value, tail := parseToken(rest)
		args = append(args, value)
		rest = tail
	}
	return args, kwargs
}

func parseToken(text string) (value, rest string) {
	if m := dquotedRE.FindStringSubmatch(text); m != nil {
		return unescaper.Replace(m[1]), m[2]
	}
	if m := squotedRE.FindStringSubmatch(text); m != nil {
		return unescaper.Replace(m[1]), m[2]
	}
	if m := bareRE.FindStringSubmatch(text); m != nil {
		return m[1], m[2]
	}
	return strings.TrimSpace(text), ""
}

// Triggers dispatches chat commands. A message activates when it starts
// with the trigger prefix, addresses the bot by nick, or arrives in
// private. Words are case-sensitive; each word carries an observer list
// so several components can answer the same command.
type Triggers struct {
	prefix string

	mu    sync.RWMutex
	table map[string][]TriggerHandler
	debug *log.Logger
}

func newTriggers(conf *ConfigTree, debug *log.Logger) *Triggers {
	prefix := conf.GetString("prefix")
	if prefix == "" {
		prefix = defaultTriggerPrefix
	}

	tr := &Triggers{
		prefix: prefix,
		table:  make(map[string][]TriggerHandler),
		debug:  debug,
	}
	tr.Observe(TriggerHandler{Fn: tr.helpTrigger, Help: "help [trigger] [--list] [--full]"}, "help")
	return tr
}

// Prefix returns the activation prefix, "!" unless configured.
func (tr *Triggers) Prefix() string { return tr.prefix }

// Observe adds handler to each word's observer list. Registering the
// same function twice on a word is a no-op, so components can be
// re-loaded without doubling callbacks. Like event observers, identity
// is the code pointer, so method values on different receivers need
// distinct closures to coexist.
func (tr *Triggers) Observe(h TriggerHandler, words ...string) {
	if h.Fn == nil {
		return
	}
	ptr := reflect.ValueOf(h.Fn).Pointer()

	tr.mu.Lock()
	for _, word := range words {
		dup := false
		for _, existing := range tr.table[word] {
			if reflect.ValueOf(existing.Fn).Pointer() == ptr {
				dup = true
				break
			}
		}
		if !dup {
			tr.table[word] = append(tr.table[word], h)
		}
	}
	tr.mu.Unlock()
}

// ObserveFunc registers a bare function with no help text.
func (tr *Triggers) ObserveFunc(fn TriggerFunc, words ...string) {
	tr.Observe(TriggerHandler{Fn: fn}, words...)
}

// Unobserve drops every registration for the given words.
func (tr *Triggers) Unobserve(words ...string) {
	tr.mu.Lock()
	for _, word := range words {
		delete(tr.table, word)
	}
	tr.mu.Unlock()
}

// List returns the registered trigger words, sorted.
func (tr *Triggers) List() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	words := make([]string, 0, len(tr.table))
	for word := range tr.table {
		words = append(words, word)
	}
	sort.Strings(words)
	return words
}

// get snapshots the observer list for word.
func (tr *Triggers) get(word string) []TriggerHandler {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	handlers := make([]TriggerHandler, len(tr.table[word]))
	copy(handlers, tr.table[word])
	return handlers
}

func hasHelp(handlers []TriggerHandler) bool {
	for _, h := range handlers {
		if h.Help != "" {
			return true
		}
	}
	return false
}

// dispatch is the PRIVMSG observer. It decides whether the message
// activates a trigger, peels the word off, and fires each observer on
// its own supervised goroutine.
func (tr *Triggers) dispatch(irc *Context, eventArgs ...interface{}) {
	if len(eventArgs) == 0 {
		return
	}
	msg, ok := eventArgs[0].(*Message)
	if !ok || msg == nil {
		return
	}

	body, active := tr.activation(irc, msg)
	if !active {
		return
	}

	word, tail := splitWord(body)
	word = strings.TrimLeft(word, tr.prefix)
	if word == "" {
		return
	}

	handlers := tr.get(word)
	if len(handlers) == 0 {
		return
	}

	msg.Unparsed = tail
	args, kwargs := ParseArgs(tail)
	for _, h := range handlers {
		h := h
		irc.spawn("trigger "+word, func() {
			h.Fn(irc, msg, word, args, kwargs)
		})
	}
}

// Hooks implements Component: the dispatcher watches every PRIVMSG.
func (tr *Triggers) Hooks() []Hook {
	return []Hook{WatchEvent(tr.dispatch, "IRC_MSG_PRIVMSG")}
}

// activation returns the command body when the message should be
// treated as one: prefixed, addressed to us by nick, or private.
func (tr *Triggers) activation(irc *Context, msg *Message) (string, bool) {
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, tr.prefix) {
		return text, true
	}

	address := strings.ToLower(irc.BotNick()) + ":"
	if strings.HasPrefix(strings.ToLower(text), address) {
		return strings.TrimSpace(text[len(address):]), true
	}

	if msg.Channel == "" {
		return text, true
	}
	return "", false
}

func splitWord(text string) (word, tail string) {
	word, tail, _ = strings.Cut(strings.TrimSpace(text), " ")
	return word, strings.TrimSpace(tail)
}

// helpTrigger serves "help": a compact command list by default, one
// command's help when named, and the full catalog with --full (sent in
// private to keep channels quiet).
func (tr *Triggers) helpTrigger(irc *Context, msg *Message, trigger string, args []string, kwargs map[string]string) {
	if _, full := kwargs["full"]; full {
		msg = msg.Copy()
		msg.ReplyTarget = msg.Nick
		tr.helpFull(msg)
		return
	}

	_, list := kwargs["list"]
	if list || len(args) == 0 {
		tr.helpList(msg)
		return
	}

	words := append([]string(nil), args...)
	sort.Strings(words)
	for _, word := range words {
		handlers := tr.get(word)
		if !hasHelp(handlers) {
			msg.Reply(fmt.Sprintf("no help for %q", word))
			continue
		}
		tr.helpFor(msg, word, handlers)
	}
}

// helpList replies "Command List: a, b, c" for every trigger with at
// least one documented observer, wrapped so each relayed line stays
// within the payload limit.
func (tr *Triggers) helpList(msg *Message) {
	var words []string
	tr.mu.RLock()
	for word, handlers := range tr.table {
		if hasHelp(handlers) {
			words = append(words, word)
		}
	}
	tr.mu.RUnlock()
	sort.Strings(words)

	width := maxLength - len("PRIVMSG "+msg.ReplyTarget+" :")
	line := "Command List:"
	for _, word := range words {
		if len(line)+2+len(word) > width {
			msg.Reply(line)
			line = " " + word
			continue
		}
		line += " " + word
	}
	msg.Reply(line)
}

// helpFor prints every documented observer of word: its help lines,
// then its sub-commands.
func (tr *Triggers) helpFor(msg *Message, word string, handlers []TriggerHandler) {
	for _, h := range handlers {
		if h.Help == "" {
			continue
		}
		for _, line := range strings.Split(h.Help, "\n") {
			msg.Reply(word + ": " + line)
		}

		var subs []string
		for sub := range h.Subs {
			subs = append(subs, sub)
		}
		sort.Strings(subs)
		for _, sub := range subs {
			msg.Reply("  " + word + " " + sub + ": " + h.Subs[sub])
		}
	}
}

func (tr *Triggers) helpFull(msg *Message) {
	var words []string
	tr.mu.RLock()
	for word, handlers := range tr.table {
		if hasHelp(handlers) {
			words = append(words, word)
		}
	}
	tr.mu.RUnlock()
	sort.Strings(words)

	for _, word := range words {
		tr.helpFor(msg, word, tr.get(word))
	}
}

// RequireChannel only passes messages from the listed channels, or from
// any channel when none are listed. Private messages are dropped.
func RequireChannel(fn TriggerFunc, channels ...string) TriggerFunc {
	return requireChannel(fn, false, channels)
}

// RequireChannelOrPrivate is RequireChannel, but private messages pass.
func RequireChannelOrPrivate(fn TriggerFunc, channels ...string) TriggerFunc {
	return requireChannel(fn, true, channels)
}

func requireChannel(fn TriggerFunc, allowPrivate bool, channels []string) TriggerFunc {
	allowed := make(map[string]bool, len(channels))
	for _, name := range channels {
		allowed[strings.ToLower(name)] = true
	}

	return func(irc *Context, msg *Message, trigger string, args []string, kwargs map[string]string) {
		if msg.Channel == "" {
			if allowPrivate {
				fn(irc, msg, trigger, args, kwargs)
			}
			return
		}
		if len(allowed) > 0 && !allowed[msg.Channel] {
			return
		}
		fn(irc, msg, trigger, args, kwargs)
	}
}

// RequireChannelFunc defers the channel decision to a runtime lookup,
// e.g. the channels component's membership set.
func RequireChannelFunc(fn TriggerFunc, allowed func(irc *Context, channel string) bool) TriggerFunc {
	return func(irc *Context, msg *Message, trigger string, args []string, kwargs map[string]string) {
		if msg.Channel == "" || !allowed(irc, msg.Channel) {
			return
		}
		fn(irc, msg, trigger, args, kwargs)
	}
}

// PrivateOnly drops anything said in a channel.
func PrivateOnly(fn TriggerFunc) TriggerFunc {
	return func(irc *Context, msg *Message, trigger string, args []string, kwargs map[string]string) {
		if msg.Channel != "" {
			return
		}
		fn(irc, msg, trigger, args, kwargs)
	}
}

// IgnoreNicks drops activations from the listed nicks.
func IgnoreNicks(fn TriggerFunc, nicks ...string) TriggerFunc {
	ignored := make(map[string]bool, len(nicks))
	for _, nick := range nicks {
		ignored[strings.ToLower(nick)] = true
	}

	return func(irc *Context, msg *Message, trigger string, args []string, kwargs map[string]string) {
		if ignored[strings.ToLower(msg.Nick)] {
			return
		}
		fn(irc, msg, trigger, args, kwargs)
	}
}

// Subs makes fn handle only the listed sub-words: it runs when the
// first argument, lowercased, is one of subs, rewritten so fn sees the
// compound word "trigger sub" with the sub consumed from the arguments
// and msg.Unparsed. Anything else is dropped.
func Subs(fn TriggerFunc, subs ...string) TriggerFunc {
	known := make(map[string]bool, len(subs))
	for _, sub := range subs {
		known[strings.ToLower(sub)] = true
	}

	return func(irc *Context, msg *Message, trigger string, args []string, kwargs map[string]string) {
		if len(args) == 0 || !known[strings.ToLower(args[0])] {
			return
		}

		sub := strings.ToLower(args[0])
		unparsed := msg.Unparsed
		msg = msg.Copy()
		if cut := len(args[0]) + 1; cut <= len(unparsed) {
			msg.Unparsed = unparsed[cut:]
		} else {
			msg.Unparsed = ""
		}
		fn(irc, msg, trigger+" "+sub, args[1:], kwargs)
	}
}

// NoSubs drops activations whose first argument, lowercased, is one of
// subs; with no subs listed, any positional argument suppresses the
// call.
func NoSubs(fn TriggerFunc, subs ...string) TriggerFunc {
	blocked := make(map[string]bool, len(subs))
	for _, sub := range subs {
		blocked[strings.ToLower(sub)] = true
	}

	return func(irc *Context, msg *Message, trigger string, args []string, kwargs map[string]string) {
		if len(args) > 0 {
			if len(blocked) == 0 || blocked[strings.ToLower(args[0])] {
				return
			}
		}
		fn(irc, msg, trigger, args, kwargs)
	}
}

// AutoHelp replies with help on a --help option or an explicit "help"
// first argument, and runs fn otherwise.
func AutoHelp(fn TriggerFunc, help string) TriggerFunc {
	return func(irc *Context, msg *Message, trigger string, args []string, kwargs map[string]string) {
		if _, asked := kwargs["help"]; asked || (len(args) > 0 && args[0] == "help") {
			replyHelp(msg, trigger, help)
			return
		}
		fn(irc, msg, trigger, args, kwargs)
	}
}

// AutoHelpNoArgs is AutoHelp that additionally shows help on an empty
// activation, for commands that never run bare.
func AutoHelpNoArgs(fn TriggerFunc, help string) TriggerFunc {
	return func(irc *Context, msg *Message, trigger string, args []string, kwargs map[string]string) {
		_, asked := kwargs["help"]
		if (len(args) == 0 && len(kwargs) == 0) || asked || (len(args) > 0 && args[0] == "help") {
			replyHelp(msg, trigger, help)
			return
		}
		fn(irc, msg, trigger, args, kwargs)
	}
}

// HelpOnly builds a handler that does nothing but print its help.
func HelpOnly(help string) TriggerFunc {
	return func(irc *Context, msg *Message, trigger string, args []string, kwargs map[string]string) {
		replyHelp(msg, trigger, help)
	}
}

func replyHelp(msg *Message, trigger, help string) {
	for _, line := range strings.Split(help, "\n") {
		msg.Reply(trigger + ": " + line)
	}
}
