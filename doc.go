// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

// Package goaib is a framework for writing IRC bots. It handles the
// connection lifecycle, message parsing and dispatch, scheduled timers,
// one-shot signals, chat-command triggers and pluggable persistence, so
// a bot is reduced to components: small units that declare the events,
// triggers and timers they want and get loaded by name from
// configuration.
package goaib

// Version is reported in the USER realname when the configuration asks
// for it with the {version} token.
const Version = "0.1.0"
