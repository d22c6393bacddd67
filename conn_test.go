// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"runtime"
	"testing"
	"time"
)

func pipeSocket() (*lineSocket, net.Conn) {
	client, server := net.Pipe()
	sock := newLineSocketConn(client, log.New(io.Discard, "", 0))
	return sock, server
}

func TestLineSocketRead(t *testing.T) {
	sock, server := pipeSocket()

	done := make(chan error, 1)
	go func() { done <- sock.run() }()

	go func() {
		server.Write([]byte("first line\r\nsec"))
		server.Write([]byte("ond\r\n"))
		server.Close()
	}()

	for _, want := range []string{"first line", "second"} {
		line, ok := sock.readline()
		if !ok {
			t.Fatalf("readline closed early, want %q", want)
		}
		if line != want {
			t.Errorf("readline = %q, want %q", line, want)
		}
	}

	if line, ok := sock.readline(); ok {
		t.Errorf("readline after close = %q, want closed", line)
	}

	select {
	case err := <-done:
		var serr *SocketError
		if !errors.As(err, &serr) || serr.Reason != "EOF" {
			t.Errorf("run() = %v, want EOF socket error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run() did not return")
	}
}

// Lines already buffered when the connection drops must still be
// delivered.
func TestLineSocketDrainBeforeEOF(t *testing.T) {
	sock, server := pipeSocket()

	done := make(chan error, 1)
	go func() { done <- sock.run() }()

	go func() {
		server.Write([]byte("a\r\nb\r\n"))
		server.Close()
	}()

	var got []string
	for {
		line, ok := sock.readline()
		if !ok {
			break
		}
		got = append(got, line)
	}

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("drained lines = %q, want [a b]", got)
	}
	<-done
}

func TestLineSocketWrite(t *testing.T) {
	sock, server := pipeSocket()

	go sock.run()
	defer server.Close()

	sock.writeline("NICK tester")

	reader := bufio.NewReader(server)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))

	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading written line: %v", err)
	}
	if line != "NICK tester\r\n" {
		t.Errorf("wire bytes = %q, want CRLF framing", line)
	}
}

// Teardown while the reader is parked on a full inbound queue must not
// crash; the queued lines stay readable and readline still reports the
// close.
func TestLineSocketCloseWithFullReadQueue(t *testing.T) {
	sock, server := pipeSocket()

	done := make(chan error, 1)
	go func() { done <- sock.run() }()

	// More lines than the queue holds, so readLoop wedges on the send.
	var blob bytes.Buffer
	for i := 0; i < queueDepth+6; i++ {
		fmt.Fprintf(&blob, "line %02d\r\n", i)
	}
	if _, err := server.Write(blob.Bytes()); err != nil {
		t.Fatalf("feeding lines: %v", err)
	}

	// Now fail the writer side and tear down.
	server.Close()
	sock.writeline("PING :anyone")

	select {
	case <-done:
	case <-time.After(defaultTestWait):
		t.Fatal("run() never returned")
	}

	var drained int
	for {
		if _, ok := sock.readline(); !ok {
			break
		}
		drained++
	}
	if drained < queueDepth {
		t.Errorf("drained %d lines, want at least %d", drained, queueDepth)
	}
}

// A dead socket leaves nothing behind servicing the outbound queue, and
// late writes against it return instead of blocking.
func TestLineSocketWriterExits(t *testing.T) {
	before := runtime.NumGoroutine()

	sock, server := pipeSocket()
	done := make(chan error, 1)
	go func() { done <- sock.run() }()

	server.Close()
	select {
	case <-done:
	case <-time.After(defaultTestWait):
		t.Fatal("run() never returned")
	}

	if !waitFor(defaultTestWait, func() bool {
		return runtime.NumGoroutine() <= before
	}) {
		t.Errorf("goroutines = %d, want back to %d", runtime.NumGoroutine(), before)
	}

	finished := make(chan struct{})
	go func() {
		for i := 0; i < queueDepth*2; i++ {
			sock.writeline("late line")
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(defaultTestWait):
		t.Error("writeline blocked on a dead socket")
	}
}

func TestSanitizeUTF8(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{[]byte("plain ascii"), "plain ascii"},
		{[]byte("caf\xc3\xa9"), "café"},
		{[]byte("bad\xffbyte"), "badbyte"},
		{[]byte{0xff, 0xfe}, ""},
	}

	for _, tt := range tests {
		if got := sanitizeUTF8(tt.in); got != tt.want {
			t.Errorf("sanitizeUTF8(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSocketErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &SocketError{Reason: "read", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("SocketError does not unwrap to its cause")
	}
	if err.Error() != "socket: read: inner" {
		t.Errorf("Error() = %q", err.Error())
	}
}
