// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"golang.org/x/net/proxy"
)

// Lines are CRLF delimited on the wire; the delimiter is stripped during
// reads and appended during writes.
var endline = []byte("\r\n")

const (
	// connectTimeout is the per-address dial timeout.
	connectTimeout = 10 * time.Second
	// ioChunk is the read/write chunk size for the socket loops.
	ioChunk = 4096
	// queueDepth bounds the inbound and outbound line queues.
	queueDepth = 64
)

// SocketError is the only error surfaced by the line socket. Reason is a
// short description of what went wrong; recovery happens at the Client
// layer by reconnecting.
type SocketError struct {
	Reason string
	Err    error
}

func (e *SocketError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("socket: %s: %s", e.Reason, e.Err)
	}
	return "socket: " + e.Reason
}

func (e *SocketError) Unwrap() error { return e.Err }

// lineSocket is a bidirectional CRLF-framed text channel to a remote
// host/port, optionally wrapped in TLS. Reads and writes are serviced by
// two cooperating goroutines started by run; callers only touch readline
// and writeline.
type lineSocket struct {
	host  string
	port  int
	ssl   bool
	proxy string

	// tlsConfig is an optional user-supplied tls configuration, used
	// during socket creation to the server.
	tlsConfig *tls.Config

	conn net.Conn
	in   chan string
	out  chan string

	// done is closed by close and tells the loops to stop. readLoop is
	// the only closer of in, so nothing ever sends on a closed channel.
	done chan struct{}

	closer sync.Once
	debug  *log.Logger
}

func newLineSocket(host string, port int, ssl bool, tlsConfig *tls.Config, proxyAddr string, debug *log.Logger) *lineSocket {
	return &lineSocket{
		host:      host,
		port:      port,
		ssl:       ssl,
		proxy:     proxyAddr,
		tlsConfig: tlsConfig,
		in:        make(chan string, queueDepth),
		out:       make(chan string, queueDepth),
		done:      make(chan struct{}),
		debug:     debug,
	}
}

// newLineSocketConn wraps an already-established connection, e.g. a
// net.Pipe end during testing.
func newLineSocketConn(conn net.Conn, debug *log.Logger) *lineSocket {
	s := newLineSocket("", 0, false, nil, "", debug)
	s.conn = conn
	return s
}

// connect resolves the host and attempts each resolved address in order,
// returning once the first connection (and TLS handshake, if requested)
// succeeds. The per-address timeout is connectTimeout.
func (s *lineSocket) connect() error {
	if s.conn != nil {
		return nil
	}

	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	if s.proxy != "" {
		conn, err := s.dialProxy(dialer)
		if err != nil {
			return err
		}
		return s.finish(conn)
	}

	addrs, err := net.LookupHost(s.host)
	if err != nil {
		return &SocketError{Reason: "resolving " + s.host, Err: err}
	}

	var lastErr error
	for _, addr := range addrs {
		target := net.JoinHostPort(addr, strconv.Itoa(s.port))
		s.debug.Printf("trying connect(%s)", target)

		conn, err := dialer.Dial("tcp", target)
		if err != nil {
			lastErr = err
			continue
		}

		if err = s.finish(conn); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("no addresses resolved")
	}
	return &SocketError{Reason: "connecting to " + s.host, Err: lastErr}
}

func (s *lineSocket) dialProxy(dialer *net.Dialer) (net.Conn, error) {
	proxyURI, err := url.Parse(s.proxy)
	if err != nil {
		return nil, &SocketError{Reason: "unable to use proxy " + s.proxy, Err: err}
	}

	proxyDialer, err := proxy.FromURL(proxyURI, dialer)
	if err != nil {
		return nil, &SocketError{Reason: "unable to use proxy " + s.proxy, Err: err}
	}

	conn, err := proxyDialer.Dial("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return nil, &SocketError{Reason: "unable to connect through proxy", Err: err}
	}
	return conn, nil
}

// finish applies the TLS wrap to a freshly dialed connection.
func (s *lineSocket) finish(conn net.Conn) error {
	if s.ssl {
		conf := s.tlsConfig
		if conf == nil {
			conf = &tls.Config{ServerName: s.host}
		}

		tlsConn := tls.Client(conn, conf)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return &SocketError{Reason: "tls handshake with " + s.host, Err: err}
		}
		conn = tlsConn
	}

	s.debug.Print("connection open")
	s.conn = conn
	return nil
}

// run services the reader and writer loops, blocking until either fails.
// close then stops the surviving loop; readLoop closes the inbound queue
// on its way out so pending readline calls unblock.
func (s *lineSocket) run() error {
	errc := make(chan error, 2)

	go s.readLoop(errc)
	go s.writeLoop(errc)

	err := <-errc
	s.close()
	return err
}

func (s *lineSocket) close() {
	s.closer.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// readline blocks until the next complete line is available. ok is false
// once the socket has failed and the inbound queue is drained.
func (s *lineSocket) readline() (line string, ok bool) {
	line, ok = <-s.in
	return line, ok
}

// writeline enqueues text followed by CRLF for the writer loop. It never
// blocks for socket I/O, only for queue space, and becomes a no-op once
// the socket is closed.
func (s *lineSocket) writeline(text string) {
	select {
	case s.out <- text:
	case <-s.done:
	}
}

// readLoop fills the read buffer in bounded chunks and slices complete
// lines onto the inbound queue. Any complete lines already buffered are
// drained before an EOF is reported. It owns the inbound queue and
// closes it on exit, including when close fires while a send is stuck
// on a full queue.
func (s *lineSocket) readLoop(errc chan<- error) {
	defer close(s.in)

	var buf []byte
	chunk := make([]byte, ioChunk)

	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			for {
				i := bytes.Index(buf, endline)
				if i < 0 {
					break
				}
				select {
				case s.in <- sanitizeUTF8(buf[:i]):
				case <-s.done:
					return
				}
				buf = buf[i+len(endline):]
			}
		}

		if err != nil {
			if err == io.EOF {
				errc <- &SocketError{Reason: "EOF"}
			} else {
				errc <- &SocketError{Reason: "read", Err: err}
			}
			return
		}
	}
}

// writeLoop drains the outbound queue, appending CRLF and pushing the
// bytes out in bounded chunks. It exits when the socket is closed.
func (s *lineSocket) writeLoop(errc chan<- error) {
	for {
		var line string
		select {
		case line = <-s.out:
		case <-s.done:
			return
		}

		buf := append([]byte(line), endline...)
		for len(buf) > 0 {
			n := len(buf)
			if n > ioChunk {
				n = ioChunk
			}

			w, err := s.conn.Write(buf[:n])
			if err != nil {
				if errors.Is(err, syscall.EPIPE) {
					errc <- &SocketError{Reason: "Broken Pipe", Err: err}
				} else {
					errc <- &SocketError{Reason: "write", Err: err}
				}
				return
			}
			buf = buf[w:]
		}
	}
}

// sanitizeUTF8 decodes raw bytes as UTF-8, dropping malformed bytes
// rather than replacing them.
func sanitizeUTF8(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}

	var out strings.Builder
	out.Grow(len(raw))
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		if r == utf8.RuneError && size == 1 {
			raw = raw[1:]
			continue
		}
		out.WriteRune(r)
		raw = raw[size:]
	}
	return out.String()
}
