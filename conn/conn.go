/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package conn implements the cluster's framed TCP message transport.
package conn

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/netutil"
)

const (
	// MaxFrameSize bounds a single message frame, opcode byte included.
	MaxFrameSize = 40 * 1024 * 1024

	lengthPrefixSize = 4

	dialTimeout = 3 * time.Second
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrEmptyFrame    = errors.New("frame carries no opcode")
)

// A Frame is one decoded transport unit: an opcode byte followed by an
// opaque body. Framing on the wire is a little-endian u32 length prefix
// covering the opcode and body.
type Frame struct {
	Opcode byte
	Body   []byte
}

// Size reports the body length, which is what the throughput counters
// account for.
func (f *Frame) Size() int { return len(f.Body) }

// A Conn is a single framed stream to one remote node. Reads are owned by
// exactly one receive loop; writes may come from multiple goroutines and
// are serialized internally.
type Conn struct {
	tcp net.Conn

	writeMu sync.Mutex

	reader io.Reader
}

func newConn(tcp net.Conn) *Conn {
	return &Conn{tcp: tcp, reader: tcp}
}

// WrapConn adapts an established stream (for tests, typically one end of
// a net.Pipe) into a framed Conn.
func WrapConn(tcp net.Conn) *Conn {
	return newConn(tcp)
}

// WriteFrame encodes and sends one frame. Safe for concurrent use.
func (c *Conn) WriteFrame(opcode byte, body []byte) error {
	if len(body)+1 > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var header [lengthPrefixSize + 1]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(body)+1))
	header[lengthPrefixSize] = opcode

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.tcp.Write(header[:]); err != nil {
		return errors.Wrap(err, "write frame header")
	}
	if _, err := c.tcp.Write(body); err != nil {
		return errors.Wrap(err, "write frame body")
	}
	return nil
}

// ReadFrame blocks until a full frame has arrived. It must only be called
// from the connection's single receive loop.
func (c *Conn) ReadFrame() (Frame, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(c.reader, prefix[:]); err != nil {
		return Frame{}, err
	}
	length := binary.LittleEndian.Uint32(prefix[:])
	if length == 0 {
		return Frame{}, ErrEmptyFrame
	}
	if length > MaxFrameSize {
		return Frame{}, ErrFrameTooLarge
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return Frame{}, err
	}
	return Frame{Opcode: buf[0], Body: buf[1:]}, nil
}

func (c *Conn) Close() error { return c.tcp.Close() }

func (c *Conn) RemoteAddr() net.Addr { return c.tcp.RemoteAddr() }

func (c *Conn) LocalAddr() net.Addr { return c.tcp.LocalAddr() }

// A Bind owns the node's listening socket. Membership is fixed, so the
// listener is capped at a small multiple of the cluster size: every peer
// holds at most one bound connection plus a possible duplicate from
// simultaneous dialing.
type Bind struct {
	listener net.Listener
}

// Listen opens the node's listening socket on addr. maxConns caps the
// number of concurrently accepted connections.
func Listen(addr string, maxConns int) (*Bind, error) {
	lc := net.ListenConfig{Control: controlSocket}
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	return &Bind{listener: netutil.LimitListener(listener, maxConns)}, nil
}

// Accept blocks for the next inbound connection. It returns an error once
// the Bind has been closed.
func (b *Bind) Accept() (*Conn, error) {
	tcp, err := b.listener.Accept()
	if err != nil {
		return nil, err
	}
	if t, ok := tcp.(*net.TCPConn); ok {
		t.SetNoDelay(true)
	}
	return newConn(tcp), nil
}

func (b *Bind) Addr() net.Addr { return b.listener.Addr() }

func (b *Bind) Close() error { return b.listener.Close() }

// Dial opens an outbound connection to a peer endpoint.
func Dial(addr string) (*Conn, error) {
	tcp, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	if t, ok := tcp.(*net.TCPConn); ok {
		t.SetNoDelay(true)
	}
	return newConn(tcp), nil
}
