/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package node

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"brb/conn"
)

// A Peer is one remote cluster member. The peer table is fixed at
// construction; what changes at runtime is whether a connection is bound.
// Binding happens exactly once per ACK exchange: the first connection
// that delivers the peer's ACK wins, later duplicates stay unregistered
// (their read side keeps running, their write side is never used).
type Peer struct {
	id          int32
	endpoint    string
	fingerprint string
	node        *Node

	isBound atomic.Bool

	mu   sync.Mutex
	conn *conn.Conn

	queue struct {
		outbound chan outboundElement
	}
}

type outboundElement struct {
	opcode byte
	body   []byte
}

// String returns the short log identifier for this peer.
func (peer *Peer) String() string {
	return fmt.Sprintf("peer(%02d %s)", peer.id, peer.fingerprint)
}

// attach binds c as the peer's registered connection and starts its
// sequential sender. Reports false if the peer is already bound.
func (peer *Peer) attach(c *conn.Conn) bool {
	peer.mu.Lock()
	defer peer.mu.Unlock()

	if peer.isBound.Load() {
		return false
	}
	peer.conn = c
	peer.queue.outbound = make(chan outboundElement, QueueOutboundSize)
	peer.isBound.Store(true)
	go peer.routineSequentialSender(c, peer.queue.outbound)
	return true
}

// sendFrame queues one frame for the peer. Unbound peers and full queues
// drop the frame; the protocol's redundant SUP broadcast absorbs the
// loss.
func (peer *Peer) sendFrame(opcode byte, body []byte) {
	if !peer.isBound.Load() {
		peer.node.log.Debugf("%v: dropping opcode %#02x, not connected", peer, opcode)
		return
	}
	peer.mu.Lock()
	queue := peer.queue.outbound
	peer.mu.Unlock()
	if queue == nil {
		return
	}
	select {
	case queue <- outboundElement{opcode: opcode, body: body}:
	default:
		peer.node.log.Errorf("%v: outbound queue full, dropping opcode %#02x", peer, opcode)
	}
}

// routineSequentialSender drains the outbound queue onto the bound
// connection, preserving per-peer ordering. A write failure unbinds the
// peer; messages from it may still arrive on whatever read loops remain.
func (peer *Peer) routineSequentialSender(c *conn.Conn, queue chan outboundElement) {
	node := peer.node
	node.log.Debugf("%v: sender started", peer)
	defer node.log.Debugf("%v: sender stopped", peer)

	for {
		select {
		case <-node.signals.stop:
			return
		case elem := <-queue:
			if err := c.WriteFrame(elem.opcode, elem.body); err != nil {
				node.log.Errorf("%v: write failed: %v", peer, err)
				peer.unbind(c)
				return
			}
			node.stats.addSent(elem.opcode, len(elem.body))
		}
	}
}

func (peer *Peer) unbind(c *conn.Conn) {
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.conn != c {
		return
	}
	peer.conn = nil
	peer.queue.outbound = nil
	peer.isBound.Store(false)
	peer.node.peers.connected.Dec()
	c.Close()
}

// shutdown closes the bound connection, if any, unblocking the read loop.
func (peer *Peer) shutdown() {
	peer.mu.Lock()
	c := peer.conn
	peer.mu.Unlock()
	if c != nil {
		c.Close()
	}
}
