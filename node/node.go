/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package node

import (
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"

	"brb/conn"
)

// A Node runs the broadcast protocol for one cluster member. All protocol
// state is mutated by a single event loop that consumes parsed messages
// and timer ticks from one queue; connection read loops and per-peer
// senders only move bytes.
type Node struct {
	log   Logger
	clock clockwork.Clock

	id        int32
	ip        string
	peerCount int // cluster size n
	fault     int // tolerated faulty nodes f

	// QuorumFactor scales f into the FIN/SUP signature threshold.
	// Adjust before Start.
	QuorumFactor int

	// EchoQuorum is how many echo signatures (own included) a round
	// needs before its FIN goes out. The default waits for the whole
	// cluster; deployments that must make progress with silent members
	// lower it to n-f. Adjust before Start.
	EchoQuorum int

	roundInterval time.Duration
	payloadSize   int
	dynamicSize   bool
	msgSizeInd    int
	sizeRounds    int
	waitForPeers  time.Duration

	staticIdentity struct {
		privateKey ed25519.PrivateKey
		publicKeys []ed25519.PublicKey
	}

	peers struct {
		byID      []*Peer // nil at the node's own index
		connected atomic.Int32
	}

	net struct {
		bind     *conn.Bind
		stopping sync.WaitGroup
	}

	// Every open connection, bound or duplicate, so shutdown can
	// unblock their read loops.
	conns struct {
		sync.Mutex
		open map[*conn.Conn]struct{}
	}

	queue struct {
		events chan event
	}

	state struct {
		sync.Mutex
		rounds       map[int32]*roundState
		highestRound int32
		nextRound    int32
		payloads     []map[int32][]byte // per sender: round -> payload
	}

	stats stats

	signals struct {
		stop     chan struct{}
		loopDone chan struct{}
	}

	isUp     atomic.Bool
	isClosed atomic.Bool
}

// event is one unit of event-loop work: a parsed message together with
// the connection it arrived on and its accounted body size.
type event struct {
	opcode byte
	msg    interface{}
	size   int
	c      *conn.Conn
}

// NewNode builds a node from the cluster config and its key material.
func NewNode(cfg *Config, id int, priv ed25519.PrivateKey, pubs []ed25519.PublicKey, logger Logger) *Node {
	node := &Node{
		log:           logger,
		clock:         clockwork.NewRealClock(),
		id:            int32(id),
		ip:            cfg.Addrs[id],
		peerCount:     cfg.NodeCount,
		fault:         cfg.Fault(),
		QuorumFactor:  DefaultQuorumFactor,
		EchoQuorum:    cfg.NodeCount,
		roundInterval: cfg.RoundInterval,
		payloadSize:   cfg.PayloadSize,
		dynamicSize:   cfg.DynamicMsgSize,
		msgSizeInd:    dynamicSizeStartIndex,
		sizeRounds:    dynamicSizeRounds,
		waitForPeers:  WaitForPeersConnection,
	}

	node.staticIdentity.privateKey = priv
	node.staticIdentity.publicKeys = pubs

	node.peers.byID = make([]*Peer, cfg.NodeCount)
	for i, addr := range cfg.Addrs {
		if i == id {
			continue
		}
		node.peers.byID[i] = &Peer{
			id:          int32(i),
			endpoint:    addr,
			fingerprint: keyFingerprint(pubs[i]),
			node:        node,
		}
	}

	node.conns.open = make(map[*conn.Conn]struct{})
	node.queue.events = make(chan event, QueueEventSize)
	node.state.rounds = make(map[int32]*roundState)
	node.state.payloads = make([]map[int32][]byte, cfg.NodeCount)
	for i := range node.state.payloads {
		node.state.payloads[i] = make(map[int32][]byte)
	}

	node.signals.stop = make(chan struct{})
	node.signals.loopDone = make(chan struct{})

	return node
}

// UseClock swaps the scheduling clock. Call before Start.
func (node *Node) UseClock(clock clockwork.Clock) {
	node.clock = clock
}

// Start opens the listener, begins dialing every peer, and launches the
// event loop. The first round fires after the peer-connection grace
// period.
func (node *Node) Start() error {
	bind, err := conn.Listen(node.ip, 3*node.peerCount)
	if err != nil {
		return err
	}
	node.net.bind = bind
	node.isUp.Store(true)

	node.log.Infof("listening on %s (key %s)", node.ip, keyFingerprint(node.staticIdentity.publicKeys[node.id]))

	node.net.stopping.Add(1)
	go node.routineAcceptor(bind)

	for _, peer := range node.peers.byID {
		if peer == nil {
			continue
		}
		node.net.stopping.Add(1)
		go node.routineDialer(peer)
	}

	go node.routineEventLoop()
	return nil
}

// Close stops the event loop and tears down every connection. Calls after
// the first return immediately.
func (node *Node) Close() {
	if node.isClosed.Swap(true) {
		return
	}
	node.isUp.Store(false)
	close(node.signals.stop)
	if node.net.bind != nil {
		node.net.bind.Close()
	}
	for _, peer := range node.peers.byID {
		if peer != nil {
			peer.shutdown()
		}
	}
	node.conns.Lock()
	for c := range node.conns.open {
		c.Close()
	}
	node.conns.Unlock()
	<-node.signals.loopDone
	node.net.stopping.Wait()
	node.log.Infof("closed")
}

func (node *Node) routineAcceptor(bind *conn.Bind) {
	defer node.net.stopping.Done()
	for {
		c, err := bind.Accept()
		if err != nil {
			return
		}
		node.handleNewConn(c)
	}
}

// routineDialer keeps one outbound dial attempt going until either
// direction binds the peer or the node shuts down.
func (node *Node) routineDialer(peer *Peer) {
	defer node.net.stopping.Done()
	for {
		if peer.isBound.Load() || node.isClosed.Load() {
			return
		}
		c, err := conn.Dial(peer.endpoint)
		if err == nil {
			node.handleNewConn(c)
			return
		}
		select {
		case <-node.signals.stop:
			return
		case <-time.After(dialRetryInterval):
		}
	}
}

// handleNewConn announces our identity on a fresh connection, in either
// direction, and hands it to a read loop. The connection joins the
// registry only once the remote's ACK arrives.
func (node *Node) handleNewConn(c *conn.Conn) {
	ack := MsgACK{Sender: node.id}
	if err := c.WriteFrame(OpACK, ack.Marshal()); err != nil {
		node.log.Debugf("handshake write to %v failed: %v", c.RemoteAddr(), err)
		c.Close()
		return
	}
	node.conns.Lock()
	node.conns.open[c] = struct{}{}
	node.conns.Unlock()
	node.net.stopping.Add(1)
	go node.routineReceiveFromConn(c)
}

func (node *Node) forgetConn(c *conn.Conn) {
	node.conns.Lock()
	delete(node.conns.open, c)
	node.conns.Unlock()
	c.Close()
}

// routineReceiveFromConn decodes frames off one connection and feeds the
// event loop. Malformed frames are dropped without disconnecting; stream
// errors end the loop.
func (node *Node) routineReceiveFromConn(c *conn.Conn) {
	defer node.net.stopping.Done()
	defer node.forgetConn(c)
	for {
		frame, err := c.ReadFrame()
		if err != nil {
			node.log.Debugf("connection %v closed: %v", c.RemoteAddr(), err)
			return
		}
		msg, err := ParseMessage(frame.Opcode, frame.Body)
		if err != nil {
			node.log.Debugf("dropping malformed frame from %v: %v", c.RemoteAddr(), err)
			continue
		}
		select {
		case node.queue.events <- event{opcode: frame.Opcode, msg: msg, size: frame.Size(), c: c}:
		case <-node.signals.stop:
			return
		}
	}
}

func (node *Node) routineEventLoop() {
	defer close(node.signals.loopDone)
	timer := node.clock.NewTimer(node.waitForPeers)
	defer timer.Stop()
	for {
		select {
		case <-node.signals.stop:
			return
		case <-timer.Chan():
			node.startRound()
			timer.Reset(node.roundInterval)
		case ev := <-node.queue.events:
			node.handleEvent(ev)
		}
	}
}

func (node *Node) peer(id int32) *Peer {
	if id < 0 || int(id) >= node.peerCount || id == node.id {
		return nil
	}
	return node.peers.byID[id]
}

func (node *Node) publicKey(id int32) (ed25519.PublicKey, bool) {
	if id < 0 || int(id) >= node.peerCount {
		return nil, false
	}
	return node.staticIdentity.publicKeys[id], true
}

// broadcast queues one frame to every bound peer and accounts the bytes.
func (node *Node) broadcast(opcode byte, body []byte) {
	for _, peer := range node.peers.byID {
		if peer == nil {
			continue
		}
		peer.sendFrame(opcode, body)
	}
}

// quorumThreshold is the minimum signature count a FIN or SUP must carry.
func (node *Node) quorumThreshold() int {
	return node.QuorumFactor * node.fault
}

/* Accessors for observers (tests, shutdown reporting). They take the
 * state lock; the event loop holds it while mutating. */

// ConnectedPeers reports how many peers currently have a bound
// connection.
func (node *Node) ConnectedPeers() int {
	return int(node.peers.connected.Load())
}

// Delivered reports whether origin's broadcast for round r has been
// delivered at this node.
func (node *Node) Delivered(origin, r int) bool {
	node.state.Lock()
	defer node.state.Unlock()
	st, ok := node.state.rounds[int32(r)]
	if !ok || origin < 0 || origin >= len(st.delivered) {
		return false
	}
	return st.delivered[origin]
}

// HighestRound reports the largest round number seen so far, -1 before
// any round exists.
func (node *Node) HighestRound() int {
	node.state.Lock()
	defer node.state.Unlock()
	if len(node.state.rounds) == 0 {
		return -1
	}
	return int(node.state.highestRound)
}
