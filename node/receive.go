/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package node

import (
	"crypto/ed25519"
	"time"

	mapset "github.com/deckarep/golang-set"

	"brb/conn"
)

/* All handlers run on the event loop, so per-round state has a single
 * writer. The state lock is held only around mutation so that external
 * accessors and signature verification don't contend.
 */

func (node *Node) handleEvent(ev event) {
	node.stats.addRecv(ev.opcode, ev.size)
	switch msg := ev.msg.(type) {
	case *MsgACK:
		node.onACK(msg, ev.c)
	case *MsgSEND:
		node.onSEND(msg, ev.c)
	case *MsgECHO:
		node.onECHO(msg)
	case *MsgFIN:
		node.onFIN(msg)
	case *MsgSUP:
		node.onSUP(msg)
	}
}

// onACK binds the connection to the announced peer. A peer that is
// already bound keeps its registered connection; the duplicate stays
// open and readable but is never written to.
func (node *Node) onACK(msg *MsgACK, c *conn.Conn) {
	peer := node.peer(msg.Sender)
	if peer == nil {
		node.log.Debugf("dropping ack for unknown index %d", msg.Sender)
		return
	}
	if peer.attach(c) {
		node.peers.connected.Inc()
		node.log.Infof("%v connected (%d/%d)", peer, node.ConnectedPeers(), node.peerCount-1)
	} else {
		node.log.Debugf("%v: duplicate connection ignored", peer)
	}
}

// onSEND records the originator's payload and answers with a signature
// over it, back on the connection the SEND arrived on. The echo carries
// no payload; the originator verifies against the payload it sent.
func (node *Node) onSEND(msg *MsgSEND, c *conn.Conn) {
	if node.peer(msg.Sender) == nil {
		node.log.Debugf("dropping send from unknown index %d", msg.Sender)
		return
	}

	node.state.Lock()
	fresh := node.recordPayload(msg.Sender, msg.Round, msg.Payload)
	node.state.Unlock()
	if !fresh {
		node.log.Debugf("duplicate payload from %02d round %d", msg.Sender, msg.Round)
		return
	}
	node.log.Debugf("received send from %02d round %d, %d bytes", msg.Sender, msg.Round, len(msg.Payload))

	sig := signatureOf(ed25519.Sign(node.staticIdentity.privateKey, msg.Payload))
	echo := MsgECHO{IP: node.ip, Sender: node.id, Round: msg.Round, Signature: sig}
	body := echo.Marshal()
	if err := c.WriteFrame(OpECHO, body); err != nil {
		node.log.Errorf("echo to %02d failed: %v", msg.Sender, err)
		return
	}
	node.stats.addSent(OpECHO, len(body))
}

// onECHO collects a peer's signature over our own round payload. When the
// echo count reaches EchoQuorum (the cluster size by default) the round's
// FIN and SUP go out, exactly once.
func (node *Node) onECHO(msg *MsgECHO) {
	sender := msg.Sender
	r := msg.Round
	pk, ok := node.publicKey(sender)
	if !ok || sender == node.id {
		node.log.Debugf("dropping echo attributed to index %d", sender)
		return
	}

	node.state.Lock()
	payload, have := node.payloadFor(node.id, r)
	node.state.Unlock()
	if !have {
		node.log.Debugf("echo from %02d for unstarted round %d", sender, r)
		return
	}

	if !ed25519.Verify(pk, payload, msg.Signature[:]) {
		node.log.Errorf("echo from %02d round %d: incorrect signature", sender, r)
		return
	}

	now := node.clock.Now()

	node.state.Lock()
	st := node.round(r)
	if !st.addSignature(sender, msg.Signature) {
		node.state.Unlock()
		node.log.Debugf("echo from %02d round %d: already counted", sender, r)
		return
	}

	if st.echoCount < node.EchoQuorum || st.finSent {
		node.state.Unlock()
		return
	}
	st.finSent = true
	st.send2echo = now.Sub(st.start)
	sigs := st.sigSnapshot()
	node.noteFinArrival(st, now)
	node.state.Unlock()

	node.log.Debugf("round %d echo quorum reached, sending fin", r)

	fin := MsgFIN{IP: node.ip, Sender: node.id, Round: r, Sigs: sigs}
	node.broadcast(OpFIN, fin.Marshal())

	sup := MsgSUP{IP: node.ip, Sender: node.id, Round: r, OriginalSender: node.id, Sigs: sigs}
	node.broadcast(OpSUP, sup.Marshal())

	node.state.Lock()
	node.countSup(st, node.id, r, now)
	node.state.Unlock()
}

// onFIN validates the quorum certificate for the sender's round and
// amplifies it as a SUP naming the sender.
func (node *Node) onFIN(msg *MsgFIN) {
	sender := msg.Sender
	r := msg.Round
	if node.peer(sender) == nil {
		node.log.Debugf("dropping fin from unknown index %d", sender)
		return
	}
	if !node.verifySigList(msg.Sigs, sender, r, "fin") {
		return
	}

	sup := MsgSUP{IP: node.ip, Sender: node.id, Round: r, OriginalSender: sender, Sigs: msg.Sigs}
	node.broadcast(OpSUP, sup.Marshal())

	now := node.clock.Now()
	node.state.Lock()
	st := node.round(r)
	node.noteFinArrival(st, now)
	node.countSup(st, sender, r, now)
	node.state.Unlock()
}

// onSUP counts amplification votes for (original sender, round) and
// latches delivery at n-1 of them.
func (node *Node) onSUP(msg *MsgSUP) {
	origin := msg.OriginalSender
	r := msg.Round
	if origin < 0 || int(origin) >= node.peerCount {
		node.log.Debugf("dropping sup naming unknown index %d", origin)
		return
	}
	if !node.verifySigList(msg.Sigs, origin, r, "sup") {
		return
	}

	now := node.clock.Now()

	node.state.Lock()
	defer node.state.Unlock()
	node.countSup(node.round(r), origin, r, now)
}

// countSup counts one amplification vote for (origin, round): a received
// SUP, or our own emission. The vote we cast ourselves is what lets the
// n-1 threshold hold when a peer stays silent. Delivery latches on the
// threshold crossing. Callers hold the state lock.
func (node *Node) countSup(st *roundState, origin, r int32, now time.Time) {
	st.supCount[origin]++
	if st.supCount[origin] < node.peerCount-1 || st.delivered[origin] {
		return
	}
	st.delivered[origin] = true
	node.log.Infof("round %d from %02d delivered", r, origin)
	if origin == node.id && !st.start.IsZero() {
		st.send2delivered = now.Sub(st.start)
	}
}

// verifySigList enforces the quorum certificate rules shared by FIN and
// SUP: enough signatures from distinct nodes, every one of them valid
// over the payload we hold for (origin, round). Any failure rejects the
// whole message.
func (node *Node) verifySigList(sigs []NodeSig, origin, r int32, kind string) bool {
	distinct := mapset.NewSet()
	for i := range sigs {
		distinct.Add(sigs[i].Node)
	}
	if distinct.Cardinality() < node.quorumThreshold() {
		node.log.Errorf("%s for %02d round %d: %d signatures, need %d", kind, origin, r, distinct.Cardinality(), node.quorumThreshold())
		return false
	}

	node.state.Lock()
	payload, have := node.payloadFor(origin, r)
	node.state.Unlock()
	if !have {
		node.log.Debugf("%s for %02d round %d: payload not yet known", kind, origin, r)
		return false
	}

	for i := range sigs {
		pk, ok := node.publicKey(sigs[i].Node)
		if !ok {
			node.log.Errorf("%s for %02d round %d: unknown signer %d", kind, origin, r, sigs[i].Node)
			return false
		}
		if !ed25519.Verify(pk, payload, sigs[i].Sig[:]) {
			node.log.Errorf("%s for %02d round %d: incorrect signature from %02d", kind, origin, r, sigs[i].Node)
			return false
		}
	}
	return true
}

// noteFinArrival tracks FIN arrivals for a round: ours from the echo
// threshold plus one per peer. The first stamps the FIN window start; the
// n-th closes both latency windows. Callers hold the state lock.
func (node *Node) noteFinArrival(st *roundState, now time.Time) {
	st.finCount++
	switch {
	case st.finCount == 1:
		st.finStart = now
	case st.finCount == node.peerCount:
		if !st.start.IsZero() {
			st.send2fin = now.Sub(st.start)
		}
		st.fin2fin = now.Sub(st.finStart)
	}
}
