/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package node

/* Drive the protocol handlers directly, with every peer connection
 * replaced by an in-memory pipe whose far end records what the node
 * sends.
 */

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"brb/conn"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []conn.Frame
}

func (rec *frameRecorder) run(c *conn.Conn) {
	for {
		f, err := c.ReadFrame()
		if err != nil {
			return
		}
		rec.mu.Lock()
		rec.frames = append(rec.frames, f)
		rec.mu.Unlock()
	}
}

func (rec *frameRecorder) count(opcode byte) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	n := 0
	for _, f := range rec.frames {
		if f.Opcode == opcode {
			n++
		}
	}
	return n
}

type harness struct {
	node  *Node
	clock clockwork.FakeClock
	keys  []ed25519.PrivateKey
	peers map[int32]*frameRecorder
}

func newHarness(t *testing.T, size, id int) *harness {
	t.Helper()

	cfg := &Config{
		NodeCount:     size,
		RoundInterval: 2 * time.Second,
		PayloadSize:   64,
	}
	keys := make([]ed25519.PrivateKey, size)
	pubs := make([]ed25519.PublicKey, size)
	for i := 0; i < size; i++ {
		var err error
		pubs[i], keys[i], err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		cfg.Addrs = append(cfg.Addrs, fmt.Sprintf("127.0.0.1:%d", 19000+i))
	}

	h := &harness{
		node:  NewNode(cfg, id, keys[id], pubs, NewLogger(LogLevelSilent, id)),
		clock: clockwork.NewFakeClock(),
		keys:  keys,
		peers: make(map[int32]*frameRecorder),
	}
	h.node.UseClock(h.clock)
	t.Cleanup(func() { close(h.node.signals.stop) })

	for i := 0; i < size; i++ {
		if i == id {
			continue
		}
		local, remote := net.Pipe()
		rec := &frameRecorder{}
		go rec.run(conn.WrapConn(remote))
		if !h.node.peers.byID[i].attach(conn.WrapConn(local)) {
			t.Fatalf("peer %d did not attach", i)
		}
		h.node.peers.connected.Inc()
		h.peers[int32(i)] = rec
	}
	return h
}

// newInboundConn hands the node a fresh connection whose remote end is
// recorded, for handlers that reply on the arrival connection.
func (h *harness) newInboundConn() (*conn.Conn, *frameRecorder) {
	local, remote := net.Pipe()
	rec := &frameRecorder{}
	go rec.run(conn.WrapConn(remote))
	return conn.WrapConn(local), rec
}

func (h *harness) ownPayload(r int32) []byte {
	h.node.state.Lock()
	defer h.node.state.Unlock()
	payload, ok := h.node.payloadFor(h.node.id, r)
	if !ok {
		return nil
	}
	return payload
}

func (h *harness) echoFrom(peer int, r int32) *MsgECHO {
	sig := signatureOf(ed25519.Sign(h.keys[peer], h.ownPayload(r)))
	return &MsgECHO{
		IP:        fmt.Sprintf("127.0.0.1:%d", 19000+peer),
		Sender:    int32(peer),
		Round:     r,
		Signature: sig,
	}
}

func (h *harness) sigListOver(payload []byte, signers ...int) []NodeSig {
	sigs := make([]NodeSig, 0, len(signers))
	for _, s := range signers {
		sigs = append(sigs, NodeSig{
			Node: int32(s),
			Sig:  signatureOf(ed25519.Sign(h.keys[s], payload)),
		})
	}
	return sigs
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for", what)
}

func TestFinSentOnce(t *testing.T) {
	h := newHarness(t, 4, 0)
	h.node.startRound()

	for i := 1; i < 4; i++ {
		h.node.onECHO(h.echoFrom(i, 0))
	}

	for id, rec := range h.peers {
		rec := rec
		waitFor(t, fmt.Sprintf("peer %d fin", id), func() bool {
			return rec.count(OpSEND) == 1 && rec.count(OpFIN) == 1 && rec.count(OpSUP) == 1
		})
	}

	// Extra echoes past the quorum must not re-trigger the FIN.
	h.node.onECHO(h.echoFrom(1, 0))
	time.Sleep(50 * time.Millisecond)
	for id, rec := range h.peers {
		if got := rec.count(OpFIN); got != 1 {
			t.Errorf("peer %d saw %d fins, want 1", id, got)
		}
	}
}

func TestSignatureSetDedup(t *testing.T) {
	h := newHarness(t, 7, 0)
	h.node.startRound()

	echo := h.echoFrom(1, 0)
	h.node.onECHO(echo)
	h.node.onECHO(echo)
	h.node.onECHO(h.echoFrom(2, 0))

	h.node.state.Lock()
	st := h.node.round(0)
	count, sigs := st.echoCount, len(st.sigs)
	h.node.state.Unlock()

	if count != 3 || sigs != 3 { // self + peers 1, 2
		t.Errorf("echo count %d, signature entries %d, want 3 and 3", count, sigs)
	}
}

func TestTamperedEchoDoesNotCount(t *testing.T) {
	h := newHarness(t, 4, 0)
	h.node.startRound()

	bad := h.echoFrom(1, 0)
	bad.Signature[3] ^= 0x40
	h.node.onECHO(bad)

	h.node.state.Lock()
	count := h.node.round(0).echoCount
	h.node.state.Unlock()
	if count != 1 { // own signature only
		t.Fatalf("echo count %d after tampered echo, want 1", count)
	}

	// The tampered echo's sender recovers: its genuine echo still counts.
	h.node.onECHO(h.echoFrom(1, 0))
	h.node.onECHO(h.echoFrom(2, 0))
	h.node.onECHO(h.echoFrom(3, 0))

	for id, rec := range h.peers {
		rec := rec
		waitFor(t, fmt.Sprintf("peer %d fin", id), func() bool { return rec.count(OpFIN) == 1 })
	}
}

func TestFinReplay(t *testing.T) {
	h := newHarness(t, 4, 0)

	payload := []byte("round payload from peer one")
	c, echoRec := h.newInboundConn()
	h.node.onSEND(&MsgSEND{IP: "127.0.0.1:19001", Sender: 1, Round: 0, Payload: payload}, c)
	waitFor(t, "echo reply", func() bool { return echoRec.count(OpECHO) == 1 })

	fin := &MsgFIN{
		IP:     "127.0.0.1:19001",
		Sender: 1,
		Round:  0,
		Sigs:   h.sigListOver(payload, 1, 2, 3),
	}
	h.node.onFIN(fin)
	h.node.onFIN(fin)

	h.node.state.Lock()
	st := h.node.round(0)
	finCount, finSent := st.finCount, st.finSent
	h.node.state.Unlock()

	if finCount != 2 {
		t.Errorf("fin count %d after replay, want 2", finCount)
	}
	if finSent {
		t.Error("replayed fin must not mark our own fin as sent")
	}
	for id, rec := range h.peers {
		rec := rec
		waitFor(t, fmt.Sprintf("peer %d sup", id), func() bool { return rec.count(OpSUP) == 2 })
	}
}

func TestSupDeliveryLatches(t *testing.T) {
	h := newHarness(t, 4, 0)

	payload := []byte("broadcast from peer one")
	c, echoRec := h.newInboundConn()
	h.node.onSEND(&MsgSEND{IP: "127.0.0.1:19001", Sender: 1, Round: 0, Payload: payload}, c)
	waitFor(t, "echo reply", func() bool { return echoRec.count(OpECHO) == 1 })

	sigs := h.sigListOver(payload, 1, 2, 3)
	for _, sender := range []int32{1, 2} {
		h.node.onSUP(&MsgSUP{Sender: sender, Round: 0, OriginalSender: 1, Sigs: sigs})
	}
	if h.node.Delivered(1, 0) {
		t.Fatal("delivered below the sup threshold")
	}
	h.node.onSUP(&MsgSUP{Sender: 3, Round: 0, OriginalSender: 1, Sigs: sigs})
	if !h.node.Delivered(1, 0) {
		t.Fatal("not delivered at the sup threshold")
	}

	// Idempotent on re-entry.
	h.node.onSUP(&MsgSUP{Sender: 3, Round: 0, OriginalSender: 1, Sigs: sigs})
	if !h.node.Delivered(1, 0) {
		t.Fatal("delivery mark must latch")
	}
}

func TestFinBelowQuorumDropped(t *testing.T) {
	h := newHarness(t, 4, 0)

	payload := []byte("short certificate")
	c, echoRec := h.newInboundConn()
	h.node.onSEND(&MsgSEND{IP: "127.0.0.1:19001", Sender: 1, Round: 0, Payload: payload}, c)
	waitFor(t, "echo reply", func() bool { return echoRec.count(OpECHO) == 1 })

	h.node.onFIN(&MsgFIN{Sender: 1, Round: 0, Sigs: h.sigListOver(payload, 1)})
	time.Sleep(50 * time.Millisecond)

	h.node.state.Lock()
	finCount := h.node.round(0).finCount
	h.node.state.Unlock()
	if finCount != 0 {
		t.Errorf("fin count %d after under-quorum fin, want 0", finCount)
	}
	for id, rec := range h.peers {
		if got := rec.count(OpSUP); got != 0 {
			t.Errorf("peer %d saw %d sups, want 0", id, got)
		}
	}
}

func TestDuplicateSignersBelowQuorum(t *testing.T) {
	h := newHarness(t, 4, 0)

	payload := []byte("padded certificate")
	c, echoRec := h.newInboundConn()
	h.node.onSEND(&MsgSEND{IP: "127.0.0.1:19001", Sender: 1, Round: 0, Payload: payload}, c)
	waitFor(t, "echo reply", func() bool { return echoRec.count(OpECHO) == 1 })

	// Two entries, one distinct signer: padding must not reach the
	// threshold.
	h.node.onFIN(&MsgFIN{Sender: 1, Round: 0, Sigs: h.sigListOver(payload, 1, 1)})
	time.Sleep(50 * time.Millisecond)

	h.node.state.Lock()
	finCount := h.node.round(0).finCount
	h.node.state.Unlock()
	if finCount != 0 {
		t.Errorf("fin count %d after padded fin, want 0", finCount)
	}
}

func TestOutOfOrderRounds(t *testing.T) {
	h := newHarness(t, 4, 0)

	c, rec := h.newInboundConn()
	h.node.onSEND(&MsgSEND{Sender: 1, Round: 7, Payload: []byte("late round")}, c)
	h.node.onSEND(&MsgSEND{Sender: 1, Round: 0, Payload: []byte("early round")}, c)
	waitFor(t, "both echoes", func() bool { return rec.count(OpECHO) == 2 })

	h.node.state.Lock()
	_, have7 := h.node.payloadFor(1, 7)
	_, have0 := h.node.payloadFor(1, 0)
	h.node.state.Unlock()
	if !have7 || !have0 {
		t.Fatal("payloads for out-of-order rounds not recorded")
	}
}

func TestDuplicateSendIgnored(t *testing.T) {
	h := newHarness(t, 4, 0)

	c, rec := h.newInboundConn()
	msg := &MsgSEND{Sender: 1, Round: 0, Payload: []byte("first copy")}
	h.node.onSEND(msg, c)
	waitFor(t, "echo reply", func() bool { return rec.count(OpECHO) == 1 })

	h.node.onSEND(&MsgSEND{Sender: 1, Round: 0, Payload: []byte("second copy")}, c)
	time.Sleep(50 * time.Millisecond)
	if got := rec.count(OpECHO); got != 1 {
		t.Errorf("%d echoes after duplicate send, want 1", got)
	}

	h.node.state.Lock()
	payload, _ := h.node.payloadFor(1, 0)
	h.node.state.Unlock()
	if string(payload) != "first copy" {
		t.Errorf("payload %q, want the first copy", payload)
	}
}

func TestDynamicPayloadSchedule(t *testing.T) {
	h := newHarness(t, 4, 0)
	h.node.dynamicSize = true
	h.node.sizeRounds = 2

	// The schedule enters the table at its fixed start index and walks
	// the remaining tail, then stays on the final entry.
	wantSizes := map[int32]int{
		0: dynamicPayloadSizes[dynamicSizeStartIndex],
		1: dynamicPayloadSizes[dynamicSizeStartIndex],
		2: dynamicPayloadSizes[dynamicSizeStartIndex+1],
		3: dynamicPayloadSizes[dynamicSizeStartIndex+1],
		4: dynamicPayloadSizes[dynamicSizeStartIndex+1],
	}
	for r := int32(0); r <= 4; r++ {
		got := len(h.node.composePayload(r))
		if got != wantSizes[r] {
			t.Errorf("round %d payload %d bytes, want %d", r, got, wantSizes[r])
		}
	}

	last := len(dynamicPayloadSizes) - 1
	if got := len(h.node.composePayload(100)); got != dynamicPayloadSizes[last] {
		t.Errorf("exhausted schedule payload %d bytes", got)
	}
}

func TestRoundSentinelVaries(t *testing.T) {
	h := newHarness(t, 4, 0)
	p0 := h.node.composePayload(0)
	p1 := h.node.composePayload(1)
	if p0[0] == p1[0] {
		t.Error("consecutive rounds share the same sentinel byte")
	}
	if len(p0) != 64 {
		t.Errorf("payload %d bytes, want configured 64", len(p0))
	}
}

func TestWriteEvalFiles(t *testing.T) {
	h := newHarness(t, 4, 0)
	h.node.startRound()
	h.clock.Advance(100 * time.Millisecond)
	h.node.startRound()

	dir := t.TempDir()
	if err := h.node.WriteEvalFiles(dir); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"send2echo", "send2fin", "fin2fin", "send2delivered", "thruput"} {
		path := fmt.Sprintf("%s/%s_00.eval", dir, name)
		if _, err := readFileString(path); err != nil {
			t.Errorf("%s: %v", path, err)
		}
	}
	content, err := readFileString(fmt.Sprintf("%s/send2echo_00.eval", dir))
	if err != nil {
		t.Fatal(err)
	}
	if content != "0: 0\n1: 0\n" {
		t.Errorf("send2echo content %q", content)
	}
}
