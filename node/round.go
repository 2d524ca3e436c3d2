/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package node

import (
	"time"

	mapset "github.com/deckarep/golang-set"
)

// durationUnset marks a latency cell whose stamp never happened; eval
// output renders it as 0 ms, matching a round that never completed.
const durationUnset = time.Duration(-1)

// roundState holds everything tracked for one round number. Instances are
// created on first reference, whatever direction the reference comes
// from, and live until shutdown. All fields are owned by the event loop;
// external readers go through Node accessor methods that take the state
// lock.
type roundState struct {
	echoCount int
	sigs      []NodeSig
	sigNodes  mapset.Set

	finSent  bool
	finCount int

	start    time.Time
	finStart time.Time

	send2echo      time.Duration
	send2fin       time.Duration
	fin2fin        time.Duration
	send2delivered time.Duration

	// Per original sender: valid SUP arrivals and the delivery latch.
	supCount  []int
	delivered []bool
}

func newRoundState(peerCount int) *roundState {
	return &roundState{
		sigNodes:       mapset.NewSet(),
		send2echo:      durationUnset,
		send2fin:       durationUnset,
		fin2fin:        durationUnset,
		send2delivered: durationUnset,
		supCount:       make([]int, peerCount),
		delivered:      make([]bool, peerCount),
	}
}

// addSignature appends a (node, signature) pair and counts it toward the
// echo quorum. Re-announcements from the same node are ignored, so the
// set holds at most one entry per node index.
func (st *roundState) addSignature(node int32, sig [SignatureSize]byte) bool {
	if !st.sigNodes.Add(node) {
		return false
	}
	st.sigs = append(st.sigs, NodeSig{Node: node, Sig: sig})
	st.echoCount++
	return true
}

// sigSnapshot copies the collected signature list for embedding into an
// outbound FIN or SUP, detaching it from later growth.
func (st *roundState) sigSnapshot() []NodeSig {
	out := make([]NodeSig, len(st.sigs))
	copy(out, st.sigs)
	return out
}

// round returns the state for round r, allocating it on first sight.
// Callers hold the state lock.
func (node *Node) round(r int32) *roundState {
	st, ok := node.state.rounds[r]
	if !ok {
		st = newRoundState(node.peerCount)
		node.state.rounds[r] = st
		if r > node.state.highestRound {
			node.state.highestRound = r
		}
	}
	return st
}

// recordPayload stores the payload broadcast by sender in round r. Each
// (sender, round) pair keeps its first payload only.
func (node *Node) recordPayload(sender, r int32, payload []byte) bool {
	if _, dup := node.state.payloads[sender][r]; dup {
		return false
	}
	node.state.payloads[sender][r] = payload
	return true
}

func (node *Node) payloadFor(sender, r int32) ([]byte, bool) {
	p, ok := node.state.payloads[sender][r]
	return p, ok
}
