/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package node

import (
	"bytes"
	"crypto/ed25519"
)

// startRound originates the node's next broadcast: compose the payload,
// SEND it to every bound peer, count our own signature as the first echo,
// and snapshot the throughput counters. Runs on the event loop.
func (node *Node) startRound() {
	now := node.clock.Now()

	node.state.Lock()
	r := node.state.nextRound
	node.state.nextRound++

	st := node.round(r)
	st.start = now

	payload := node.composePayload(r)
	node.recordPayload(node.id, r, payload)
	node.state.Unlock()

	connected := node.ConnectedPeers()
	if connected+1 < node.peerCount-node.fault {
		node.log.Errorf("round %d starting with %d/%d peers connected, below the safe bound", r, connected, node.peerCount-1)
	}
	node.log.Infof("round %d: payload %d bytes", r, len(payload))

	send := MsgSEND{IP: node.ip, Sender: node.id, Round: r, Payload: payload}
	node.broadcast(OpSEND, send.Marshal())

	// The originator counts itself as having echoed; peers echo in
	// reaction to the SEND.
	sig := signatureOf(ed25519.Sign(node.staticIdentity.privateKey, payload))

	node.state.Lock()
	st.addSignature(node.id, sig)
	node.state.Unlock()

	node.stats.snapshot(now)
}

// composePayload builds round r's payload: a sentinel byte varying per
// round, repeated to either the configured fixed size or the current
// entry of the dynamic size schedule. Callers hold the state lock.
func (node *Node) composePayload(r int32) []byte {
	size := node.payloadSize
	if node.dynamicSize {
		if r > 0 && int(r)%node.sizeRounds == 0 && node.msgSizeInd+1 < len(dynamicPayloadSizes) {
			node.msgSizeInd++
		}
		size = dynamicPayloadSizes[node.msgSizeInd]
	}
	return bytes.Repeat([]byte{byte('0' + r%10)}, size)
}

func signatureOf(sig []byte) (out [SignatureSize]byte) {
	copy(out[:], sig)
	return
}
