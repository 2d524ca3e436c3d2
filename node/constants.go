/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package node

import (
	"crypto/ed25519"
	"time"
)

/* Protocol constants */

const (
	SignatureSize = ed25519.SignatureSize

	// DefaultQuorumFactor scales the faulty-node bound f into the minimum
	// number of echo signatures a FIN or SUP must carry. Deployments that
	// want the stricter 2f+1 bound raise Node.QuorumFactor before Start.
	DefaultQuorumFactor = 2

	WaitForPeersConnection = 5 * time.Second
)

/* Implementation constants */

const (
	QueueOutboundSize = 1024
	QueueEventSize    = 1024

	dialRetryInterval = time.Second

	// dynamicSizeRounds is how many rounds each entry of the dynamic
	// payload schedule stays active before advancing to the next.
	dynamicSizeRounds = 60

	// dynamicSizeStartIndex is where the schedule enters the size
	// table: at the 10MB entry, with only the tail of the table left
	// to advance through.
	dynamicSizeStartIndex = 4
)

// dynamicPayloadSizes is the payload schedule used when dynamic message
// sizing is enabled, in bytes.
var dynamicPayloadSizes = [...]int{
	1000000, 3000000, 5000000, 7000000, 10000000, 13000000,
}
