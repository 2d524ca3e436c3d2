/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package merkle

import (
	"crypto/ed25519"
	"io"
	"sync"

	"go.uber.org/atomic"
)

const (
	// DefaultSignerCount is the signer pool width.
	DefaultSignerCount = 40

	// DefaultQueueDepth bounds the work channel between the appending
	// producer and the signers.
	DefaultQueueDepth = 1024
)

// A SignerPool consumes tree work, signs each root, and writes the proof
// records to a shared sink. Records land in completion order, not
// insertion order; each is self-contained so the verifier does not care.
type SignerPool struct {
	key  ed25519.PrivateKey
	work <-chan *Work

	sinkMu sync.Mutex
	sink   io.Writer

	wg       sync.WaitGroup
	signed   atomic.Int64
	writeErr atomic.Error
}

// NewSignerPool prepares a pool of workers draining work into sink. The
// stream's public key header is written before any worker starts.
func NewSignerPool(workers int, key ed25519.PrivateKey, sink io.Writer, work <-chan *Work) (*SignerPool, error) {
	if workers <= 0 {
		workers = DefaultSignerCount
	}
	if err := WriteHeader(sink, key.Public().(ed25519.PublicKey)); err != nil {
		return nil, err
	}
	pool := &SignerPool{
		key:  key,
		work: work,
		sink: sink,
	}
	pool.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.routineRootSigner()
	}
	return pool, nil
}

// Wait blocks until every queued work item has been signed and written.
// The producer must close the work channel first. Returns the first sink
// write error, if any.
func (pool *SignerPool) Wait() error {
	pool.wg.Wait()
	return pool.writeErr.Load()
}

// Signed reports how many proofs have been written so far.
func (pool *SignerPool) Signed() int64 {
	return pool.signed.Load()
}

func (pool *SignerPool) routineRootSigner() {
	defer pool.wg.Done()
	for work := range pool.work {
		rec := Record{
			Root: work.Root,
			Leaf: work.Leaf,
			Path: work.Path,
		}
		copy(rec.Signature[:], ed25519.Sign(pool.key, work.Root[:]))
		encoded := rec.Encode()

		pool.sinkMu.Lock()
		_, err := pool.sink.Write(encoded)
		pool.sinkMu.Unlock()
		if err != nil {
			pool.writeErr.CompareAndSwap(nil, err)
			continue
		}
		pool.signed.Inc()
	}
}
