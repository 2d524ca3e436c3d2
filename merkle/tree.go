/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package merkle implements an append-only binary Merkle tree whose
// insertions emit signable authentication paths through a bounded work
// queue.
package merkle

import (
	sha256 "github.com/minio/sha256-simd"
)

// HashSize is the tree's node width: SHA-256 everywhere.
const HashSize = sha256.Size

type Hash = [HashSize]byte

// Work is the proof material captured at insertion time: the leaf, the
// authentication path from the leaf up, and the root the tree had once
// the leaf was in place.
type Work struct {
	Root Hash
	Leaf Hash
	Path []Hash
}

type treeNode struct {
	left, right *treeNode
	hash        Hash
}

func (n *treeNode) recomputeHash() {
	var concat [HashSize * 2]byte
	copy(concat[:HashSize], n.left.hash[:])
	copy(concat[HashSize:], n.right.hash[:])
	n.hash = sha256.Sum256(concat[:])
}

// A Tree grows by appending leaves along its right spine. A single
// producer appends; emitted work flows to the signer pool through out,
// whose bounded capacity provides backpressure.
type Tree struct {
	leafCount uint64
	root      *treeNode
	out       chan<- *Work
}

func NewTree(out chan<- *Work) *Tree {
	return &Tree{out: out}
}

// LeafCount reports how many leaves have been appended.
func (t *Tree) LeafCount() uint64 { return t.leafCount }

// Root reports the current root hash. The zero Hash before any append.
func (t *Tree) Root() Hash {
	if t.root == nil {
		return Hash{}
	}
	return t.root.hash
}

// Append inserts a leaf, recomputes the touched spine hashes, and emits
// the leaf's proof work. The very first leaf becomes the root itself and
// carries an empty path. Blocks when the work queue is full.
func (t *Tree) Append(leaf Hash) {
	work := &Work{Leaf: leaf}
	leafNode := &treeNode{hash: leaf}

	if t.leafCount == 0 {
		t.root = leafNode
	} else {
		t.root = t.appendToSubtree(t.root, t.leafCount, leafNode, work)
	}
	t.leafCount++

	work.Root = t.root.hash
	t.out <- work
}

// appendToSubtree descends the right spine of a subtree holding size
// leaves. A perfect subtree gains a new parent with the leaf as its right
// child; otherwise the leaf sinks into the right child. Every node
// touched on the way up contributes its left sibling to the path.
func (t *Tree) appendToSubtree(sub *treeNode, size uint64, leafNode *treeNode, work *Work) *treeNode {
	if isPowerOfTwo(size) {
		work.Path = append(work.Path, sub.hash)
		parent := &treeNode{left: sub, right: leafNode}
		parent.recomputeHash()
		return parent
	}

	leftSize := largestPowerOfTwoBelow(size)
	sub.right = t.appendToSubtree(sub.right, size-leftSize, leafNode, work)
	sub.recomputeHash()
	work.Path = append(work.Path, sub.left.hash)
	return sub
}

func isPowerOfTwo(v uint64) bool {
	return v&(v-1) == 0
}

func largestPowerOfTwoBelow(v uint64) uint64 {
	p := uint64(1)
	for p*2 < v {
		p *= 2
	}
	return p
}
