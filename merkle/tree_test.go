/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package merkle

import (
	"math/rand"
	"testing"

	sha256 "github.com/minio/sha256-simd"
)

func randomLeaves(count int, seed int64) []Hash {
	rng := rand.New(rand.NewSource(seed))
	leaves := make([]Hash, count)
	for i := range leaves {
		rng.Read(leaves[i][:])
	}
	return leaves
}

// foldPath reconstructs the root the way the verifier does: each path
// element is a left sibling of the accumulated hash.
func foldPath(leaf Hash, path []Hash) Hash {
	acc := leaf
	var concat [HashSize * 2]byte
	for i := range path {
		copy(concat[:HashSize], path[i][:])
		copy(concat[HashSize:], acc[:])
		acc = sha256.Sum256(concat[:])
	}
	return acc
}

func TestFirstLeafIsRoot(t *testing.T) {
	work := make(chan *Work, 1)
	tree := NewTree(work)

	leaf := Hash{1, 2, 3}
	tree.Append(leaf)

	w := <-work
	if len(w.Path) != 0 {
		t.Fatalf("first leaf path has %d elements, want 0", len(w.Path))
	}
	if w.Root != leaf || tree.Root() != leaf {
		t.Fatal("first leaf must become the root")
	}
}

func TestEveryPathReconstructsItsRoot(t *testing.T) {
	const count = 1000
	work := make(chan *Work, count)
	tree := NewTree(work)

	for _, leaf := range randomLeaves(count, 1) {
		tree.Append(leaf)
	}
	close(work)

	seen := 0
	for w := range work {
		if got := foldPath(w.Leaf, w.Path); got != w.Root {
			t.Fatalf("work %d: path folds to %x, recorded root %x", seen, got, w.Root)
		}
		seen++
	}
	if seen != count {
		t.Fatalf("%d work items emitted, want %d", seen, count)
	}
	if tree.LeafCount() != count {
		t.Fatalf("leaf count %d, want %d", tree.LeafCount(), count)
	}
}

func TestPowerOfTwoGrowth(t *testing.T) {
	work := make(chan *Work, 8)
	tree := NewTree(work)

	leaves := randomLeaves(5, 2)
	for _, leaf := range leaves {
		tree.Append(leaf)
	}
	close(work)

	var paths [][]Hash
	for w := range work {
		paths = append(paths, w.Path)
	}

	// Path depth at insertion: leaf 0 is the root; each power-of-two
	// boundary adds a level above; in between the leaf pairs up along
	// the right spine.
	wantDepths := []int{0, 1, 1, 2, 1}
	for i, p := range paths {
		if len(p) != wantDepths[i] {
			t.Errorf("leaf %d path depth %d, want %d", i, len(p), wantDepths[i])
		}
	}
}
