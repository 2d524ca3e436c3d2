/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package node

/* Stand up small clusters on loopback TCP with fake clocks, so rounds
 * fire on demand and message flow runs over the real transport.
 */

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type cluster struct {
	cfg    *Config
	nodes  []*Node
	clocks []clockwork.FakeClock
}

func freeLoopbackAddrs(t *testing.T, count int) []string {
	t.Helper()
	addrs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		addrs = append(addrs, l.Addr().String())
		l.Close()
	}
	return addrs
}

func newCluster(t *testing.T, size int) *cluster {
	t.Helper()

	cfg := &Config{
		NodeCount:     size,
		RoundInterval: 2 * time.Second,
		PayloadSize:   256,
		Addrs:         freeLoopbackAddrs(t, size),
	}

	keys := make([]ed25519.PrivateKey, size)
	pubs := make([]ed25519.PublicKey, size)
	for i := 0; i < size; i++ {
		var err error
		pubs[i], keys[i], err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
	}

	cl := &cluster{cfg: cfg}
	for i := 0; i < size; i++ {
		n := NewNode(cfg, i, keys[i], pubs, NewLogger(LogLevelSilent, i))
		clock := clockwork.NewFakeClock()
		n.UseClock(clock)
		cl.nodes = append(cl.nodes, n)
		cl.clocks = append(cl.clocks, clock)
	}
	return cl
}

// start launches the given node indices and waits for them to connect to
// each other.
func (cl *cluster) start(t *testing.T, indices ...int) {
	t.Helper()
	for _, i := range indices {
		if err := cl.nodes[i].Start(); err != nil {
			t.Fatal(err)
		}
		n := cl.nodes[i]
		t.Cleanup(n.Close)
	}
	want := len(indices) - 1
	for _, i := range indices {
		n := cl.nodes[i]
		waitFor(t, "peer connections", func() bool { return n.ConnectedPeers() >= want })
	}
}

// fireRound advances each listed node's clock through its pending timer,
// triggering the next round.
func (cl *cluster) fireRound(t *testing.T, d time.Duration, indices ...int) {
	t.Helper()
	for _, i := range indices {
		cl.clocks[i].BlockUntil(1)
		cl.clocks[i].Advance(d)
	}
}

func TestClusterDeliversAllRounds(t *testing.T) {
	cl := newCluster(t, 4)
	cl.start(t, 0, 1, 2, 3)
	cl.fireRound(t, WaitForPeersConnection, 0, 1, 2, 3)

	for _, n := range cl.nodes {
		n := n
		waitFor(t, "round 0 delivery", func() bool {
			for origin := 0; origin < 4; origin++ {
				if !n.Delivered(origin, 0) {
					return false
				}
			}
			return true
		})
	}

	// A second round behaves the same.
	cl.fireRound(t, cl.cfg.RoundInterval, 0, 1, 2, 3)
	for _, n := range cl.nodes {
		n := n
		waitFor(t, "round 1 delivery", func() bool {
			for origin := 0; origin < 4; origin++ {
				if !n.Delivered(origin, 1) {
					return false
				}
			}
			return true
		})
	}

	if got := cl.nodes[0].HighestRound(); got != 1 {
		t.Errorf("highest round %d, want 1", got)
	}
}

func TestClusterToleratesSilentNode(t *testing.T) {
	cl := newCluster(t, 4)

	// Node 3 never boots. The rest lower their echo quorum to n-f to
	// keep making progress.
	for _, i := range []int{0, 1, 2} {
		cl.nodes[i].EchoQuorum = cl.cfg.NodeCount - cl.cfg.Fault()
	}
	cl.start(t, 0, 1, 2)
	cl.fireRound(t, WaitForPeersConnection, 0, 1, 2)

	for _, i := range []int{0, 1, 2} {
		n := cl.nodes[i]
		waitFor(t, "delivery among live nodes", func() bool {
			return n.Delivered(0, 0) && n.Delivered(1, 0) && n.Delivered(2, 0)
		})
		if n.Delivered(3, 0) {
			t.Errorf("node %d delivered a payload the silent node never sent", i)
		}
	}
}

func TestClusterEvalOutput(t *testing.T) {
	cl := newCluster(t, 4)
	cl.start(t, 0, 1, 2, 3)
	cl.fireRound(t, WaitForPeersConnection, 0, 1, 2, 3)

	n := cl.nodes[0]
	waitFor(t, "own delivery", func() bool { return n.Delivered(0, 0) })

	n.Close()
	dir := t.TempDir()
	if err := n.WriteEvalFiles(dir); err != nil {
		t.Fatal(err)
	}
	content, err := readFileString(dir + "/send2delivered_00.eval")
	if err != nil {
		t.Fatal(err)
	}
	if len(content) == 0 || content[0] != '0' {
		t.Errorf("send2delivered content %q", content)
	}
}
