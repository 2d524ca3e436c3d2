/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package node

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// WriteEvalFiles dumps the per-round latency and throughput measurements
// collected so far. Call after Close; the files land in dir, one set per
// node index.
func (node *Node) WriteEvalFiles(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create eval dir")
	}

	node.state.Lock()
	roundTotal := int(node.state.nextRound)
	latencies := map[string][]time.Duration{
		"send2echo":      make([]time.Duration, roundTotal),
		"send2fin":       make([]time.Duration, roundTotal),
		"fin2fin":        make([]time.Duration, roundTotal),
		"send2delivered": make([]time.Duration, roundTotal),
	}
	for r := 0; r < roundTotal; r++ {
		st, ok := node.state.rounds[int32(r)]
		if !ok {
			for _, v := range latencies {
				v[r] = durationUnset
			}
			continue
		}
		latencies["send2echo"][r] = st.send2echo
		latencies["send2fin"][r] = st.send2fin
		latencies["fin2fin"][r] = st.fin2fin
		latencies["send2delivered"][r] = st.send2delivered
	}
	node.state.Unlock()

	var group errgroup.Group
	for name, values := range latencies {
		name, values := name, values
		group.Go(func() error {
			return node.writeLatencyFile(dir, name, values)
		})
	}
	group.Go(func() error {
		return node.writeThroughputFile(dir)
	})
	return group.Wait()
}

func (node *Node) writeLatencyFile(dir, name string, values []time.Duration) error {
	path := filepath.Join(dir, fmt.Sprintf("%s_%02d.eval", name, node.id))
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	w := bufio.NewWriter(f)
	for r, v := range values {
		ms := int64(0)
		if v != durationUnset {
			ms = v.Milliseconds()
		}
		fmt.Fprintf(w, "%d: %d\n", r, ms)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "flush %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

// writeThroughputFile emits one line per completed round: the round's
// wall duration followed by the eight drained byte counters. The first
// snapshot only opens the window, so output starts at the second.
func (node *Node) writeThroughputFile(dir string) error {
	path := filepath.Join(dir, fmt.Sprintf("thruput_%02d.eval", node.id))
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	w := bufio.NewWriter(f)
	for i := 1; i < len(node.stats.roundMarks); i++ {
		dur := node.stats.roundMarks[i].Sub(node.stats.roundMarks[i-1]).Milliseconds()
		s := node.stats.samples[i]
		fmt.Fprintf(w, "%d %d %d %d %d %d %d %d %d\n",
			dur,
			s.recvSend, s.recvEcho, s.recvFin, s.recvSup,
			s.sentSend, s.sentEcho, s.sentFin, s.sentSup)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "flush %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
