/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package node

import (
	"time"

	"go.uber.org/atomic"
)

// stats accumulates per-opcode byte counters between round boundaries.
// Senders and the event loop increment concurrently; the round scheduler
// swaps each counter to zero when it snapshots. Increments racing the
// swap land on either side of the boundary, which is fine for
// observational data.
type stats struct {
	recvSend atomic.Int64
	recvEcho atomic.Int64
	recvFin  atomic.Int64
	recvSup  atomic.Int64
	sentSend atomic.Int64
	sentEcho atomic.Int64
	sentFin  atomic.Int64
	sentSup  atomic.Int64

	samples    []throughputSample
	roundMarks []time.Time
}

// throughputSample is one round's worth of drained counters.
type throughputSample struct {
	recvSend, recvEcho, recvFin, recvSup int64
	sentSend, sentEcho, sentFin, sentSup int64
}

func (s *stats) addRecv(opcode byte, n int) {
	switch opcode {
	case OpSEND:
		s.recvSend.Add(int64(n))
	case OpECHO:
		s.recvEcho.Add(int64(n))
	case OpFIN:
		s.recvFin.Add(int64(n))
	case OpSUP:
		s.recvSup.Add(int64(n))
	}
}

func (s *stats) addSent(opcode byte, n int) {
	switch opcode {
	case OpSEND:
		s.sentSend.Add(int64(n))
	case OpECHO:
		s.sentEcho.Add(int64(n))
	case OpFIN:
		s.sentFin.Add(int64(n))
	case OpSUP:
		s.sentSup.Add(int64(n))
	}
}

// snapshot drains the counters into a new per-round sample and stamps the
// round boundary.
func (s *stats) snapshot(now time.Time) {
	s.samples = append(s.samples, throughputSample{
		recvSend: s.recvSend.Swap(0),
		recvEcho: s.recvEcho.Swap(0),
		recvFin:  s.recvFin.Swap(0),
		recvSup:  s.recvSup.Swap(0),
		sentSend: s.sentSend.Swap(0),
		sentEcho: s.sentEcho.Swap(0),
		sentFin:  s.sentFin.Swap(0),
		sentSup:  s.sentSup.Swap(0),
	})
	s.roundMarks = append(s.roundMarks, now)
}
