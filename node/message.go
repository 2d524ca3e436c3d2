/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package node

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

/* Opcodes */

const (
	OpACK  byte = 0x00
	OpSEND byte = 0x01
	OpECHO byte = 0x02
	OpFIN  byte = 0x03
	OpSUP  byte = 0x04
)

// ErrMalformedFrame is returned when a frame body is inconsistent with
// its declared sizes. The message is dropped; the connection survives.
var ErrMalformedFrame = errors.New("malformed frame")

// A NodeSig is one collected echo signature attributed to a node index.
type NodeSig struct {
	Node int32
	Sig  [SignatureSize]byte
}

// MsgACK announces the sender's node index on a fresh connection.
type MsgACK struct {
	Sender int32
}

// MsgSEND carries the originator's payload for one round.
type MsgSEND struct {
	IP      string
	Sender  int32
	Round   int32
	Payload []byte
}

// MsgECHO returns a signature over the originating SEND's payload. The
// payload field is empty on the wire; the aggregator verifies against the
// payload it sent.
type MsgECHO struct {
	IP        string
	Sender    int32
	Round     int32
	Signature [SignatureSize]byte
	Payload   []byte
}

// MsgFIN announces that the sender collected an echo quorum for its own
// round, carrying the collected signature list.
type MsgFIN struct {
	IP      string
	Sender  int32
	Round   int32
	Sigs    []NodeSig
	Payload []byte
}

// MsgSUP amplifies a FIN: the same signature list, attributed to the
// broadcast's original sender.
type MsgSUP struct {
	IP             string
	Sender         int32
	Round          int32
	OriginalSender int32
	Sigs           []NodeSig
	Payload        []byte
}

/* Encoding.
 *
 * All integers are little-endian. Every opcode except ACK shares the
 * preamble {sender i32, round i32}; the payload is whatever remains of
 * the frame.
 */

type wireWriter struct {
	buf []byte
}

func (w *wireWriter) i32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

func (w *wireWriter) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *wireWriter) bytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *wireWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *wireWriter) sigs(sigs []NodeSig) {
	w.i32(int32(len(sigs)))
	for i := range sigs {
		w.i32(sigs[i].Node)
		w.bytes(sigs[i].Sig[:])
	}
}

type wireReader struct {
	buf []byte
	bad bool
}

func (r *wireReader) i32() int32 {
	return int32(r.u32())
}

func (r *wireReader) u32() uint32 {
	if len(r.buf) < 4 {
		r.bad = true
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v
}

func (r *wireReader) str() string {
	n := r.u32()
	if r.bad || uint32(len(r.buf)) < n {
		r.bad = true
		return ""
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s
}

func (r *wireReader) sig() (sig [SignatureSize]byte) {
	if len(r.buf) < SignatureSize {
		r.bad = true
		return
	}
	copy(sig[:], r.buf)
	r.buf = r.buf[SignatureSize:]
	return
}

func (r *wireReader) sigs() []NodeSig {
	count := r.i32()
	if r.bad || count < 0 || int64(count)*(4+SignatureSize) > int64(len(r.buf)) {
		r.bad = true
		return nil
	}
	sigs := make([]NodeSig, 0, count)
	for i := int32(0); i < count; i++ {
		node := r.i32()
		sig := r.sig()
		if r.bad {
			return nil
		}
		sigs = append(sigs, NodeSig{Node: node, Sig: sig})
	}
	return sigs
}

func (r *wireReader) rest() []byte {
	b := r.buf
	r.buf = nil
	return b
}

func (m *MsgACK) Marshal() []byte {
	w := wireWriter{buf: make([]byte, 0, 4)}
	w.i32(m.Sender)
	return w.buf
}

func ParseACK(body []byte) (*MsgACK, error) {
	r := wireReader{buf: body}
	m := &MsgACK{Sender: r.i32()}
	if r.bad {
		return nil, ErrMalformedFrame
	}
	return m, nil
}

func (m *MsgSEND) Marshal() []byte {
	w := wireWriter{buf: make([]byte, 0, 12+len(m.IP)+len(m.Payload))}
	w.i32(m.Sender)
	w.i32(m.Round)
	w.str(m.IP)
	w.bytes(m.Payload)
	return w.buf
}

func ParseSEND(body []byte) (*MsgSEND, error) {
	r := wireReader{buf: body}
	m := &MsgSEND{}
	m.Sender = r.i32()
	m.Round = r.i32()
	m.IP = r.str()
	m.Payload = r.rest()
	if r.bad {
		return nil, ErrMalformedFrame
	}
	return m, nil
}

func (m *MsgECHO) Marshal() []byte {
	w := wireWriter{buf: make([]byte, 0, 12+len(m.IP)+SignatureSize+len(m.Payload))}
	w.i32(m.Sender)
	w.i32(m.Round)
	w.str(m.IP)
	w.bytes(m.Signature[:])
	w.bytes(m.Payload)
	return w.buf
}

func ParseECHO(body []byte) (*MsgECHO, error) {
	r := wireReader{buf: body}
	m := &MsgECHO{}
	m.Sender = r.i32()
	m.Round = r.i32()
	m.IP = r.str()
	m.Signature = r.sig()
	m.Payload = r.rest()
	if r.bad {
		return nil, ErrMalformedFrame
	}
	return m, nil
}

func (m *MsgFIN) Marshal() []byte {
	w := wireWriter{buf: make([]byte, 0, 16+len(m.IP)+len(m.Sigs)*(4+SignatureSize)+len(m.Payload))}
	w.i32(m.Sender)
	w.i32(m.Round)
	w.str(m.IP)
	w.sigs(m.Sigs)
	w.bytes(m.Payload)
	return w.buf
}

func ParseFIN(body []byte) (*MsgFIN, error) {
	r := wireReader{buf: body}
	m := &MsgFIN{}
	m.Sender = r.i32()
	m.Round = r.i32()
	m.IP = r.str()
	m.Sigs = r.sigs()
	m.Payload = r.rest()
	if r.bad {
		return nil, ErrMalformedFrame
	}
	return m, nil
}

func (m *MsgSUP) Marshal() []byte {
	w := wireWriter{buf: make([]byte, 0, 20+len(m.IP)+len(m.Sigs)*(4+SignatureSize)+len(m.Payload))}
	w.i32(m.Sender)
	w.i32(m.Round)
	w.str(m.IP)
	w.i32(m.OriginalSender)
	w.sigs(m.Sigs)
	w.bytes(m.Payload)
	return w.buf
}

func ParseSUP(body []byte) (*MsgSUP, error) {
	r := wireReader{buf: body}
	m := &MsgSUP{}
	m.Sender = r.i32()
	m.Round = r.i32()
	m.IP = r.str()
	m.OriginalSender = r.i32()
	m.Sigs = r.sigs()
	m.Payload = r.rest()
	if r.bad {
		return nil, ErrMalformedFrame
	}
	return m, nil
}

// ParseMessage decodes a frame body according to its opcode.
func ParseMessage(opcode byte, body []byte) (interface{}, error) {
	switch opcode {
	case OpACK:
		return ParseACK(body)
	case OpSEND:
		return ParseSEND(body)
	case OpECHO:
		return ParseECHO(body)
	case OpFIN:
		return ParseFIN(body)
	case OpSUP:
		return ParseSUP(body)
	default:
		return nil, errors.Wrapf(ErrMalformedFrame, "opcode %#02x", opcode)
	}
}
