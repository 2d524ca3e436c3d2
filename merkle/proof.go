/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package merkle

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"fmt"
	"io"

	sha256 "github.com/minio/sha256-simd"
	"github.com/pkg/errors"
)

const (
	SignatureSize = ed25519.SignatureSize

	// PublicKeyInfoSize is the DER SubjectPublicKeyInfo length for an
	// Ed25519 key; the proof stream opens with exactly one.
	PublicKeyInfoSize = 44

	pathCountDigits = 2
)

// A Record is one self-contained signed proof: an Ed25519 signature over
// the root, the root and leaf hashes, and the authentication path
// recorded at insertion time. Records in a stream are unordered.
type Record struct {
	Signature [SignatureSize]byte
	Root      Hash
	Leaf      Hash
	Path      []Hash
}

// Encode renders the record's wire form: a two-digit ASCII path count,
// the signature, root, leaf, and path hashes.
func (rec *Record) Encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%0*d", pathCountDigits, len(rec.Path))
	buf.Write(rec.Signature[:])
	buf.Write(rec.Root[:])
	buf.Write(rec.Leaf[:])
	for i := range rec.Path {
		buf.Write(rec.Path[i][:])
	}
	return buf.Bytes()
}

// WriteHeader emits the stream's public key prefix.
func WriteHeader(w io.Writer, pub ed25519.PublicKey) error {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return errors.Wrap(err, "marshal proof public key")
	}
	if len(der) != PublicKeyInfoSize {
		return errors.Errorf("proof public key DER is %d bytes, want %d", len(der), PublicKeyInfoSize)
	}
	_, err = w.Write(der)
	return errors.Wrap(err, "write proof header")
}

// ReadHeader consumes the stream's public key prefix.
func ReadHeader(r io.Reader) (ed25519.PublicKey, error) {
	der := make([]byte, PublicKeyInfoSize)
	if _, err := io.ReadFull(r, der); err != nil {
		return nil, errors.Wrap(err, "read proof header")
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errors.Wrap(err, "parse proof public key")
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("proof header is not an Ed25519 key")
	}
	return pub, nil
}

// ReadRecord decodes the next record from the stream. io.EOF cleanly
// marks the end of the stream.
func ReadRecord(r io.Reader) (*Record, error) {
	var countBuf [pathCountDigits]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read path count")
	}
	pathCount := 0
	for _, c := range countBuf {
		if c < '0' || c > '9' {
			return nil, errors.Errorf("path count %q is not decimal", countBuf)
		}
		pathCount = pathCount*10 + int(c-'0')
	}

	rec := &Record{}
	if _, err := io.ReadFull(r, rec.Signature[:]); err != nil {
		return nil, errors.Wrap(err, "read signature")
	}
	if _, err := io.ReadFull(r, rec.Root[:]); err != nil {
		return nil, errors.Wrap(err, "read root")
	}
	if _, err := io.ReadFull(r, rec.Leaf[:]); err != nil {
		return nil, errors.Wrap(err, "read leaf")
	}
	rec.Path = make([]Hash, pathCount)
	for i := 0; i < pathCount; i++ {
		if _, err := io.ReadFull(r, rec.Path[i][:]); err != nil {
			return nil, errors.Wrap(err, "read path")
		}
	}
	return rec, nil
}

// Verify folds SHA-256 up the authentication path from the leaf, checks
// the result against the recorded root, and verifies the signature over
// the root.
func (rec *Record) Verify(pub ed25519.PublicKey) error {
	acc := rec.Leaf
	var concat [HashSize * 2]byte
	for i := range rec.Path {
		copy(concat[:HashSize], rec.Path[i][:])
		copy(concat[HashSize:], acc[:])
		acc = sha256.Sum256(concat[:])
	}
	if acc != rec.Root {
		return errors.New("authentication path does not reconstruct the root")
	}
	if !ed25519.Verify(pub, rec.Root[:], rec.Signature[:]) {
		return errors.New("incorrect root signature")
	}
	return nil
}
