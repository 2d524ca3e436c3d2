/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package node

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2s"
)

const (
	pemTypePrivateKey = "PRIVATE KEY"
	pemTypePublicKey  = "PUBLIC KEY"
)

// LoadPrivateKey reads pem/priv-NN.pem (PKCS#8) for the given node index.
func LoadPrivateKey(dir string, index int) (ed25519.PrivateKey, error) {
	path := filepath.Join(dir, fmt.Sprintf("priv-%02d.pem", index))
	block, err := readPEM(path, pemTypePrivateKey)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.Errorf("%s: not an Ed25519 key", path)
	}
	return priv, nil
}

// LoadPublicKeys reads pem/pub-NN.pem (PKIX) for every node index in
// [0, count), ordered by index.
func LoadPublicKeys(dir string, count int) ([]ed25519.PublicKey, error) {
	keys := make([]ed25519.PublicKey, 0, count)
	for i := 0; i < count; i++ {
		path := filepath.Join(dir, fmt.Sprintf("pub-%02d.pem", i))
		block, err := readPEM(path, pemTypePublicKey)
		if err != nil {
			return nil, err
		}
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
		pub, ok := key.(ed25519.PublicKey)
		if !ok {
			return nil, errors.Errorf("%s: not an Ed25519 key", path)
		}
		keys = append(keys, pub)
	}
	return keys, nil
}

func readPEM(path, wantType string) (*pem.Block, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read key")
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.Errorf("%s: no PEM block", path)
	}
	if block.Type != wantType {
		return nil, errors.Errorf("%s: PEM block %q, want %q", path, block.Type, wantType)
	}
	return block, nil
}

// WriteKeyPair emits priv-NN.pem and pub-NN.pem for a node index.
func WriteKeyPair(dir string, index int, priv ed25519.PrivateKey) error {
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return errors.Wrap(err, "marshal private key")
	}
	pubDER, err := x509.MarshalPKIXPublicKey(priv.Public())
	if err != nil {
		return errors.Wrap(err, "marshal public key")
	}

	privPath := filepath.Join(dir, fmt.Sprintf("priv-%02d.pem", index))
	privPEM := pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: privDER})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return errors.Wrap(err, "write private key")
	}

	pubPath := filepath.Join(dir, fmt.Sprintf("pub-%02d.pem", index))
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: pubDER})
	return errors.Wrap(os.WriteFile(pubPath, pubPEM, 0o644), "write public key")
}

// keyFingerprint derives the short identity used to label a node's key
// in log output.
func keyFingerprint(pub ed25519.PublicKey) string {
	sum := blake2s.Sum256(pub)
	return hex.EncodeToString(sum[:4])
}
