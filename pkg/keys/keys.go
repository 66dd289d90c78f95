// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

// Package keys defines the daemon's identity primitives: public keys, key
// pairs, hashes and signatures. Signature algorithm internals are treated
// as a black box (spec Non-goals) — sign/verify delegate to crypto/ed25519,
// the same primitive the teacher SDK uses in crypto/account.go.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	// PublicKeyLength is the size in bytes of a public key.
	PublicKeyLength = ed25519.PublicKeySize
	// KeyPairLength is the size in bytes of a secret+public key pair.
	KeyPairLength = ed25519.PrivateKeySize
	// SignatureLength is the size in bytes of a signature.
	SignatureLength = ed25519.SignatureSize
	// HashLength is the size in bytes of a recent-blockhash token.
	HashLength = 32
)

// PublicKey is an opaque 32-byte identity, comparable and hashable.
type PublicKey [PublicKeyLength]byte

// Hash is the 32-byte "recent block hash" transaction freshness token.
type Hash [HashLength]byte

// Signature is a 64-byte ed25519 signature.
type Signature [SignatureLength]byte

// KeyPair is a 64-byte ed25519 secret+public key pair that can sign.
type KeyPair struct {
	priv ed25519.PrivateKey
}

// PublicKeyFromBytes builds a PublicKey from a 32-byte slice.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeyLength {
		return pk, fmt.Errorf("public key size mismatch, expected %d, got %d", PublicKeyLength, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// PublicKeyFromBase58 decodes a base58-encoded public key.
func PublicKeyFromBase58(s string) (PublicKey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("decode base58 public key: %w", err)
	}
	return PublicKeyFromBytes(b)
}

// String returns the base58 encoding of the public key.
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// IsZero reports whether the public key is the all-zero key.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// Bytes returns the raw 32 bytes of the public key.
func (pk PublicKey) Bytes() []byte { return pk[:] }

// MarshalJSON encodes the public key as its base58 string.
func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

// UnmarshalJSON decodes a base58 string into the public key.
func (pk *PublicKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	decoded, err := PublicKeyFromBase58(s)
	if err != nil {
		return err
	}
	*pk = decoded
	return nil
}

// HashFromBase58 decodes a base58-encoded hash.
func HashFromBase58(s string) (Hash, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decode base58 hash: %w", err)
	}
	var h Hash
	if len(b) != HashLength {
		return h, fmt.Errorf("hash size mismatch, expected %d, got %d", HashLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// String returns the base58 encoding of the hash.
func (h Hash) String() string { return base58.Encode(h[:]) }

// Bytes returns the raw 32 bytes of the hash.
func (h Hash) Bytes() []byte { return h[:] }

// String returns the base58 encoding of the signature.
func (s Signature) String() string { return base58.Encode(s[:]) }

// Bytes returns the raw 64 bytes of the signature.
func (s Signature) Bytes() []byte { return s[:] }

// SignatureFromBytes builds a Signature from a 64-byte slice.
func SignatureFromBytes(b []byte) (Signature, error) {
	var s Signature
	if len(b) != SignatureLength {
		return s, fmt.Errorf("signature size mismatch, expected %d, got %d", SignatureLength, len(b))
	}
	copy(s[:], b)
	return s, nil
}

// Generate creates a new random key pair.
func Generate() (KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key pair: %w", err)
	}
	return KeyPair{priv: priv}, nil
}

// FromBytes builds a key pair from its raw 64-byte secret+public encoding.
func FromBytes(b []byte) (KeyPair, error) {
	if len(b) != KeyPairLength {
		return KeyPair{}, fmt.Errorf("key pair size mismatch, expected %d, got %d", KeyPairLength, len(b))
	}
	return KeyPair{priv: ed25519.PrivateKey(append([]byte(nil), b...))}, nil
}

// FromBase58 builds a key pair from a base58-encoded raw 64-byte secret+public encoding.
func FromBase58(s string) (KeyPair, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return KeyPair{}, fmt.Errorf("decode base58 key pair: %w", err)
	}
	return FromBytes(b)
}

// PublicKey returns the key pair's public half.
func (kp KeyPair) PublicKey() PublicKey {
	var pk PublicKey
	copy(pk[:], kp.priv.Public().(ed25519.PublicKey))
	return pk
}

// Sign signs a message, returning a 64-byte signature.
func (kp KeyPair) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(kp.priv, message))
	return sig
}

// Verify checks a signature of message against the given public key.
func Verify(pk PublicKey, message []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), message, sig[:])
}
