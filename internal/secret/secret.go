// Package secret provides authenticated encryption of datagram payloads
// with XSalsa20-Poly1305 (NaCl secretbox). Every sealed message is framed
// as nonce || ciphertext so it can travel in a single UDP payload.
package secret

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceLen is the XSalsa20-Poly1305 nonce size prefixed to every
	// sealed payload.
	NonceLen = 24

	// TagLen is the Poly1305 authenticator appended to the ciphertext.
	TagLen = secretbox.Overhead
)

// Box seals and opens payloads under one symmetric key.
type Box struct {
	key [32]byte
}

// NewBox returns a Box for the given 32-byte key.
func NewBox(key []byte) (*Box, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secretbox key must be 32 bytes, got %d", len(key))
	}
	b := &Box{}
	copy(b.key[:], key)
	return b, nil
}

// DefaultKey is the fixed symmetric key shared by all endpoints in this
// replication study; the data channel is assumed trusted.
func DefaultKey() []byte {
	return []byte{
		0xf2, 0x5c, 0xf1, 0x3d, 0xc1, 0x4b, 0x20, 0xd8, 0x13, 0xfa, 0xa3, 0x91, 0xbc, 0x5e, 0xbc, 0x99,
		0x17, 0x79, 0xd3, 0x28, 0x7d, 0x9b, 0x95, 0x46, 0xa7, 0x42, 0x35, 0x90, 0xd5, 0x86, 0x04, 0x25,
	}
}

// Seal encrypts plaintext under a fresh random nonce and returns
// nonce || ciphertext.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [NonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	out := make([]byte, NonceLen, NonceLen+len(plaintext)+TagLen)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, &b.key), nil
}

// Open authenticates and decrypts a nonce-prefixed payload. It returns
// ok=false for payloads too short to carry a nonce and tag, and for any
// authentication failure.
func (b *Box) Open(payload []byte) ([]byte, bool) {
	if len(payload) < NonceLen+TagLen {
		return nil, false
	}
	var nonce [NonceLen]byte
	copy(nonce[:], payload[:NonceLen])
	return secretbox.Open(nil, payload[NonceLen:], &nonce, &b.key)
}
