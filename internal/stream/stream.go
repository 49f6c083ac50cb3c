// Package stream defines the encrypted datagram framing shared by the
// sender and the playback peer.
//
// Data datagram: 24-byte nonce || secretbox ciphertext of
// (big-endian seqno u32 || application data). NACK datagram: the same
// framing whose plaintext is the decimal digits of the requested seqno.
//
// The opaque packet id used by the quACK sketch is read from a fixed
// offset of the sealed payload; since that offset falls inside the random
// nonce prefix the id is effectively uniform and the proxy never needs to
// decrypt.
package stream

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/cs244-team/sidekick/internal/secret"
)

// ServerDefaultPort is the default data port on the playback peer.
const ServerDefaultPort = 9000

// seqnoLen is the serialized sequence-number prefix inside the plaintext.
const seqnoLen = 4

// Codec seals and parses datagrams under one AEAD key.
type Codec struct {
	box *secret.Box
}

// NewCodec wraps an AEAD box.
func NewCodec(box *secret.Box) *Codec {
	return &Codec{box: box}
}

// SealData builds the wire form of one data packet: seqno framed ahead of
// the payload, sealed, nonce-prefixed.
func (c *Codec) SealData(seqno uint32, data []byte) ([]byte, error) {
	plaintext := make([]byte, seqnoLen+len(data))
	binary.BigEndian.PutUint32(plaintext, seqno)
	copy(plaintext[seqnoLen:], data)
	return c.box.Seal(plaintext)
}

// OpenData authenticates and parses a data packet, returning the sequence
// number and application data.
func (c *Codec) OpenData(payload []byte) (uint32, []byte, error) {
	plaintext, ok := c.box.Open(payload)
	if !ok {
		return 0, nil, fmt.Errorf("decryption failed")
	}
	if len(plaintext) < seqnoLen {
		return 0, nil, fmt.Errorf("plaintext too short for seqno: %d bytes", len(plaintext))
	}
	return binary.BigEndian.Uint32(plaintext), plaintext[seqnoLen:], nil
}

// SealNACK builds a retransmission request for seqno: the decimal digit
// string of the sequence number, sealed like any other payload.
func (c *Codec) SealNACK(seqno uint32) ([]byte, error) {
	return c.box.Seal([]byte(strconv.FormatUint(uint64(seqno), 10)))
}

// OpenNACK authenticates and parses a retransmission request.
func (c *Codec) OpenNACK(payload []byte) (uint32, error) {
	plaintext, ok := c.box.Open(payload)
	if !ok {
		return 0, fmt.Errorf("decryption failed")
	}
	seqno, err := strconv.ParseUint(string(plaintext), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing nack seqno %q: %w", plaintext, err)
	}
	return uint32(seqno), nil
}
