package quack

import (
	"encoding/binary"
	"fmt"
)

const (
	// ListenPort is the UDP port a sender listens on for quACKs from the
	// proxy.
	ListenPort = 8765

	// IDOffset is the byte offset into a UDP payload where the 4-byte
	// opaque packet identifier lives.
	IDOffset = 8

	// headerLen is the fixed portion of a quACK on the wire: num_received
	// and last_received_id.
	headerLen = 8

	// wordLen is the wire size of one power-sum component.
	wordLen = 4
)

// Quack is one report from the proxy to a sender: a snapshot of the
// proxy's aggregation state for a single flow.
type Quack struct {
	// NumReceived counts every qualifying packet observed on this flow.
	NumReceived uint32
	// LastReceivedID is the opaque id of the most recent observation.
	LastReceivedID uint32
	// Sums digests every id observed on the flow.
	Sums PowerSums
}

// NewQuack returns the zero aggregation state for one flow.
func NewQuack(threshold int) *Quack {
	return &Quack{Sums: NewPowerSums(threshold)}
}

// Encode serializes the quACK big-endian: num_received (4B),
// last_received_id (4B), then each power-sum component (4B each).
func (q *Quack) Encode() []byte {
	buf := make([]byte, headerLen+q.Sums.Size()*wordLen)
	binary.BigEndian.PutUint32(buf[0:4], q.NumReceived)
	binary.BigEndian.PutUint32(buf[4:8], q.LastReceivedID)
	for i := 0; i < q.Sums.Size(); i++ {
		binary.BigEndian.PutUint32(buf[headerLen+i*wordLen:], uint32(q.Sums.At(i).Value()))
	}
	return buf
}

// Decode parses a quACK datagram. The threshold is not carried explicitly:
// components are consumed until the buffer is exhausted, so both ends must
// be configured with the same threshold out-of-band.
func Decode(buf []byte) (*Quack, error) {
	if len(buf) < headerLen {
		return nil, fmt.Errorf("quack too short: %d bytes", len(buf))
	}
	rest := buf[headerLen:]
	if len(rest)%wordLen != 0 {
		return nil, fmt.Errorf("quack has truncated power sum: %d trailing bytes", len(rest)%wordLen)
	}

	sums := make([]ModInt, len(rest)/wordLen)
	for i := range sums {
		sums[i] = NewModInt(uint64(binary.BigEndian.Uint32(rest[i*wordLen:])))
	}

	return &Quack{
		NumReceived:    binary.BigEndian.Uint32(buf[0:4]),
		LastReceivedID: binary.BigEndian.Uint32(buf[4:8]),
		Sums:           newPowerSumsFrom(sums),
	}, nil
}

// PacketID extracts the opaque identifier from a UDP payload: the 4 bytes
// at IDOffset, big-endian. Payloads too short to carry an id return false
// and must be skipped by both the proxy and the sender.
func PacketID(payload []byte) (uint32, bool) {
	if len(payload) < IDOffset+4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(payload[IDOffset:]), true
}
