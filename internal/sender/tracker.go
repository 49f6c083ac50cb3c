// Package sender implements the data-sender half of the quACK protocol:
// an append-only log of every transmitted packet id, NACK-driven
// retransmission, and a decoder that turns each incoming quACK into the
// exact set of ids lost upstream of the proxy.
package sender

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cs244-team/sidekick/internal/quack"
)

// Sink sends one sealed payload on the data socket.
type Sink interface {
	Send(payload []byte) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(payload []byte) error

// Send implements Sink.
func (f SinkFunc) Send(payload []byte) error { return f(payload) }

// Tracker is the sender's view of outstanding data. One mutex guards the
// payload map, the id-to-seqno map, and the ordered id log as a unit: a
// quACK decode walks the log and then issues retransmits that mutate all
// three, and a split lock could expose an id whose payload is not yet
// stored. Every transmission, original or retransmit, appends its id to
// the log; that is what keeps the proxy's sketch and the sender's running
// sketch views of the same multiset.
type Tracker struct {
	mu sync.Mutex

	// sentData maps seqno to the sealed payload, for retransmission.
	sentData map[uint32][]byte
	// idToSeqno maps an opaque packet id back to its seqno.
	idToSeqno map[uint32]uint32
	// sentIDs is the id log, in the order transmissions left the sender.
	sentIDs []uint32

	sink   Sink
	logger *slog.Logger

	transmitted   atomic.Uint64
	retransmitted atomic.Uint64
}

// NewTracker creates an empty tracker sending through sink.
func NewTracker(sink Sink, logger *slog.Logger) *Tracker {
	return &Tracker{
		sentData:  make(map[uint32][]byte),
		idToSeqno: make(map[uint32]uint32),
		sink:      sink,
		logger:    logger.With("subsystem", "tracker"),
	}
}

// TrackAndSend enrolls a freshly sealed payload under its seqno and sends
// it. Payloads whose extracted id is zero are sent but kept out of the id
// log, mirroring the proxy's refusal of zero ids, so both sketches keep
// describing the same multiset.
func (t *Tracker) TrackAndSend(seqno uint32, payload []byte) error {
	id, ok := quack.PacketID(payload)

	t.mu.Lock()
	t.sentData[seqno] = payload
	if ok && id != 0 {
		t.idToSeqno[id] = seqno
		t.sentIDs = append(t.sentIDs, id)
	} else {
		t.logger.Warn("payload has no usable packet id, excluded from sketch", "seqno", seqno)
	}
	err := t.sink.Send(payload)
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("sending seqno %d: %w", seqno, err)
	}
	t.transmitted.Add(1)
	return nil
}

// Retransmit resends the payload stored for seqno, re-appending its id to
// the log first. Used by the NACK path.
func (t *Tracker) Retransmit(seqno uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retransmitLocked(seqno)
}

// retransmitLocked is the shared retransmission routine; the caller must
// hold the mutex.
func (t *Tracker) retransmitLocked(seqno uint32) error {
	payload, ok := t.sentData[seqno]
	if !ok {
		return fmt.Errorf("no stored payload for seqno %d", seqno)
	}

	if id, ok := quack.PacketID(payload); ok && id != 0 {
		t.sentIDs = append(t.sentIDs, id)
	}

	if err := t.sink.Send(payload); err != nil {
		return fmt.Errorf("retransmitting seqno %d: %w", seqno, err)
	}
	t.retransmitted.Add(1)
	t.logger.Debug("retransmitted", "seqno", seqno)
	return nil
}

// WalkWindow feeds fn every id in the log from index first until the
// sentinel id is seen, inclusive. It returns the exclusive end index of
// the walked window and whether the sentinel was found; on a miss the
// whole tail has been fed to fn and the caller is expected to discard
// whatever it accumulated.
func (t *Tracker) WalkWindow(first int, sentinel uint32, fn func(id uint32)) (end int, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := first; i < len(t.sentIDs); i++ {
		fn(t.sentIDs[i])
		if t.sentIDs[i] == sentinel {
			return i + 1, true
		}
	}
	return len(t.sentIDs), false
}

// RetransmitLost walks the log window [first, end), retransmitting every
// id the predicate marks lost and reporting it through onLost. The mutex
// is held across the whole pass so each retransmission externalizes a
// consistent view of the three structures.
func (t *Tracker) RetransmitLost(first, end int, lost func(id uint32) bool, onLost func(id uint32)) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for i := first; i < end; i++ {
		id := t.sentIDs[i]
		if !lost(id) {
			continue
		}
		seqno, ok := t.idToSeqno[id]
		if !ok {
			t.logger.Warn("lost id has no seqno mapping", "id", id)
			continue
		}
		if err := t.retransmitLocked(seqno); err != nil {
			t.logger.Error("quack-driven retransmission failed", "seqno", seqno, "error", err)
			continue
		}
		onLost(id)
		count++
	}
	return count
}

// LogLen returns the current length of the id log.
func (t *Tracker) LogLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sentIDs)
}

// Transmitted reports original transmissions.
func (t *Tracker) Transmitted() uint64 { return t.transmitted.Load() }

// Retransmitted reports retransmissions from both the NACK and quACK
// paths.
func (t *Tracker) Retransmitted() uint64 { return t.retransmitted.Load() }
