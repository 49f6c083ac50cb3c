// Package peer implements the downstream playback peer: a jitter buffer
// that reorders the encrypted stream, NACK emission for gaps, and
// de-jitter latency accounting.
package peer

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cs244-team/sidekick/internal/conqueue"
)

// packetRecord tracks one received payload through the buffer. Packets
// are never removed after insertion; once playable the data moves to the
// playback queue and only the timestamps remain.
type packetRecord struct {
	receivedAt time.Time
	playableAt time.Time
	played     bool
	data       []byte
}

// JitterBuffer reorders incoming payloads by seqno, tracks gaps for the
// NACK path, and releases any contiguous prefix to a blocking playback
// queue.
type JitterBuffer struct {
	mu sync.Mutex

	received map[uint32]*packetRecord

	// missing maps a gap seqno to the time it was last NACKed; the zero
	// time means it has never been NACKed and is due immediately.
	missing map[uint32]time.Time

	playback *conqueue.Queue[[]byte]

	// nextSeqno is one past the highest seqno ever seen.
	nextSeqno uint32
	// nextUnplayable is the first seqno that cannot yet be played
	// in-order.
	nextUnplayable uint32

	logger *slog.Logger
}

// NewJitterBuffer returns an empty buffer.
func NewJitterBuffer(logger *slog.Logger) *JitterBuffer {
	return &JitterBuffer{
		received: make(map[uint32]*packetRecord),
		missing:  make(map[uint32]time.Time),
		playback: conqueue.New[[]byte](0),
		logger:   logger.With("subsystem", "jitter-buffer"),
	}
}

// Push inserts a payload. Gap seqnos between the previous high-water mark
// and this one are enrolled as missing; any newly contiguous prefix
// becomes playable immediately.
func (b *JitterBuffer) Push(seqno uint32, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.received[seqno]; ok {
		b.logger.Debug("duplicate packet", "seqno", seqno)
		return
	}

	// Everything between the old high-water mark and seqno is now known
	// missing. The zero last-NACK time makes each due for an immediate
	// NACK.
	for b.nextSeqno <= seqno {
		b.missing[b.nextSeqno] = time.Time{}
		b.nextSeqno++
	}

	now := time.Now()
	b.received[seqno] = &packetRecord{receivedAt: now, data: data}
	delete(b.missing, seqno)

	for {
		rec, ok := b.received[b.nextUnplayable]
		if !ok {
			break
		}
		rec.playableAt = now
		rec.played = true
		b.playback.Push(rec.data)
		rec.data = nil
		b.nextUnplayable++
	}
}

// Pop blocks until the next in-order payload is playable.
func (b *JitterBuffer) Pop() []byte {
	return b.playback.Pop()
}

// MissingSeqnos returns a snapshot of the gap bookkeeping: seqno to time
// of last NACK (zero means never).
func (b *JitterBuffer) MissingSeqnos() map[uint32]time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[uint32]time.Time, len(b.missing))
	for seqno, last := range b.missing {
		out[seqno] = last
	}
	return out
}

// MarkNACKed records that a NACK for seqno was sent at t. A seqno that
// has been filled in the meantime is left alone.
func (b *JitterBuffer) MarkNACKed(seqno uint32, t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.missing[seqno]; ok {
		b.missing[seqno] = t
	}
}

// MissingCount returns the number of outstanding gaps.
func (b *JitterBuffer) MissingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.missing)
}

// ReceivedCount returns the number of distinct seqnos ever received.
func (b *JitterBuffer) ReceivedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.received)
}

// WriteStats emits one CSV row per played seqno with its de-jitter
// latency (time between arrival and becoming playable) in milliseconds.
func (b *JitterBuffer) WriteStats(w io.Writer) error {
	b.mu.Lock()
	type row struct {
		seqno     uint32
		latencyMs float64
	}
	rows := make([]row, 0, len(b.received))
	for seqno, rec := range b.received {
		if !rec.played {
			continue
		}
		rows = append(rows, row{seqno, float64(rec.playableAt.Sub(rec.receivedAt).Microseconds()) / 1000.0})
	}
	b.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].seqno < rows[j].seqno })

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"seqno", "dejitter_latency_ms"}); err != nil {
		return fmt.Errorf("writing stats header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			strconv.FormatUint(uint64(r.seqno), 10),
			strconv.FormatFloat(r.latencyMs, 'f', 3, 64),
		}); err != nil {
			return fmt.Errorf("writing stats row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
