package peer

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPushInOrderPlaysImmediately(t *testing.T) {
	b := NewJitterBuffer(discardLogger())

	b.Push(0, []byte("a"))
	b.Push(1, []byte("b"))

	if got := b.Pop(); !bytes.Equal(got, []byte("a")) {
		t.Errorf("Pop = %q, want a", got)
	}
	if got := b.Pop(); !bytes.Equal(got, []byte("b")) {
		t.Errorf("Pop = %q, want b", got)
	}
	if b.MissingCount() != 0 {
		t.Errorf("missing = %d, want 0", b.MissingCount())
	}
}

func TestGapHoldsPlaybackAndTracksMissing(t *testing.T) {
	b := NewJitterBuffer(discardLogger())

	b.Push(0, []byte("a"))
	b.Push(2, []byte("c"))
	b.Push(5, []byte("f"))

	missing := b.MissingSeqnos()
	for _, want := range []uint32{1, 3, 4} {
		last, ok := missing[want]
		if !ok {
			t.Errorf("seqno %d not tracked missing", want)
		}
		if !last.IsZero() {
			t.Errorf("seqno %d last-nack = %v, want zero (never)", want, last)
		}
	}

	// Only seqno 0 is playable so far.
	if got := b.Pop(); !bytes.Equal(got, []byte("a")) {
		t.Fatalf("Pop = %q, want a", got)
	}

	// Filling the gap releases the contiguous prefix through it.
	b.Push(1, []byte("b"))
	if got := b.Pop(); !bytes.Equal(got, []byte("b")) {
		t.Errorf("Pop = %q, want b", got)
	}
	if got := b.Pop(); !bytes.Equal(got, []byte("c")) {
		t.Errorf("Pop = %q, want c", got)
	}
	if b.MissingCount() != 2 {
		t.Errorf("missing = %d, want 2 (3 and 4)", b.MissingCount())
	}
}

func TestDuplicateIgnored(t *testing.T) {
	b := NewJitterBuffer(discardLogger())
	b.Push(0, []byte("a"))
	b.Push(0, []byte("dup"))

	if got := b.Pop(); !bytes.Equal(got, []byte("a")) {
		t.Errorf("Pop = %q, want original payload", got)
	}
	if b.ReceivedCount() != 1 {
		t.Errorf("received = %d, want 1", b.ReceivedCount())
	}
}

func TestMarkNACKed(t *testing.T) {
	b := NewJitterBuffer(discardLogger())
	b.Push(1, []byte("b")) // seqno 0 missing

	now := time.Now()
	b.MarkNACKed(0, now)
	if last := b.MissingSeqnos()[0]; !last.Equal(now) {
		t.Errorf("last-nack = %v, want %v", last, now)
	}

	// Marking a seqno that is not missing is a no-op.
	b.MarkNACKed(1, now)
	if _, ok := b.MissingSeqnos()[1]; ok {
		t.Error("received seqno reappeared in missing set")
	}
}

func TestWriteStats(t *testing.T) {
	b := NewJitterBuffer(discardLogger())
	b.Push(1, []byte("b")) // waits for 0
	b.Push(0, []byte("a")) // releases both

	var out strings.Builder
	if err := b.WriteStats(&out); err != nil {
		t.Fatalf("WriteStats: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("stats lines = %d, want header + 2 rows:\n%s", len(lines), out.String())
	}
	if lines[0] != "seqno,dejitter_latency_ms" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "0,") || !strings.HasPrefix(lines[2], "1,") {
		t.Errorf("rows not sorted by seqno:\n%s", out.String())
	}
}
