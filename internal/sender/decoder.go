package sender

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cs244-team/sidekick/internal/quack"
)

// Decoder consumes quACKs for one flow. It keeps a running power-sum
// sketch over the prefix of the id log already covered by quACKs and a
// cursor marking the end of that prefix. Both are owned exclusively by
// the quACK-receiving goroutine, so they live outside the tracker's
// mutex; only the log walks and retransmissions take it.
type Decoder struct {
	tracker   *Tracker
	threshold int
	logger    *slog.Logger

	runningSums   quack.PowerSums
	nextUnquacked int

	// prevNumReceived is the proxy's cumulative receive count as of the
	// previous quACK, for overload accounting.
	prevNumReceived uint32

	decoded   atomic.Uint64
	recovered atomic.Uint64
	overloads atomic.Uint64
}

// NewDecoder creates a decoder whose sketch carries threshold power sums.
// The threshold must match the proxy's or every difference will fail.
func NewDecoder(tracker *Tracker, threshold int, logger *slog.Logger) *Decoder {
	return &Decoder{
		tracker:     tracker,
		threshold:   threshold,
		logger:      logger.With("subsystem", "decoder"),
		runningSums: quack.NewPowerSums(threshold),
	}
}

// HandleQuack decodes one quACK: it advances the running sketch to the
// proxy's last-seen id, differences the sketches, and retransmits every
// id in the window on which the difference polynomial vanishes.
//
// If the proxy's last-seen id is not found in the log the quACK cannot be
// aligned (the log and the proxy have diverged, or the quACK was
// reordered past its window); the running sketch and cursor are rolled
// back untouched and the quACK is skipped.
func (d *Decoder) HandleQuack(q *quack.Quack) error {
	if q.Sums.Size() != d.threshold {
		return fmt.Errorf("quack threshold %d does not match local %d", q.Sums.Size(), d.threshold)
	}

	first := d.nextUnquacked
	saved := d.runningSums.Clone()

	end, found := d.tracker.WalkWindow(first, q.LastReceivedID, func(id uint32) {
		d.runningSums.Add(quack.NewModInt(uint64(id)))
	})
	if !found {
		d.runningSums = saved
		return fmt.Errorf("last received id %d not in log window starting at %d", q.LastReceivedID, first)
	}
	d.nextUnquacked = end

	diff, err := d.runningSums.Difference(q.Sums)
	if err != nil {
		return fmt.Errorf("differencing sketches: %w", err)
	}
	poly := quack.NewPolynomial(diff)

	// Overload accounting: the window held end-first transmissions and
	// the proxy received delta of them; past the threshold the roots are
	// no longer trustworthy, but retransmission still proceeds as
	// graceful degradation.
	delta := int64(q.NumReceived) - int64(d.prevNumReceived)
	d.prevNumReceived = q.NumReceived
	if missing := int64(end-first) - delta; missing > int64(d.threshold) {
		d.overloads.Add(1)
		d.logger.Warn("loss window exceeds sketch threshold, roots may be spurious",
			"missing", missing,
			"threshold", d.threshold,
		)
	}

	n := d.tracker.RetransmitLost(first, end,
		func(id uint32) bool {
			return poly.Eval(quack.NewModInt(uint64(id))).IsZero()
		},
		func(id uint32) {
			d.runningSums.Remove(quack.NewModInt(uint64(id)))
		},
	)

	d.decoded.Add(1)
	d.recovered.Add(uint64(n))
	if n > 0 {
		d.logger.Info("recovered losses from quack",
			"count", n,
			"window_start", first,
			"window_end", end,
		)
	}
	return nil
}

// QuacksDecoded reports successfully processed quACKs.
func (d *Decoder) QuacksDecoded() uint64 { return d.decoded.Load() }

// LossesRecovered reports ids retransmitted by quACK decoding.
func (d *Decoder) LossesRecovered() uint64 { return d.recovered.Load() }

// OverloadWindows reports decode windows whose implied loss count
// exceeded the threshold.
func (d *Decoder) OverloadWindows() uint64 { return d.overloads.Load() }
