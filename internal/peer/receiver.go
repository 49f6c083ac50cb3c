package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cs244-team/sidekick/internal/stream"
)

// maxDatagram bounds the receive buffer on the data socket.
const maxDatagram = 65535

// nackBurst is the aggregate limiter's burst: enough to NACK a fresh
// burst of gaps at once while still bounding the steady-state rate.
const nackBurst = 32

// Receiver owns the peer's data socket, the jitter buffer, and the NACK
// path. The sender's address is learned from the first arriving packet.
type Receiver struct {
	conn   *net.UDPConn
	codec  *stream.Codec
	buffer *JitterBuffer
	rtt    time.Duration

	// senderAddr is learned from the first data packet and is the NACK
	// destination thereafter.
	senderAddr atomic.Pointer[netip.AddrPort]

	// limiter caps the aggregate NACK rate independently of the
	// per-seqno RTT gate, so a wide loss burst cannot flood the reverse
	// path.
	limiter *rate.Limiter

	nacksSent atomic.Uint64
	logger    *slog.Logger
}

// NewReceiver binds the data socket on listenPort. The per-seqno NACK
// cadence is one per rtt; the aggregate rate is capped at one NACK per
// send period with a small burst.
func NewReceiver(codec *stream.Codec, listenPort uint16, rtt, sendPeriod time.Duration, logger *slog.Logger) (*Receiver, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: int(listenPort)})
	if err != nil {
		return nil, fmt.Errorf("binding data socket on %d: %w", listenPort, err)
	}

	return &Receiver{
		conn:    conn,
		codec:   codec,
		buffer:  NewJitterBuffer(logger),
		rtt:     rtt,
		limiter: rate.NewLimiter(rate.Every(sendPeriod), nackBurst),
		logger:  logger.With("subsystem", "receiver"),
	}, nil
}

// Buffer exposes the jitter buffer for playback and stats.
func (r *Receiver) Buffer() *JitterBuffer { return r.buffer }

// LocalPort returns the bound data port, useful when listening on an
// ephemeral port.
func (r *Receiver) LocalPort() uint16 {
	return uint16(r.conn.LocalAddr().(*net.UDPAddr).Port)
}

// NACKsSent reports emitted retransmission requests.
func (r *Receiver) NACKsSent() uint64 { return r.nacksSent.Load() }

// ReceiveLoop reads data packets until the socket closes. AEAD or framing
// failures are logged and the datagram dropped.
func (r *Receiver) ReceiveLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := r.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Error("data socket read failed", "error", err)
			continue
		}

		seqno, data, err := r.codec.OpenData(buf[:n])
		if err != nil {
			r.logger.Warn("dropping unparseable data packet", "from", from, "error", err)
			continue
		}

		if r.senderAddr.Load() == nil {
			r.senderAddr.Store(&from)
			r.logger.Info("learned sender address", "addr", from)
		}

		r.buffer.Push(seqno, data)
	}
}

// NACKLoop periodically scans the gap bookkeeping and requests
// retransmission of every seqno whose last NACK is older than one RTT.
// It wakes at half the RTT so a due NACK is sent at most half an RTT
// late.
func (r *Receiver) NACKLoop() {
	ticker := time.NewTicker(r.rtt / 2)
	defer ticker.Stop()

	for range ticker.C {
		r.scanAndNACK(time.Now())
	}
}

// scanAndNACK emits NACKs due at time now.
func (r *Receiver) scanAndNACK(now time.Time) {
	dst := r.senderAddr.Load()
	if dst == nil {
		return
	}

	for seqno, last := range r.buffer.MissingSeqnos() {
		if !last.IsZero() && now.Sub(last) <= r.rtt {
			continue
		}
		if !r.limiter.Allow() {
			return
		}

		payload, err := r.codec.SealNACK(seqno)
		if err != nil {
			r.logger.Error("sealing nack failed", "seqno", seqno, "error", err)
			continue
		}
		if _, err := r.conn.WriteToUDPAddrPort(payload, *dst); err != nil {
			r.logger.Error("sending nack failed", "seqno", seqno, "error", err)
			continue
		}

		r.buffer.MarkNACKed(seqno, now)
		r.nacksSent.Add(1)
		r.logger.Debug("nack sent", "seqno", seqno)
	}
}

// PlaybackLoop drains in-order payloads to sink forever. The sink stands
// in for an audio device.
func (r *Receiver) PlaybackLoop(sink func(data []byte)) {
	for {
		sink(r.buffer.Pop())
	}
}

// Close releases the data socket, ending ReceiveLoop.
func (r *Receiver) Close() {
	r.conn.Close()
}
