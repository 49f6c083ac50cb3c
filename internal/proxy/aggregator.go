// Package proxy implements the in-network quACK sender: it consumes
// captured datagrams, folds each flow's packet ids into a per-source
// power-sum sketch, and periodically reports the sketch back to the flow's
// source so it can decode which packets never made it this far.
package proxy

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/cs244-team/sidekick/internal/capture"
	"github.com/cs244-team/sidekick/internal/conqueue"
	"github.com/cs244-team/sidekick/internal/quack"
)

// Emitter sends one serialized quACK toward a sender. Split out so tests
// can capture emissions without sockets.
type Emitter interface {
	Emit(dst netip.AddrPort, payload []byte) error
}

// UDPEmitter sends quACKs from a single unconnected UDP socket, reused
// for every destination.
type UDPEmitter struct {
	conn *net.UDPConn
}

// NewUDPEmitter binds the emission socket to an ephemeral port.
func NewUDPEmitter() (*UDPEmitter, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("binding quack socket: %w", err)
	}
	return &UDPEmitter{conn: conn}, nil
}

// Emit implements Emitter.
func (e *UDPEmitter) Emit(dst netip.AddrPort, payload []byte) error {
	_, err := e.conn.WriteToUDPAddrPort(payload, dst)
	return err
}

// Close releases the emission socket.
func (e *UDPEmitter) Close() error {
	return e.conn.Close()
}

// Aggregator owns the per-source quACK state. It is single-threaded: only
// the goroutine running Run touches the state map, so no lock is needed
// beyond the ingress FIFO. Counters are atomic for the metrics scraper.
type Aggregator struct {
	interval  uint32
	threshold int
	quackPort uint16

	states  map[netip.Addr]*quack.Quack
	emitter Emitter
	logger  *slog.Logger

	observed    atomic.Uint64
	emitted     atomic.Uint64
	emitErrors  atomic.Uint64
	skipped     atomic.Uint64
	activeFlows atomic.Int64
}

// NewAggregator creates an aggregator emitting one quACK per interval
// observed packets per source, each carrying threshold power sums.
func NewAggregator(interval uint32, threshold int, quackPort uint16, emitter Emitter, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		interval:  interval,
		threshold: threshold,
		quackPort: quackPort,
		states:    make(map[netip.Addr]*quack.Quack),
		emitter:   emitter,
		logger:    logger.With("subsystem", "aggregator"),
	}
}

// Run consumes the capture FIFO forever.
func (a *Aggregator) Run(datagrams *conqueue.Queue[capture.Datagram]) {
	a.logger.Info("aggregator running",
		"quack_interval", a.interval,
		"threshold", a.threshold,
		"quack_port", a.quackPort,
	)
	for {
		a.HandleDatagram(datagrams.Pop())
	}
}

// HandleDatagram processes one captured datagram: non-UDP traffic and
// payloads without an extractable id are dropped, everything else updates
// the source's sketch and may trigger an emission.
func (a *Aggregator) HandleDatagram(dgram capture.Datagram) {
	payload, ok := dgram.UDPPayload()
	if !ok {
		a.skipped.Add(1)
		a.logger.Debug("dropping non-udp datagram",
			"src", dgram.Header.Src,
			"proto", dgram.Header.Proto,
		)
		return
	}

	id, ok := quack.PacketID(payload)
	if !ok {
		a.skipped.Add(1)
		return
	}
	if id == 0 {
		// Zero is absorbing in the sketch field and cannot be decoded as
		// a root; refuse it at ingest so both sketches stay consistent.
		a.skipped.Add(1)
		a.logger.Warn("refusing zero packet id", "src", dgram.Header.Src)
		return
	}

	a.updateQuack(dgram.Header.Src, id)
}

// updateQuack folds one observation into the source's state and emits a
// snapshot every interval packets.
func (a *Aggregator) updateQuack(src netip.Addr, id uint32) {
	state, ok := a.states[src]
	if !ok {
		state = quack.NewQuack(a.threshold)
		a.states[src] = state
		a.activeFlows.Add(1)
		a.logger.Info("new flow", "src", src)
	}

	state.NumReceived++
	state.LastReceivedID = id
	state.Sums.Add(quack.NewModInt(uint64(id)))
	a.observed.Add(1)

	if state.NumReceived%a.interval == 0 {
		a.emit(src, state)
	}
}

// emit serializes the current state for src and sends it to the sender's
// quACK port. Errors are logged; aggregation continues for all sources.
func (a *Aggregator) emit(src netip.Addr, state *quack.Quack) {
	dst := netip.AddrPortFrom(src, a.quackPort)
	if err := a.emitter.Emit(dst, state.Encode()); err != nil {
		a.emitErrors.Add(1)
		a.logger.Error("quack emission failed", "dst", dst, "error", err)
		return
	}
	a.emitted.Add(1)
	a.logger.Debug("quack emitted",
		"dst", dst,
		"num_received", state.NumReceived,
		"last_received_id", state.LastReceivedID,
	)
}

// PacketsObserved reports qualifying packets folded into sketches.
func (a *Aggregator) PacketsObserved() uint64 { return a.observed.Load() }

// QuacksEmitted reports successful quACK emissions.
func (a *Aggregator) QuacksEmitted() uint64 { return a.emitted.Load() }

// EmitErrors reports failed quACK emissions.
func (a *Aggregator) EmitErrors() uint64 { return a.emitErrors.Load() }

// PacketsSkipped reports dropped datagrams (non-UDP, short, zero id).
func (a *Aggregator) PacketsSkipped() uint64 { return a.skipped.Load() }

// ActiveFlows reports the number of sources with aggregation state.
func (a *Aggregator) ActiveFlows() int { return int(a.activeFlows.Load()) }
