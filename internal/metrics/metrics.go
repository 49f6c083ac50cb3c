// Package metrics exposes sidekick runtime state as prometheus metrics,
// gathered from provider interfaces at scrape time.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AggregatorStatsProvider exposes the proxy aggregator's counters.
type AggregatorStatsProvider interface {
	PacketsObserved() uint64
	PacketsSkipped() uint64
	QuacksEmitted() uint64
	EmitErrors() uint64
	ActiveFlows() int
}

// TrackerStatsProvider exposes the sender's transmission counters.
type TrackerStatsProvider interface {
	Transmitted() uint64
	Retransmitted() uint64
	LogLen() int
}

// DecoderStatsProvider exposes the sender's quACK decoding counters.
type DecoderStatsProvider interface {
	QuacksDecoded() uint64
	LossesRecovered() uint64
	OverloadWindows() uint64
}

// ReceiverStatsProvider exposes the playback peer's counters.
type ReceiverStatsProvider interface {
	NACKsSent() uint64
}

// BufferStatsProvider exposes the jitter buffer's counters.
type BufferStatsProvider interface {
	ReceivedCount() int
	MissingCount() int
}

// Collector is a prometheus.Collector over whichever providers the
// hosting binary has. Any provider may be nil.
type Collector struct {
	aggregator AggregatorStatsProvider
	tracker    TrackerStatsProvider
	decoder    DecoderStatsProvider
	receiver   ReceiverStatsProvider
	buffer     BufferStatsProvider
	startTime  time.Time

	observedDesc    *prometheus.Desc
	skippedDesc     *prometheus.Desc
	emittedDesc     *prometheus.Desc
	emitErrorsDesc  *prometheus.Desc
	activeFlowsDesc *prometheus.Desc

	transmittedDesc   *prometheus.Desc
	retransmittedDesc *prometheus.Desc
	logLenDesc        *prometheus.Desc
	decodedDesc       *prometheus.Desc
	recoveredDesc     *prometheus.Desc
	overloadsDesc     *prometheus.Desc

	nacksSentDesc *prometheus.Desc
	receivedDesc  *prometheus.Desc
	missingDesc   *prometheus.Desc

	uptimeDesc *prometheus.Desc
}

// NewCollector creates a collector; pass nil for providers the binary
// does not host.
func NewCollector(
	aggregator AggregatorStatsProvider,
	tracker TrackerStatsProvider,
	decoder DecoderStatsProvider,
	receiver ReceiverStatsProvider,
	buffer BufferStatsProvider,
	startTime time.Time,
) *Collector {
	return &Collector{
		aggregator: aggregator,
		tracker:    tracker,
		decoder:    decoder,
		receiver:   receiver,
		buffer:     buffer,
		startTime:  startTime,

		observedDesc: prometheus.NewDesc(
			"sidekick_packets_observed_total",
			"Qualifying packets folded into per-source sketches",
			nil, nil,
		),
		skippedDesc: prometheus.NewDesc(
			"sidekick_packets_skipped_total",
			"Captured datagrams dropped (non-UDP, short payload, zero id)",
			nil, nil,
		),
		emittedDesc: prometheus.NewDesc(
			"sidekick_quacks_emitted_total",
			"quACKs successfully sent toward senders",
			nil, nil,
		),
		emitErrorsDesc: prometheus.NewDesc(
			"sidekick_quack_emit_errors_total",
			"quACK emissions that failed at the socket",
			nil, nil,
		),
		activeFlowsDesc: prometheus.NewDesc(
			"sidekick_active_flows",
			"Sources with aggregation state",
			nil, nil,
		),
		transmittedDesc: prometheus.NewDesc(
			"sidekick_packets_transmitted_total",
			"Original data transmissions",
			nil, nil,
		),
		retransmittedDesc: prometheus.NewDesc(
			"sidekick_packets_retransmitted_total",
			"Retransmissions from the NACK and quACK paths",
			nil, nil,
		),
		logLenDesc: prometheus.NewDesc(
			"sidekick_id_log_length",
			"Entries in the sender's packet id log",
			nil, nil,
		),
		decodedDesc: prometheus.NewDesc(
			"sidekick_quacks_decoded_total",
			"quACKs successfully decoded",
			nil, nil,
		),
		recoveredDesc: prometheus.NewDesc(
			"sidekick_losses_recovered_total",
			"Packet ids recovered by quACK decoding",
			nil, nil,
		),
		overloadsDesc: prometheus.NewDesc(
			"sidekick_decode_overload_windows_total",
			"Decode windows whose implied loss count exceeded the threshold",
			nil, nil,
		),
		nacksSentDesc: prometheus.NewDesc(
			"sidekick_nacks_sent_total",
			"Retransmission requests emitted by the peer",
			nil, nil,
		),
		receivedDesc: prometheus.NewDesc(
			"sidekick_peer_packets_received",
			"Distinct seqnos received by the peer",
			nil, nil,
		),
		missingDesc: prometheus.NewDesc(
			"sidekick_peer_packets_missing",
			"Outstanding gaps in the peer's jitter buffer",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"sidekick_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.observedDesc
	ch <- c.skippedDesc
	ch <- c.emittedDesc
	ch <- c.emitErrorsDesc
	ch <- c.activeFlowsDesc
	ch <- c.transmittedDesc
	ch <- c.retransmittedDesc
	ch <- c.logLenDesc
	ch <- c.decodedDesc
	ch <- c.recoveredDesc
	ch <- c.overloadsDesc
	ch <- c.nacksSentDesc
	ch <- c.receivedDesc
	ch <- c.missingDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.aggregator != nil {
		ch <- prometheus.MustNewConstMetric(c.observedDesc, prometheus.CounterValue, float64(c.aggregator.PacketsObserved()))
		ch <- prometheus.MustNewConstMetric(c.skippedDesc, prometheus.CounterValue, float64(c.aggregator.PacketsSkipped()))
		ch <- prometheus.MustNewConstMetric(c.emittedDesc, prometheus.CounterValue, float64(c.aggregator.QuacksEmitted()))
		ch <- prometheus.MustNewConstMetric(c.emitErrorsDesc, prometheus.CounterValue, float64(c.aggregator.EmitErrors()))
		ch <- prometheus.MustNewConstMetric(c.activeFlowsDesc, prometheus.GaugeValue, float64(c.aggregator.ActiveFlows()))
	}

	if c.tracker != nil {
		ch <- prometheus.MustNewConstMetric(c.transmittedDesc, prometheus.CounterValue, float64(c.tracker.Transmitted()))
		ch <- prometheus.MustNewConstMetric(c.retransmittedDesc, prometheus.CounterValue, float64(c.tracker.Retransmitted()))
		ch <- prometheus.MustNewConstMetric(c.logLenDesc, prometheus.GaugeValue, float64(c.tracker.LogLen()))
	}

	if c.decoder != nil {
		ch <- prometheus.MustNewConstMetric(c.decodedDesc, prometheus.CounterValue, float64(c.decoder.QuacksDecoded()))
		ch <- prometheus.MustNewConstMetric(c.recoveredDesc, prometheus.CounterValue, float64(c.decoder.LossesRecovered()))
		ch <- prometheus.MustNewConstMetric(c.overloadsDesc, prometheus.CounterValue, float64(c.decoder.OverloadWindows()))
	}

	if c.receiver != nil {
		ch <- prometheus.MustNewConstMetric(c.nacksSentDesc, prometheus.CounterValue, float64(c.receiver.NACKsSent()))
	}

	if c.buffer != nil {
		ch <- prometheus.MustNewConstMetric(c.receivedDesc, prometheus.GaugeValue, float64(c.buffer.ReceivedCount()))
		ch <- prometheus.MustNewConstMetric(c.missingDesc, prometheus.GaugeValue, float64(c.buffer.MissingCount()))
	}

	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}
