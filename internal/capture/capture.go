// Package capture turns a BPF-filtered network interface into a blocking
// FIFO of parsed IPv4 datagrams for the quACK aggregator. It is the only
// package that touches libpcap; everything downstream depends on the
// queue contract alone.
package capture

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/cs244-team/sidekick/internal/conqueue"
)

const (
	// DefaultFilter keeps everything the aggregator could possibly use.
	DefaultFilter = "ip and udp"

	// ProtoUDP is the IPv4 protocol number for UDP.
	ProtoUDP = 17

	// udpHeaderLen is the fixed UDP header size ahead of the payload.
	udpHeaderLen = 8

	// snapLen is the pcap snapshot length; full datagrams are needed to
	// reach the packet-id offset.
	snapLen = 65535

	// queueDepth bounds the datagram FIFO between the capture loop and
	// the aggregator.
	queueDepth = 4096
)

// Header is the parsed IPv4 header view the aggregator consumes.
type Header struct {
	Src   netip.Addr
	Dst   netip.Addr
	Proto uint8
}

// Datagram is one captured IPv4 datagram: header fields plus the IP
// payload (for UDP, the UDP header followed by application data).
type Datagram struct {
	Header  Header
	Payload []byte
}

// UDPPayload returns the application bytes after the UDP header. ok is
// false for non-UDP datagrams and for payloads shorter than a UDP header.
func (d Datagram) UDPPayload() ([]byte, bool) {
	if d.Header.Proto != ProtoUDP || len(d.Payload) < udpHeaderLen {
		return nil, false
	}
	return d.Payload[udpHeaderLen:], true
}

// Source yields parsed datagrams from a live interface.
type Source struct {
	handle *pcap.Handle
	queue  *conqueue.Queue[Datagram]
	logger *slog.Logger
}

// Open attaches to the named interface in promiscuous mode, restricts to
// inbound traffic where the platform supports it, and applies the BPF
// filter. All failures here are initialization errors and fatal to the
// caller.
func Open(iface, filter string, logger *slog.Logger) (*Source, error) {
	handle, err := pcap.OpenLive(iface, snapLen, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("opening capture on %s: %w", iface, err)
	}

	// Outbound traffic (our own emitted quACKs included) must not feed
	// the aggregator.
	if err := handle.SetDirection(pcap.DirectionIn); err != nil {
		logger.Warn("capture direction filter unsupported, relying on bpf", "error", err)
	}

	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("applying bpf filter %q: %w", filter, err)
	}

	return &Source{
		handle: handle,
		queue:  conqueue.New[Datagram](queueDepth),
		logger: logger.With("subsystem", "capture", "interface", iface),
	}, nil
}

// Datagrams returns the FIFO the capture loop fills.
func (s *Source) Datagrams() *conqueue.Queue[Datagram] {
	return s.queue
}

// Run blocks reading packets until the handle is closed. Per-packet parse
// failures are logged and dropped; the loop continues.
func (s *Source) Run() {
	pktSrc := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	for pkt := range pktSrc.Packets() {
		dgram, err := parsePacket(pkt)
		if err != nil {
			s.logger.Debug("dropping unparseable packet", "error", err)
			continue
		}
		s.queue.Push(dgram)
	}
}

// Close releases the pcap handle, ending Run.
func (s *Source) Close() {
	s.handle.Close()
}

// parsePacket extracts the IPv4 view of a captured packet.
func parsePacket(pkt gopacket.Packet) (Datagram, error) {
	layer := pkt.Layer(layers.LayerTypeIPv4)
	if layer == nil {
		return Datagram{}, fmt.Errorf("no ipv4 layer")
	}
	ip4 := layer.(*layers.IPv4)

	src, ok := netip.AddrFromSlice(ip4.SrcIP.To4())
	if !ok {
		return Datagram{}, fmt.Errorf("bad source address %v", ip4.SrcIP)
	}
	dst, ok := netip.AddrFromSlice(ip4.DstIP.To4())
	if !ok {
		return Datagram{}, fmt.Errorf("bad destination address %v", ip4.DstIP)
	}

	return Datagram{
		Header: Header{
			Src:   src,
			Dst:   dst,
			Proto: uint8(ip4.Protocol),
		},
		Payload: ip4.Payload,
	}, nil
}
