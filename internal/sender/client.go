package sender

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/cs244-team/sidekick/internal/audio"
	"github.com/cs244-team/sidekick/internal/quack"
	"github.com/cs244-team/sidekick/internal/stream"
)

// maxDatagram bounds receive buffers on both listening sockets.
const maxDatagram = 65535

// Client owns the sender's sockets and long-lived loops: the paced
// transmit loop draining the audio buffer, the NACK receive loop on the
// data socket, and the quACK receive loop on the quACK port.
type Client struct {
	codec   *stream.Codec
	tracker *Tracker
	decoder *Decoder

	dataConn   *net.UDPConn
	quackConn  *net.UDPConn
	serverAddr netip.AddrPort

	buffer *audio.Buffer
	period time.Duration

	// nextSeqno is owned by the transmit loop alone.
	nextSeqno uint32

	streamID string
	logger   *slog.Logger
}

// NewClient binds the data socket on clientPort and the quACK listener on
// quackPort. Bind failures are initialization errors and fatal to the
// caller.
func NewClient(codec *stream.Codec, serverAddr netip.AddrPort, clientPort, quackPort uint16, threshold int, buffer *audio.Buffer, period time.Duration, logger *slog.Logger) (*Client, error) {
	dataConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: int(clientPort)})
	if err != nil {
		return nil, fmt.Errorf("binding data socket on %d: %w", clientPort, err)
	}
	quackConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: int(quackPort)})
	if err != nil {
		dataConn.Close()
		return nil, fmt.Errorf("binding quack socket on %d: %w", quackPort, err)
	}

	streamID := uuid.NewString()
	logger = logger.With("stream_id", streamID)

	c := &Client{
		codec:      codec,
		dataConn:   dataConn,
		quackConn:  quackConn,
		serverAddr: serverAddr,
		buffer:     buffer,
		period:     period,
		streamID:   streamID,
		logger:     logger,
	}
	c.tracker = NewTracker(SinkFunc(c.sendData), logger)
	c.decoder = NewDecoder(c.tracker, threshold, logger)
	return c, nil
}

// sendData is the tracker's sink: every transmission, original or
// retransmit, leaves through here.
func (c *Client) sendData(payload []byte) error {
	_, err := c.dataConn.WriteToUDPAddrPort(payload, c.serverAddr)
	return err
}

// Tracker exposes the outstanding-data state, for metrics.
func (c *Client) Tracker() *Tracker { return c.tracker }

// Decoder exposes the quACK decoder, for metrics.
func (c *Client) Decoder() *Decoder { return c.decoder }

// TransmitLoop drains the audio buffer at the configured cadence: seal,
// enroll, send, sleep. A nil chunk is the producer's end-of-stream mark.
func (c *Client) TransmitLoop() {
	c.logger.Info("transmit loop started",
		"server", c.serverAddr,
		"period", c.period,
	)
	for {
		sample := c.buffer.Pop()
		if sample == nil {
			c.logger.Info("audio stream drained, transmit loop exiting",
				"transmitted", c.tracker.Transmitted(),
			)
			return
		}

		seqno := c.nextSeqno
		payload, err := c.codec.SealData(seqno, sample)
		if err != nil {
			c.logger.Error("sealing payload failed", "seqno", seqno, "error", err)
			continue
		}
		c.nextSeqno++

		if err := c.tracker.TrackAndSend(seqno, payload); err != nil {
			c.logger.Error("transmission failed", "seqno", seqno, "error", err)
		}

		time.Sleep(c.period)
	}
}

// NACKLoop receives retransmission requests on the data socket. Each
// carries an AEAD-protected seqno; parse failures are logged and the
// datagram dropped.
func (c *Client) NACKLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := c.dataConn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Error("nack socket read failed", "error", err)
			continue
		}

		seqno, err := c.codec.OpenNACK(buf[:n])
		if err != nil {
			c.logger.Warn("dropping unparseable nack", "error", err)
			continue
		}

		c.logger.Debug("nack received", "seqno", seqno)
		if err := c.tracker.Retransmit(seqno); err != nil {
			c.logger.Error("nack retransmission failed", "seqno", seqno, "error", err)
		}
	}
}

// QuackLoop receives quACKs from the proxy and hands each to the decoder.
func (c *Client) QuackLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := c.quackConn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Error("quack socket read failed", "error", err)
			continue
		}

		q, err := quack.Decode(buf[:n])
		if err != nil {
			c.logger.Warn("dropping unparseable quack", "from", from, "error", err)
			continue
		}

		if err := c.decoder.HandleQuack(q); err != nil {
			c.logger.Warn("quack not decoded", "from", from, "error", err)
		}
	}
}

// Close releases both sockets, unblocking the receive loops.
func (c *Client) Close() {
	c.dataConn.Close()
	c.quackConn.Close()
}
