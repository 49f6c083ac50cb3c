// Package config holds runtime configuration for the three sidekick
// binaries. Precedence: CLI flags > env vars > defaults.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/cs244-team/sidekick/internal/capture"
	"github.com/cs244-team/sidekick/internal/quack"
	"github.com/cs244-team/sidekick/internal/stream"
)

// envPrefix is the prefix for all sidekick environment variables.
const envPrefix = "SIDEKICK_"

// defaults shared across binaries
const (
	defaultQuackInterval = 2
	defaultThreshold     = 8
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultSendPeriodMs  = 20
	defaultSampleBytes   = 160
	defaultRTTMs         = 100
	defaultStatsPath     = "jitter_buffer_stats.csv"
)

// Common carries the logging and debug-server settings every binary has.
type Common struct {
	LogLevel  string
	LogFormat string
	DebugAddr string // host:port for /healthz and /metrics; empty disables
}

// Proxy is the quACK sender's configuration.
type Proxy struct {
	Common
	Interface     string
	Filter        string
	QuackInterval uint
	Threshold     uint
	QuackPort     uint
}

// Sender is the data sender's configuration.
type Sender struct {
	Common
	ServerIP   string
	ServerPort uint
	ClientPort uint
	QuackPort  uint
	Threshold  uint
	AudioFile  string
	PeriodMs   uint
	DurationS  uint
	SampleSize uint
}

// Peer is the playback peer's configuration.
type Peer struct {
	Common
	ListenPort uint
	RTTMs      uint
	PeriodMs   uint
	DurationS  uint
	StatsPath  string
}

// LoadProxy parses the proxy's flags and environment.
func LoadProxy(args []string) (*Proxy, error) {
	cfg := &Proxy{}
	fs := flag.NewFlagSet("sidekick-proxy", flag.ContinueOnError)

	fs.StringVar(&cfg.Interface, "interface", "", "network interface to capture on (required)")
	fs.StringVar(&cfg.Filter, "filter", capture.DefaultFilter, "bpf filter applied to the capture")
	fs.UintVar(&cfg.QuackInterval, "quack-interval", defaultQuackInterval, "emit one quack per this many observed packets per source")
	fs.UintVar(&cfg.Threshold, "threshold", defaultThreshold, "power sums carried per quack (max decodable losses per window)")
	fs.UintVar(&cfg.QuackPort, "quack-port", quack.ListenPort, "udp port senders listen on for quacks")
	cfg.commonFlags(fs)

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	applyEnv(fs)

	if cfg.Interface == "" {
		return nil, fmt.Errorf("interface is required")
	}
	if cfg.QuackInterval == 0 {
		return nil, fmt.Errorf("quack-interval must be positive")
	}
	if err := validateThreshold(cfg.Threshold); err != nil {
		return nil, err
	}
	if err := validatePort("quack-port", cfg.QuackPort); err != nil {
		return nil, err
	}
	if err := cfg.Common.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadSender parses the sender's flags and environment.
func LoadSender(args []string) (*Sender, error) {
	cfg := &Sender{}
	fs := flag.NewFlagSet("sidekick-sender", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerIP, "server-ip", "", "playback peer address (required)")
	fs.UintVar(&cfg.ServerPort, "server-port", stream.ServerDefaultPort, "playback peer data port")
	fs.UintVar(&cfg.ClientPort, "client-port", 9001, "local data port (also receives nacks)")
	fs.UintVar(&cfg.QuackPort, "quack-port", quack.ListenPort, "local port receiving quacks from the proxy")
	fs.UintVar(&cfg.Threshold, "threshold", defaultThreshold, "power sums per quack; must match the proxy")
	fs.StringVar(&cfg.AudioFile, "audio-file", "", "raw pcm file to stream (synthetic tone if empty)")
	fs.UintVar(&cfg.PeriodMs, "send-period-ms", defaultSendPeriodMs, "pacing between data packets")
	fs.UintVar(&cfg.DurationS, "duration-s", 10, "seconds of synthetic audio to generate when no file is given")
	fs.UintVar(&cfg.SampleSize, "sample-bytes", defaultSampleBytes, "bytes of audio per packet")
	cfg.commonFlags(fs)

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	applyEnv(fs)

	if cfg.ServerIP == "" {
		return nil, fmt.Errorf("server-ip is required")
	}
	if _, err := netip.ParseAddr(cfg.ServerIP); err != nil {
		return nil, fmt.Errorf("invalid server-ip %q: %w", cfg.ServerIP, err)
	}
	for name, port := range map[string]uint{"server-port": cfg.ServerPort, "client-port": cfg.ClientPort, "quack-port": cfg.QuackPort} {
		if err := validatePort(name, port); err != nil {
			return nil, err
		}
	}
	if err := validateThreshold(cfg.Threshold); err != nil {
		return nil, err
	}
	if cfg.PeriodMs == 0 {
		return nil, fmt.Errorf("send-period-ms must be positive")
	}
	if cfg.SampleSize == 0 {
		return nil, fmt.Errorf("sample-bytes must be positive")
	}
	if err := cfg.Common.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPeer parses the peer's flags and environment.
func LoadPeer(args []string) (*Peer, error) {
	cfg := &Peer{}
	fs := flag.NewFlagSet("sidekick-peer", flag.ContinueOnError)

	fs.UintVar(&cfg.ListenPort, "listen-port", stream.ServerDefaultPort, "data port to listen on")
	fs.UintVar(&cfg.RTTMs, "rtt-ms", defaultRTTMs, "expected round-trip time, the per-seqno nack cadence")
	fs.UintVar(&cfg.PeriodMs, "send-period-ms", defaultSendPeriodMs, "sender pacing, bounds the aggregate nack rate")
	fs.UintVar(&cfg.DurationS, "duration-s", 0, "seconds to run before writing stats and exiting (0 = until signalled)")
	fs.StringVar(&cfg.StatsPath, "stats-path", defaultStatsPath, "where to write per-seqno de-jitter latencies on shutdown")
	cfg.commonFlags(fs)

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	applyEnv(fs)

	if err := validatePort("listen-port", cfg.ListenPort); err != nil {
		return nil, err
	}
	if cfg.RTTMs == 0 {
		return nil, fmt.Errorf("rtt-ms must be positive")
	}
	if cfg.PeriodMs == 0 {
		return nil, fmt.Errorf("send-period-ms must be positive")
	}
	if err := cfg.Common.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// commonFlags registers the flags shared by every binary.
func (c *Common) commonFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&c.DebugAddr, "debug-addr", "", "listen address for /healthz and /metrics (empty disables)")
}

// validate checks the shared fields.
func (c *Common) validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)
	return nil
}

// applyEnv overrides any flag not set on the command line with the value
// of SIDEKICK_<FLAG_NAME> (dashes become underscores). CLI flags keep
// precedence over env vars.
func applyEnv(fs *flag.FlagSet) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		envVar := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if val, ok := os.LookupEnv(envVar); ok && val != "" {
			// Set reports a parse error for malformed values (and may
			// already have stored a zero); restore the default rather
			// than failing startup on a stray env var.
			if err := fs.Set(f.Name, val); err != nil {
				_ = fs.Set(f.Name, f.DefValue)
			}
		}
	})
}

func validatePort(name string, port uint) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

func validateThreshold(threshold uint) error {
	if threshold == 0 {
		return fmt.Errorf("threshold must be positive")
	}
	return nil
}

// SendPeriod returns the transmit pacing as a duration.
func (c *Sender) SendPeriod() time.Duration {
	return time.Duration(c.PeriodMs) * time.Millisecond
}

// RTT returns the expected round-trip time as a duration.
func (c *Peer) RTT() time.Duration {
	return time.Duration(c.RTTMs) * time.Millisecond
}

// SendPeriod returns the sender pacing as a duration.
func (c *Peer) SendPeriod() time.Duration {
	return time.Duration(c.PeriodMs) * time.Millisecond
}

// ServerAddr returns the peer's data address.
func (c *Sender) ServerAddr() netip.AddrPort {
	addr, _ := netip.ParseAddr(c.ServerIP)
	return netip.AddrPortFrom(addr, uint16(c.ServerPort))
}

// SlogHandler returns a slog.Handler with the configured format and
// level.
func (c *Common) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level for the configured log level.
func (c *Common) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
