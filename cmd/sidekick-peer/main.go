package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cs244-team/sidekick/internal/config"
	"github.com/cs244-team/sidekick/internal/debugsrv"
	"github.com/cs244-team/sidekick/internal/metrics"
	"github.com/cs244-team/sidekick/internal/peer"
	"github.com/cs244-team/sidekick/internal/secret"
	"github.com/cs244-team/sidekick/internal/stream"
)

func main() {
	cfg, err := config.LoadPeer(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting sidekick-peer",
		"listen_port", cfg.ListenPort,
		"rtt", cfg.RTT(),
		"stats_path", cfg.StatsPath,
	)

	box, err := secret.NewBox(secret.DefaultKey())
	if err != nil {
		slog.Error("failed to initialize aead", "error", err)
		os.Exit(1)
	}
	codec := stream.NewCodec(box)

	recv, err := peer.NewReceiver(codec, uint16(cfg.ListenPort), cfg.RTT(), cfg.SendPeriod(), logger)
	if err != nil {
		slog.Error("failed to create receiver", "error", err)
		os.Exit(1)
	}
	defer recv.Close()

	debugsrv.ListenAndServe(cfg.DebugAddr,
		metrics.NewCollector(nil, nil, nil, recv, recv.Buffer(), time.Now()), logger)

	go recv.ReceiveLoop()
	go recv.NACKLoop()

	// Playback stands in for an audio device: drain in-order payloads as
	// they become playable.
	go recv.PlaybackLoop(func([]byte) {})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if cfg.DurationS > 0 {
		select {
		case sig := <-quit:
			slog.Info("received shutdown signal", "signal", sig.String())
		case <-time.After(time.Duration(cfg.DurationS) * time.Second):
			slog.Info("run duration elapsed")
		}
	} else {
		sig := <-quit
		slog.Info("received shutdown signal", "signal", sig.String())
	}

	// Flush per-seqno de-jitter latencies before exit.
	f, err := os.Create(cfg.StatsPath)
	if err != nil {
		slog.Error("failed to create stats file", "path", cfg.StatsPath, "error", err)
		os.Exit(1)
	}
	if err := recv.Buffer().WriteStats(f); err != nil {
		slog.Error("failed to write stats", "error", err)
	}
	f.Close()

	slog.Info("sidekick-peer stopped",
		"received", recv.Buffer().ReceivedCount(),
		"missing", recv.Buffer().MissingCount(),
		"nacks_sent", recv.NACKsSent(),
		"stats_path", cfg.StatsPath,
	)
}
