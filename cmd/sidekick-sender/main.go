package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cs244-team/sidekick/internal/audio"
	"github.com/cs244-team/sidekick/internal/config"
	"github.com/cs244-team/sidekick/internal/debugsrv"
	"github.com/cs244-team/sidekick/internal/metrics"
	"github.com/cs244-team/sidekick/internal/secret"
	"github.com/cs244-team/sidekick/internal/sender"
	"github.com/cs244-team/sidekick/internal/stream"
)

func main() {
	cfg, err := config.LoadSender(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting sidekick-sender",
		"server", cfg.ServerAddr(),
		"client_port", cfg.ClientPort,
		"quack_port", cfg.QuackPort,
		"threshold", cfg.Threshold,
		"send_period", cfg.SendPeriod(),
	)

	box, err := secret.NewBox(secret.DefaultKey())
	if err != nil {
		slog.Error("failed to initialize aead", "error", err)
		os.Exit(1)
	}
	codec := stream.NewCodec(box)

	buffer := audio.NewBuffer()
	client, err := sender.NewClient(codec, cfg.ServerAddr(), uint16(cfg.ClientPort), uint16(cfg.QuackPort), int(cfg.Threshold), buffer, cfg.SendPeriod(), logger)
	if err != nil {
		slog.Error("failed to create client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	debugsrv.ListenAndServe(cfg.DebugAddr,
		metrics.NewCollector(nil, client.Tracker(), client.Decoder(), nil, nil, time.Now()), logger)

	// Producer: fill the outbound buffer from the audio file, or
	// synthesize a tone for the configured duration. A nil chunk marks
	// end of stream for the transmit loop.
	go func() {
		if cfg.AudioFile != "" {
			loaded, err := buffer.LoadPCM(cfg.AudioFile, int(cfg.SampleSize))
			if err != nil {
				slog.Error("failed to load audio file", "path", cfg.AudioFile, "error", err)
			} else {
				slog.Info("audio file loaded", "path", cfg.AudioFile, "chunks", loaded)
			}
		} else {
			chunks := int(cfg.DurationS) * 1000 / int(cfg.PeriodMs)
			slog.Info("no audio file, generating tone", "chunks", chunks)
			buffer.GenerateTone(chunks, int(cfg.SampleSize))
		}
		buffer.Add(nil)
	}()

	go client.NACKLoop()
	go client.QuackLoop()

	done := make(chan struct{})
	go func() {
		client.TransmitLoop()
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case <-done:
		// Stream fully sent; linger so late quACKs and NACKs can still
		// trigger retransmissions.
		slog.Info("stream complete, lingering for recovery traffic")
		select {
		case <-quit:
		case <-time.After(5 * time.Second):
		}
	}

	slog.Info("sidekick-sender stopped",
		"transmitted", client.Tracker().Transmitted(),
		"retransmitted", client.Tracker().Retransmitted(),
		"quacks_decoded", client.Decoder().QuacksDecoded(),
		"losses_recovered", client.Decoder().LossesRecovered(),
	)
}
