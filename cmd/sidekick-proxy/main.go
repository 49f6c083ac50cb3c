package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cs244-team/sidekick/internal/capture"
	"github.com/cs244-team/sidekick/internal/config"
	"github.com/cs244-team/sidekick/internal/debugsrv"
	"github.com/cs244-team/sidekick/internal/metrics"
	"github.com/cs244-team/sidekick/internal/proxy"
)

func main() {
	cfg, err := config.LoadProxy(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting sidekick-proxy",
		"interface", cfg.Interface,
		"filter", cfg.Filter,
		"quack_interval", cfg.QuackInterval,
		"threshold", cfg.Threshold,
	)

	source, err := capture.Open(cfg.Interface, cfg.Filter, logger)
	if err != nil {
		slog.Error("failed to open capture", "error", err)
		os.Exit(1)
	}
	defer source.Close()

	emitter, err := proxy.NewUDPEmitter()
	if err != nil {
		slog.Error("failed to bind quack socket", "error", err)
		os.Exit(1)
	}
	defer emitter.Close()

	agg := proxy.NewAggregator(uint32(cfg.QuackInterval), int(cfg.Threshold), uint16(cfg.QuackPort), emitter, logger)

	debugsrv.ListenAndServe(cfg.DebugAddr,
		metrics.NewCollector(agg, nil, nil, nil, nil, time.Now()), logger)

	go source.Run()
	go agg.Run(source.Datagrams())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down",
		"signal", sig.String(),
		"packets_observed", agg.PacketsObserved(),
		"quacks_emitted", agg.QuacksEmitted(),
		"active_flows", agg.ActiveFlows(),
	)
}
