// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

// callbridge bridges SIP/RTP phone calls to a WebSocket controller and a
// speech-to-text / LLM / text-to-speech response pipeline.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dht-solution/callbridge/config"
	"github.com/dht-solution/callbridge/pkg/commons"

	sip_engine "github.com/dht-solution/callbridge/internal/sip/engine"

	internal_backend "github.com/dht-solution/callbridge/internal/backend"
	internal_control "github.com/dht-solution/callbridge/internal/control"
	internal_pipeline "github.com/dht-solution/callbridge/internal/pipeline"
	internal_vad "github.com/dht-solution/callbridge/internal/vad"
)

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("initializing configuration: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := commons.NewLogger(commons.LoggerConfig{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, logger commons.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.Files.RecordingDir, cfg.Files.ResponseDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	services, err := internal_backend.NewServices(cfg.Backend, logger)
	if err != nil {
		return err
	}

	orch := internal_pipeline.NewOrchestrator(services, internal_pipeline.Options{
		MaxHistoryTurns: cfg.Backend.MaxHistoryTurns,
		RequestTimeout:  cfg.Backend.RequestTimeout,
		ResponseDir:     cfg.Files.ResponseDir,
		GreetingPath:    cfg.Files.GreetingPath,
	}, logger)

	detector := detectorFactory(cfg, logger)

	engine := sip_engine.NewEngine(cfg, orch, detector, logger)
	channel := internal_control.NewChannel(cfg.WS, engine, logger)
	engine.SetEvents(channel)

	logger.Info("callbridge starting",
		"sip", cfg.SIP.LocalIP,
		"sip_port", cfg.SIP.LocalPort,
		"ws_port", cfg.WS.Port,
		"backend", cfg.Backend.Provider,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return channel.Run(gctx) })
	return g.Wait()
}

// detectorFactory selects Silero when a model is configured and falls back to
// the energy detector otherwise. Detectors are built per call.
func detectorFactory(cfg *config.AppConfig, logger commons.Logger) sip_engine.DetectorFactory {
	if cfg.VAD.ModelPath != "" {
		logger.Info("using silero vad", "model", cfg.VAD.ModelPath)
		return func() (internal_vad.Detector, error) {
			return internal_vad.NewSileroDetector(cfg.VAD.ModelPath, cfg.VAD.Threshold)
		}
	}
	logger.Info("using energy vad", "threshold", cfg.VAD.Threshold)
	return func() (internal_vad.Detector, error) {
		return internal_vad.NewEnergyDetector(float64(cfg.VAD.Threshold)), nil
	}
}
