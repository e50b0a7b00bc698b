package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"paircast/internal/core/domain"
	"paircast/internal/device/media"
	"paircast/internal/device/orchestrator"
	"paircast/internal/device/quality"
	"paircast/internal/device/signalclient"
	"paircast/pkg/config"
	"paircast/pkg/logger"
	"paircast/pkg/retry"
)

func main() {
	var (
		relayURL   = flag.String("relay", "", "relay websocket URL (overrides config)")
		role       = flag.String("role", "source", "device role: source or viewer")
		code       = flag.String("code", "", "pairing code (viewer role)")
		frameDir   = flag.String("frames", "frames", "directory for received still frames")
		configPath = flag.String("config", "configs/config.yaml", "config file path")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}
	if *relayURL != "" {
		cfg.Device.RelayURL = *relayURL
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := signalclient.New(log,
		signalclient.WithConnectTimeout(cfg.Device.ConnectTimeout),
		signalclient.WithAckTimeout(cfg.Device.AckTimeout),
	)

	// Transport timeouts are retried here, at the caller, never inside
	// the client.
	retryCfg := retry.DefaultConfig()
	if err := retry.Do(ctx, retryCfg, func() error {
		return client.Connect(ctx, cfg.Device.RelayURL)
	}); err != nil {
		log.Fatalw("connecting to relay", "url", cfg.Device.RelayURL, "error", err)
	}

	opts := []orchestrator.OrchestratorOption{
		orchestrator.WithSTUNServers(cfg.Device.STUNServers),
	}

	switch *role {
	case "source":
		opts = append(opts, orchestrator.WithMediaSource(media.NewSyntheticSource(log)))
	case "viewer":
		sink, err := media.NewDirFrameSink(*frameDir, log)
		if err != nil {
			log.Fatalw("creating frame sink", "error", err)
		}
		opts = append(opts,
			orchestrator.WithRenderer(media.NewLogRenderer(log)),
			orchestrator.WithFrameSink(sink),
		)
	default:
		log.Fatalw("unknown role", "role", *role)
	}

	orch := orchestrator.New(client, log, opts...)
	defer orch.Stop()

	monitor := quality.NewMonitor(cfg.Device.StatsInterval, log)
	monitor.Attach(orch)
	monitor.OnChange(func(level domain.QualityLevel) {
		fmt.Printf("link quality: %s\n", level)
	})
	monitor.Start(ctx)
	defer monitor.Stop()

	switch *role {
	case "source":
		pairingCode, err := orch.StartSource(ctx)
		if err != nil {
			log.Fatalw("starting source", "error", err)
		}
		fmt.Printf("pairing code: %s\n", pairingCode)
		fmt.Println("share this code with the viewer; it expires in 1 hour")

	case "viewer":
		if *code == "" {
			log.Fatal("viewer role requires -code")
		}
		if err := orch.StartViewer(ctx, *code); err != nil {
			log.Fatalw("joining session", "error", err)
		}
		fmt.Println("joined; waiting for media")
	}

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			log.Infow("shutting down", "signal", sig)
			orch.Stop()
			return
		case <-ticker.C:
			log.Infow("device status", "state", orch.State(), "quality", monitor.Level())
		}
	}
}
