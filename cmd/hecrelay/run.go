package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"hecrelay/internal/acks"
	"hecrelay/internal/config"
	"hecrelay/internal/pipeline"
	"hecrelay/internal/relay"
	"hecrelay/internal/sched"
	"hecrelay/internal/server"
	"hecrelay/internal/session"
)

// run wires the gateway together and blocks until ctx is cancelled.
func run(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	tracker := acks.New(acks.Config{
		MaxAckValue: cfg.MaxAckValue,
		MaxAckAge:   cfg.MaxAckAge,
		Logger:      logger,
	})
	sessions := session.NewRegistry(session.Config{
		MaxSessionAge: cfg.MaxSessionAge,
		Logger:        logger,
	})

	var transport relay.Transport
	switch cfg.RelayProtocol {
	case config.ProtocolRELP:
		transport = relay.NewRELP(cfg.RelayAddr, logger)
	case config.ProtocolTCP:
		transport = relay.NewTCP(cfg.RelayAddr, nil, logger)
	case config.ProtocolTLS:
		transport = relay.NewTCP(cfg.RelayAddr, &tls.Config{}, logger)
	default:
		return fmt.Errorf("unknown relay protocol %q", cfg.RelayProtocol)
	}

	conn := relay.New(relay.Config{
		Transport:     transport,
		ReconnectWait: cfg.ReconnectWait,
		Logger:        logger,
	})
	defer conn.Close()

	scheduler, err := sched.New(logger)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if err := scheduler.AddJob("ack-sweep", cfg.PollInterval, tracker.Sweep); err != nil {
		return fmt.Errorf("add ack sweep: %w", err)
	}
	if err := scheduler.AddJob("session-sweep", cfg.PollInterval, sessions.Sweep); err != nil {
		return fmt.Errorf("add session sweep: %w", err)
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Stop(); err != nil {
			logger.Warn("scheduler stop failed", "error", err)
		}
	}()

	srv := server.New(server.Config{
		Addr: cfg.ListenAddr,
		Pipeline: pipeline.New(pipeline.Config{
			Acks:     tracker,
			Sessions: sessions,
			Relay:    conn,
			Logger:   logger,
		}),
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Logger:       logger,
	})

	logger.Info("gateway starting",
		"listen", cfg.ListenAddr,
		"relay", cfg.RelayAddr,
		"protocol", cfg.RelayProtocol)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	return g.Wait()
}
