package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/syncwatch/go/internal/config"
	"github.com/mcdev12/syncwatch/go/internal/events"
	"github.com/mcdev12/syncwatch/go/internal/gateway"
	"github.com/mcdev12/syncwatch/go/internal/sched"
	"github.com/mcdev12/syncwatch/go/internal/session"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := config.ServerFromEnv()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(cfg.LogLevel)

	descriptor, err := config.LoadSession(cfg.SessionFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SessionFile).Msg("invalid session descriptor")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publisher, err := newPublisher(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("nats_url", cfg.NATSURL).Msg("failed to connect event publisher")
	}
	defer publisher.Close()
	counters := &events.Counters{}
	mirrorConfig := events.DefaultMirrorConfig()
	mirrorConfig.Metrics = counters
	mirror := events.NewMirror(publisher, mirrorConfig)

	loop := sched.NewLoop(nil, 1024)
	room := session.NewRoom(session.RoomConfig{
		Slug:            descriptor.Slug,
		StartTime:       descriptor.StartTime,
		LeaderPassword:  descriptor.LeaderPassword,
		SummaryInterval: cfg.ViewerSummary,
	}, loop, mirror)

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.AllowedOrigins = cfg.AllowedOrigins
	svc := gateway.NewService(gatewayConfig, descriptor, loop, room)
	svc.AddStats("events", func() any { return counters.Snapshot() })

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           h2c.NewHandler(svc.Router(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().
		Str("session", descriptor.Slug).
		Strs("formats", descriptor.Formats()).
		Float64("start_time", descriptor.StartTime).
		Str("port", cfg.Port).
		Msg("starting session server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loop.Run(gctx)
		return nil
	})
	g.Go(func() error {
		mirror.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := loop.Post(room.Start); err != nil {
			return fmt.Errorf("start room: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Shutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("session server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("session server shutdown complete")
}

func newPublisher(ctx context.Context, cfg config.Server) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		log.Info().Msg("NATS_URL not set, session events go to the debug log")
		return events.LogPublisher{}, nil
	}
	jsCfg := events.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATSURL
	jsCfg.SubjectPrefix = cfg.NATSSubjectPrefix
	return events.NewJetStreamPublisher(ctx, jsCfg)
}
