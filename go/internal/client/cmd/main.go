package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/syncwatch/go/internal/client"
	"github.com/mcdev12/syncwatch/go/internal/config"
	"github.com/mcdev12/syncwatch/go/internal/protocol"
	"github.com/mcdev12/syncwatch/go/internal/sched"
)

// A headless client: joins a session with a simulated player and logs what
// the sync machinery does to it. Useful for load and soak testing a server.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := config.ClientFromEnv()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info := describeSession(ctx, cfg)

	conn, err := client.Dial(ctx, cfg.ServerURL, nil, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Str("server", cfg.ServerURL).Msg("failed to connect")
	}

	loop := sched.NewLoop(nil, 256)
	player := client.NewSimPlayer(loop)
	c := client.New(loop, conn, player, client.Options{
		ProfileName: cfg.Profile,
		WantLeader:  cfg.Leader,
		Password:    cfg.Password,
		StartTime:   info.StartTime,
		OnGestureRequired: func() {
			log.Warn().Msg("player wants a user gesture before playing")
		},
		OnRoleChange: func(r client.Role) {
			if r == client.RoleLeader {
				if err := player.Play(); err != nil {
					log.Error().Err(err).Msg("leader autoplay failed")
				}
			}
		},
	}, log.Logger)
	player.OnEvent(c.HandlePlayerEvent)

	log.Info().
		Str("server", cfg.ServerURL).
		Str("profile", cfg.Profile).
		Bool("leader", cfg.Leader).
		Msg("starting headless client")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loop.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return loop.Post(c.Start)
	})
	g.Go(func() error {
		return conn.ReadLoop(gctx, func(env protocol.Envelope) {
			if err := loop.Post(func() { c.HandleMessage(env) }); err != nil {
				log.Debug().Err(err).Msg("client loop stopped, dropping message")
			}
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = loop.Call(stopCtx, c.Stop)
		return conn.Close()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("client stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("client shutdown complete")
}

// describeSession logs what the server is playing. A server without the
// HTTP views is not fatal; the websocket carries everything needed.
func describeSession(ctx context.Context, cfg config.Client) client.SessionInfo {
	base, err := client.APIBaseFromSocket(cfg.ServerURL)
	if err != nil {
		log.Fatal().Err(err).Str("server", cfg.ServerURL).Msg("invalid server URL")
	}
	api := client.NewAPIClient(base)

	info, err := api.Session(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not fetch session descriptor")
		return client.SessionInfo{}
	}
	if cfg.Leader && info.PasswordRequired && cfg.Password == "" {
		log.Warn().Msg("session requires a leader password and SYNC_LEADER_PASSWORD is empty")
	}
	state, err := api.State(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not fetch playback state")
	}
	log.Info().
		Str("session", info.Slug).
		Strs("formats", info.Formats).
		Bool("has_leader", state.HasLeader).
		Float64("position", state.Position).
		Msg("session found")
	return info
}
