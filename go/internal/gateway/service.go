// Package gateway exposes a session room over WebSocket and a small JSON
// HTTP surface. Every touch of the room is marshalled onto the room's
// scheduler loop.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/syncwatch/go/internal/config"
	"github.com/mcdev12/syncwatch/go/internal/protocol"
	"github.com/mcdev12/syncwatch/go/internal/sched"
	"github.com/mcdev12/syncwatch/go/internal/session"
)

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	AllowedOrigins   []string
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		AllowedOrigins:   []string{"*"},
	}
}

// Service binds WebSocket connections and HTTP requests to one room.
type Service struct {
	descriptor  *config.Session
	loop        *sched.Loop
	room        *session.Room
	connections *ConnectionManager
	origins     []string
	extraStats  map[string]func() any
}

// NewService creates the gateway. The room must only be driven by loop.
func NewService(cfg Config, descriptor *config.Session, loop *sched.Loop, room *session.Room) *Service {
	s := &Service{
		descriptor: descriptor,
		loop:       loop,
		room:       room,
		origins:    cfg.AllowedOrigins,
		extraStats: make(map[string]func() any),
	}
	cc := cfg.ConnectionConfig
	cc.CheckOrigin = s.checkOrigin
	s.connections = NewConnectionManager(cc, s)
	return s
}

func (s *Service) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.origins, "*") {
		return true
	}
	return slices.Contains(s.origins, origin)
}

// OnConnect implements Handler.
func (s *Service) OnConnect(c *Connection) {
	s.post(func() { s.room.Connect(c) })
}

// OnMessage implements Handler.
func (s *Service) OnMessage(c *Connection, env protocol.Envelope) {
	s.post(func() { s.room.Handle(c.ID(), env) })
}

// OnDisconnect implements Handler.
func (s *Service) OnDisconnect(c *Connection) {
	s.post(func() { s.room.Disconnect(c.ID()) })
}

func (s *Service) post(fn func()) {
	if err := s.loop.Post(fn); err != nil && !errors.Is(err, sched.ErrStopped) {
		log.Error().Err(err).Msg("failed to post to session loop")
	}
}

// Router returns the HTTP handler with all routes and CORS applied.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.handleSession)
		r.Get("/session/state", s.handleState)
		r.Get("/viewers", s.handleViewers)
		r.Get("/stats", s.handleStats)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
		MaxAge:         86400,
	})
	return c.Handler(r)
}

// Shutdown closes every open connection.
func (s *Service) Shutdown() {
	s.connections.CloseAll()
	log.Info().Msg("gateway connections closed")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connections.GetConnectionStats()
	stats["service"] = "session_gateway"
	stats["session"] = s.descriptor.Slug
	for name, fn := range s.extraStats {
		stats[name] = fn()
	}
	return stats
}

// AddStats publishes fn's result under name in the stats endpoint. It must
// be called before the router starts serving.
func (s *Service) AddStats(name string, fn func() any) {
	s.extraStats[name] = fn
}

func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := s.connections.UpgradeConnection(w, r); err != nil {
		// The upgrader has already written an HTTP error.
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade WebSocket connection")
	}
}

// view runs fn on the room loop and waits for it.
func (s *Service) view(ctx context.Context, fn func()) error {
	return s.loop.Call(ctx, fn)
}
