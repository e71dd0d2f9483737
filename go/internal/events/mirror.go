package events

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type MirrorConfig struct {
	Buffer     int
	MaxRetries int
	RetryDelay time.Duration
	Metrics    MetricsCollector
}

func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		Buffer:     1024,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Mirror decouples event producers from the publisher. Emit never blocks:
// when the queue is full the event is dropped with a warning.
type Mirror struct {
	publisher Publisher
	config    MirrorConfig
	queue     chan Event
}

func NewMirror(publisher Publisher, cfg MirrorConfig) *Mirror {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultMirrorConfig().Buffer
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoOpMetricsCollector{}
	}
	return &Mirror{
		publisher: publisher,
		config:    cfg,
		queue:     make(chan Event, cfg.Buffer),
	}
}

// Emit queues an event for publishing. A nil mirror discards it.
func (m *Mirror) Emit(event Event) {
	if m == nil {
		return
	}
	select {
	case m.queue <- event:
	default:
		m.config.Metrics.RecordDropped(event.Type)
		log.Warn().
			Str("event_type", string(event.Type)).
			Str("session", event.Session).
			Msg("event queue full, dropping event")
	}
}

// Run publishes queued events until ctx is cancelled, then drains what is
// already queued on a best-effort basis.
func (m *Mirror) Run(ctx context.Context) {
	log.Info().Int("buffer", m.config.Buffer).Msg("event mirror started")
	for {
		select {
		case <-ctx.Done():
			m.drain()
			log.Info().Msg("event mirror stopped")
			return
		case event := <-m.queue:
			m.publishWithRetry(ctx, event)
		}
	}
}

func (m *Mirror) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case event := <-m.queue:
			if err := m.publisher.Publish(ctx, event); err != nil {
				log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("failed to publish event during drain")
			}
		default:
			return
		}
	}
}

func (m *Mirror) publishWithRetry(ctx context.Context, event Event) {
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				m.config.Metrics.RecordFailed(event.Type, attempt)
				return
			case <-time.After(m.config.RetryDelay * time.Duration(attempt)):
			}
		}
		if err := m.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Str("event_id", event.ID.String()).
				Int("attempt", attempt+1).
				Msg("failed to publish event, retrying")
			continue
		}
		m.config.Metrics.RecordPublished(event.Type, attempt+1, time.Since(start))
		return
	}
	m.config.Metrics.RecordFailed(event.Type, m.config.MaxRetries+1)
	log.Error().
		Err(lastErr).
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Msg("giving up on event")
}
