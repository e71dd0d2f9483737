package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	events   []Event
	failures int
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("bus unavailable")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestMirror_PublishesEmittedEvents(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewMirror(pub, DefaultMirrorConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Emit(New(TypeLeaderGranted, "demo", "c1", time.Now(), nil))
	m.Emit(New(TypeCommandIssued, "demo", "c1", time.Now(), map[string]any{"type": "play"}))

	require.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, TypeLeaderGranted, pub.events[0].Type)
}

func TestMirror_RetriesFailedPublish(t *testing.T) {
	pub := &recordingPublisher{failures: 2}
	m := NewMirror(pub, MirrorConfig{Buffer: 4, MaxRetries: 3, RetryDelay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Emit(New(TypeResyncSent, "demo", "c2", time.Now(), nil))
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMirror_EmitDropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewMirror(pub, MirrorConfig{Buffer: 1})
	m.Emit(New(TypeConnectionOpened, "demo", "a", time.Now(), nil))
	m.Emit(New(TypeConnectionOpened, "demo", "b", time.Now(), nil))
	assert.Len(t, m.queue, 1)
}

func TestMirror_NilEmitIsNoop(t *testing.T) {
	var m *Mirror
	assert.NotPanics(t, func() { m.Emit(Event{}) })
}

func TestJetStreamConfig_Subject(t *testing.T) {
	cfg := DefaultJetStreamConfig()
	e := New(TypeCommandAcked, "movie-night", "c", time.Now(), nil)
	assert.Equal(t, "syncwatch.movie-night.command.acked", cfg.Subject(e))
}

func TestMirror_CountsOutcomes(t *testing.T) {
	pub := &recordingPublisher{failures: 1}
	counters := &Counters{}
	m := NewMirror(pub, MirrorConfig{Buffer: 1, MaxRetries: 2, RetryDelay: time.Millisecond, Metrics: counters})

	m.Emit(New(TypeCommandIssued, "demo", "a", time.Now(), nil))
	m.Emit(New(TypeCommandIssued, "demo", "b", time.Now(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool { return counters.Snapshot().Published == 1 }, time.Second, 5*time.Millisecond)
	snap := counters.Snapshot()
	assert.Equal(t, uint64(1), snap.Dropped)
	assert.Equal(t, uint64(1), snap.Retries)
	assert.Zero(t, snap.Failed)
}
