package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"ChallengeEngine/internal/challenge"
	"ChallengeEngine/internal/event"
	"ChallengeEngine/internal/observability"
	"ChallengeEngine/internal/persistence"
)

// StreamPublisher is the broker surface the publisher needs. Production uses
// JetStream; tests substitute a fake.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

type jetStreamPublisher struct {
	js jetstream.JetStream
}

func (p jetStreamPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := p.js.Publish(ctx, subject, data)
	return err
}

// NewJetStreamPublisher wraps a JetStream context as a StreamPublisher.
func NewJetStreamPublisher(js jetstream.JetStream) StreamPublisher {
	return jetStreamPublisher{js: js}
}

// OutboxStore is the durable side of the publisher: every effect is already
// an outbox row by the time the publisher sees it, so a publish failure never
// loses the effect, only delays it.
type OutboxStore interface {
	MarkPublished(ctx context.Context, challengeID uuid.UUID, stateVersion int64, kind string) error
	LoadUnpublished(ctx context.Context, limit int) ([]persistence.OutboxRow, error)
	CountUnpublished(ctx context.Context) (int64, error)
	LoadPublishWatermarks(ctx context.Context) ([]persistence.PublishedMark, error)
}

// Config tunes retry and replay behavior.
type Config struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	ReplayInterval time.Duration
	ReplayBatch    int
	QueueSize      int
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		BaseBackoff:    100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		AttemptTimeout: 3 * time.Second,
		ReplayInterval: 10 * time.Second,
		ReplayBatch:    256,
		QueueSize:      1024,
	}
}

// Publisher delivers committed effects to the broker exactly once per
// (challenge, state version, kind). It keeps a per-challenge version
// watermark: live effects at or below the watermark were already handled and
// are skipped on redelivery. Two effects legitimately share one version
// (a failure publishes both the failure event and the force-close command),
// so at the watermark itself delivery is tracked per kind. The outbox stays
// authoritative for what was actually delivered: the replayer redelivers any
// unconfirmed row no matter where the watermark sits.
type Publisher struct {
	stream  StreamPublisher
	outbox  OutboxStore
	cfg     Config
	metrics *observability.Metrics
	log     zerolog.Logger

	queue chan event.Effect

	mu          sync.Mutex
	lastVersion map[uuid.UUID]int64
	kindsAtMark map[uuid.UUID]map[string]struct{}
}

func New(stream StreamPublisher, outbox OutboxStore, cfg Config, metrics *observability.Metrics, log zerolog.Logger) *Publisher {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Publisher{
		stream:      stream,
		outbox:      outbox,
		cfg:         cfg,
		metrics:     metrics,
		log:         log,
		queue:       make(chan event.Effect, cfg.QueueSize),
		lastVersion: make(map[uuid.UUID]int64),
		kindsAtMark: make(map[uuid.UUID]map[string]struct{}),
	}
}

// Committed implements registry.CommitHook. Called inside the challenge's
// exclusive section, so it must not block: if the queue is full the effects
// stay in the outbox and the replayer delivers them.
func (p *Publisher) Committed(ch *challenge.Challenge, effects []event.Effect) {
	for _, e := range effects {
		select {
		case p.queue <- e:
		default:
			if p.metrics != nil {
				p.metrics.OutboxFallbacks.Inc()
			}
			p.log.Warn().
				Str("challenge_id", e.ChallengeID.String()).
				Str("kind", e.Kind.String()).
				Msg("publish queue full, deferring to outbox replay")
		}
	}
}

// Run drives the publish loop until ctx is cancelled. It first rebuilds the
// dedup watermarks from the outbox so a restart never re-publishes confirmed
// effects, then alternates between live effects and periodic outbox replay.
func (p *Publisher) Run(ctx context.Context) error {
	marks, err := p.outbox.LoadPublishWatermarks(ctx)
	if err != nil {
		return fmt.Errorf("load publish watermarks: %w", err)
	}
	p.mu.Lock()
	for _, m := range marks {
		p.lastVersion[m.ChallengeID] = m.StateVersion
		if p.kindsAtMark[m.ChallengeID] == nil {
			p.kindsAtMark[m.ChallengeID] = make(map[string]struct{})
		}
		p.kindsAtMark[m.ChallengeID][m.Kind] = struct{}{}
	}
	p.mu.Unlock()

	// Ship anything that was committed but unconfirmed when we last stopped.
	if err := p.replay(ctx); err != nil {
		p.log.Warn().Err(err).Msg("startup outbox replay failed")
	}

	ticker := time.NewTicker(p.cfg.ReplayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case e, ok := <-p.queue:
			if !ok {
				return nil
			}
			p.publishEffect(ctx, e)

		case <-ticker.C:
			if err := p.replay(ctx); err != nil {
				p.log.Warn().Err(err).Msg("outbox replay failed")
			}
		}
	}
}

func (p *Publisher) publishEffect(ctx context.Context, e event.Effect) {
	if p.alreadyPublished(e.ChallengeID, e.StateVersion, e.Kind.String()) {
		if p.metrics != nil {
			p.metrics.PublishSkipped.Inc()
		}
		return
	}

	data, err := json.Marshal(e.Payload)
	if err != nil {
		p.log.Error().Err(err).
			Str("challenge_id", e.ChallengeID.String()).
			Str("kind", e.Kind.String()).
			Msg("effect payload marshal failed")
		return
	}

	p.deliver(ctx, e.ChallengeID, e.StateVersion, e.Kind.String(), e.Subject(), data)
}

// deliver attempts a bounded retry publish and confirms in the outbox on
// success. On exhaustion the effect is left unconfirmed for the replayer.
func (p *Publisher) deliver(ctx context.Context, challengeID uuid.UUID, version int64, kind, subject string, data []byte) bool {
	start := time.Now()
	backoff := p.cfg.BaseBackoff

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if p.metrics != nil {
			p.metrics.PublishAttempts.WithLabelValues(kind).Inc()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		err := p.stream.Publish(attemptCtx, subject, data)
		cancel()

		if err == nil {
			p.markPublished(ctx, challengeID, version, kind)
			if p.metrics != nil {
				p.metrics.PublishDuration.Observe(time.Since(start).Seconds())
			}
			return true
		}

		if p.metrics != nil {
			p.metrics.PublishFailures.WithLabelValues(kind).Inc()
		}
		p.log.Warn().Err(err).
			Str("challenge_id", challengeID.String()).
			Str("kind", kind).
			Int("attempt", attempt).
			Msg("publish attempt failed")

		if attempt == p.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.cfg.MaxBackoff {
			backoff = p.cfg.MaxBackoff
		}
	}

	if p.metrics != nil {
		p.metrics.OutboxFallbacks.Inc()
	}
	p.log.Error().
		Str("challenge_id", challengeID.String()).
		Str("kind", kind).
		Msg("publish retries exhausted, effect remains in outbox")
	return false
}

// replay re-delivers unconfirmed outbox rows oldest-first.
func (p *Publisher) replay(ctx context.Context) error {
	rows, err := p.outbox.LoadUnpublished(ctx, p.cfg.ReplayBatch)
	if err != nil {
		return err
	}

	for _, r := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.confirmedAtMark(r.ChallengeID, r.StateVersion, r.Kind) {
			// Delivered by this process but the outbox confirm failed;
			// repair the row instead of republishing.
			p.markPublished(ctx, r.ChallengeID, r.StateVersion, r.Kind)
			continue
		}
		if p.deliver(ctx, r.ChallengeID, r.StateVersion, r.Kind, r.Subject, r.Payload) {
			if p.metrics != nil {
				p.metrics.OutboxReplayed.Inc()
			}
		}
	}

	if p.metrics != nil {
		if n, err := p.outbox.CountUnpublished(ctx); err == nil {
			p.metrics.OutboxUnshipped.Set(float64(n))
		}
	}
	return nil
}

// confirmedAtMark reports whether memory confirms delivery of this exact
// (version, kind). Only the kind set at the current watermark counts: an
// unconfirmed row below the watermark may be an exhausted publish that a
// newer version leapfrogged, and that row must be redelivered, never
// inferred published.
func (p *Publisher) confirmedAtMark(id uuid.UUID, version int64, kind string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if version != p.lastVersion[id] {
		return false
	}
	_, seen := p.kindsAtMark[id][kind]
	return seen
}

func (p *Publisher) alreadyPublished(id uuid.UUID, version int64, kind string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.lastVersion[id]
	if !ok || version > last {
		return false
	}
	if version < last {
		return true
	}
	_, seen := p.kindsAtMark[id][kind]
	return seen
}

func (p *Publisher) markPublished(ctx context.Context, id uuid.UUID, version int64, kind string) {
	if err := p.outbox.MarkPublished(ctx, id, version, kind); err != nil {
		// Worst case the row replays once more and dedups in memory.
		p.log.Warn().Err(err).
			Str("challenge_id", id.String()).
			Str("kind", kind).
			Msg("outbox confirm failed")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastVersion[id]
	switch {
	case version > last:
		p.lastVersion[id] = version
		p.kindsAtMark[id] = map[string]struct{}{kind: {}}
	case version == last:
		if p.kindsAtMark[id] == nil {
			p.kindsAtMark[id] = make(map[string]struct{})
		}
		p.kindsAtMark[id][kind] = struct{}{}
	}
}
