package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ChallengeEngine/internal/catalog"
	"ChallengeEngine/internal/challenge"
	"ChallengeEngine/internal/event"
	"ChallengeEngine/internal/observability"
	"ChallengeEngine/internal/registry"
)

// IngestStatus classifies the outcome of one ingested event. Drops are
// non-fatal by design: they log, count, and mutate nothing.
type IngestStatus int32

const (
	IngestApplied IngestStatus = iota
	IngestDroppedUnknown
	IngestDroppedTerminal
	IngestDroppedFrozen
	IngestDroppedDuplicate
	IngestFrozeForReview
)

func (s IngestStatus) String() string {
	switch s {
	case IngestApplied:
		return "applied"
	case IngestDroppedUnknown:
		return "unknown_challenge"
	case IngestDroppedTerminal:
		return "terminal_challenge"
	case IngestDroppedFrozen:
		return "frozen_challenge"
	case IngestDroppedDuplicate:
		return "duplicate_trade"
	case IngestFrozeForReview:
		return "froze_for_review"
	default:
		return "unknown"
	}
}

// Ingestor accepts normalized trade-closure events, filters
// stale/duplicate/terminal-challenge events, and runs the full
// metrics -> verdict -> transition cycle inside the owning challenge's
// exclusive section. Many Ingest calls run concurrently across challenges;
// the Registry serializes per challenge.
type Ingestor struct {
	registry *registry.Registry
	catalog  catalog.Catalog
	dedup    *TradeDedup
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewIngestor(reg *registry.Registry, cat catalog.Catalog, dedup *TradeDedup, metrics *observability.Metrics, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		registry: reg,
		catalog:  cat,
		dedup:    dedup,
		metrics:  metrics,
		log:      log,
	}
}

// Ingest processes one trade-closure event. The returned status is
// informational; only infrastructure failures (store unavailable, context
// cancelled) surface as errors.
func (in *Ingestor) Ingest(ctx context.Context, evt *event.TradeClosed) (IngestStatus, error) {
	start := time.Now()
	status := IngestApplied

	err := in.registry.WithExclusiveAccess(ctx, evt.ChallengeID, func(ch *challenge.Challenge) (*registry.Mutation, error) {
		if ch.Status.IsTerminal() {
			status = IngestDroppedTerminal
			return nil, nil
		}
		if ch.Review {
			status = IngestDroppedFrozen
			return nil, nil
		}

		// Replay safety: the dedup answer is authoritative here because we
		// hold the challenge's exclusive section.
		if in.dedup.IsDuplicate(ctx, evt.ChallengeID, evt.TradeID) {
			status = IngestDroppedDuplicate
			return nil, nil
		}

		ct, ok := in.catalog.ChallengeType(ch.ChallengeTypeID)
		var cfgErr error
		if !ok {
			cfgErr = errors.New("challenge type not found in catalog")
		} else {
			cfgErr = catalog.Validate(ct)
		}
		if cfgErr != nil {
			// Configuration error: freeze into review rather than evaluate
			// against defaulted thresholds.
			status = IngestFrozeForReview
			effects, err := FreezeForReview(ch, cfgErr.Error(), evt.Timestamp)
			if err != nil {
				return nil, err
			}
			if effects == nil {
				status = IngestDroppedFrozen
				return nil, nil
			}
			in.log.Warn().
				Str("challenge_id", ch.ID.String()).
				Str("challenge_type", ch.ChallengeTypeID).
				Str("reason", cfgErr.Error()).
				Msg("challenge frozen for operator review")
			return &registry.Mutation{Challenge: ch, Effects: effects}, nil
		}

		phase, ok := ct.PhaseByNumber(ch.CurrentPhase)
		if !ok {
			status = IngestFrozeForReview
			effects, err := FreezeForReview(ch, "current phase missing from challenge type", evt.Timestamp)
			if err != nil {
				return nil, err
			}
			return &registry.Mutation{Challenge: ch, Effects: effects}, nil
		}

		newBalance := ch.Balance + evt.RealizedPnL
		m := ComputeMetrics(ch, newBalance, evt.Timestamp, ct)
		verdict := EvaluateRules(m, phase, ct.Rules, ct.FinalPhase(ch.CurrentPhase))

		effects, err := ApplyVerdict(ch, m, verdict, evt.RealizedPnL, evt.Timestamp, ct)
		if err != nil {
			return nil, err
		}

		if in.metrics != nil {
			in.metrics.VerdictsTotal.WithLabelValues(verdict.Outcome.String()).Inc()
		}
		if verdict.Outcome != OutcomeContinue {
			in.log.Info().
				Str("challenge_id", ch.ID.String()).
				Str("outcome", verdict.Outcome.String()).
				Str("reason", verdict.Reason).
				Str("details", verdict.Details).
				Int64("state_version", ch.StateVersion).
				Msg("challenge transition")
		}

		tradeID := evt.TradeID
		return &registry.Mutation{Challenge: ch, AppliedTradeID: &tradeID, Effects: effects}, nil
	})

	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			in.drop(evt, IngestDroppedUnknown)
			return IngestDroppedUnknown, nil
		}
		if in.metrics != nil {
			in.metrics.EventsRejected.WithLabelValues("error").Inc()
		}
		return status, err
	}

	switch status {
	case IngestApplied:
		in.dedup.MarkApplied(evt.ChallengeID, evt.TradeID)
		if in.metrics != nil {
			in.metrics.EventsApplied.Inc()
			in.metrics.EventDuration.Observe(time.Since(start).Seconds())
		}
	case IngestFrozeForReview:
		// Committed a review freeze; the trade itself was not applied and a
		// replay after the operator clears review must still be possible.
		if in.metrics != nil {
			in.metrics.EventsRejected.WithLabelValues(status.String()).Inc()
		}
	default:
		in.drop(evt, status)
	}

	return status, nil
}

func (in *Ingestor) drop(evt *event.TradeClosed, status IngestStatus) {
	if in.metrics != nil {
		in.metrics.EventsRejected.WithLabelValues(status.String()).Inc()
	}
	in.log.Debug().
		Str("challenge_id", evt.ChallengeID.String()).
		Str("trade_id", evt.TradeID.String()).
		Str("reason", status.String()).
		Msg("trade event dropped")
}
