package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ChallengeEngine/internal/challenge"
	"ChallengeEngine/internal/event"
	"ChallengeEngine/internal/observability"
	"ChallengeEngine/internal/registry"
)

// ChallengeStore is the Postgres backing for the Registry. A commit is one
// transaction covering the challenge row, the applied-trade marker, and the
// outbox rows: the mutation and its outbound effects become durable together
// or not at all.
type ChallengeStore struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewChallengeStore(db *sql.DB, metrics *observability.Metrics) *ChallengeStore {
	return &ChallengeStore{db: db, metrics: metrics}
}

// LoadChallenge reads the current record, or registry.ErrNotFound.
func (s *ChallengeStore) LoadChallenge(ctx context.Context, id uuid.UUID) (*challenge.Challenge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, challenge_type_id, current_phase, status,
		       balance, initial_balance, high_water_mark,
		       day_start_balance, day_start_boundary,
		       phase_started_at, trading_days_elapsed, last_trade_day, last_trade_at,
		       total_trades, wins, daily_drawdown_pct, total_drawdown_pct,
		       failure_reason, failure_details, review, review_reason,
		       state_version, created_at, updated_at
		FROM challenge.challenges
		WHERE id = $1
	`, id)

	var ch challenge.Challenge
	var status int32
	err := row.Scan(
		&ch.ID, &ch.AccountID, &ch.ChallengeTypeID, &ch.CurrentPhase, &status,
		&ch.Balance, &ch.InitialBalance, &ch.HighWaterMark,
		&ch.DayStartBalance, &ch.DayStartBoundary,
		&ch.PhaseStartedAt, &ch.TradingDaysElapsed, &ch.LastTradeDay, &ch.LastTradeAt,
		&ch.Stats.TotalTrades, &ch.Stats.Wins,
		&ch.Stats.CurrentDailyDrawdownPct, &ch.Stats.CurrentTotalDrawdownPct,
		&ch.FailureReason, &ch.FailureDetails, &ch.Review, &ch.ReviewReason,
		&ch.StateVersion, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load challenge %s: %w", id, err)
	}
	ch.Status = challenge.Status(status)

	return &ch, nil
}

// CommitChallenge atomically persists a committed mutation. The upsert
// carries a monotonic guard: an existing row is only overwritten by a higher
// state version, so a stale write can never regress the record.
func (s *ChallengeStore) CommitChallenge(ctx context.Context, ch *challenge.Challenge, appliedTradeID *uuid.UUID, effects []event.Effect) error {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.commitError("tx_begin")
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO challenge.challenges (
			id, account_id, challenge_type_id, current_phase, status,
			balance, initial_balance, high_water_mark,
			day_start_balance, day_start_boundary,
			phase_started_at, trading_days_elapsed, last_trade_day, last_trade_at,
			total_trades, wins, daily_drawdown_pct, total_drawdown_pct,
			failure_reason, failure_details, review, review_reason,
			state_version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25
		)
		ON CONFLICT (id) DO UPDATE SET
			current_phase = EXCLUDED.current_phase,
			status = EXCLUDED.status,
			balance = EXCLUDED.balance,
			initial_balance = EXCLUDED.initial_balance,
			high_water_mark = EXCLUDED.high_water_mark,
			day_start_balance = EXCLUDED.day_start_balance,
			day_start_boundary = EXCLUDED.day_start_boundary,
			phase_started_at = EXCLUDED.phase_started_at,
			trading_days_elapsed = EXCLUDED.trading_days_elapsed,
			last_trade_day = EXCLUDED.last_trade_day,
			last_trade_at = EXCLUDED.last_trade_at,
			total_trades = EXCLUDED.total_trades,
			wins = EXCLUDED.wins,
			daily_drawdown_pct = EXCLUDED.daily_drawdown_pct,
			total_drawdown_pct = EXCLUDED.total_drawdown_pct,
			failure_reason = EXCLUDED.failure_reason,
			failure_details = EXCLUDED.failure_details,
			review = EXCLUDED.review,
			review_reason = EXCLUDED.review_reason,
			state_version = EXCLUDED.state_version,
			updated_at = EXCLUDED.updated_at
		WHERE challenge.challenges.state_version < EXCLUDED.state_version
	`,
		ch.ID, ch.AccountID, ch.ChallengeTypeID, ch.CurrentPhase, int32(ch.Status),
		ch.Balance, ch.InitialBalance, ch.HighWaterMark,
		ch.DayStartBalance, ch.DayStartBoundary,
		ch.PhaseStartedAt, ch.TradingDaysElapsed, ch.LastTradeDay, ch.LastTradeAt,
		ch.Stats.TotalTrades, ch.Stats.Wins,
		ch.Stats.CurrentDailyDrawdownPct, ch.Stats.CurrentTotalDrawdownPct,
		ch.FailureReason, ch.FailureDetails, ch.Review, ch.ReviewReason,
		ch.StateVersion, ch.CreatedAt, ch.UpdatedAt,
	)
	if err != nil {
		s.commitError("upsert_challenge")
		return fmt.Errorf("upsert challenge %s: %w", ch.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.commitError("stale_version")
		return fmt.Errorf("challenge %s: stale write at version %d", ch.ID, ch.StateVersion)
	}

	if appliedTradeID != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO challenge.applied_trades (challenge_id, trade_id, state_version)
			VALUES ($1, $2, $3)
			ON CONFLICT (challenge_id, trade_id) DO NOTHING
		`, ch.ID, *appliedTradeID, ch.StateVersion); err != nil {
			s.commitError("applied_trade")
			return fmt.Errorf("record applied trade %s: %w", *appliedTradeID, err)
		}
	}

	for _, e := range effects {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			s.commitError("marshal_effect")
			return fmt.Errorf("marshal effect %s: %w", e.Kind, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO challenge.outbox (challenge_id, state_version, kind, subject, payload)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (challenge_id, state_version, kind) DO NOTHING
		`, e.ChallengeID, e.StateVersion, e.Kind.String(), e.Subject(), payload); err != nil {
			s.commitError("outbox_insert")
			return fmt.Errorf("enqueue effect %s: %w", e.Kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.commitError("tx_commit")
		return fmt.Errorf("commit challenge %s: %w", ch.ID, err)
	}

	if s.metrics != nil {
		s.metrics.CommitDuration.Observe(time.Since(start).Seconds())
	}

	return nil
}

// IsTradeApplied implements core.DBTradeChecker (tier-2 dedup lookup).
func (s *ChallengeStore) IsTradeApplied(ctx context.Context, challengeID, tradeID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1
		FROM challenge.applied_trades
		WHERE challenge_id = $1 AND trade_id = $2
		LIMIT 1
	`, challengeID, tradeID).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *ChallengeStore) commitError(stage string) {
	if s.metrics != nil {
		s.metrics.CommitErrors.WithLabelValues(stage).Inc()
	}
}
