package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"ChallengeEngine/internal/challenge"
	"ChallengeEngine/internal/observability"
)

// Worker maintains the read-side challenge_status table from committed
// challenge snapshots. The channel is non-blocking with drop on the write
// side: if projections fall behind they can be rebuilt from the
// authoritative table at any time.
type Worker struct {
	db        *sql.DB
	inputChan <-chan *challenge.Challenge
	metrics   *observability.Metrics
	log       zerolog.Logger
	applied   int64
}

func NewWorker(db *sql.DB, inputChan <-chan *challenge.Challenge, metrics *observability.Metrics, log zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log,
	}
}

// Run starts the projection loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ch, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			if err := w.apply(ctx, ch); err != nil {
				if w.metrics != nil {
					w.metrics.ProjectionErrors.Inc()
				}
				w.log.Warn().Err(err).
					Str("challenge_id", ch.ID.String()).
					Msg("projection update failed")
				continue
			}

			w.applied++
			if w.metrics != nil {
				w.metrics.ProjectionUpdates.Inc()
			}
		}
	}
}

// apply upserts one status row. Snapshots can arrive out of order when a
// dropped snapshot is followed by a newer one; the version guard keeps the
// row from moving backwards.
func (w *Worker) apply(ctx context.Context, ch *challenge.Challenge) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	profitPct := 0.0
	if ch.InitialBalance > 0 {
		profitPct = float64(ch.Balance-ch.InitialBalance) / float64(ch.InitialBalance) * 100
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.challenge_status (
			challenge_id, account_id, challenge_type_id, status, current_phase,
			balance, profit_pct, daily_drawdown_pct, total_drawdown_pct,
			total_trades, wins, win_rate_pct, trading_days,
			failure_reason, review, state_version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (challenge_id) DO UPDATE SET
			status = EXCLUDED.status,
			current_phase = EXCLUDED.current_phase,
			balance = EXCLUDED.balance,
			profit_pct = EXCLUDED.profit_pct,
			daily_drawdown_pct = EXCLUDED.daily_drawdown_pct,
			total_drawdown_pct = EXCLUDED.total_drawdown_pct,
			total_trades = EXCLUDED.total_trades,
			wins = EXCLUDED.wins,
			win_rate_pct = EXCLUDED.win_rate_pct,
			trading_days = EXCLUDED.trading_days,
			failure_reason = EXCLUDED.failure_reason,
			review = EXCLUDED.review,
			state_version = EXCLUDED.state_version,
			updated_at = NOW()
		WHERE projections.challenge_status.state_version < EXCLUDED.state_version
	`,
		ch.ID, ch.AccountID, ch.ChallengeTypeID, ch.Status.String(), ch.CurrentPhase,
		ch.Balance, profitPct, ch.Stats.CurrentDailyDrawdownPct, ch.Stats.CurrentTotalDrawdownPct,
		ch.Stats.TotalTrades, ch.Stats.Wins, ch.Stats.WinRatePct(), ch.TradingDaysElapsed,
		ch.FailureReason, ch.Review, ch.StateVersion,
	); err != nil {
		return fmt.Errorf("status projection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, applied, updated_at)
		VALUES ('challenge_status', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET applied = $1, updated_at = NOW()
	`, w.applied+1); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// Rebuild repopulates the status projection from the authoritative table.
func Rebuild(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	if _, err := db.ExecContext(ctx, `TRUNCATE projections.challenge_status`); err != nil {
		return fmt.Errorf("truncate status projection: %w", err)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.challenge_status (
			challenge_id, account_id, challenge_type_id, status, current_phase,
			balance, profit_pct, daily_drawdown_pct, total_drawdown_pct,
			total_trades, wins, win_rate_pct, trading_days,
			failure_reason, review, state_version, updated_at
		)
		SELECT
			id,
			account_id,
			challenge_type_id,
			CASE status WHEN 0 THEN 'active' WHEN 1 THEN 'funded' WHEN 2 THEN 'failed' ELSE 'unknown' END,
			current_phase,
			balance,
			CASE WHEN initial_balance > 0
				THEN (balance - initial_balance)::float8 / initial_balance * 100
				ELSE 0 END,
			daily_drawdown_pct,
			total_drawdown_pct,
			total_trades,
			wins,
			CASE WHEN total_trades > 0
				THEN wins::float8 / total_trades * 100
				ELSE 0 END,
			trading_days_elapsed,
			failure_reason,
			review,
			state_version,
			NOW()
		FROM challenge.challenges
	`)
	if err != nil {
		return fmt.Errorf("rebuild status projection: %w", err)
	}

	log.Info().Msg("projection rebuild complete")
	return nil
}
