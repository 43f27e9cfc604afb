package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound signals a challenge absent from the projection.
var ErrNotFound = errors.New("challenge not found")

// QueryService provides read-only access to the projection tables.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

const statusColumns = `
	challenge_id, account_id, challenge_type_id, status, current_phase,
	balance, profit_pct, daily_drawdown_pct, total_drawdown_pct,
	total_trades, wins, win_rate_pct, trading_days,
	failure_reason, review, state_version
`

// GetChallengeStatus returns the current projected status of one challenge.
func (qs *QueryService) GetChallengeStatus(ctx context.Context, challengeID uuid.UUID) (*ChallengeStatusResponse, error) {
	row := qs.db.QueryRowContext(ctx, `
		SELECT `+statusColumns+`
		FROM projections.challenge_status
		WHERE challenge_id = $1
	`, challengeID)

	resp, err := scanStatus(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query challenge status: %w", err)
	}
	return resp, nil
}

// ListAccountChallenges returns all challenges belonging to an account,
// newest phase activity first.
func (qs *QueryService) ListAccountChallenges(ctx context.Context, accountID uuid.UUID) (*AccountChallengesResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT `+statusColumns+`
		FROM projections.challenge_status
		WHERE account_id = $1
		ORDER BY updated_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query account challenges: %w", err)
	}
	defer rows.Close()

	resp := &AccountChallengesResponse{AccountID: accountID}
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account challenge: %w", err)
		}
		resp.Challenges = append(resp.Challenges, *st)
	}
	return resp, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(row rowScanner) (*ChallengeStatusResponse, error) {
	var r ChallengeStatusResponse
	err := row.Scan(
		&r.ChallengeID, &r.AccountID, &r.ChallengeTypeID, &r.Status, &r.CurrentPhase,
		&r.Balance, &r.ProfitPct, &r.DailyDrawdownPct, &r.TotalDrawdownPct,
		&r.TotalTrades, &r.Wins, &r.WinRatePct, &r.TradingDays,
		&r.FailureReason, &r.Review, &r.StateVersion,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
