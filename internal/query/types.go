package query

import "github.com/google/uuid"

// ChallengeStatusResponse is the read model served by the query API.
// Served from the eventually consistent projection, never from the
// authoritative table: queries must not contend with the evaluation path.
type ChallengeStatusResponse struct {
	ChallengeID      uuid.UUID `json:"challenge_id"`
	AccountID        uuid.UUID `json:"account_id"`
	ChallengeTypeID  string    `json:"challenge_type_id"`
	Status           string    `json:"status"`
	CurrentPhase     int32     `json:"current_phase"`
	Balance          int64     `json:"balance"`
	ProfitPct        float64   `json:"profit_pct"`
	DailyDrawdownPct float64   `json:"daily_drawdown_pct"`
	TotalDrawdownPct float64   `json:"total_drawdown_pct"`
	TotalTrades      int64     `json:"total_trades"`
	Wins             int64     `json:"wins"`
	WinRatePct       float64   `json:"win_rate_pct"`
	TradingDays      int32     `json:"trading_days"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	Review           bool      `json:"review"`
	StateVersion     int64     `json:"state_version"`
}

// AccountChallengesResponse lists a trader's challenges.
type AccountChallengesResponse struct {
	AccountID  uuid.UUID                 `json:"account_id"`
	Challenges []ChallengeStatusResponse `json:"challenges"`
}
