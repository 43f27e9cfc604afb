package event

import (
	"time"

	"github.com/google/uuid"
)

// TradeClosed is the inbound trade-closure event from the trading engine,
// emitted once per closed position or scheduled mark.
// Idempotency key: trade_id (UUID assigned by the trading engine).
type TradeClosed struct {
	TradeID     uuid.UUID // Dedup key
	AccountID   uuid.UUID
	ChallengeID uuid.UUID
	RealizedPnL int64     // Fixed-point cents (scale 100), signed
	Timestamp   time.Time // Versioned input timestamp (NOT wall-clock)
}

func (t *TradeClosed) IdempotencyKey() string {
	return t.TradeID.String()
}
