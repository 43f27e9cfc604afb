package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ChallengeEngine/internal/event"
)

// tradeClosedJSON is the wire format published by the trading engine on
// challenge.trades.{challenge_id}. Field names use snake_case to match
// upstream producers.
type tradeClosedJSON struct {
	TradeID     string `json:"trade_id"`
	AccountID   string `json:"account_id"`
	ChallengeID string `json:"challenge_id"`
	RealizedPnL int64  `json:"realized_pnl"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParseTradeClosed validates and converts raw NATS bytes into a typed
// trade-closure event. The timestamp travels with the event; evaluation never
// reads the wall clock.
func ParseTradeClosed(data []byte) (*event.TradeClosed, error) {
	var j tradeClosedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TradeClosed: %w", err)
	}

	tradeID, err := uuid.Parse(j.TradeID)
	if err != nil {
		return nil, fmt.Errorf("parse trade_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	challengeID, err := uuid.Parse(j.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("parse challenge_id: %w", err)
	}
	if j.TimestampUs <= 0 {
		return nil, fmt.Errorf("invalid timestamp_us: %d", j.TimestampUs)
	}

	return &event.TradeClosed{
		TradeID:     tradeID,
		AccountID:   accountID,
		ChallengeID: challengeID,
		RealizedPnL: j.RealizedPnL,
		Timestamp:   time.UnixMicro(j.TimestampUs).UTC(),
	}, nil
}
