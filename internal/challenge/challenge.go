package challenge

import (
	"time"

	"github.com/google/uuid"
)

// Status is the resting status of a challenge. PhasePassed is a transient
// verdict outcome, never a resting status.
type Status int32

const (
	StatusActive Status = iota
	StatusFunded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusFunded:
		return "funded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status accepts no further mutation.
func (s Status) IsTerminal() bool {
	return s == StatusFunded || s == StatusFailed
}

// CanTransitionTo validates status transitions. Status moves forward only:
// active -> funded or active -> failed. Terminal states transition nowhere.
func (s Status) CanTransitionTo(next Status) bool {
	if s != StatusActive {
		return false
	}
	return next == StatusFunded || next == StatusFailed
}

// Stats holds per-challenge trading statistics surfaced to the projection.
type Stats struct {
	TotalTrades             int64
	Wins                    int64
	CurrentDailyDrawdownPct float64
	CurrentTotalDrawdownPct float64
}

// WinRatePct returns the win rate as a percentage, 0 when no trades exist.
func (s Stats) WinRatePct() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TotalTrades) * 100
}

// Challenge is the mutable evaluation-account aggregate. It is exclusively
// owned by the engine: all mutation happens inside the Registry's
// per-challenge exclusive section, and StateVersion increments on every
// committed mutation. StateVersion is the idempotency key for all outbound
// effects.
//
// Monetary fields are int64 fixed-point cents (scale 100).
type Challenge struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	ChallengeTypeID string

	CurrentPhase int32
	Status       Status

	Balance        int64
	InitialBalance int64
	HighWaterMark  int64

	// Daily drawdown baseline. DayStartBoundary is the instant of the last
	// daily reset; DayStartBalance is the balance the account held at that
	// boundary.
	DayStartBalance  int64
	DayStartBoundary time.Time

	PhaseStartedAt     time.Time
	TradingDaysElapsed int32
	// LastTradeDay is the UTC calendar day (days since epoch) of the most
	// recent counted trading day. Zero means no trades yet this phase.
	LastTradeDay int64
	LastTradeAt  time.Time

	Stats Stats

	FailureReason  string
	FailureDetails string

	// Review freezes the challenge when its configuration fails validation.
	// No automatic transitions occur until an operator clears it.
	Review       bool
	ReviewReason string

	StateVersion int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep copy. The Registry hands clones to the mutation
// callback so a failed evaluation never leaks partial writes into the
// authoritative record.
func (c *Challenge) Clone() *Challenge {
	cp := *c
	return &cp
}

// Frozen reports whether the challenge accepts no further automatic
// processing: terminal status or operator review.
func (c *Challenge) Frozen() bool {
	return c.Status.IsTerminal() || c.Review
}
