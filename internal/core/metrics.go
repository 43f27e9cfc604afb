package core

import (
	"time"

	"ChallengeEngine/internal/catalog"
	"ChallengeEngine/internal/challenge"
)

// Metrics is the recomputed risk/profit picture after applying one trade.
// It is a pure function of (prior challenge state, new balance, event
// timestamp, challenge-type config). No wall-clock reads, no mutation.
type Metrics struct {
	Balance       int64
	ProfitPct     float64
	HighWaterMark int64

	TotalDrawdownPct float64

	DayStartBalance  int64
	DayStartBoundary time.Time
	DailyDrawdownPct float64

	TradingDaysElapsed int32
	LastTradeDay       int64
	// DaysSinceLastTrade is the inactivity gap ending at this event,
	// measured in the challenge type's configured unit. Zero when this is
	// the phase's first trade.
	DaysSinceLastTrade int32
}

// ComputeMetrics recomputes all metrics for one applied trade.
//
// The daily baseline reset is lazy and event-triggered: when the event
// timestamp crosses the configured daily boundary, the baseline resets to the
// balance the account held when the new day opened (the pre-event balance),
// BEFORE daily drawdown is computed for this event. No background timer ever
// mutates the baseline.
func ComputeMetrics(prior *challenge.Challenge, newBalance int64, ts time.Time, ct *catalog.ChallengeType) Metrics {
	m := Metrics{
		Balance:          newBalance,
		DayStartBalance:  prior.DayStartBalance,
		DayStartBoundary: prior.DayStartBoundary,
	}

	if prior.InitialBalance > 0 {
		m.ProfitPct = float64(newBalance-prior.InitialBalance) / float64(prior.InitialBalance) * 100
	}

	m.HighWaterMark = prior.HighWaterMark
	if newBalance > m.HighWaterMark {
		m.HighWaterMark = newBalance
	}

	// Total drawdown reference: high-water mark when trailing, fixed initial
	// balance otherwise.
	reference := prior.InitialBalance
	if ct.Rules.TrailingDrawdown {
		reference = m.HighWaterMark
	}
	if reference > 0 && newBalance < reference {
		m.TotalDrawdownPct = float64(reference-newBalance) / float64(reference) * 100
	}

	// Lazy daily reset.
	boundary := DailyBoundaryFor(ts, ct.DailyResetHourUTC)
	if boundary.After(prior.DayStartBoundary) {
		m.DayStartBalance = prior.Balance
		m.DayStartBoundary = boundary
	}
	if m.DayStartBalance > 0 && newBalance < m.DayStartBalance {
		m.DailyDrawdownPct = float64(m.DayStartBalance-newBalance) / float64(m.DayStartBalance) * 100
	}

	// Trading days elapse once per distinct calendar day with at least one
	// trade. LastTradeDay == 0 means no trades yet this phase.
	m.TradingDaysElapsed = prior.TradingDaysElapsed
	m.LastTradeDay = epochDay(ts)
	if m.LastTradeDay != prior.LastTradeDay {
		m.TradingDaysElapsed++
	}

	m.DaysSinceLastTrade = daysSinceLastTrade(prior, ts, ct.InactiveDayUnit)

	return m
}

// DailyBoundaryFor returns the most recent instant at the configured UTC hour
// at or before ts.
func DailyBoundaryFor(ts time.Time, resetHourUTC int) time.Time {
	utc := ts.UTC()
	boundary := time.Date(utc.Year(), utc.Month(), utc.Day(), resetHourUTC, 0, 0, 0, time.UTC)
	if boundary.After(utc) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return boundary
}

// epochDay returns the UTC calendar day as days since the Unix epoch.
func epochDay(ts time.Time) int64 {
	return ts.UTC().Unix() / 86400
}

// daysSinceLastTrade measures the inactivity gap from the previous trade (or
// the phase start, if none) to ts, in the configured unit.
func daysSinceLastTrade(prior *challenge.Challenge, ts time.Time, unit catalog.InactiveDayUnit) int32 {
	since := prior.LastTradeAt
	if prior.LastTradeDay == 0 {
		since = prior.PhaseStartedAt
	}
	if since.IsZero() || !ts.After(since) {
		return 0
	}

	switch unit {
	case catalog.InactiveDaysTrading:
		return weekdaysBetween(since, ts)
	default:
		return int32(epochDay(ts) - epochDay(since))
	}
}

// weekdaysBetween counts weekdays strictly after from's day up to and
// including ts's day.
func weekdaysBetween(from, ts time.Time) int32 {
	start := epochDay(from)
	end := epochDay(ts)

	var count int32
	for d := start + 1; d <= end; d++ {
		// Unix epoch day 0 was a Thursday; days 2 and 3 of each week cycle
		// starting there are Saturday and Sunday.
		switch (d + 4) % 7 {
		case 6, 0: // Saturday, Sunday
		default:
			count++
		}
	}
	return count
}
