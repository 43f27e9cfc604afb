package core

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"ChallengeEngine/internal/catalog"
	"ChallengeEngine/internal/challenge"
)

func twoStepType() *catalog.ChallengeType {
	return &catalog.ChallengeType{
		ID: "two-step-100k",
		Phases: []catalog.Phase{
			{Number: 1, ProfitTargetPct: 8, MinimumTradingDays: 4, MaximumTradingDays: 30},
			{Number: 2, ProfitTargetPct: 5, MinimumTradingDays: 4, MaximumTradingDays: 60},
		},
		Rules: catalog.RiskRules{
			MaxDailyDrawdownPct: 5,
			MaxTotalDrawdownPct: 10,
			MaxInactiveDays:     30,
		},
		Payout:            catalog.PayoutConfig{ProfitSplitPct: 80},
		DailyResetHourUTC: 0,
		InactiveDayUnit:   catalog.InactiveDaysCalendar,
	}
}

// 100k account in cents.
const initialBalance = int64(100_000_00)

func activeChallenge(ts time.Time) *challenge.Challenge {
	return &challenge.Challenge{
		ID:               uuid.New(),
		AccountID:        uuid.New(),
		ChallengeTypeID:  "two-step-100k",
		CurrentPhase:     1,
		Status:           challenge.StatusActive,
		Balance:          initialBalance,
		InitialBalance:   initialBalance,
		HighWaterMark:    initialBalance,
		DayStartBalance:  initialBalance,
		DayStartBoundary: DailyBoundaryFor(ts, 0),
		PhaseStartedAt:   ts,
		LastTradeAt:      ts,
		StateVersion:     1,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
}

func TestComputeMetricsProfitAndHighWaterMark(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	ch := activeChallenge(ts)
	ct := twoStepType()

	m := ComputeMetrics(ch, 104_000_00, ts, ct)

	if m.ProfitPct != 4.0 {
		t.Errorf("profit = %.2f%%, want 4.00%%", m.ProfitPct)
	}
	if m.HighWaterMark != 104_000_00 {
		t.Errorf("hwm = %d, want 104_000_00", m.HighWaterMark)
	}
	if m.TotalDrawdownPct != 0 {
		t.Errorf("total drawdown = %.2f%%, want 0", m.TotalDrawdownPct)
	}
}

func TestComputeMetricsStaticDrawdownReference(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	ch := activeChallenge(ts)
	ch.Balance = 106_000_00
	ch.HighWaterMark = 106_000_00
	ct := twoStepType()

	// Static reference: drawdown measured against the initial balance even
	// though the high-water mark is above it.
	m := ComputeMetrics(ch, 98_000_00, ts, ct)

	if m.TotalDrawdownPct != 2.0 {
		t.Errorf("total drawdown = %.2f%%, want 2.00%%", m.TotalDrawdownPct)
	}
}

func TestComputeMetricsTrailingDrawdownReference(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	ch := activeChallenge(ts)
	ch.Balance = 106_000_00
	ch.HighWaterMark = 106_000_00
	ct := twoStepType()
	ct.Rules.TrailingDrawdown = true

	// Trailing reference: the same dip measures against the high-water mark.
	m := ComputeMetrics(ch, 98_000_00, ts, ct)

	want := float64(106_000_00-98_000_00) / float64(106_000_00) * 100
	if m.TotalDrawdownPct != want {
		t.Errorf("total drawdown = %.4f%%, want %.4f%%", m.TotalDrawdownPct, want)
	}
}

func TestComputeMetricsDailyDrawdownWithinDay(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	ch := activeChallenge(ts)
	ch.DayStartBalance = 102_000_00
	ch.Balance = 101_000_00
	ch.DayStartBoundary = DailyBoundaryFor(ts, 0)
	ct := twoStepType()

	m := ComputeMetrics(ch, 99_960_00, ts, ct)

	want := float64(102_000_00-99_960_00) / float64(102_000_00) * 100
	if m.DailyDrawdownPct != want {
		t.Errorf("daily drawdown = %.4f%%, want %.4f%%", m.DailyDrawdownPct, want)
	}
	if !m.DayStartBoundary.Equal(ch.DayStartBoundary) {
		t.Error("boundary must not move within the same day")
	}
}

func TestComputeMetricsLazyDailyReset(t *testing.T) {
	day1 := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	ch := activeChallenge(day1)
	ch.Balance = 97_000_00
	ch.DayStartBalance = 102_000_00
	ch.DayStartBoundary = DailyBoundaryFor(day1, 0)
	ct := twoStepType()

	// First event of the next day: the baseline resets to the balance the
	// account carried into the day (the pre-event balance), then daily
	// drawdown is computed against the fresh baseline.
	day2 := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	m := ComputeMetrics(ch, 96_000_00, day2, ct)

	if m.DayStartBalance != 97_000_00 {
		t.Errorf("day start balance = %d, want 97_000_00 (pre-event balance)", m.DayStartBalance)
	}
	if !m.DayStartBoundary.Equal(DailyBoundaryFor(day2, 0)) {
		t.Errorf("boundary = %v, want %v", m.DayStartBoundary, DailyBoundaryFor(day2, 0))
	}
	want := float64(97_000_00-96_000_00) / float64(97_000_00) * 100
	if m.DailyDrawdownPct != want {
		t.Errorf("daily drawdown = %.4f%%, want %.4f%% against fresh baseline", m.DailyDrawdownPct, want)
	}
}

func TestComputeMetricsTradingDays(t *testing.T) {
	day1 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ch := activeChallenge(day1)
	ct := twoStepType()

	m := ComputeMetrics(ch, initialBalance, day1, ct)
	if m.TradingDaysElapsed != 1 {
		t.Fatalf("first trade: trading days = %d, want 1", m.TradingDaysElapsed)
	}

	// A second trade on the same calendar day does not count another day.
	ch.TradingDaysElapsed = m.TradingDaysElapsed
	ch.LastTradeDay = m.LastTradeDay
	later := day1.Add(5 * time.Hour)
	m = ComputeMetrics(ch, initialBalance, later, ct)
	if m.TradingDaysElapsed != 1 {
		t.Errorf("same-day trade: trading days = %d, want 1", m.TradingDaysElapsed)
	}

	// A trade the next day does.
	ch.TradingDaysElapsed = m.TradingDaysElapsed
	ch.LastTradeDay = m.LastTradeDay
	m = ComputeMetrics(ch, initialBalance, day1.AddDate(0, 0, 1), ct)
	if m.TradingDaysElapsed != 2 {
		t.Errorf("next-day trade: trading days = %d, want 2", m.TradingDaysElapsed)
	}
}

func TestComputeMetricsInactivityCalendarDays(t *testing.T) {
	last := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ch := activeChallenge(last)
	ch.LastTradeDay = 1 // Some prior trade exists
	ch.LastTradeAt = last
	ct := twoStepType()

	m := ComputeMetrics(ch, initialBalance, last.AddDate(0, 0, 10), ct)
	if m.DaysSinceLastTrade != 10 {
		t.Errorf("calendar gap = %d, want 10", m.DaysSinceLastTrade)
	}
}

func TestComputeMetricsInactivityTradingDays(t *testing.T) {
	// Friday 2026-03-06 to Monday 2026-03-16: ten calendar days, six weekdays.
	last := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
	ch := activeChallenge(last)
	ch.LastTradeDay = 1
	ch.LastTradeAt = last
	ct := twoStepType()
	ct.InactiveDayUnit = catalog.InactiveDaysTrading

	m := ComputeMetrics(ch, initialBalance, time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC), ct)
	if m.DaysSinceLastTrade != 6 {
		t.Errorf("weekday gap = %d, want 6", m.DaysSinceLastTrade)
	}
}

func TestComputeMetricsInactivityFromPhaseStart(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	ch := activeChallenge(start)
	ch.LastTradeDay = 0 // No trades yet this phase
	ct := twoStepType()

	m := ComputeMetrics(ch, initialBalance, start.AddDate(0, 0, 7), ct)
	if m.DaysSinceLastTrade != 7 {
		t.Errorf("gap from phase start = %d, want 7", m.DaysSinceLastTrade)
	}
}

func TestDailyBoundaryFor(t *testing.T) {
	cases := []struct {
		ts   time.Time
		hour int
		want time.Time
	}{
		// After the reset hour: boundary is today at that hour.
		{time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC), 0, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC), 5, time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)},
		// Before the reset hour: boundary is yesterday at that hour.
		{time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), 5, time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)},
		// Exactly at the boundary.
		{time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC), 5, time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)},
	}

	for _, tc := range cases {
		if got := DailyBoundaryFor(tc.ts, tc.hour); !got.Equal(tc.want) {
			t.Errorf("DailyBoundaryFor(%v, %d) = %v, want %v", tc.ts, tc.hour, got, tc.want)
		}
	}
}
