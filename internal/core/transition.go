package core

import (
	"fmt"
	"time"

	"ChallengeEngine/internal/catalog"
	"ChallengeEngine/internal/challenge"
	"ChallengeEngine/internal/event"
)

// ApplyVerdict applies an evaluated verdict to the challenge and returns the
// outbound effects the commit must carry. It is the only code path that
// mutates challenge status, and it increments StateVersion exactly once;
// every effect is stamped with the new version so downstream dedup works on
// (challengeID, stateVersion).
//
// The caller holds the challenge's exclusive section and commits (or
// discards) the mutation atomically.
func ApplyVerdict(ch *challenge.Challenge, m Metrics, v Verdict, pnl int64, ts time.Time, ct *catalog.ChallengeType) ([]event.Effect, error) {
	if ch.Status.IsTerminal() {
		return nil, fmt.Errorf("challenge %s is terminal (%s): no further mutation", ch.ID, ch.Status)
	}

	// Persist recomputed metrics regardless of outcome.
	ch.Balance = m.Balance
	ch.HighWaterMark = m.HighWaterMark
	ch.DayStartBalance = m.DayStartBalance
	ch.DayStartBoundary = m.DayStartBoundary
	ch.TradingDaysElapsed = m.TradingDaysElapsed
	ch.LastTradeDay = m.LastTradeDay
	ch.LastTradeAt = ts
	ch.Stats.TotalTrades++
	if pnl > 0 {
		ch.Stats.Wins++
	}
	ch.Stats.CurrentDailyDrawdownPct = m.DailyDrawdownPct
	ch.Stats.CurrentTotalDrawdownPct = m.TotalDrawdownPct

	ch.StateVersion++
	ch.UpdatedAt = ts

	switch v.Outcome {
	case OutcomeContinue:
		return nil, nil

	case OutcomePhaseAdvance:
		if _, ok := ct.PhaseByNumber(ch.CurrentPhase + 1); !ok {
			return nil, fmt.Errorf("challenge %s: no phase %d configured", ch.ID, ch.CurrentPhase+1)
		}
		ch.CurrentPhase++
		// The current balance becomes the new phase's initial reference;
		// all baselines restart from it.
		ch.InitialBalance = ch.Balance
		ch.HighWaterMark = ch.Balance
		ch.DayStartBalance = ch.Balance
		ch.DayStartBoundary = DailyBoundaryFor(ts, ct.DailyResetHourUTC)
		ch.TradingDaysElapsed = 0
		ch.LastTradeDay = 0
		ch.PhaseStartedAt = ts
		ch.Stats.CurrentDailyDrawdownPct = 0
		ch.Stats.CurrentTotalDrawdownPct = 0

		return []event.Effect{{
			ChallengeID:  ch.ID,
			StateVersion: ch.StateVersion,
			Kind:         event.KindPhasePassed,
			Payload: event.PhasePassed{
				ChallengeID:  ch.ID,
				NewPhase:     ch.CurrentPhase,
				StateVersion: ch.StateVersion,
			},
		}}, nil

	case OutcomeFundedReached:
		if !ch.Status.CanTransitionTo(challenge.StatusFunded) {
			return nil, fmt.Errorf("challenge %s: illegal transition %s -> funded", ch.ID, ch.Status)
		}
		// Balance and stats freeze as the funded baseline; no further risk
		// evaluation occurs.
		ch.Status = challenge.StatusFunded

		return []event.Effect{{
			ChallengeID:  ch.ID,
			StateVersion: ch.StateVersion,
			Kind:         event.KindFunded,
			Payload: event.Funded{
				ChallengeID:  ch.ID,
				StateVersion: ch.StateVersion,
			},
		}}, nil

	case OutcomeFail:
		if !ch.Status.CanTransitionTo(challenge.StatusFailed) {
			return nil, fmt.Errorf("challenge %s: illegal transition %s -> failed", ch.ID, ch.Status)
		}
		ch.Status = challenge.StatusFailed
		ch.FailureReason = v.Reason
		ch.FailureDetails = v.Details

		// The failure notification and the force-close command share the
		// failing transition's state version, so both are exactly-once.
		return []event.Effect{
			{
				ChallengeID:  ch.ID,
				StateVersion: ch.StateVersion,
				Kind:         event.KindChallengeFailed,
				Payload: event.ChallengeFailed{
					ChallengeID:    ch.ID,
					FailureReason:  v.Reason,
					FailureDetails: v.Details,
					StateVersion:   ch.StateVersion,
				},
			},
			{
				ChallengeID:  ch.ID,
				StateVersion: ch.StateVersion,
				Kind:         event.KindForceCloseAll,
				Payload: event.ForceCloseAll{
					ChallengeID:  ch.ID,
					Reason:       v.Reason,
					StateVersion: ch.StateVersion,
				},
			},
		}, nil

	default:
		return nil, fmt.Errorf("challenge %s: unknown verdict outcome %d", ch.ID, v.Outcome)
	}
}

// FreezeForReview moves a challenge into the review sub-state after a
// configuration error. The challenge accepts no further automatic
// transitions until an operator intervenes; risk thresholds are never
// defaulted silently.
func FreezeForReview(ch *challenge.Challenge, reason string, ts time.Time) ([]event.Effect, error) {
	if ch.Status.IsTerminal() {
		return nil, fmt.Errorf("challenge %s is terminal (%s): no further mutation", ch.ID, ch.Status)
	}
	if ch.Review {
		// Already frozen, nothing to commit.
		return nil, nil
	}

	ch.Review = true
	ch.ReviewReason = reason
	ch.StateVersion++
	ch.UpdatedAt = ts

	return []event.Effect{{
		ChallengeID:  ch.ID,
		StateVersion: ch.StateVersion,
		Kind:         event.KindChallengeReview,
		Payload: event.ChallengeReview{
			ChallengeID:  ch.ID,
			Reason:       reason,
			StateVersion: ch.StateVersion,
		},
	}}, nil
}
