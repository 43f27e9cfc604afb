package core

import (
	"fmt"

	"ChallengeEngine/internal/catalog"
)

// Outcome is the verdict of one rule evaluation.
type Outcome int32

const (
	OutcomeContinue Outcome = iota
	OutcomePhaseAdvance
	OutcomeFundedReached
	OutcomeFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomePhaseAdvance:
		return "phase_advance"
	case OutcomeFundedReached:
		return "funded_reached"
	case OutcomeFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Failure reason codes carried on ChallengeFailed notifications.
const (
	ReasonDailyDrawdownBreach = "daily_drawdown_breach"
	ReasonTotalDrawdownBreach = "total_drawdown_breach"
	ReasonInactivity          = "inactivity"
	ReasonTimeLimitExceeded   = "time_limit_exceeded"
)

// Verdict is the ephemeral decision for one event.
type Verdict struct {
	Outcome Outcome
	Reason  string
	Details string
}

// EvaluateRules maps updated metrics plus the configured rules to a verdict.
//
// Precedence is fixed: capital-protection rules are checked before the profit
// target, so an event that simultaneously breaches a drawdown limit and meets
// the target always fails. Within failures, daily drawdown dominates total
// drawdown, then inactivity, then the time limit.
func EvaluateRules(m Metrics, phase catalog.Phase, rules catalog.RiskRules, finalPhase bool) Verdict {
	if m.DailyDrawdownPct > rules.MaxDailyDrawdownPct {
		return Verdict{
			Outcome: OutcomeFail,
			Reason:  ReasonDailyDrawdownBreach,
			Details: fmt.Sprintf("daily drawdown %.2f%% exceeded limit %.2f%%", m.DailyDrawdownPct, rules.MaxDailyDrawdownPct),
		}
	}

	if m.TotalDrawdownPct > rules.MaxTotalDrawdownPct {
		return Verdict{
			Outcome: OutcomeFail,
			Reason:  ReasonTotalDrawdownBreach,
			Details: fmt.Sprintf("total drawdown %.2f%% exceeded limit %.2f%%", m.TotalDrawdownPct, rules.MaxTotalDrawdownPct),
		}
	}

	if rules.MaxInactiveDays > 0 && m.DaysSinceLastTrade > rules.MaxInactiveDays {
		return Verdict{
			Outcome: OutcomeFail,
			Reason:  ReasonInactivity,
			Details: fmt.Sprintf("%d days without trading exceeded limit %d", m.DaysSinceLastTrade, rules.MaxInactiveDays),
		}
	}

	if phase.MaximumTradingDays > 0 && m.TradingDaysElapsed > phase.MaximumTradingDays {
		return Verdict{
			Outcome: OutcomeFail,
			Reason:  ReasonTimeLimitExceeded,
			Details: fmt.Sprintf("%d trading days exceeded phase limit %d", m.TradingDaysElapsed, phase.MaximumTradingDays),
		}
	}

	if m.ProfitPct >= phase.ProfitTargetPct && m.TradingDaysElapsed >= phase.MinimumTradingDays {
		if finalPhase {
			return Verdict{
				Outcome: OutcomeFundedReached,
				Reason:  "profit_target_met",
				Details: fmt.Sprintf("profit %.2f%% met final target %.2f%%", m.ProfitPct, phase.ProfitTargetPct),
			}
		}
		return Verdict{
			Outcome: OutcomePhaseAdvance,
			Reason:  "profit_target_met",
			Details: fmt.Sprintf("profit %.2f%% met target %.2f%%", m.ProfitPct, phase.ProfitTargetPct),
		}
	}

	return Verdict{Outcome: OutcomeContinue}
}
