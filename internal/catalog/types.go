package catalog

// Phase is one stage of a multi-stage evaluation.
type Phase struct {
	Number             int32
	ProfitTargetPct    float64
	MinimumTradingDays int32
	// MaximumTradingDays of 0 means unlimited.
	MaximumTradingDays int32
}

// InactiveDayUnit selects how "inactive days" are counted.
type InactiveDayUnit string

const (
	InactiveDaysCalendar InactiveDayUnit = "calendar"
	InactiveDaysTrading  InactiveDayUnit = "trading" // Weekdays only
)

// RiskRules holds the hard risk limits applied to every phase of a challenge
// type. Percentages are plain percent values (5 means 5%).
type RiskRules struct {
	MaxDailyDrawdownPct float64
	MaxTotalDrawdownPct float64
	MaxInactiveDays     int32
	// TrailingDrawdown measures total drawdown against the high-water mark
	// instead of the fixed initial balance.
	TrailingDrawdown      bool
	WeekendHoldingAllowed bool
	NewsTrading           bool
	EAAllowed             bool
	MandatorySL           bool
}

// PayoutConfig is the funded-account payout arrangement.
type PayoutConfig struct {
	ProfitSplitPct float64
}

// ChallengeType is the immutable, externally owned evaluation configuration.
// DailyResetHourUTC and InactiveDayUnit are explicit here: neither has a safe
// default worth assuming silently.
type ChallengeType struct {
	ID     string
	Phases []Phase
	Rules  RiskRules
	Payout PayoutConfig

	// DailyResetHourUTC is the UTC hour (0-23) at which the daily drawdown
	// baseline resets.
	DailyResetHourUTC int
	InactiveDayUnit   InactiveDayUnit
}

// PhaseByNumber returns the phase config for a 1-based phase number.
func (ct *ChallengeType) PhaseByNumber(n int32) (Phase, bool) {
	for _, p := range ct.Phases {
		if p.Number == n {
			return p, true
		}
	}
	return Phase{}, false
}

// FinalPhase reports whether n is the last configured phase.
func (ct *ChallengeType) FinalPhase(n int32) bool {
	for _, p := range ct.Phases {
		if p.Number > n {
			return false
		}
	}
	return true
}
