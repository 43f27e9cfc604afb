package catalog

import (
	"fmt"
	"sort"
)

// Catalog resolves challenge-type configuration. The catalog service owns the
// data; the engine only reads it.
type Catalog interface {
	ChallengeType(id string) (*ChallengeType, bool)
}

// StaticCatalog is an in-memory Catalog, used at startup (seeded from the
// catalog service) and in tests.
type StaticCatalog struct {
	types map[string]*ChallengeType
}

func NewStaticCatalog(types ...*ChallengeType) *StaticCatalog {
	m := make(map[string]*ChallengeType, len(types))
	for _, ct := range types {
		m[ct.ID] = ct
	}
	return &StaticCatalog{types: m}
}

func (sc *StaticCatalog) ChallengeType(id string) (*ChallengeType, bool) {
	ct, ok := sc.types[id]
	return ct, ok
}

// Put adds or replaces a challenge type.
func (sc *StaticCatalog) Put(ct *ChallengeType) {
	sc.types[ct.ID] = ct
}

// Validate checks that a challenge type carries every field the engine needs
// to evaluate safely. A challenge whose type fails validation is frozen into
// review; risk thresholds are never defaulted silently.
func Validate(ct *ChallengeType) error {
	if ct == nil {
		return fmt.Errorf("challenge type is nil")
	}
	if len(ct.Phases) == 0 {
		return fmt.Errorf("challenge type %s: no phases configured", ct.ID)
	}

	numbers := make([]int32, 0, len(ct.Phases))
	for _, p := range ct.Phases {
		if p.Number <= 0 {
			return fmt.Errorf("challenge type %s: phase number %d invalid", ct.ID, p.Number)
		}
		if p.ProfitTargetPct <= 0 {
			return fmt.Errorf("challenge type %s: phase %d missing profit target", ct.ID, p.Number)
		}
		if p.MinimumTradingDays < 0 || p.MaximumTradingDays < 0 {
			return fmt.Errorf("challenge type %s: phase %d negative trading-day bound", ct.ID, p.Number)
		}
		if p.MaximumTradingDays > 0 && p.MaximumTradingDays < p.MinimumTradingDays {
			return fmt.Errorf("challenge type %s: phase %d max trading days below min", ct.ID, p.Number)
		}
		numbers = append(numbers, p.Number)
	}

	// Phases must be contiguous starting at 1 so advancement is well defined.
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for i, n := range numbers {
		if n != int32(i+1) {
			return fmt.Errorf("challenge type %s: phases not contiguous from 1 (got %v)", ct.ID, numbers)
		}
	}

	if ct.Rules.MaxDailyDrawdownPct <= 0 {
		return fmt.Errorf("challenge type %s: missing max daily drawdown", ct.ID)
	}
	if ct.Rules.MaxTotalDrawdownPct <= 0 {
		return fmt.Errorf("challenge type %s: missing max total drawdown", ct.ID)
	}
	if ct.Rules.MaxInactiveDays < 0 {
		return fmt.Errorf("challenge type %s: negative max inactive days", ct.ID)
	}

	if ct.DailyResetHourUTC < 0 || ct.DailyResetHourUTC > 23 {
		return fmt.Errorf("challenge type %s: daily reset hour %d out of range", ct.ID, ct.DailyResetHourUTC)
	}
	switch ct.InactiveDayUnit {
	case InactiveDaysCalendar, InactiveDaysTrading:
	default:
		return fmt.Errorf("challenge type %s: inactive day unit %q not set", ct.ID, ct.InactiveDayUnit)
	}

	return nil
}
