package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// Wire format of a catalog file: a JSON array of challenge types, exported by
// the catalog service.
type challengeTypeJSON struct {
	ID     string      `json:"id"`
	Phases []phaseJSON `json:"phases"`
	Rules  struct {
		MaxDailyDrawdownPct   float64 `json:"max_daily_drawdown_pct"`
		MaxTotalDrawdownPct   float64 `json:"max_total_drawdown_pct"`
		MaxInactiveDays       int32   `json:"max_inactive_days"`
		TrailingDrawdown      bool    `json:"trailing_drawdown"`
		WeekendHoldingAllowed bool    `json:"weekend_holding_allowed"`
		NewsTrading           bool    `json:"news_trading"`
		EAAllowed             bool    `json:"ea_allowed"`
		MandatorySL           bool    `json:"mandatory_sl"`
	} `json:"rules"`
	Payout struct {
		ProfitSplitPct float64 `json:"profit_split_pct"`
	} `json:"payout"`
	DailyResetHourUTC int    `json:"daily_reset_hour_utc"`
	InactiveDayUnit   string `json:"inactive_day_unit"`
}

type phaseJSON struct {
	Number             int32   `json:"number"`
	ProfitTargetPct    float64 `json:"profit_target_pct"`
	MinimumTradingDays int32   `json:"minimum_trading_days"`
	MaximumTradingDays int32   `json:"maximum_trading_days"`
}

// LoadFile reads a catalog export and returns a validated StaticCatalog.
// A file with any invalid type fails the load outright; partial catalogs are
// worse than no catalog because challenges silently freeze at first trade.
func LoadFile(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var entries []challengeTypeJSON
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	sc := NewStaticCatalog()
	for _, e := range entries {
		ct := &ChallengeType{
			ID:                e.ID,
			DailyResetHourUTC: e.DailyResetHourUTC,
			InactiveDayUnit:   InactiveDayUnit(e.InactiveDayUnit),
		}
		for _, p := range e.Phases {
			ct.Phases = append(ct.Phases, Phase(p))
		}
		ct.Rules = RiskRules(e.Rules)
		ct.Payout = PayoutConfig(e.Payout)

		if err := Validate(ct); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
		sc.Put(ct)
	}

	return sc, nil
}
