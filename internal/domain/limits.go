package domain

import (
	"fmt"
	"time"
)

// RiskLimits is the per-run risk configuration. Immutable after startup.
type RiskLimits struct {
	MinInterval time.Duration
	MaxInterval time.Duration

	MinPositionLifetime time.Duration
	MaxPositionLifetime time.Duration

	MinSizeUSD float64
	MaxSizeUSD float64
	Leverage   float64

	MinProfitThresholdPct float64
	MinFundBalanceUSD     float64
	MaxSpreadTolerancePct float64
	MaxSpreadCostUSD      float64

	DailyMaxVolumeUSD      float64
	MaxConcurrentPositions int
}

// Validate rejects configurations that would be unsafe to run. All of
// these are fatal at startup, before any position is opened.
func (l RiskLimits) Validate() error {
	if l.MinInterval <= 0 || l.MaxInterval < l.MinInterval {
		return fmt.Errorf("%w: interval range [%s, %s]", ErrConfigInvalid, l.MinInterval, l.MaxInterval)
	}
	if l.MinPositionLifetime <= 0 || l.MaxPositionLifetime < l.MinPositionLifetime {
		return fmt.Errorf("%w: position lifetime range [%s, %s]", ErrConfigInvalid, l.MinPositionLifetime, l.MaxPositionLifetime)
	}
	if l.MinSizeUSD <= 0 || l.MaxSizeUSD < l.MinSizeUSD {
		return fmt.Errorf("%w: size range [$%.2f, $%.2f]", ErrConfigInvalid, l.MinSizeUSD, l.MaxSizeUSD)
	}
	if l.Leverage < 1 {
		return fmt.Errorf("%w: leverage %.2f < 1", ErrConfigInvalid, l.Leverage)
	}
	if l.MaxSpreadTolerancePct <= 0 {
		return fmt.Errorf("%w: max_spread_tolerance_pct %.4f <= 0", ErrConfigInvalid, l.MaxSpreadTolerancePct)
	}
	if l.DailyMaxVolumeUSD <= 0 {
		return fmt.Errorf("%w: daily_max_volume_usd %.2f <= 0", ErrConfigInvalid, l.DailyMaxVolumeUSD)
	}
	if l.MaxConcurrentPositions < 1 {
		return fmt.Errorf("%w: max_concurrent_positions %d < 1", ErrConfigInvalid, l.MaxConcurrentPositions)
	}
	return nil
}
