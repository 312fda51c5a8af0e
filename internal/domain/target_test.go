package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTarget_CompletionRate_Clamped(t *testing.T) {
	tgt := Target{DailyTargetUSD: 1000, CompletedUSD: 250}
	assert.InDelta(t, 0.25, tgt.CompletionRate(), 1e-9)

	tgt.CompletedUSD = 1500
	assert.Equal(t, 1.0, tgt.CompletionRate())

	tgt = Target{DailyTargetUSD: 0}
	assert.Equal(t, 1.0, tgt.CompletionRate())
}

func TestTarget_Weight_PriorityTimesRemaining(t *testing.T) {
	tgt := Target{DailyTargetUSD: 1000, CompletedUSD: 400, Priority: 3}
	assert.InDelta(t, 3*0.6, tgt.Weight(), 1e-9)
}

func TestTarget_Weight_CompletedKeepsEpsilonFloor(t *testing.T) {
	tgt := Target{DailyTargetUSD: 1000, CompletedUSD: 1000, Priority: 5}
	assert.Greater(t, tgt.Weight(), 0.0, "un target completado nunca debe tener peso cero")
	assert.LessOrEqual(t, tgt.Weight(), 1e-4)
}

func TestTarget_RemainingUSD_NeverNegative(t *testing.T) {
	tgt := Target{DailyTargetUSD: 1000, CompletedUSD: 1200}
	assert.Equal(t, 0.0, tgt.RemainingUSD())
}

func TestRiskLimits_Validate(t *testing.T) {
	valid := validLimits()
	assert.NoError(t, valid.Validate())

	broken := validLimits()
	broken.MaxSizeUSD = broken.MinSizeUSD - 1
	assert.ErrorIs(t, broken.Validate(), ErrConfigInvalid)

	broken = validLimits()
	broken.Leverage = 0.5
	assert.ErrorIs(t, broken.Validate(), ErrConfigInvalid)

	broken = validLimits()
	broken.MaxConcurrentPositions = 0
	assert.ErrorIs(t, broken.Validate(), ErrConfigInvalid)

	broken = validLimits()
	broken.MaxInterval = broken.MinInterval / 2
	assert.ErrorIs(t, broken.Validate(), ErrConfigInvalid)
}

func validLimits() RiskLimits {
	return RiskLimits{
		MinInterval:            30 * time.Second,
		MaxInterval:            5 * time.Minute,
		MinPositionLifetime:    10 * time.Minute,
		MaxPositionLifetime:    time.Hour,
		MinSizeUSD:             50,
		MaxSizeUSD:             100,
		Leverage:               3,
		MinProfitThresholdPct:  -0.05,
		MinFundBalanceUSD:      100,
		MaxSpreadTolerancePct:  0.5,
		MaxSpreadCostUSD:       1,
		DailyMaxVolumeUSD:      50000,
		MaxConcurrentPositions: 5,
	}
}
