package engine

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

func testLimits() domain.RiskLimits {
	return domain.RiskLimits{
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

func TestAntiSybil_NextSizeUSD_WithinRangeAndMedian(t *testing.T) {
	a := NewAntiSybilScheduler(testLimits(), 42)

	const n = 10000
	sizes := make([]float64, n)
	for i := range sizes {
		s := a.NextSizeUSD()
		assert.GreaterOrEqual(t, s, 50.0)
		assert.LessOrEqual(t, s, 100.0)
		sizes[i] = s
	}

	sort.Float64s(sizes)
	median := sizes[n/2]
	geoMean := math.Sqrt(50 * 100) // ~70.71
	assert.InDelta(t, geoMean, median, geoMean*0.10,
		"la mediana debe quedar cerca de la media geométrica del rango")
}

func TestAntiSybil_NextSizeUSD_Varies(t *testing.T) {
	a := NewAntiSybilScheduler(testLimits(), 1)
	seen := make(map[float64]bool)
	for i := 0; i < 100; i++ {
		seen[a.NextSizeUSD()] = true
	}
	assert.Greater(t, len(seen), 90, "los tamaños no deben repetirse")
}

func TestAntiSybil_NextDelay_WithinInterval(t *testing.T) {
	a := NewAntiSybilScheduler(testLimits(), 7)
	for i := 0; i < 1000; i++ {
		d := a.NextDelay()
		assert.GreaterOrEqual(t, d, 30*time.Second)
		assert.LessOrEqual(t, d, 5*time.Minute)
	}
}

func TestAntiSybil_NextHold_WithinLifetime(t *testing.T) {
	a := NewAntiSybilScheduler(testLimits(), 7)
	for i := 0; i < 1000; i++ {
		h := a.NextHold()
		assert.GreaterOrEqual(t, h, 10*time.Minute)
		assert.LessOrEqual(t, h, time.Hour)
	}
}

func TestAntiSybil_ShouldClose_Boundaries(t *testing.T) {
	a := NewAntiSybilScheduler(testLimits(), 3)

	// Recién abierta: p = 0, nunca cierra.
	for i := 0; i < 100; i++ {
		assert.False(t, a.ShouldClose(0, time.Hour))
	}
	// En el deadline o pasada: siempre cierra.
	assert.True(t, a.ShouldClose(time.Hour, time.Hour))
	assert.True(t, a.ShouldClose(2*time.Hour, time.Hour))
	assert.True(t, a.ShouldClose(time.Minute, 0))
}

func TestAntiSybil_ShouldClose_RampsWithElapsed(t *testing.T) {
	a := NewAntiSybilScheduler(testLimits(), 11)

	closesAt := func(elapsed time.Duration) int {
		n := 0
		for i := 0; i < 2000; i++ {
			if a.ShouldClose(elapsed, time.Hour) {
				n++
			}
		}
		return n
	}

	early := closesAt(6 * time.Minute)  // p = 0.1
	late := closesAt(54 * time.Minute)  // p = 0.9
	assert.Less(t, early, late, "la probabilidad debe crecer con el tiempo")
	assert.InDelta(t, 200, early, 120)
	assert.InDelta(t, 1800, late, 120)
}

func TestAntiSybil_PickOpportunity(t *testing.T) {
	a := NewAntiSybilScheduler(testLimits(), 5)

	_, ok := a.PickOpportunity(nil)
	assert.False(t, ok)

	opps := []domain.Opportunity{
		{LongVenue: "alpha"}, {LongVenue: "beta"}, {LongVenue: "gamma"},
	}
	picked := make(map[string]int)
	for i := 0; i < 3000; i++ {
		opp, ok := a.PickOpportunity(opps)
		assert.True(t, ok)
		picked[opp.LongVenue]++
	}
	// Uniforme: cada opción sale ~1000 veces.
	for venue, n := range picked {
		assert.InDelta(t, 1000, n, 200, "venue %s", venue)
	}
}

func TestAntiSybil_DeterministicWithSeed(t *testing.T) {
	a := NewAntiSybilScheduler(testLimits(), 99)
	b := NewAntiSybilScheduler(testLimits(), 99)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.NextSizeUSD(), b.NextSizeUSD())
		assert.Equal(t, a.NextDelay(), b.NextDelay())
	}
}
