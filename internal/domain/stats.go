package domain

import "time"

// StatsSnapshot is a derived, read-only view of the aggregator counters.
// Never mutated directly — recomputed on every call.
type StatsSnapshot struct {
	TotalOpened              int
	CumulativeVolumeUSD      float64
	CumulativeSpreadCostUSD  float64
	CumulativeRealizedPnLUSD float64
	DailyVolumeUSD           float64

	AverageSpreadCostUSD float64
	AverageHoldDuration  time.Duration

	ActivePositions int
	ClosedPositions int
	FailedOpens     int
	StuckPositions  int

	Day time.Time // UTC day the daily counters belong to
}
