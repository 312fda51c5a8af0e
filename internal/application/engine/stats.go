package engine

// stats.go — agregador de estadísticas.
//
// Cada contador se actualiza exactamente una vez por evento: el volumen
// cuenta al entrar en OPEN (independientemente de lo que pase después),
// el PnL realizado solo al entrar en CLOSED. El reset diario es
// idempotente por día UTC aunque varios ticks crucen la frontera.

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
	"github.com/alejandrodnm/hedgefarm/internal/metrics"
)

// StatsAggregator acumula contadores y deriva el snapshot.
type StatsAggregator struct {
	mu sync.Mutex

	totalOpened        int
	cumulativeVolume   float64
	cumulativeSpread   float64
	cumulativePnL      float64
	dailyVolume        float64
	day                time.Time // día UTC de dailyVolume
	closedCount        int
	failedOpens        int
	stuckCount         int
	totalHoldDurations time.Duration

	// contadores del día para el rollup persistido
	dayOpened, dayClosed, dayFailed, dayStuck int
	daySpread, dayPnL                         float64
}

// NewStatsAggregator crea un agregador anclado al día UTC de now.
func NewStatsAggregator(now time.Time) *StatsAggregator {
	return &StatsAggregator{day: now.UTC().Truncate(24 * time.Hour)}
}

// RecordOpen registra una posición que entró en OPEN. Volumen, spread
// cost y contador diario se acumulan aquí y solo aquí.
func (sa *StatsAggregator) RecordOpen(p domain.HedgePosition, now time.Time) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.maybeReset(now)

	sa.totalOpened++
	sa.cumulativeVolume += p.USDNotional
	sa.cumulativeSpread += p.SpreadCostUSD
	sa.dailyVolume += p.USDNotional
	sa.dayOpened++
	sa.daySpread += p.SpreadCostUSD

	metrics.PositionsOpened.WithLabelValues(p.Symbol).Inc()
	metrics.VolumeUSD.Add(p.USDNotional)
	metrics.SpreadCostUSD.Add(p.SpreadCostUSD)
}

// RecordClose registra una posición que entró en CLOSED.
func (sa *StatsAggregator) RecordClose(p domain.HedgePosition, now time.Time) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.maybeReset(now)

	sa.closedCount++
	sa.cumulativePnL += p.RealizedPnL
	sa.dayClosed++
	sa.dayPnL += p.RealizedPnL
	if p.ClosedAt != nil {
		sa.totalHoldDurations += p.ClosedAt.Sub(p.OpenedAt)
	}

	metrics.RealizedPnLUSD.Add(p.RealizedPnL)
}

// RecordFailedOpen registra un intento que terminó en FAILED_OPEN.
func (sa *StatsAggregator) RecordFailedOpen(p domain.HedgePosition, now time.Time) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.maybeReset(now)
	sa.failedOpens++
	sa.dayFailed++
	metrics.FailedOpens.WithLabelValues(p.Symbol).Inc()
}

// RecordStuck registra una posición que escaló a STUCK.
func (sa *StatsAggregator) RecordStuck(now time.Time) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.maybeReset(now)
	sa.stuckCount++
	sa.dayStuck++
	metrics.StuckPositions.Inc()
}

// DailyVolumeUSD devuelve el volumen acumulado del día UTC actual.
// El lifecycle engine lo consulta dentro de su sección crítica de
// admisión para el check de presupuesto diario.
func (sa *StatsAggregator) DailyVolumeUSD(now time.Time) float64 {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.maybeReset(now)
	return sa.dailyVolume
}

// Snapshot recalcula la vista derivada a partir de los contadores.
func (sa *StatsAggregator) Snapshot(now time.Time, activePositions int) domain.StatsSnapshot {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.maybeReset(now)

	snap := domain.StatsSnapshot{
		TotalOpened:              sa.totalOpened,
		CumulativeVolumeUSD:      sa.cumulativeVolume,
		CumulativeSpreadCostUSD:  sa.cumulativeSpread,
		CumulativeRealizedPnLUSD: sa.cumulativePnL,
		DailyVolumeUSD:           sa.dailyVolume,
		ActivePositions:          activePositions,
		ClosedPositions:          sa.closedCount,
		FailedOpens:              sa.failedOpens,
		StuckPositions:           sa.stuckCount,
		Day:                      sa.day,
	}
	if sa.totalOpened > 0 {
		snap.AverageSpreadCostUSD = sa.cumulativeSpread / float64(sa.totalOpened)
	}
	if sa.closedCount > 0 {
		snap.AverageHoldDuration = sa.totalHoldDurations / time.Duration(sa.closedCount)
	}
	return snap
}

// DailySummary devuelve el rollup del día UTC actual para el journal.
func (sa *StatsAggregator) DailySummary(now time.Time) domain.DailySummary {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.maybeReset(now)

	return domain.DailySummary{
		Date:            sa.day,
		PositionsOpened: sa.dayOpened,
		PositionsClosed: sa.dayClosed,
		VolumeUSD:       sa.dailyVolume,
		SpreadCostUSD:   sa.daySpread,
		RealizedPnLUSD:  sa.dayPnL,
		FailedOpens:     sa.dayFailed,
		StuckPositions:  sa.dayStuck,
	}
}

// maybeReset cruza el día UTC exactamente una vez. Llamar con sa.mu.
func (sa *StatsAggregator) maybeReset(now time.Time) {
	today := now.UTC().Truncate(24 * time.Hour)
	if !today.After(sa.day) {
		return
	}
	slog.Info("stats: daily rollover",
		"day", sa.day.Format("2006-01-02"),
		"volume_usd", sa.dailyVolume,
		"opened", sa.dayOpened,
		"closed", sa.dayClosed,
	)
	sa.dailyVolume = 0
	sa.dayOpened, sa.dayClosed, sa.dayFailed, sa.dayStuck = 0, 0, 0, 0
	sa.daySpread, sa.dayPnL = 0, 0
	sa.day = today
}
