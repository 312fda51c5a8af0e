package engine

// engine.go — orquestación del motor de posiciones hedge.
//
// Dos loops: el de farming (intentos de apertura con delay aleatorio
// entre ellos) y el de monitorización (cadencia fija: fund re-checks,
// evaluación de cierre y reintentos de CLOSING). Entre medias, el
// refresher de quotes corre por su cuenta.
//
// La única sección crítica cross-posición es la admisión: capacidad y
// presupuesto diario se comprueban y reservan bajo admitMu. Todo lo
// demás son posiciones independientes cuyas transiciones pueden
// intercalarse en cualquier orden.

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/alejandrodnm/hedgefarm/internal/application/detector"
	"github.com/alejandrodnm/hedgefarm/internal/domain"
	"github.com/alejandrodnm/hedgefarm/internal/metrics"
	"github.com/alejandrodnm/hedgefarm/internal/ports"
)

// Config controla los parámetros operativos del engine que no son
// límites de riesgo.
type Config struct {
	MonitorInterval      time.Duration
	QuoteRefreshInterval time.Duration
	LegTimeout           time.Duration
	Seed                 int64

	// AssumeMaker calcula el net spread con tarifas maker en vez de
	// taker. Solo tiene sentido con venues que llenan pasivo.
	AssumeMaker bool
}

// DefaultConfig devuelve una configuración sensata para producción.
func DefaultConfig() Config {
	return Config{
		MonitorInterval:      30 * time.Second,
		QuoteRefreshInterval: 2 * time.Second,
		LegTimeout:           30 * time.Second,
		Seed:                 time.Now().UnixNano(),
	}
}

// Engine posee el ciclo de vida completo de cada posición hedge.
type Engine struct {
	cfg    Config
	limits domain.RiskLimits

	venues     map[string]ports.Venue
	venueNames []string
	fees       map[string]domain.FeeSchedule

	cache     *detector.Cache
	refresher *detector.Refresher
	det       *detector.Detector

	targets *TargetScheduler
	sybil   *AntiSybilScheduler
	guard   *FundGuard
	store   *positionStore
	stats   *StatsAggregator

	history ports.HistoryStorage // opcional: journal append-only

	// admitMu serializa la decisión de admisión (capacidad + budget
	// diario). reservedUSD es notional admitido que aún no llegó a
	// OPEN y por tanto no cuenta todavía en las stats diarias.
	admitMu     sync.Mutex
	reservedUSD float64

	// opsWG cuenta las operaciones de pierna en vuelo. Stop espera a
	// que terminen: un unwind a medias es exposición real.
	opsWG sync.WaitGroup
}

// New cablea un engine completo. Valida los límites de riesgo — fatal
// antes de abrir posición alguna.
func New(
	cfg Config,
	limits domain.RiskLimits,
	venues []ports.Venue,
	fees []domain.FeeSchedule,
	targets []domain.Target,
	history ports.HistoryStorage,
	stalenessLimit time.Duration,
) (*Engine, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	byName := make(map[string]ports.Venue, len(venues))
	names := make([]string, 0, len(venues))
	for _, v := range venues {
		byName[v.Name()] = v
		names = append(names, v.Name())
	}

	feesByVenue := make(map[string]domain.FeeSchedule, len(fees))
	for _, f := range fees {
		feesByVenue[f.Venue] = f
	}

	now := time.Now()
	cache := detector.NewCache(stalenessLimit)
	symbols := make([]string, 0, len(targets))
	for _, t := range targets {
		symbols = append(symbols, t.Symbol)
	}

	// Fuentes de aleatoriedad separadas: cada scheduler protege la
	// suya con su propio mutex.
	sybil := NewAntiSybilScheduler(limits, cfg.Seed)
	targetRNG := rand.New(rand.NewSource(cfg.Seed + 1))

	e := &Engine{
		cfg:        cfg,
		limits:     limits,
		venues:     byName,
		venueNames: names,
		fees:       feesByVenue,
		cache:      cache,
		refresher:  detector.NewRefresher(cache, venues, symbols, 0),
		det: detector.New(detector.Config{
			MinProfitThresholdPct: limits.MinProfitThresholdPct,
			MaxSpreadTolerancePct: limits.MaxSpreadTolerancePct,
			AssumeMaker:           cfg.AssumeMaker,
		}, fees),
		targets: NewTargetScheduler(targets, targetRNG, now),
		sybil:   sybil,
		guard:   NewFundGuard(byName, limits),
		store:   newPositionStore(),
		stats:   NewStatsAggregator(now),
		history: history,
	}
	return e, nil
}

// Run ejecuta el engine hasta que ctx se cancele, y entonces drena las
// operaciones de pierna en vuelo antes de devolver. Las posiciones que
// queden OPEN no se cierran: se reportan para reanudación manual.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine: starting",
		"venues", e.venueNames,
		"max_concurrent", e.limits.MaxConcurrentPositions,
		"daily_max_usd", e.limits.DailyMaxVolumeUSD,
	)

	var loops sync.WaitGroup
	loops.Add(3)
	go func() {
		defer loops.Done()
		e.refresher.Run(ctx, e.cfg.QuoteRefreshInterval)
	}()
	go func() {
		defer loops.Done()
		e.farmingLoop(ctx)
	}()
	go func() {
		defer loops.Done()
		e.monitorLoop(ctx)
	}()

	loops.Wait()

	// Drenaje: las transiciones OPENING/CLOSING en vuelo (incluidos
	// unwinds) corren con contexto desacoplado y deben completarse.
	e.opsWG.Wait()

	open := 0
	for _, p := range e.store.activeSnapshot() {
		if p.State == domain.StateOpen {
			open++
			slog.Warn("engine: position left open on shutdown",
				"id", p.ID, "symbol", p.Symbol,
				"long", p.LongVenue, "short", p.ShortVenue,
				"notional_usd", p.USDNotional,
			)
		}
	}
	slog.Info("engine: stopped", "open_positions", open)
	return nil
}

// farmingLoop intenta aperturas con delay aleatorio entre intentos.
func (e *Engine) farmingLoop(ctx context.Context) {
	for {
		e.attemptOpen(ctx)

		delay := e.sybil.NextDelay()
		slog.Debug("engine: next open attempt", "delay", delay.Round(time.Second))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// monitorLoop ejecuta el tick de monitorización a cadencia fija.
func (e *Engine) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.monitorTick(ctx, time.Now())
		}
	}
}

// SnapshotStats devuelve la vista derivada de las estadísticas.
func (e *Engine) SnapshotStats() domain.StatsSnapshot {
	return e.stats.Snapshot(time.Now(), e.store.activeCount())
}

// SnapshotPositions devuelve copias de todas las posiciones (activas e
// histórico) para el report periódico.
func (e *Engine) SnapshotPositions() []domain.HedgePosition {
	return e.store.snapshot()
}

// SnapshotTargets devuelve copias de los targets con su progreso.
func (e *Engine) SnapshotTargets() []domain.Target {
	return e.targets.Snapshot(time.Now())
}

// CloseAll fuerza el cierre de todas las posiciones OPEN. Pensado para
// el drain manual desde la CLI; no toca OPENING ni STUCK.
func (e *Engine) CloseAll(ctx context.Context) {
	snaps := e.store.activeSnapshot()
	slog.Info("engine: closing all open positions", "count", len(snaps))
	for _, snap := range snaps {
		if snap.State != domain.StateOpen {
			continue
		}
		if pos, ok := e.store.get(snap.ID); ok {
			e.closePosition(ctx, pos, "close-all requested")
		}
	}
}

// dailySummary persiste el rollup diario si hay journal configurado.
func (e *Engine) dailySummary(ctx context.Context, now time.Time) {
	if e.history == nil {
		return
	}
	if err := e.history.SaveDailySummary(ctx, e.stats.DailySummary(now)); err != nil {
		slog.Warn("engine: error saving daily summary", "err", err)
	}
}

// updateActiveGauge refleja el número de slots ocupados en métricas.
func (e *Engine) updateActiveGauge() {
	metrics.ActivePositions.Set(float64(e.store.activeCount()))
}
