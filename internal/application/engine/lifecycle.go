package engine

// lifecycle.go — la máquina de estados de cada posición.
//
//	PENDING_OPEN → OPENING → OPEN → CLOSING → CLOSED
//	                  ├→ FAILED_OPEN (unwind de emergencia ok)
//	                  └→ STUCK       (unwind falló: exposición a un lado)
//
// La apertura de piernas es concurrente con resultados independientes.
// Si una pierna llena y la otra no, se emite exactamente una orden de
// cierre para la pierna llena. Un CLOSING con una pierna fallida se
// reintenta con backoff en los ticks siguientes — nunca se abandona.
//
// Las transiciones y mutaciones de campos pasan por store.update: el
// loop de monitorización y los reports corren en otras goroutines y
// solo deben ver estados completos.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

const (
	// sizeMismatchTol es la diferencia de fills tolerada entre piernas
	// antes de marcar la posición como degradada.
	sizeMismatchTol = 0.001

	// closeRetryBase y closeRetryMax acotan el backoff de reintentos
	// de piernas de cierre fallidas.
	closeRetryBase = 30 * time.Second
	closeRetryMax  = 10 * time.Minute

	// closeAttentionAfter marca NeedsOperator tras N reintentos. El
	// engine sigue reintentando igualmente.
	closeAttentionAfter = 5
)

// legResult es el resultado de una orden de pierna.
type legResult struct {
	fill domain.Fill
	err  error
}

// attemptOpen ejecuta un ciclo completo de intento de apertura:
// selección de símbolo, detección, elección anti-sybil, fund check,
// admisión y apertura. La posición no se materializa hasta que el fund
// guard aprueba; cualquier condición local (sin oportunidades, límites,
// staleness) salta el ciclo sin crear nada.
func (e *Engine) attemptOpen(ctx context.Context) {
	now := time.Now()
	if !e.guard.CanAttemptOpen(now) {
		slog.Debug("engine: open attempts on hold after fund failure")
		return
	}

	symbol, ok := e.targets.Pick(now)
	if !ok {
		slog.Debug("engine: no selectable targets")
		return
	}

	snap := e.cache.Snapshot(now)
	opps := e.det.Detect(symbol, e.venueNames, snap)
	if len(opps) == 0 {
		slog.Debug("engine: no qualifying opportunities", "symbol", symbol)
		return
	}

	opp, _ := e.sybil.PickOpportunity(opps)
	sizeUSD := e.sybil.NextSizeUSD()
	sizeBase := sizeUSD / opp.LongPrice

	if cost := opp.SpreadCostUSD(sizeBase); cost > e.limits.MaxSpreadCostUSD {
		slog.Debug("engine: spread cost above limit",
			"symbol", symbol, "cost_usd", cost, "limit_usd", e.limits.MaxSpreadCostUSD)
		return
	}

	if err := e.guard.CheckOpen(ctx, opp.LongVenue, opp.ShortVenue, sizeUSD); err != nil {
		slog.Warn("engine: fund check failed, skipping open", "symbol", symbol, "err", err)
		if force := e.guard.RecordOpenFailure(time.Now()); force {
			e.forceCloseSmallest(ctx, "funds exhausted after retries")
		}
		return
	}

	pos, err := e.admit(opp, sizeBase, sizeUSD, now)
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) || errors.Is(err, domain.ErrDailyLimitExceeded) {
			slog.Info("engine: admission rejected", "symbol", symbol, "reason", err)
			return
		}
		slog.Warn("engine: admission error", "symbol", symbol, "err", err)
		return
	}

	e.openPosition(ctx, pos)
}

// admit es la sección crítica de admisión: comprueba capacidad y
// presupuesto diario y, si pasa, crea la posición PENDING_OPEN y
// reserva ambos recursos en la misma operación. Dos evaluaciones
// concurrentes nunca pueden quedarse el mismo último slot.
func (e *Engine) admit(opp domain.Opportunity, sizeBase, sizeUSD float64, now time.Time) (*domain.HedgePosition, error) {
	e.admitMu.Lock()
	defer e.admitMu.Unlock()

	if e.store.activeCount() >= e.limits.MaxConcurrentPositions {
		return nil, fmt.Errorf("engine: %d active: %w", e.store.activeCount(), domain.ErrCapacityExceeded)
	}
	if e.stats.DailyVolumeUSD(now)+e.reservedUSD+sizeUSD > e.limits.DailyMaxVolumeUSD {
		return nil, fmt.Errorf("engine: daily volume budget: %w", domain.ErrDailyLimitExceeded)
	}

	pos := &domain.HedgePosition{
		ID:            uuid.New().String(),
		Symbol:        opp.Symbol,
		LongVenue:     opp.LongVenue,
		ShortVenue:    opp.ShortVenue,
		SizeBaseUnits: sizeBase,
		USDNotional:   sizeUSD,
		State:         domain.StatePendingOpen,
	}
	e.store.add(pos)
	e.reservedUSD += sizeUSD
	e.updateActiveGauge()
	return pos, nil
}

// releaseReservation libera solo la reserva de budget diario, cuando la
// posición ya tiene un destino (OPEN cuenta en stats; FAILED_OPEN no
// consume budget).
func (e *Engine) releaseReservation(sizeUSD float64) {
	e.admitMu.Lock()
	e.reservedUSD -= sizeUSD
	e.admitMu.Unlock()
}

// openPosition envía las dos piernas concurrentemente y resuelve el
// resultado. Corre con contexto desacoplado del de shutdown: una vez
// enviada una orden, hay que terminar lo que se empezó.
func (e *Engine) openPosition(ctx context.Context, pos *domain.HedgePosition) {
	e.store.update(func() { pos.State = domain.StateOpening })
	e.opsWG.Add(1)
	defer e.opsWG.Done()

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.LegTimeout)
	defer cancel()

	slog.Info("engine: opening position",
		"id", pos.ID, "symbol", pos.Symbol,
		"long", pos.LongVenue, "short", pos.ShortVenue,
		"size_base", pos.SizeBaseUnits, "notional_usd", pos.USDNotional,
	)

	longCh := make(chan legResult, 1)
	shortCh := make(chan legResult, 1)
	go func() {
		fill, err := e.venues[pos.LongVenue].PlaceOrder(opCtx, pos.Symbol, domain.SideBuy, pos.SizeBaseUnits)
		longCh <- legResult{fill, err}
	}()
	go func() {
		fill, err := e.venues[pos.ShortVenue].PlaceOrder(opCtx, pos.Symbol, domain.SideSell, pos.SizeBaseUnits)
		shortCh <- legResult{fill, err}
	}()
	long, short := <-longCh, <-shortCh

	switch {
	case long.err == nil && short.err == nil:
		e.completeOpen(pos, long.fill, short.fill)

	case long.err == nil:
		// Pierna larga llena, corta falló: deshacer la larga.
		slog.Warn("engine: short leg failed, unwinding long",
			"id", pos.ID, "venue", pos.ShortVenue, "err", short.err)
		e.unwindLeg(opCtx, pos, pos.LongVenue, domain.SideSell, long.fill, short.err)

	case short.err == nil:
		slog.Warn("engine: long leg failed, unwinding short",
			"id", pos.ID, "venue", pos.LongVenue, "err", long.err)
		e.unwindLeg(opCtx, pos, pos.ShortVenue, domain.SideBuy, short.fill, long.err)

	default:
		// Ambas fallaron: no hay exposición, no hay nada que deshacer.
		e.failOpen(pos, fmt.Sprintf("both legs failed: long: %v; short: %v", long.err, short.err))
	}
}

// completeOpen transiciona OPENING → OPEN con los fills reales.
func (e *Engine) completeOpen(pos *domain.HedgePosition, long, short domain.Fill) {
	now := time.Now()

	filled := long.Size
	if short.Size < filled {
		filled = short.Size
	}
	diff := long.Size - short.Size
	if diff < 0 {
		diff = -diff
	}
	mismatch := diff > sizeMismatchTol
	if mismatch {
		slog.Warn("engine: leg fill sizes mismatch",
			"id", pos.ID, "long_filled", long.Size, "short_filled", short.Size)
	}

	spread := long.Price - short.Price
	if spread < 0 {
		spread = -spread
	}
	hold := e.sybil.NextHold()

	// Lo reservado en la admisión fue el notional planificado; hay que
	// liberar exactamente eso, no el notional del fill, o queda residuo
	// en reservedUSD y el check de presupuesto diario deriva.
	reserved := pos.USDNotional

	// En cuanto la posición sea OPEN el monitor puede empezar a cerrarla;
	// todo lo posterior trabaja sobre la copia tomada bajo el lock.
	var opened domain.HedgePosition
	e.store.update(func() {
		pos.SizeMismatch = mismatch
		pos.LongEntryPrice = long.Price
		pos.ShortEntryPrice = short.Price
		pos.SizeBaseUnits = filled
		pos.USDNotional = long.Price * filled
		pos.SpreadCostUSD = spread * filled
		pos.OpenedAt = now
		pos.PlannedClose = now.Add(hold)
		pos.State = domain.StateOpen
		opened = *pos
	})

	// La reserva se sustituye por el contador diario real.
	e.releaseReservation(reserved)
	e.stats.RecordOpen(opened, now)
	e.targets.RecordVolume(opened.Symbol, opened.USDNotional, now)
	e.guard.RecordOpenSuccess()

	slog.Info("engine: position open",
		"id", opened.ID, "symbol", opened.Symbol,
		"long_price", opened.LongEntryPrice, "short_price", opened.ShortEntryPrice,
		"spread_cost_usd", opened.SpreadCostUSD,
		"planned_close", opened.PlannedClose.Format(time.RFC3339),
	)
}

// unwindLeg emite la orden de cierre de emergencia para la única pierna
// llena. Éxito → FAILED_OPEN (slot liberado); fallo → STUCK (el slot se
// retiene hasta resolución manual).
func (e *Engine) unwindLeg(ctx context.Context, pos *domain.HedgePosition, venue string, side domain.OrderSide, filled domain.Fill, cause error) {
	_, err := e.venues[venue].CloseOrder(ctx, pos.Symbol, side, filled.Size)
	if err != nil {
		e.store.update(func() {
			pos.State = domain.StateStuck
			pos.FailReason = fmt.Sprintf("unwind failed on %s: %v (open failure: %v): %v",
				venue, err, cause, domain.ErrUnwindFailed)
		})
		e.releaseReservation(pos.USDNotional)
		e.stats.RecordStuck(time.Now())
		slog.Error("engine: POSITION STUCK — one-sided exposure needs manual intervention",
			"id", pos.ID, "symbol", pos.Symbol, "venue", venue,
			"filled_size", filled.Size, "err", err)
		e.persistTerminal(pos)
		return
	}

	e.failOpen(pos, fmt.Sprintf("one leg failed, unwound %s: %v", venue, cause))
}

// failOpen transiciona a FAILED_OPEN, libera slot y reserva, y archiva.
func (e *Engine) failOpen(pos *domain.HedgePosition, reason string) {
	e.store.update(func() {
		pos.State = domain.StateFailedOpen
		pos.FailReason = reason
	})
	e.releaseReservation(pos.USDNotional)
	e.stats.RecordFailedOpen(*pos, time.Now())
	e.persistTerminal(pos)
	e.store.archive(pos.ID)
	e.updateActiveGauge()
	slog.Warn("engine: open failed", "id", pos.ID, "symbol", pos.Symbol, "reason", reason)
}

// monitorTick revisa todas las posiciones activas: fund re-check sobre
// las OPEN, evaluación de cierre (probabilística + deadline duro) y
// reintentos de CLOSING pendientes. También empuja el rollup diario.
func (e *Engine) monitorTick(ctx context.Context, now time.Time) {
	shortfall := false

	// Se decide sobre copias consistentes; el puntero solo se resuelve
	// para actuar.
	for _, snap := range e.store.activeSnapshot() {
		switch snap.State {
		case domain.StateOpen:
			if !shortfall {
				if err := e.guard.CheckPosition(ctx, snap); errors.Is(err, domain.ErrInsufficientFunds) {
					slog.Warn("engine: margin shortfall on open position",
						"id", snap.ID, "err", err)
					shortfall = true
				}
			}
			elapsed := now.Sub(snap.OpenedAt)
			planned := snap.PlannedClose.Sub(snap.OpenedAt)
			if now.After(snap.PlannedClose) || e.sybil.ShouldClose(elapsed, planned) {
				if pos, ok := e.store.get(snap.ID); ok {
					e.closePosition(ctx, pos, "scheduled close")
				}
			}

		case domain.StateClosing:
			if !now.Before(snap.NextCloseTry) {
				if pos, ok := e.store.get(snap.ID); ok {
					e.closePosition(ctx, pos, "closing retry")
				}
			}
		}
	}

	if shortfall {
		e.forceCloseSmallest(ctx, "margin shortfall on monitoring tick")
	}

	e.dailySummary(ctx, now)
}

// closePosition envía las piernas de cierre pendientes concurrentemente.
// Las piernas ya cerradas no se reenvían; una pierna fallida deja la
// posición en CLOSING con backoff para el siguiente tick.
func (e *Engine) closePosition(ctx context.Context, pos *domain.HedgePosition, reason string) {
	var proceed, wasOpen, needLong, needShort bool
	var symbol, longVenue, shortVenue string
	var size float64
	e.store.update(func() {
		if pos.State != domain.StateOpen && pos.State != domain.StateClosing {
			return
		}
		wasOpen = pos.State == domain.StateOpen
		pos.State = domain.StateClosing
		proceed = true
		needLong = !pos.LongClosed
		needShort = !pos.ShortClosed
		symbol, longVenue, shortVenue = pos.Symbol, pos.LongVenue, pos.ShortVenue
		size = pos.SizeBaseUnits
	})
	if !proceed {
		return
	}
	if wasOpen {
		slog.Info("engine: closing position", "id", pos.ID, "reason", reason)
	}

	e.opsWG.Add(1)
	defer e.opsWG.Done()

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.LegTimeout)
	defer cancel()

	longCh := make(chan legResult, 1)
	shortCh := make(chan legResult, 1)

	if needLong {
		go func() {
			fill, err := e.venues[longVenue].CloseOrder(opCtx, symbol, domain.SideSell, size)
			longCh <- legResult{fill, err}
		}()
	} else {
		longCh <- legResult{}
	}
	if needShort {
		go func() {
			fill, err := e.venues[shortVenue].CloseOrder(opCtx, symbol, domain.SideBuy, size)
			shortCh <- legResult{fill, err}
		}()
	} else {
		shortCh <- legResult{}
	}
	long, short := <-longCh, <-shortCh

	fullClose := false
	var attempts int
	var backoff time.Duration
	var flagged bool
	e.store.update(func() {
		if needLong && long.err == nil {
			pos.LongClosed = true
			pos.LongExitPrice = long.fill.Price
		}
		if needShort && short.err == nil {
			pos.ShortClosed = true
			pos.ShortExitPrice = short.fill.Price
		}
		if pos.LongClosed && pos.ShortClosed {
			fullClose = true
			return
		}

		// Al menos una pierna sigue abierta: programar reintento. La
		// posición nunca se descarta en este estado.
		pos.CloseAttempts++
		attempts = pos.CloseAttempts
		backoff = closeRetryBase << uint(min(pos.CloseAttempts-1, 5))
		if backoff > closeRetryMax {
			backoff = closeRetryMax
		}
		pos.NextCloseTry = time.Now().Add(backoff)
		if pos.CloseAttempts >= closeAttentionAfter && !pos.NeedsOperator {
			pos.NeedsOperator = true
			flagged = true
		}
	})

	if fullClose {
		e.completeClose(pos)
		return
	}
	if flagged {
		slog.Error("engine: CLOSING retries exhausted attention threshold — operator review needed",
			"id", pos.ID, "symbol", symbol, "attempts", attempts)
	}
	slog.Warn("engine: close leg failed, will retry",
		"id", pos.ID,
		"attempt", attempts, "next_try_in", backoff,
		"long_err", long.err, "short_err", short.err,
	)
}

// completeClose transiciona CLOSING → CLOSED y liquida el PnL:
// delta de cada pierna menos comisiones taker de entrada y salida.
func (e *Engine) completeClose(pos *domain.HedgePosition) {
	now := time.Now()
	e.store.update(func() {
		pos.ClosedAt = &now

		longPnL := (pos.LongExitPrice - pos.LongEntryPrice) * pos.SizeBaseUnits
		shortPnL := (pos.ShortEntryPrice - pos.ShortExitPrice) * pos.SizeBaseUnits
		fees := e.takerRate(pos.LongVenue)*(pos.LongEntryPrice+pos.LongExitPrice)*pos.SizeBaseUnits +
			e.takerRate(pos.ShortVenue)*(pos.ShortEntryPrice+pos.ShortExitPrice)*pos.SizeBaseUnits
		pos.RealizedPnL = longPnL + shortPnL - fees
		pos.State = domain.StateClosed
	})

	e.stats.RecordClose(*pos, now)
	e.persistTerminal(pos)
	e.store.archive(pos.ID)
	e.updateActiveGauge()

	slog.Info("engine: position closed",
		"id", pos.ID, "symbol", pos.Symbol,
		"held", pos.Lifetime(now).Round(time.Second),
		"pnl_usd", pos.RealizedPnL,
	)
}

// forceCloseSmallest cierra la posición OPEN con menor notional para
// liberar margen. Es la respuesta tanto al tercer fallo consecutivo de
// pre-open check como a un shortfall descubierto en monitorización.
func (e *Engine) forceCloseSmallest(ctx context.Context, reason string) {
	pos, ok := e.store.smallestOpen()
	if !ok {
		slog.Warn("engine: force close requested but no open positions", "reason", reason)
		return
	}
	slog.Warn("engine: force closing smallest position",
		"id", pos.ID, "notional_usd", pos.USDNotional, "reason", reason)
	e.closePosition(ctx, pos, reason)
}

// persistTerminal guarda la posición en el journal si está configurado.
func (e *Engine) persistTerminal(pos *domain.HedgePosition) {
	if e.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.history.SavePosition(ctx, *pos); err != nil {
		slog.Warn("engine: error persisting position", "id", pos.ID, "err", err)
	}
}

// takerRate devuelve la comisión taker de un venue (0 si no hay schedule).
func (e *Engine) takerRate(venue string) float64 {
	return e.fees[venue].TakerRate
}
