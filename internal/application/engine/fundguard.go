package engine

// fundguard.go — validación de saldos y margen.
//
// Los balances son advisory: entre el check y el envío real de la orden
// el venue puede habernos gastado el margen por su cuenta. Esa carrera
// se tolera — el fallo de submission la recoge, nunca es un crash.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
	"github.com/alejandrodnm/hedgefarm/internal/ports"
)

const (
	fundRetryWait = 5 * time.Minute
	fundMaxRetry  = 3
)

// FundGuard valida balances antes de abrir y periódicamente sobre las
// posiciones abiertas. Lleva el contador de fallos consecutivos de
// apertura que escala al cierre forzoso del notional más pequeño.
type FundGuard struct {
	venues map[string]ports.Venue
	limits domain.RiskLimits

	mu          sync.Mutex
	openFails   int       // fallos consecutivos de pre-open check
	nextAttempt time.Time // no reintentar aperturas antes de esto
}

// NewFundGuard crea un guard sobre los venues dados.
func NewFundGuard(venues map[string]ports.Venue, limits domain.RiskLimits) *FundGuard {
	return &FundGuard{venues: venues, limits: limits}
}

// CheckOpen valida que ambos venues tienen margen para el notional.
// Devuelve domain.ErrInsufficientFunds (envuelto con el venue y los
// números) cuando alguno no llega.
func (g *FundGuard) CheckOpen(ctx context.Context, longVenue, shortVenue string, notionalUSD float64) error {
	required := notionalUSD / g.limits.Leverage
	for _, name := range []string{longVenue, shortVenue} {
		if err := g.checkVenue(ctx, name, required); err != nil {
			return err
		}
	}
	return nil
}

// checkVenue comprueba margen y saldo mínimo en un venue concreto.
func (g *FundGuard) checkVenue(ctx context.Context, name string, requiredMargin float64) error {
	venue, ok := g.venues[name]
	if !ok {
		return fmt.Errorf("fundguard: unknown venue %q: %w", name, domain.ErrConfigInvalid)
	}
	bal, err := venue.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("fundguard: balance fetch %s: %w", name, err)
	}
	if bal.Available < requiredMargin {
		return fmt.Errorf("fundguard: %s available $%.2f < required margin $%.2f: %w",
			name, bal.Available, requiredMargin, domain.ErrInsufficientFunds)
	}
	if bal.Available < g.limits.MinFundBalanceUSD {
		return fmt.Errorf("fundguard: %s available $%.2f < min balance $%.2f: %w",
			name, bal.Available, g.limits.MinFundBalanceUSD, domain.ErrInsufficientFunds)
	}
	return nil
}

// CheckPosition re-valida el margen de una posición ya abierta. Se
// ejecuta en cada tick de monitorización; un shortfall nuevo dispara el
// mismo cierre forzoso que los fallos de apertura, pero sin tocar el
// contador de reintentos de apertura.
func (g *FundGuard) CheckPosition(ctx context.Context, p domain.HedgePosition) error {
	required := p.USDNotional / g.limits.Leverage
	for _, name := range []string{p.LongVenue, p.ShortVenue} {
		if err := g.checkVenue(ctx, name, required); err != nil {
			return err
		}
	}
	return nil
}

// CanAttemptOpen indica si ya pasó la espera tras el último fallo.
func (g *FundGuard) CanAttemptOpen(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !now.Before(g.nextAttempt)
}

// RecordOpenFailure registra un fallo de pre-open check. Devuelve true
// cuando se alcanzó el tercer fallo consecutivo y toca forzar el cierre
// de la posición activa con menor notional; el contador se resetea para
// que el ciclo de reintentos empiece de cero tras liberar margen.
func (g *FundGuard) RecordOpenFailure(now time.Time) (forceClose bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.openFails++
	g.nextAttempt = now.Add(fundRetryWait)
	slog.Warn("fundguard: open check failed",
		"consecutive", g.openFails,
		"retry_at", g.nextAttempt.Format(time.RFC3339),
	)
	if g.openFails >= fundMaxRetry {
		g.openFails = 0
		g.nextAttempt = now
		return true
	}
	return false
}

// RecordOpenSuccess resetea el contador de fallos consecutivos.
func (g *FundGuard) RecordOpenSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openFails = 0
	g.nextAttempt = time.Time{}
}
