package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

func testOpp() domain.Opportunity {
	return domain.Opportunity{
		Symbol: "ETH-PERP", LongVenue: "alpha", ShortVenue: "beta",
		LongPrice: 1824.12, ShortPrice: 1825.00,
	}
}

func TestLifecycle_OpenPosition_BothLegsFill(t *testing.T) {
	long := newStubVenue("alpha", 1824.12)
	short := newStubVenue("beta", 1823.45)
	eng := newTestEngine(t, long, short)

	pos, err := eng.admit(testOpp(), 0.0234, 73, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StatePendingOpen, pos.State)

	eng.openPosition(context.Background(), pos)

	assert.Equal(t, domain.StateOpen, pos.State)
	assert.Equal(t, 1824.12, pos.LongEntryPrice)
	assert.Equal(t, 1823.45, pos.ShortEntryPrice)
	assert.InDelta(t, 0.0157, pos.SpreadCostUSD, 0.0001)
	assert.False(t, pos.SizeMismatch)
	assert.False(t, pos.OpenedAt.IsZero())
	assert.True(t, pos.PlannedClose.After(pos.OpenedAt))

	// El volumen cuenta al entrar en OPEN, la reserva se libera. El
	// notional del fill (fill × size) difiere del planificado (73): se
	// libera lo reservado, no lo llenado.
	assert.InDelta(t, 1824.12*0.0234, pos.USDNotional, 1e-9)
	assert.InDelta(t, pos.USDNotional, eng.stats.DailyVolumeUSD(time.Now()), 1e-9)
	eng.admitMu.Lock()
	assert.Equal(t, 0.0, eng.reservedUSD)
	eng.admitMu.Unlock()

	// Sin residuo fantasma, el resto del presupuesto diario sigue
	// íntegro y admisible.
	_, err = eng.admit(testOpp(), 1, 50000-pos.USDNotional-0.01, time.Now())
	assert.NoError(t, err)
}

// seedQuotes mete en la cache quotes que producen una oportunidad
// alpha→beta dentro de los umbrales de testLimits.
func seedQuotes(eng *Engine) {
	now := time.Now()
	eng.cache.Put(domain.Quote{
		Venue: "alpha", Symbol: "ETH-PERP",
		BestBid: 1823.0, BestAsk: 1824.0,
		BidSize: 100, AskSize: 100, ObservedAt: now,
	})
	eng.cache.Put(domain.Quote{
		Venue: "beta", Symbol: "ETH-PERP",
		BestBid: 1825.5, BestAsk: 1826.5,
		BidSize: 100, AskSize: 100, ObservedAt: now,
	})
}

func TestLifecycle_AttemptOpen_OpensThroughFullPipeline(t *testing.T) {
	long := newStubVenue("alpha", 1824)
	short := newStubVenue("beta", 1825)
	eng := newTestEngine(t, long, short)
	seedQuotes(eng)

	eng.attemptOpen(context.Background())

	snaps := eng.store.activeSnapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, domain.StateOpen, snaps[0].State)
	places, _ := long.calls()
	assert.Equal(t, 1, places)
}

func TestLifecycle_AttemptOpen_FundCheckBlocksAdmission(t *testing.T) {
	long := newStubVenue("alpha", 1824)
	short := newStubVenue("beta", 1825)
	long.setBalance(10)
	eng := newTestEngine(t, long, short)
	seedQuotes(eng)

	eng.attemptOpen(context.Background())

	// El fund check corta antes de materializar nada: ni slot, ni
	// reserva, ni órdenes enviadas.
	assert.Equal(t, 0, eng.store.activeCount())
	eng.admitMu.Lock()
	assert.Equal(t, 0.0, eng.reservedUSD)
	eng.admitMu.Unlock()
	places, _ := long.calls()
	assert.Zero(t, places)

	// El fallo arranca la espera de reintento del guard.
	assert.False(t, eng.guard.CanAttemptOpen(time.Now()))
}

func TestLifecycle_OpenPosition_ShortLegFails_UnwindsLong(t *testing.T) {
	long := newStubVenue("alpha", 1824)
	short := newStubVenue("beta", 1825)
	short.setErrors(domain.ErrLegOrderRejected, nil)
	eng := newTestEngine(t, long, short)

	pos, err := eng.admit(testOpp(), 0.04, 73, time.Now())
	require.NoError(t, err)

	eng.openPosition(context.Background(), pos)

	assert.Equal(t, domain.StateFailedOpen, pos.State)
	assert.Contains(t, pos.FailReason, "unwound")

	// Exactamente una orden de cierre, en el venue de la pierna llena.
	_, longCloses := long.calls()
	_, shortCloses := short.calls()
	assert.Equal(t, 1, longCloses)
	assert.Equal(t, 0, shortCloses)

	// Slot y reserva liberados; el volumen fallido no cuenta.
	assert.Equal(t, 0, eng.store.activeCount())
	assert.Equal(t, 0.0, eng.stats.DailyVolumeUSD(time.Now()))
	eng.admitMu.Lock()
	assert.Equal(t, 0.0, eng.reservedUSD)
	eng.admitMu.Unlock()
}

func TestLifecycle_OpenPosition_UnwindFails_Stuck(t *testing.T) {
	long := newStubVenue("alpha", 1824)
	short := newStubVenue("beta", 1825)
	// La pierna corta falla al abrir; el unwind de la larga también falla.
	short.setErrors(domain.ErrLegOrderRejected, nil)
	long.setErrors(nil, errors.New("venue down"))
	eng := newTestEngine(t, long, short)

	pos, err := eng.admit(testOpp(), 0.04, 73, time.Now())
	require.NoError(t, err)

	eng.openPosition(context.Background(), pos)

	assert.Equal(t, domain.StateStuck, pos.State)
	assert.ErrorContains(t, errors.New(pos.FailReason), "unwind failed")

	// STUCK retiene el slot: la exposición a un lado sigue viva.
	assert.Equal(t, 1, eng.store.activeCount())
	snap := eng.SnapshotStats()
	assert.Equal(t, 1, snap.StuckPositions)
}

func TestLifecycle_OpenPosition_BothLegsFail_NoUnwind(t *testing.T) {
	long := newStubVenue("alpha", 1824)
	short := newStubVenue("beta", 1825)
	long.setErrors(domain.ErrLegOrderTimeout, nil)
	short.setErrors(domain.ErrLegOrderRejected, nil)
	eng := newTestEngine(t, long, short)

	pos, err := eng.admit(testOpp(), 0.04, 73, time.Now())
	require.NoError(t, err)

	eng.openPosition(context.Background(), pos)

	assert.Equal(t, domain.StateFailedOpen, pos.State)
	_, longCloses := long.calls()
	_, shortCloses := short.calls()
	assert.Zero(t, longCloses, "sin pierna llena no hay nada que deshacer")
	assert.Zero(t, shortCloses)
	assert.Equal(t, 0, eng.store.activeCount())
}

func TestLifecycle_OpenPosition_SizeMismatchFlagged(t *testing.T) {
	long := newStubVenue("alpha", 1824)
	short := newStubVenue("beta", 1825)
	eng := newTestEngine(t, long, short)

	pos, err := eng.admit(testOpp(), 0.04, 73, time.Now())
	require.NoError(t, err)

	// Fill corto un 10% menor que el pedido.
	eng.completeOpen(pos,
		domain.Fill{Price: 1824, Size: 0.04},
		domain.Fill{Price: 1825, Size: 0.036},
	)

	assert.Equal(t, domain.StateOpen, pos.State)
	assert.True(t, pos.SizeMismatch)
	assert.Equal(t, 0.036, pos.SizeBaseUnits, "la posición opera con el menor de los dos fills")
}

func TestLifecycle_ClosePosition_FullClose(t *testing.T) {
	long := newStubVenue("alpha", 1824)
	short := newStubVenue("beta", 1825)
	eng := newTestEngine(t, long, short)

	pos, err := eng.admit(testOpp(), 0.04, 73, time.Now())
	require.NoError(t, err)
	eng.openPosition(context.Background(), pos)
	require.Equal(t, domain.StateOpen, pos.State)

	// El stub llena los cierres al mismo precio de entrada: el delta de
	// precio es cero y el PnL son solo las comisiones taker.
	eng.closePosition(context.Background(), pos, "test")

	assert.Equal(t, domain.StateClosed, pos.State)
	require.NotNil(t, pos.ClosedAt)

	fees := 0.0005*(1824.0+1824.0)*pos.SizeBaseUnits + 0.0005*(1825.0+1825.0)*pos.SizeBaseUnits
	assert.InDelta(t, -fees, pos.RealizedPnL, 1e-9)
	assert.Equal(t, 0, eng.store.activeCount())
}

func TestLifecycle_ClosePosition_OneLegFails_Retries(t *testing.T) {
	long := newStubVenue("alpha", 1824)
	short := newStubVenue("beta", 1825)
	eng := newTestEngine(t, long, short)

	pos, err := eng.admit(testOpp(), 0.04, 73, time.Now())
	require.NoError(t, err)
	eng.openPosition(context.Background(), pos)
	require.Equal(t, domain.StateOpen, pos.State)

	short.setErrors(nil, domain.ErrLegOrderRejected)
	eng.closePosition(context.Background(), pos, "test")

	assert.Equal(t, domain.StateClosing, pos.State)
	assert.True(t, pos.LongClosed)
	assert.False(t, pos.ShortClosed)
	assert.Equal(t, 1, pos.CloseAttempts)
	assert.True(t, pos.NextCloseTry.After(time.Now()))
	assert.Equal(t, 1, eng.store.activeCount(), "CLOSING sigue ocupando slot")

	// El venue se recupera: el reintento solo envía la pierna pendiente.
	short.setErrors(nil, nil)
	pos.NextCloseTry = time.Time{}
	_, longClosesBefore := long.calls()
	eng.closePosition(context.Background(), pos, "retry")

	assert.Equal(t, domain.StateClosed, pos.State)
	_, longClosesAfter := long.calls()
	assert.Equal(t, longClosesBefore, longClosesAfter, "la pierna ya cerrada no se reenvía")
}

func TestLifecycle_ClosePosition_NeedsOperatorAfterRetries(t *testing.T) {
	long := newStubVenue("alpha", 1824)
	short := newStubVenue("beta", 1825)
	eng := newTestEngine(t, long, short)

	pos, err := eng.admit(testOpp(), 0.04, 73, time.Now())
	require.NoError(t, err)
	eng.openPosition(context.Background(), pos)

	short.setErrors(nil, domain.ErrLegOrderRejected)
	for i := 0; i < closeAttentionAfter; i++ {
		pos.NextCloseTry = time.Time{}
		eng.closePosition(context.Background(), pos, "test")
	}

	assert.Equal(t, domain.StateClosing, pos.State, "nunca se abandona")
	assert.True(t, pos.NeedsOperator)
	assert.Equal(t, closeAttentionAfter, pos.CloseAttempts)
}

func TestLifecycle_Admit_CapacityLimit(t *testing.T) {
	eng := newTestEngine(t, newStubVenue("alpha", 1824), newStubVenue("beta", 1825))
	now := time.Now()

	for i := 0; i < 5; i++ {
		_, err := eng.admit(testOpp(), 0.04, 73, now)
		require.NoError(t, err)
	}
	_, err := eng.admit(testOpp(), 0.04, 73, now)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
}

func TestLifecycle_Admit_DailyVolumeBudget(t *testing.T) {
	eng := newTestEngine(t, newStubVenue("alpha", 1824), newStubVenue("beta", 1825))
	now := time.Now()

	// Límite diario 50k: dos admisiones de 30k no caben.
	_, err := eng.admit(testOpp(), 16.4, 30000, now)
	require.NoError(t, err)
	_, err = eng.admit(testOpp(), 16.4, 30000, now)
	assert.ErrorIs(t, err, domain.ErrDailyLimitExceeded)

	// Una que sí cabe dentro del budget restante.
	_, err = eng.admit(testOpp(), 5.5, 10000, now)
	assert.NoError(t, err)
}

func TestLifecycle_Admit_ConcurrentNeverOversubscribes(t *testing.T) {
	eng := newTestEngine(t, newStubVenue("alpha", 1824), newStubVenue("beta", 1825))
	now := time.Now()

	var wg sync.WaitGroup
	admitted := make(chan struct{}, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := eng.admit(testOpp(), 0.04, 73, now); err == nil {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	assert.Equal(t, 5, len(admitted), "nunca más admisiones que slots")
	assert.Equal(t, 5, eng.store.activeCount())
}

func TestLifecycle_ForceCloseSmallest(t *testing.T) {
	long := newStubVenue("alpha", 1824)
	short := newStubVenue("beta", 1825)
	eng := newTestEngine(t, long, short)
	ctx := context.Background()

	big, err := eng.admit(testOpp(), 0.05, 95, time.Now())
	require.NoError(t, err)
	eng.openPosition(ctx, big)
	small, err := eng.admit(testOpp(), 0.03, 55, time.Now())
	require.NoError(t, err)
	eng.openPosition(ctx, small)
	require.Equal(t, domain.StateOpen, big.State)
	require.Equal(t, domain.StateOpen, small.State)

	eng.forceCloseSmallest(ctx, "test shortfall")

	assert.Equal(t, domain.StateClosed, small.State, "se cierra el de menor notional")
	assert.Equal(t, domain.StateOpen, big.State)
}

func TestLifecycle_MonitorTick_ClosesAtDeadline(t *testing.T) {
	long := newStubVenue("alpha", 1824)
	short := newStubVenue("beta", 1825)
	eng := newTestEngine(t, long, short)
	ctx := context.Background()

	pos, err := eng.admit(testOpp(), 0.04, 73, time.Now())
	require.NoError(t, err)
	eng.openPosition(ctx, pos)
	require.Equal(t, domain.StateOpen, pos.State)

	// Tick pasado el deadline duro: cierre garantizado.
	eng.monitorTick(ctx, pos.PlannedClose.Add(time.Second))

	assert.Equal(t, domain.StateClosed, pos.State)
}

func TestLifecycle_FundGuard_ThreeFailuresForceClose(t *testing.T) {
	long := newStubVenue("alpha", 1824)
	short := newStubVenue("beta", 1825)
	eng := newTestEngine(t, long, short)
	ctx := context.Background()

	pos, err := eng.admit(testOpp(), 0.04, 73, time.Now())
	require.NoError(t, err)
	eng.openPosition(ctx, pos)
	require.Equal(t, domain.StateOpen, pos.State)

	// Dos fallos: espera, sin cierre forzoso todavía.
	now := time.Now()
	assert.False(t, eng.guard.RecordOpenFailure(now))
	assert.False(t, eng.guard.CanAttemptOpen(now.Add(time.Minute)))
	assert.True(t, eng.guard.CanAttemptOpen(now.Add(6*time.Minute)))
	assert.False(t, eng.guard.RecordOpenFailure(now.Add(6*time.Minute)))
	assert.Equal(t, domain.StateOpen, pos.State)

	// Tercer fallo consecutivo: toca liberar margen.
	force := eng.guard.RecordOpenFailure(now.Add(12 * time.Minute))
	assert.True(t, force)
	eng.forceCloseSmallest(ctx, "funds exhausted after retries")
	assert.Equal(t, domain.StateClosed, pos.State)

	// Contador reseteado: el siguiente fallo empieza el ciclo de cero.
	assert.False(t, eng.guard.RecordOpenFailure(now.Add(13*time.Minute)))
}
