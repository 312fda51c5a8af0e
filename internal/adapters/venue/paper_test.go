package venue_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/hedgefarm/internal/adapters/venue"
	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

func newTestPaper(failureRate float64) *venue.Paper {
	return venue.NewPaper(venue.PaperConfig{
		Name:        "paper-a",
		InitialUSD:  10000,
		SpreadPct:   0.0005,
		FailureRate: failureRate,
		Seed:        42,
	}, map[string]float64{"ETH-PERP": 1824})
}

func TestPaper_GetQuote_BidBelowAsk(t *testing.T) {
	p := newTestPaper(0)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		q, err := p.GetQuote(ctx, "ETH-PERP")
		require.NoError(t, err)
		assert.True(t, q.Valid())
		assert.Less(t, q.BestBid, q.BestAsk)
		assert.Equal(t, "paper-a", q.Venue)
	}
}

func TestPaper_GetQuote_UnknownSymbol(t *testing.T) {
	p := newTestPaper(0)
	_, err := p.GetQuote(context.Background(), "DOGE-PERP")
	assert.ErrorIs(t, err, domain.ErrQuoteStale)
}

func TestPaper_PlaceOrder_CrossesSpreadAndLocksMargin(t *testing.T) {
	p := newTestPaper(0)
	ctx := context.Background()

	q, err := p.GetQuote(ctx, "ETH-PERP")
	require.NoError(t, err)

	fill, err := p.PlaceOrder(ctx, "ETH-PERP", domain.SideBuy, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 0.1, fill.Size)
	// Compra: se llena por encima del mid.
	assert.Greater(t, fill.Price, q.BestBid)

	bal, err := p.GetBalance(ctx)
	require.NoError(t, err)
	assert.Less(t, bal.Available, 10000.0, "el notional queda bloqueado")
}

func TestPaper_CloseOrder_ReleasesMargin(t *testing.T) {
	p := newTestPaper(0)
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, "ETH-PERP", domain.SideBuy, 0.1)
	require.NoError(t, err)
	_, err = p.CloseOrder(ctx, "ETH-PERP", domain.SideSell, 0.1)
	require.NoError(t, err)

	bal, err := p.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000, bal.Available, 10000*0.01,
		"cerrar devuelve el margen salvo el coste del spread")
}

func TestPaper_PlaceOrder_FailureInjection(t *testing.T) {
	p := newTestPaper(1.0)
	_, err := p.PlaceOrder(context.Background(), "ETH-PERP", domain.SideBuy, 0.1)
	assert.ErrorIs(t, err, domain.ErrLegOrderRejected)
}

func TestPaper_PlaceOrder_RejectsOverBalance(t *testing.T) {
	p := newTestPaper(0)
	// 100 ETH a ~1824 excede con mucho los $10k disponibles.
	_, err := p.PlaceOrder(context.Background(), "ETH-PERP", domain.SideBuy, 100)
	assert.ErrorIs(t, err, domain.ErrLegOrderRejected)
}
