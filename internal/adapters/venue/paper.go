package venue

// paper.go — venue simulado para dry-run sin tocar ningún exchange.
//
// Cada instancia lleva su propio random walk de precios por símbolo y
// un balance ficticio que se mueve con las órdenes. Las tasas de fallo
// y la latencia son inyectables para poder ensayar los caminos de
// unwind y de reintento de cierre sin depender de un exchange real.

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

// PaperConfig controla el comportamiento del venue simulado.
type PaperConfig struct {
	Name       string
	InitialUSD float64

	// SpreadPct es el half-spread relativo alrededor del mid (0.0005 = 5 bps).
	SpreadPct float64

	// VolatilityPct es la desviación del paso del random walk por tick.
	VolatilityPct float64

	// FailureRate es la probabilidad de rechazo por orden, en [0, 1).
	FailureRate float64

	// Latency se aplica a cada llamada, respetando el contexto.
	Latency time.Duration

	Seed int64
}

// Paper implementa ports.Venue contra un libro sintético.
type Paper struct {
	cfg PaperConfig

	mu      sync.Mutex
	rng     *rand.Rand
	mids    map[string]float64
	balance domain.Balance
	locked  float64
}

// NewPaper crea un venue simulado con precios iniciales por símbolo.
func NewPaper(cfg PaperConfig, initialMids map[string]float64) *Paper {
	if cfg.SpreadPct <= 0 {
		cfg.SpreadPct = 0.0005
	}
	if cfg.VolatilityPct <= 0 {
		cfg.VolatilityPct = 0.001
	}
	mids := make(map[string]float64, len(initialMids))
	for sym, mid := range initialMids {
		mids[sym] = mid
	}
	return &Paper{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		mids: mids,
		balance: domain.Balance{
			Available: cfg.InitialUSD,
			Total:     cfg.InitialUSD,
		},
	}
}

func (p *Paper) Name() string { return p.cfg.Name }

// GetQuote avanza el random walk del símbolo y devuelve bid/ask
// alrededor del mid.
func (p *Paper) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := p.sleep(ctx); err != nil {
		return domain.Quote{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	mid, ok := p.mids[symbol]
	if !ok {
		return domain.Quote{}, fmt.Errorf("venue %s: unknown symbol %q: %w",
			p.cfg.Name, symbol, domain.ErrQuoteStale)
	}

	mid *= 1 + p.rng.NormFloat64()*p.cfg.VolatilityPct
	if mid <= 0 {
		mid = p.mids[symbol]
	}
	p.mids[symbol] = mid

	half := mid * p.cfg.SpreadPct
	return domain.Quote{
		Venue:      p.cfg.Name,
		Symbol:     symbol,
		BestBid:    mid - half,
		BestAsk:    mid + half,
		BidSize:    1000,
		AskSize:    1000,
		ObservedAt: time.Now(),
	}, nil
}

// GetBalance devuelve el balance ficticio actual.
func (p *Paper) GetBalance(ctx context.Context) (domain.Balance, error) {
	if err := p.sleep(ctx); err != nil {
		return domain.Balance{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// PlaceOrder llena al precio tocado (ask para compras, bid para ventas)
// y bloquea el notional como margen.
func (p *Paper) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, size float64) (domain.Fill, error) {
	if err := p.sleep(ctx); err != nil {
		return domain.Fill{}, fmt.Errorf("venue %s: order timed out: %w", p.cfg.Name, domain.ErrLegOrderTimeout)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rng.Float64() < p.cfg.FailureRate {
		return domain.Fill{}, fmt.Errorf("venue %s: order rejected: %w", p.cfg.Name, domain.ErrLegOrderRejected)
	}

	price, err := p.touchPrice(symbol, side)
	if err != nil {
		return domain.Fill{}, err
	}

	notional := price * size
	if notional > p.balance.Available {
		return domain.Fill{}, fmt.Errorf("venue %s: notional $%.2f exceeds available $%.2f: %w",
			p.cfg.Name, notional, p.balance.Available, domain.ErrLegOrderRejected)
	}
	p.balance.Available -= notional
	p.locked += notional

	return domain.Fill{Price: price, Size: size}, nil
}

// CloseOrder llena al precio tocado del lado de cierre y libera el margen.
func (p *Paper) CloseOrder(ctx context.Context, symbol string, side domain.OrderSide, size float64) (domain.Fill, error) {
	if err := p.sleep(ctx); err != nil {
		return domain.Fill{}, fmt.Errorf("venue %s: close timed out: %w", p.cfg.Name, domain.ErrLegOrderTimeout)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rng.Float64() < p.cfg.FailureRate {
		return domain.Fill{}, fmt.Errorf("venue %s: close rejected: %w", p.cfg.Name, domain.ErrLegOrderRejected)
	}

	price, err := p.touchPrice(symbol, side)
	if err != nil {
		return domain.Fill{}, err
	}

	released := price * size
	if released > p.locked {
		released = p.locked
	}
	p.locked -= released
	p.balance.Available += released

	return domain.Fill{Price: price, Size: size}, nil
}

// touchPrice devuelve el precio que cruza el libro para el lado dado.
// Caller sostiene p.mu.
func (p *Paper) touchPrice(symbol string, side domain.OrderSide) (float64, error) {
	mid, ok := p.mids[symbol]
	if !ok {
		return 0, fmt.Errorf("venue %s: unknown symbol %q: %w",
			p.cfg.Name, symbol, domain.ErrLegOrderRejected)
	}
	half := mid * p.cfg.SpreadPct
	if side == domain.SideBuy {
		return mid + half, nil
	}
	return mid - half, nil
}

// sleep aplica la latencia configurada sin ignorar la cancelación.
func (p *Paper) sleep(ctx context.Context) error {
	if p.cfg.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.cfg.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
