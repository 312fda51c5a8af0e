package detector

// refresh.go — fan-out concurrente de refresco de quotes.
//
// Cada (venue, símbolo) se refresca en su propia goroutine, con un rate
// limiter por venue para no pasarnos de los límites de sus APIs. Un
// venue caído no bloquea a los demás: su quote simplemente envejece y
// el detector la descartará por stale.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/hedgefarm/internal/ports"
)

// defaultVenueRatePerSec limita las llamadas de quote por venue.
const defaultVenueRatePerSec = 10

// Refresher mantiene la cache al día contra un conjunto de venues.
type Refresher struct {
	cache    *Cache
	venues   []ports.Venue
	symbols  []string
	limiters map[string]*rate.Limiter
	timeout  time.Duration
}

// NewRefresher crea un refresher para los venues y símbolos dados.
func NewRefresher(cache *Cache, venues []ports.Venue, symbols []string, perVenueRate float64) *Refresher {
	if perVenueRate <= 0 {
		perVenueRate = defaultVenueRatePerSec
	}
	limiters := make(map[string]*rate.Limiter, len(venues))
	for _, v := range venues {
		limiters[v.Name()] = rate.NewLimiter(rate.Limit(perVenueRate), 5)
	}
	return &Refresher{
		cache:    cache,
		venues:   venues,
		symbols:  symbols,
		limiters: limiters,
		timeout:  5 * time.Second,
	}
}

// RefreshAll lanza un fetch por (venue, símbolo) y espera a que todos
// terminen. Los fallos individuales se loguean y se ignoran.
func (r *Refresher) RefreshAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, venue := range r.venues {
		for _, symbol := range r.symbols {
			wg.Add(1)
			go func(v ports.Venue, sym string) {
				defer wg.Done()
				r.refreshOne(ctx, v, sym)
			}(venue, symbol)
		}
	}
	wg.Wait()
}

// Run refresca en bucle con la cadencia dada hasta que ctx se cancele.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.RefreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshAll(ctx)
		}
	}
}

func (r *Refresher) refreshOne(ctx context.Context, v ports.Venue, symbol string) {
	limiter := r.limiters[v.Name()]
	if err := limiter.Wait(ctx); err != nil {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	q, err := v.GetQuote(fetchCtx, symbol)
	if err != nil {
		slog.Debug("detector: quote refresh failed", "venue", v.Name(), "symbol", symbol, "err", err)
		return
	}
	if !q.Valid() {
		slog.Debug("detector: discarding invalid quote", "venue", v.Name(), "symbol", symbol)
		return
	}
	r.cache.Put(q)
}
