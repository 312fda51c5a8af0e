package detector

import (
	"sync"
	"time"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

// Cache guarda la última quote por (venue, símbolo). La alimentan los
// refrescos concurrentes y la consume el detector vía Snapshot.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]map[string]domain.Quote // venue → symbol → quote

	stalenessLimit time.Duration
}

// Snapshot es una vista point-in-time de la cache. Inmutable: las
// lecturas posteriores no ven refrescos que lleguen después.
type Snapshot struct {
	quotes  map[string]map[string]domain.Quote
	TakenAt time.Time

	stalenessLimit time.Duration
}

// NewCache crea una cache vacía con el límite de staleness dado.
func NewCache(stalenessLimit time.Duration) *Cache {
	return &Cache{
		quotes:         make(map[string]map[string]domain.Quote),
		stalenessLimit: stalenessLimit,
	}
}

// Put reemplaza la quote de (venue, símbolo) entera.
func (c *Cache) Put(q domain.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bySymbol, ok := c.quotes[q.Venue]
	if !ok {
		bySymbol = make(map[string]domain.Quote)
		c.quotes[q.Venue] = bySymbol
	}
	bySymbol[q.Symbol] = q
}

// Snapshot copia el estado actual. El coste es proporcional al número
// de quotes, que es pequeño (venues × símbolos).
func (c *Cache) Snapshot(now time.Time) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := make(map[string]map[string]domain.Quote, len(c.quotes))
	for venue, bySymbol := range c.quotes {
		inner := make(map[string]domain.Quote, len(bySymbol))
		for sym, q := range bySymbol {
			inner[sym] = q
		}
		cp[venue] = inner
	}
	return Snapshot{quotes: cp, TakenAt: now, stalenessLimit: c.stalenessLimit}
}

// Quote devuelve la quote de (venue, símbolo) si existe y no está stale.
func (s Snapshot) Quote(venue, symbol string) (domain.Quote, bool) {
	bySymbol, ok := s.quotes[venue]
	if !ok {
		return domain.Quote{}, false
	}
	q, ok := bySymbol[symbol]
	if !ok || !q.Valid() || q.Stale(s.TakenAt, s.stalenessLimit) {
		return domain.Quote{}, false
	}
	return q, true
}
