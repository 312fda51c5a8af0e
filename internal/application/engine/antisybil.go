package engine

// antisybil.go — randomización anti-detección.
//
// Todo lo que un observador externo podría correlacionar entre venues
// sale de aquí: delays entre aperturas, tamaños, duración de holds y
// elección de oportunidad. La fuente de aleatoriedad es propia del
// scheduler y se siembra explícitamente — nunca el estado global de
// math/rand, para que los tests sean deterministas.

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

// sizeJitterPct es el jitter multiplicativo final sobre el tamaño.
const sizeJitterPct = 0.05

// AntiSybilScheduler deriva los parámetros aleatorizados de cada intento
// de apertura y las decisiones probabilísticas de cierre.
type AntiSybilScheduler struct {
	mu     sync.Mutex // rand.Rand no es seguro para uso concurrente
	rng    *rand.Rand
	limits domain.RiskLimits
}

// NewAntiSybilScheduler crea un scheduler con la semilla dada.
func NewAntiSybilScheduler(limits domain.RiskLimits, seed int64) *AntiSybilScheduler {
	return &AntiSybilScheduler{
		rng:    rand.New(rand.NewSource(seed)),
		limits: limits,
	}
}

// NextDelay devuelve el delay hasta el siguiente intento de apertura,
// uniforme en [min_interval, max_interval].
func (a *AntiSybilScheduler) NextDelay() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	spread := a.limits.MaxInterval - a.limits.MinInterval
	return a.limits.MinInterval + time.Duration(a.rng.Float64()*float64(spread))
}

// NextSizeUSD genera el notional de la siguiente posición.
//
// Log-normal con mediana en la media geométrica de [min, max] y sigma
// que deja ~6 desviaciones del rango en escala log, más un jitter
// multiplicativo de ±5%. El resultado se recorta al rango.
func (a *AntiSybilScheduler) NextSizeUSD() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	logMin := math.Log(a.limits.MinSizeUSD)
	logMax := math.Log(a.limits.MaxSizeUSD)
	mu := (logMin + logMax) / 2
	sigma := (logMax - logMin) / 6

	size := math.Exp(mu + sigma*a.rng.NormFloat64())
	size *= 1 + (a.rng.Float64()*2-1)*sizeJitterPct

	switch {
	case size < a.limits.MinSizeUSD:
		return a.limits.MinSizeUSD
	case size > a.limits.MaxSizeUSD:
		return a.limits.MaxSizeUSD
	}
	return size
}

// NextHold devuelve la duración planificada del hold, uniforme en
// [min_position_lifetime, max_position_lifetime]. Se fija al abrir y es
// el techo duro del cierre.
func (a *AntiSybilScheduler) NextHold() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	spread := a.limits.MaxPositionLifetime - a.limits.MinPositionLifetime
	return a.limits.MinPositionLifetime + time.Duration(a.rng.Float64()*float64(spread))
}

// PickOpportunity elige uniformemente entre las oportunidades que
// califican — no siempre la mejor, que sería otro patrón detectable.
func (a *AntiSybilScheduler) PickOpportunity(opps []domain.Opportunity) (domain.Opportunity, bool) {
	if len(opps) == 0 {
		return domain.Opportunity{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return opps[a.rng.Intn(len(opps))], true
}

// ShouldClose decide probabilísticamente si cerrar una posición antes
// de su deadline. La probabilidad crece linealmente de 0 (recién
// abierta) a 1 (elapsed = planned); alcanzar el deadline cierra siempre.
func (a *AntiSybilScheduler) ShouldClose(elapsed, planned time.Duration) bool {
	if planned <= 0 || elapsed >= planned {
		return true
	}
	p := float64(elapsed) / float64(planned)

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Float64() < p
}
