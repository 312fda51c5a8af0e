package engine

// targets.go — scheduler de objetivos de volumen por símbolo.
//
// Selección por muestreo aleatorio ponderado, no greedy-por-prioridad:
// una secuencia determinista de símbolos sería un fingerprint trivial.
// El peso de cada target cae según se completa su objetivo diario, con
// un suelo epsilon para que un target completado siga siendo elegible.

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

// TargetScheduler reparte los ciclos de evaluación entre símbolos según
// prioridad y fracción de objetivo pendiente.
type TargetScheduler struct {
	mu      sync.Mutex
	targets map[string]*domain.Target
	order   []string // orden estable para el muestreo y los reports
	rng     *rand.Rand
	day     time.Time // día UTC al que pertenecen los contadores
}

// NewTargetScheduler crea un scheduler con los targets dados. Los
// targets con objetivo diario <= 0 quedan excluidos de la selección.
func NewTargetScheduler(targets []domain.Target, rng *rand.Rand, now time.Time) *TargetScheduler {
	ts := &TargetScheduler{
		targets: make(map[string]*domain.Target, len(targets)),
		rng:     rng,
		day:     now.UTC().Truncate(24 * time.Hour),
	}
	for i := range targets {
		t := targets[i]
		ts.targets[t.Symbol] = &t
		ts.order = append(ts.order, t.Symbol)
	}
	return ts
}

// Pick selecciona el siguiente símbolo a evaluar por muestreo ponderado.
// Devuelve false si ningún target es seleccionable.
func (ts *TargetScheduler) Pick(now time.Time) (string, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.maybeReset(now)

	total := 0.0
	weights := make([]float64, len(ts.order))
	for i, sym := range ts.order {
		t := ts.targets[sym]
		if !t.Selectable() {
			continue
		}
		weights[i] = t.Weight()
		total += weights[i]
	}
	if total <= 0 {
		return "", false
	}

	r := ts.rng.Float64() * total
	for i, sym := range ts.order {
		if weights[i] == 0 {
			continue
		}
		r -= weights[i]
		if r <= 0 {
			return sym, true
		}
	}
	// Resto de redondeo flotante: cae en el último seleccionable.
	for i := len(ts.order) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return ts.order[i], true
		}
	}
	return "", false
}

// RecordVolume acumula volumen completado en el target del símbolo.
// Monotónicamente no decreciente dentro del día UTC.
func (ts *TargetScheduler) RecordVolume(symbol string, usd float64, now time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.maybeReset(now)

	t, ok := ts.targets[symbol]
	if !ok {
		return
	}
	t.CompletedUSD += usd
	slog.Debug("targets: volume recorded",
		"symbol", symbol,
		"added_usd", usd,
		"completed_usd", t.CompletedUSD,
		"completion", t.CompletionRate(),
	)
}

// Snapshot devuelve copias de todos los targets en orden estable.
func (ts *TargetScheduler) Snapshot(now time.Time) []domain.Target {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.maybeReset(now)

	out := make([]domain.Target, 0, len(ts.order))
	for _, sym := range ts.order {
		out = append(out, *ts.targets[sym])
	}
	return out
}

// maybeReset pone los contadores a cero al cruzar el día UTC. Idempotente
// dentro del mismo día aunque lo disparen varios ticks. Llamar con ts.mu.
func (ts *TargetScheduler) maybeReset(now time.Time) {
	today := now.UTC().Truncate(24 * time.Hour)
	if !today.After(ts.day) {
		return
	}
	for _, t := range ts.targets {
		t.CompletedUSD = 0
	}
	ts.day = today
	slog.Info("targets: daily reset", "day", today.Format("2006-01-02"))
}
