package engine

import (
	"sort"
	"sync"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

// positionStore es el arena/índice de posiciones en memoria: id →
// posición, con particiones activa e histórica. La propiedad es
// exclusiva del lifecycle engine; el resto del sistema solo recibe
// copias. El RWMutex cubre también los structs apuntados: toda
// mutación de campos de una posición activa pasa por update, y los
// snapshots copian bajo el read lock.
type positionStore struct {
	mu      sync.RWMutex
	active  map[string]*domain.HedgePosition
	history []domain.HedgePosition
}

func newPositionStore() *positionStore {
	return &positionStore{active: make(map[string]*domain.HedgePosition)}
}

// add registra una posición nueva en la partición activa.
func (s *positionStore) add(p *domain.HedgePosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[p.ID] = p
}

// update ejecuta fn con el write lock. Es el único camino legal para
// mutar campos de una posición activa: así los snapshots concurrentes
// nunca observan una transición a medias.
func (s *positionStore) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// archive mueve una posición terminal al histórico.
func (s *positionStore) archive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.active[id]
	if !ok {
		return
	}
	delete(s.active, id)
	s.history = append(s.history, *p)
}

// activeCount cuenta las posiciones que ocupan slot de capacidad.
func (s *positionStore) activeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// get devuelve el puntero a una posición activa. Solo el lifecycle
// engine debe mutar el resultado.
func (s *positionStore) get(id string) (*domain.HedgePosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.active[id]
	return p, ok
}

// smallestOpen devuelve la posición OPEN con menor notional, la
// candidata a cierre forzoso cuando el fund guard detecta shortfall.
func (s *positionStore) smallestOpen() (*domain.HedgePosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *domain.HedgePosition
	for _, p := range s.active {
		if p.State != domain.StateOpen {
			continue
		}
		if best == nil || p.USDNotional < best.USDNotional {
			best = p
		}
	}
	return best, best != nil
}

// snapshot devuelve copias de todas las posiciones, activas primero
// (ordenadas por apertura) y luego el histórico.
func (s *positionStore) snapshot() []domain.HedgePosition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.HedgePosition, 0, len(s.active)+len(s.history))
	for _, p := range s.active {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	out = append(out, s.history...)
	return out
}

// activeSnapshot devuelve copias solo de las posiciones activas.
func (s *positionStore) activeSnapshot() []domain.HedgePosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.HedgePosition, 0, len(s.active))
	for _, p := range s.active {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}
