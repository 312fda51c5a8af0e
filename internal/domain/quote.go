package domain

import "time"

// Quote es el mejor bid/ask de un símbolo en un venue concreto.
// Se reemplaza entero en cada refresh — nunca se muta campo a campo.
type Quote struct {
	Venue      string
	Symbol     string
	BestBid    float64
	BestAsk    float64
	BidSize    float64
	AskSize    float64
	ObservedAt time.Time
}

// Stale indica si la quote es demasiado antigua para operar con ella.
func (q Quote) Stale(now time.Time, limit time.Duration) bool {
	return now.Sub(q.ObservedAt) > limit
}

// Mid devuelve el precio medio entre bid y ask.
func (q Quote) Mid() float64 {
	return (q.BestBid + q.BestAsk) / 2
}

// Valid comprueba que la quote tiene ambos lados con precio positivo.
func (q Quote) Valid() bool {
	return q.BestBid > 0 && q.BestAsk > 0
}

// FeeSchedule son las comisiones de un venue. Inmutable durante el run.
// MakerRate puede ser negativo (rebate).
type FeeSchedule struct {
	Venue     string
	TakerRate float64
	MakerRate float64
}

// Balance es el saldo reportado por un venue.
type Balance struct {
	Available float64
	Total     float64
}
