package domain

import "time"

// PositionState represents the lifecycle of a hedge position.
type PositionState string

const (
	StatePendingOpen PositionState = "PENDING_OPEN"
	StateOpening     PositionState = "OPENING"
	StateOpen        PositionState = "OPEN"
	StateClosing     PositionState = "CLOSING"
	StateClosed      PositionState = "CLOSED"
	StateFailedOpen  PositionState = "FAILED_OPEN"
	StateStuck       PositionState = "STUCK" // one-sided exposure, needs manual resolution
)

// Terminal reports whether the state admits no further transitions.
// STUCK is terminal for the engine but still holds a capacity slot.
func (s PositionState) Terminal() bool {
	return s == StateClosed || s == StateFailedOpen || s == StateStuck
}

// OrderSide is the direction of one leg.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Opposite returns the reverse side, used when unwinding or closing a leg.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Fill is the outcome of a successfully placed order.
type Fill struct {
	Price float64
	Size  float64
}

// HedgePosition is one delta-neutral pair of legs across two venues.
// Owned exclusively by the lifecycle engine until terminal; everything
// else gets read-only copies.
type HedgePosition struct {
	ID         string
	Symbol     string
	LongVenue  string
	ShortVenue string

	SizeBaseUnits float64 // identical on both legs unless SizeMismatch
	USDNotional   float64

	LongEntryPrice  float64
	ShortEntryPrice float64
	LongExitPrice   float64
	ShortExitPrice  float64

	OpenedAt      time.Time
	PlannedClose  time.Time
	ClosedAt      *time.Time
	SpreadCostUSD float64
	RealizedPnL   float64

	State      PositionState
	FailReason string

	// SizeMismatch marks a degraded position whose legs filled with
	// different sizes beyond tolerance.
	SizeMismatch bool

	// Closing-retry bookkeeping. A leg that already closed is never
	// re-submitted; the failed one is retried with backoff.
	LongClosed    bool
	ShortClosed   bool
	CloseAttempts int
	NextCloseTry  time.Time

	// NeedsOperator flags a CLOSING position whose retries exceeded the
	// attention threshold. The engine keeps retrying regardless.
	NeedsOperator bool
}

// Lifetime returns how long the position has been (or was) open.
func (p HedgePosition) Lifetime(now time.Time) time.Duration {
	end := now
	if p.ClosedAt != nil {
		end = *p.ClosedAt
	}
	return end.Sub(p.OpenedAt)
}

// Active reports whether the position occupies a capacity slot.
func (p HedgePosition) Active() bool {
	switch p.State {
	case StatePendingOpen, StateOpening, StateOpen, StateClosing, StateStuck:
		return true
	}
	return false
}

// DailySummary is the per-day rollup persisted by the history journal.
type DailySummary struct {
	Date            time.Time
	PositionsOpened int
	PositionsClosed int
	VolumeUSD       float64
	SpreadCostUSD   float64
	RealizedPnLUSD  float64
	FailedOpens     int
	StuckPositions  int
}
