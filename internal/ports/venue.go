package ports

import (
	"context"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

// Venue is the capability set the engine needs from an exchange
// connector. The core never depends on a concrete venue type.
type Venue interface {
	// Name returns the venue identifier used in quotes and positions.
	Name() string

	// GetQuote returns the latest best bid/ask for a symbol.
	// Returns domain.ErrQuoteStale (possibly wrapped) when the venue
	// cannot provide a usable quote.
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)

	// GetBalance returns the available and total margin balance.
	GetBalance(ctx context.Context) (domain.Balance, error)

	// PlaceOrder submits a market order and returns the fill.
	// Rejections and timeouts come back as errors wrapping
	// domain.ErrLegOrderRejected / domain.ErrLegOrderTimeout.
	PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, size float64) (domain.Fill, error)

	// CloseOrder submits a reduce-only market order on the opposite
	// side of an existing leg. Same outcome contract as PlaceOrder.
	CloseOrder(ctx context.Context, symbol string, side domain.OrderSide, size float64) (domain.Fill, error)
}
