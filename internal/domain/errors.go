package domain

import "errors"

// Error taxonomy of the engine. Stale/limit/capacity errors skip the
// current cycle; leg errors trigger recovery paths; ErrConfigInvalid is
// fatal at startup.
var (
	ErrQuoteStale         = errors.New("quote stale or missing")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrLegOrderRejected   = errors.New("leg order rejected")
	ErrLegOrderTimeout    = errors.New("leg order timeout")
	ErrUnwindFailed       = errors.New("emergency unwind failed")
	ErrDailyLimitExceeded = errors.New("daily volume limit exceeded")
	ErrCapacityExceeded   = errors.New("max concurrent positions reached")
	ErrConfigInvalid      = errors.New("invalid configuration")
)
