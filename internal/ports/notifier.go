package ports

import (
	"context"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

// Notifier receives the periodic report of engine state.
type Notifier interface {
	Report(ctx context.Context, stats domain.StatsSnapshot, positions []domain.HedgePosition, targets []domain.Target) error
}
