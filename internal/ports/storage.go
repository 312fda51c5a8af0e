package ports

import (
	"context"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

// HistoryStorage is the append-only journal of terminal positions and
// daily rollups. It is reporting history, not recovery state: the
// engine never reads it back.
type HistoryStorage interface {
	// SavePosition upserts a position record by ID.
	SavePosition(ctx context.Context, p domain.HedgePosition) error

	// SaveDailySummary upserts the rollup for a UTC day.
	SaveDailySummary(ctx context.Context, s domain.DailySummary) error

	Close() error
}
