package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteHistory_PruneDeletesOldPositions(t *testing.T) {
	s, err := NewSQLiteHistory(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	old := time.Now().UTC().Add(-retentionPositions - 24*time.Hour)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO positions (id, symbol, long_venue, short_venue, state, opened_at, saved_at)
		VALUES ('ancient', 'ETH-PERP', 'alpha', 'beta', 'CLOSED', ?, ?)`,
		old, old)
	require.NoError(t, err)

	s.pruneOld(ctx)

	got, err := s.History(ctx, old.Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, got, "lo anterior a la retención desaparece")
}
