package storage

// sqlite.go — journal append-only del ciclo de vida de posiciones.
//
// Estrategia:
//   - `positions`: una fila por posición TERMINAL (CLOSED / FAILED_OPEN /
//     STUCK). Las activas viven solo en memoria del engine — el journal
//     es histórico de reporting, no estado de recuperación.
//   - `daily_summaries`: UNA fila por día UTC (UPSERT). El rollup se
//     reescribe en cada tick de monitorización; pesa nada.
//   - Prune automático al arrancar: posiciones > 90d.

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
-- Una fila por posición terminal
CREATE TABLE IF NOT EXISTS positions (
    id                TEXT PRIMARY KEY,
    symbol            TEXT NOT NULL,
    long_venue        TEXT NOT NULL,
    short_venue       TEXT NOT NULL,
    state             TEXT NOT NULL,
    size_base         REAL NOT NULL DEFAULT 0,
    usd_notional      REAL NOT NULL DEFAULT 0,
    long_entry_price  REAL NOT NULL DEFAULT 0,
    short_entry_price REAL NOT NULL DEFAULT 0,
    long_exit_price   REAL NOT NULL DEFAULT 0,
    short_exit_price  REAL NOT NULL DEFAULT 0,
    spread_cost_usd   REAL NOT NULL DEFAULT 0,
    realized_pnl_usd  REAL NOT NULL DEFAULT 0,
    size_mismatch     INTEGER NOT NULL DEFAULT 0,
    fail_reason       TEXT,
    opened_at         DATETIME,
    closed_at         DATETIME,
    saved_at          DATETIME NOT NULL
);

-- Rollup por día UTC, sin duplicados
CREATE TABLE IF NOT EXISTS daily_summaries (
    day              TEXT PRIMARY KEY,
    positions_opened INTEGER NOT NULL DEFAULT 0,
    positions_closed INTEGER NOT NULL DEFAULT 0,
    volume_usd       REAL    NOT NULL DEFAULT 0,
    spread_cost_usd  REAL    NOT NULL DEFAULT 0,
    realized_pnl_usd REAL    NOT NULL DEFAULT 0,
    failed_opens     INTEGER NOT NULL DEFAULT 0,
    stuck_positions  INTEGER NOT NULL DEFAULT 0,
    updated_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pos_symbol ON positions(symbol);
CREATE INDEX IF NOT EXISTS idx_pos_state  ON positions(state);
CREATE INDEX IF NOT EXISTS idx_pos_opened ON positions(opened_at DESC);
`

// retentionPositions mantiene la DB ligera: 90 días de histórico bastan
// para cualquier auditoría de volumen.
const retentionPositions = 90 * 24 * time.Hour

// SQLiteHistory implementa ports.HistoryStorage usando SQLite (pure Go, sin CGo).
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia posiciones antiguas.
func NewSQLiteHistory(path string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteHistory: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteHistory: apply schema: %w", err)
	}

	s := &SQLiteHistory{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SavePosition persiste una posición terminal. Idempotente por ID: un
// segundo save de la misma posición actualiza la fila existente.
func (s *SQLiteHistory) SavePosition(ctx context.Context, p domain.HedgePosition) error {
	mismatch := 0
	if p.SizeMismatch {
		mismatch = 1
	}
	var openedAt, closedAt *time.Time
	if !p.OpenedAt.IsZero() {
		t := p.OpenedAt.UTC()
		openedAt = &t
	}
	if p.ClosedAt != nil {
		t := p.ClosedAt.UTC()
		closedAt = &t
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
			(id, symbol, long_venue, short_venue, state, size_base, usd_notional,
			 long_entry_price, short_entry_price, long_exit_price, short_exit_price,
			 spread_cost_usd, realized_pnl_usd, size_mismatch, fail_reason,
			 opened_at, closed_at, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state            = excluded.state,
			long_exit_price  = excluded.long_exit_price,
			short_exit_price = excluded.short_exit_price,
			realized_pnl_usd = excluded.realized_pnl_usd,
			fail_reason      = excluded.fail_reason,
			closed_at        = excluded.closed_at,
			saved_at         = excluded.saved_at
	`,
		p.ID, p.Symbol, p.LongVenue, p.ShortVenue, string(p.State),
		p.SizeBaseUnits, p.USDNotional,
		p.LongEntryPrice, p.ShortEntryPrice, p.LongExitPrice, p.ShortExitPrice,
		p.SpreadCostUSD, p.RealizedPnL, mismatch, p.FailReason,
		openedAt, closedAt, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("storage.SavePosition: upsert %s: %w", p.ID, err)
	}
	return nil
}

// SaveDailySummary hace upsert del rollup del día. Se llama en cada tick
// de monitorización, así que la fila del día siempre refleja el último
// estado conocido.
func (s *SQLiteHistory) SaveDailySummary(ctx context.Context, d domain.DailySummary) error {
	day := d.Date.UTC().Format("2006-01-02")
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_summaries
			(day, positions_opened, positions_closed, volume_usd,
			 spread_cost_usd, realized_pnl_usd, failed_opens, stuck_positions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			positions_opened = excluded.positions_opened,
			positions_closed = excluded.positions_closed,
			volume_usd       = excluded.volume_usd,
			spread_cost_usd  = excluded.spread_cost_usd,
			realized_pnl_usd = excluded.realized_pnl_usd,
			failed_opens     = excluded.failed_opens,
			stuck_positions  = excluded.stuck_positions,
			updated_at       = excluded.updated_at
	`,
		day, d.PositionsOpened, d.PositionsClosed, d.VolumeUSD,
		d.SpreadCostUSD, d.RealizedPnLUSD, d.FailedOpens, d.StuckPositions,
		time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("storage.SaveDailySummary: upsert %s: %w", day, err)
	}
	return nil
}

// History devuelve las posiciones terminales cuyo opened_at está en el
// rango dado, las más recientes primero.
func (s *SQLiteHistory) History(ctx context.Context, from, to time.Time) ([]domain.HedgePosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, long_venue, short_venue, state, size_base, usd_notional,
		       long_entry_price, short_entry_price, long_exit_price, short_exit_price,
		       spread_cost_usd, realized_pnl_usd, size_mismatch, fail_reason,
		       opened_at, closed_at
		FROM positions
		WHERE opened_at BETWEEN ? AND ?
		ORDER BY opened_at DESC
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.History: query: %w", err)
	}
	defer rows.Close()

	var positions []domain.HedgePosition
	for rows.Next() {
		var p domain.HedgePosition
		var state string
		var mismatch int
		var failReason, openedAt, closedAt sql.NullString

		if err := rows.Scan(
			&p.ID, &p.Symbol, &p.LongVenue, &p.ShortVenue, &state,
			&p.SizeBaseUnits, &p.USDNotional,
			&p.LongEntryPrice, &p.ShortEntryPrice, &p.LongExitPrice, &p.ShortExitPrice,
			&p.SpreadCostUSD, &p.RealizedPnL, &mismatch, &failReason,
			&openedAt, &closedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.History: scan row: %w", err)
		}

		p.State = domain.PositionState(state)
		p.SizeMismatch = mismatch == 1
		p.FailReason = failReason.String
		if openedAt.Valid {
			p.OpenedAt = parseDBTime(openedAt.String)
		}
		if closedAt.Valid {
			t := parseDBTime(closedAt.String)
			p.ClosedAt = &t
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteHistory) Close() error {
	return s.db.Close()
}

// parseDBTime acepta los formatos que el driver escribe para DATETIME.
func parseDBTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// pruneOld elimina posiciones antiguas para mantener la DB ligera. Un
// fallo aquí no es fatal: la DB solo queda más grande de la cuenta.
func (s *SQLiteHistory) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionPositions)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE saved_at < ?`, cutoff); err != nil {
		slog.Warn("storage: prune old positions", "err", err)
	}
}
