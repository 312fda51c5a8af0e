package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Report imprime el estado del engine en el modo configurado.
func (c *Console) Report(_ context.Context, stats domain.StatsSnapshot, positions []domain.HedgePosition, targets []domain.Target) error {
	if c.table {
		c.printFull(stats, positions, targets)
	} else {
		c.printCompact(stats, positions, targets)
	}
	return nil
}

// printCompact imprime lo esencial en una línea, más alertas.
func (c *Console) printCompact(stats domain.StatsSnapshot, positions []domain.HedgePosition, targets []domain.Target) {
	now := time.Now().Format("15:04:05")

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] act:%d vol24h:$%.0f/%.0f opened:%d closed:%d failed:%d pnl:$%.2f spread:$%.2f",
		now, stats.ActivePositions,
		stats.DailyVolumeUSD, sumTargetsUSD(targets),
		stats.TotalOpened, stats.ClosedPositions, stats.FailedOpens,
		stats.CumulativeRealizedPnLUSD, stats.CumulativeSpreadCostUSD,
	)
	if stats.StuckPositions > 0 {
		fmt.Fprintf(&sb, " STUCK:%d", stats.StuckPositions)
	}

	shown := 0
	for _, p := range positions {
		if p.State != domain.StateStuck && !p.NeedsOperator {
			continue
		}
		if shown >= 3 {
			break
		}
		fmt.Fprintf(&sb, "\n  !! %s %s %s %s/%s $%.0f — %s",
			p.State, shortID(p.ID), p.Symbol, p.LongVenue, p.ShortVenue,
			p.USDNotional, p.FailReason)
		shown++
	}

	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime las tablas de posiciones activas y progreso por símbolo.
func (c *Console) printFull(stats domain.StatsSnapshot, positions []domain.HedgePosition, targets []domain.Target) {
	now := time.Now().Format("15:04:05")

	target := sumTargetsUSD(targets)
	fmt.Fprintf(c.out, "\n[%s] %d active | vol24h $%.0f of $%.0f (%.1f%%)\n",
		now, stats.ActivePositions,
		stats.DailyVolumeUSD, target,
		pctOf(stats.DailyVolumeUSD, target))

	if len(positions) > 0 {
		c.printPositions(positions)
	}
	if len(targets) > 0 {
		c.printTargets(targets)
	}
	c.printSummary(stats)
}

// printPositions imprime la tabla de posiciones activas.
func (c *Console) printPositions(positions []domain.HedgePosition) {
	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Sym", "State", "Long@", "Short@", "Size$", "Spread$", "Held", "Flags")

	now := time.Now()
	for _, p := range positions {
		held := "-"
		if !p.OpenedAt.IsZero() {
			held = p.Lifetime(now).Round(time.Second).String()
		}

		var flags []string
		if p.SizeMismatch {
			flags = append(flags, "mismatch")
		}
		if p.NeedsOperator {
			flags = append(flags, fmt.Sprintf("retry#%d", p.CloseAttempts))
		}

		table.Append(
			shortID(p.ID),
			p.Symbol,
			string(p.State),
			fmt.Sprintf("%s %.2f", p.LongVenue, p.LongEntryPrice),
			fmt.Sprintf("%s %.2f", p.ShortVenue, p.ShortEntryPrice),
			fmt.Sprintf("%.0f", p.USDNotional),
			fmt.Sprintf("%.4f", p.SpreadCostUSD),
			held,
			strings.Join(flags, ","),
		)
	}

	table.Render()
}

// printTargets imprime el progreso de volumen diario por símbolo.
func (c *Console) printTargets(targets []domain.Target) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Symbol", "Prio", "Done$", "Target$", "Progress")

	for _, t := range targets {
		table.Append(
			t.Symbol,
			fmt.Sprintf("%d", t.Priority),
			fmt.Sprintf("%.0f", t.CompletedUSD),
			fmt.Sprintf("%.0f", t.DailyTargetUSD),
			progressBar(t.CompletionRate(), 20),
		)
	}

	table.Render()
}

// printSummary imprime el resumen acumulado de la sesión.
func (c *Console) printSummary(stats domain.StatsSnapshot) {
	fmt.Fprintf(c.out, "\n  --- SESSION ---\n")
	fmt.Fprintf(c.out, "  Opened:        %d\n", stats.TotalOpened)
	fmt.Fprintf(c.out, "  Closed:        %d\n", stats.ClosedPositions)
	fmt.Fprintf(c.out, "  Failed opens:  %d\n", stats.FailedOpens)
	if stats.StuckPositions > 0 {
		fmt.Fprintf(c.out, "  STUCK:         %d  << manual intervention required\n", stats.StuckPositions)
	}
	fmt.Fprintf(c.out, "  Volume:        $%.2f\n", stats.CumulativeVolumeUSD)
	fmt.Fprintf(c.out, "  Spread cost:   $%.4f\n", stats.CumulativeSpreadCostUSD)
	fmt.Fprintf(c.out, "  Realized PnL:  $%.4f\n", stats.CumulativeRealizedPnLUSD)
	if stats.ClosedPositions > 0 {
		fmt.Fprintf(c.out, "  Avg hold:      %s\n", stats.AverageHoldDuration.Round(time.Second))
		fmt.Fprintf(c.out, "  Avg spread$:   %.4f\n", stats.AverageSpreadCostUSD)
	}
	fmt.Fprintln(c.out)
}

// --- helpers ---

func sumTargetsUSD(targets []domain.Target) float64 {
	total := 0.0
	for _, t := range targets {
		total += t.DailyTargetUSD
	}
	return total
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func pctOf(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}

// progressBar dibuja una barra tipo [####......] 42.0%.
func progressBar(rate float64, width int) string {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	filled := int(rate * float64(width))
	return fmt.Sprintf("[%s%s] %.1f%%",
		strings.Repeat("#", filled),
		strings.Repeat(".", width-filled),
		rate*100)
}
