package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/hedgefarm/internal/adapters/notify"
	"github.com/alejandrodnm/hedgefarm/internal/application/engine"
)

// reportLoop imprime el estado del engine con la cadencia configurada.
func reportLoop(ctx context.Context, eng *engine.Engine, notifier *notify.Console, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report(ctx, eng, notifier)
		}
	}
}

func report(ctx context.Context, eng *engine.Engine, notifier *notify.Console) {
	stats := eng.SnapshotStats()
	positions := eng.SnapshotPositions()
	targets := eng.SnapshotTargets()
	if err := notifier.Report(ctx, stats, positions, targets); err != nil {
		slog.Warn("notifier error", "err", err)
	}
}

// finalReport imprime el resumen de la sesión tras el shutdown.
func finalReport(eng *engine.Engine, notifier *notify.Console) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report(ctx, eng, notifier)
}
