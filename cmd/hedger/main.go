package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alejandrodnm/hedgefarm/config"
	"github.com/alejandrodnm/hedgefarm/internal/adapters/notify"
	"github.com/alejandrodnm/hedgefarm/internal/adapters/storage"
	"github.com/alejandrodnm/hedgefarm/internal/adapters/venue"
	"github.com/alejandrodnm/hedgefarm/internal/application/engine"
	"github.com/alejandrodnm/hedgefarm/internal/metrics"
	"github.com/alejandrodnm/hedgefarm/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	paper := flag.Bool("paper", false, "run against simulated venues (no real orders)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full status tables (default: compact 1-line)")
	closeAll := flag.Bool("close-all", false, "drain: close every open position on shutdown")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("hedgefarm starting",
		"config", *configPath,
		"paper", *paper,
		"venues", len(cfg.Venues),
		"targets", len(cfg.Targets),
	)

	venues, err := buildVenues(cfg, *paper)
	if err != nil {
		slog.Error("failed to build venues", "err", err)
		os.Exit(1)
	}

	var history ports.HistoryStorage
	if cfg.Storage.DSN != "" {
		store, err := storage.NewSQLiteHistory(cfg.Storage.DSN)
		if err != nil {
			slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
			os.Exit(1)
		}
		defer store.Close()
		history = store
	}

	engCfg := engine.Config{
		MonitorInterval:      cfg.MonitorInterval(),
		QuoteRefreshInterval: cfg.QuoteRefresh(),
		LegTimeout:           cfg.LegTimeout(),
		Seed:                 cfg.Engine.Seed,
		AssumeMaker:          cfg.Engine.AssumeMaker,
	}

	eng, err := engine.New(engCfg, cfg.RiskLimits(), venues, cfg.Fees(),
		cfg.VolumeTargets(), history, cfg.QuoteStaleness())
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		os.Exit(1)
	}

	if cfg.Metrics.Addr != "" {
		srv := metrics.Serve(cfg.Metrics.Addr)
		defer srv.Close()
		slog.Info("metrics listening", "addr", cfg.Metrics.Addr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	notifier := notify.NewConsole(*table)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reportLoop(ctx, eng, notifier, cfg.ReportInterval())
	}()

	err = eng.Run(ctx)

	// Por defecto las posiciones OPEN quedan reportadas para reanudación;
	// con -close-all se drenan antes de salir.
	if *closeAll {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		eng.CloseAll(shutdownCtx)
		shutdownCancel()
	}

	wg.Wait()
	finalReport(eng, notifier)

	if err != nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("hedgefarm stopped cleanly")
}

// buildVenues construye los conectores. En modo paper cada venue es un
// simulador con su propia semilla; en modo real aquí se cablearían los
// clients de exchange.
func buildVenues(cfg *config.Config, paper bool) ([]ports.Venue, error) {
	if !paper {
		slog.Warn("live venue connectors not configured, falling back to paper mode")
	}

	mids := make(map[string]float64, len(cfg.Targets))
	for _, t := range cfg.Targets {
		mids[t.Symbol] = t.PaperMidPrice
	}

	out := make([]ports.Venue, 0, len(cfg.Venues))
	for i, v := range cfg.Venues {
		out = append(out, venue.NewPaper(venue.PaperConfig{
			Name:        v.Name,
			InitialUSD:  v.PaperInitialUSD,
			SpreadPct:   v.PaperSpreadPct,
			FailureRate: v.PaperFailureRate,
			Latency:     50 * time.Millisecond,
			Seed:        cfg.Engine.Seed + int64(i)*7919,
		}, mids))
	}
	return out, nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
