package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

// Config es la configuración completa del engine de hedging.
type Config struct {
	Engine  EngineConfig   `yaml:"engine"`
	Risk    RiskConfig     `yaml:"risk"`
	Venues  []VenueConfig  `yaml:"venues"`
	Targets []TargetConfig `yaml:"targets"`
	Storage StorageConfig  `yaml:"storage"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Log     LogConfig      `yaml:"log"`
}

// EngineConfig controla los loops del engine.
type EngineConfig struct {
	MonitorIntervalSeconds int   `yaml:"monitor_interval_seconds"`
	QuoteRefreshSeconds    int   `yaml:"quote_refresh_seconds"`
	QuoteStalenessSeconds  int   `yaml:"quote_staleness_seconds"`
	LegTimeoutSeconds      int   `yaml:"leg_timeout_seconds"`
	ReportIntervalSeconds  int   `yaml:"report_interval_seconds"`
	Seed                   int64 `yaml:"seed"` // 0 = derivar del reloj
	AssumeMaker            bool  `yaml:"assume_maker"`
}

// RiskConfig es la sección de límites de riesgo del YAML. Se proyecta a
// domain.RiskLimits, que es quien valida.
type RiskConfig struct {
	MinIntervalSeconds int `yaml:"min_interval_seconds"`
	MaxIntervalSeconds int `yaml:"max_interval_seconds"`

	MinLifetimeSeconds int `yaml:"min_lifetime_seconds"`
	MaxLifetimeSeconds int `yaml:"max_lifetime_seconds"`

	MinSizeUSD float64 `yaml:"min_size_usd"`
	MaxSizeUSD float64 `yaml:"max_size_usd"`
	Leverage   float64 `yaml:"leverage"`

	MinProfitThresholdPct float64 `yaml:"min_profit_threshold_pct"`
	MinFundBalanceUSD     float64 `yaml:"min_fund_balance_usd"`
	MaxSpreadTolerancePct float64 `yaml:"max_spread_tolerance_pct"`
	MaxSpreadCostUSD      float64 `yaml:"max_spread_cost_usd"`

	DailyMaxVolumeUSD      float64 `yaml:"daily_max_volume_usd"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"`
}

// VenueConfig describe un exchange conectado.
type VenueConfig struct {
	Name      string  `yaml:"name"`
	TakerRate float64 `yaml:"taker_rate"`
	MakerRate float64 `yaml:"maker_rate"` // puede ser negativo (rebate)

	// Parámetros solo usados en modo paper.
	PaperInitialUSD  float64 `yaml:"paper_initial_usd"`
	PaperFailureRate float64 `yaml:"paper_failure_rate"`
	PaperSpreadPct   float64 `yaml:"paper_spread_pct"`
}

// TargetConfig es el objetivo de volumen diario de un símbolo.
type TargetConfig struct {
	Symbol         string  `yaml:"symbol"`
	DailyTargetUSD float64 `yaml:"daily_target_usd"`
	Priority       int     `yaml:"priority"`

	// PaperMidPrice es el precio inicial del random walk en modo paper.
	PaperMidPrice float64 `yaml:"paper_mid_price"`
}

// StorageConfig controla dónde se persiste el histórico.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, ":memory:" o "" para desactivar
}

// MetricsConfig controla el endpoint Prometheus.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // ej. ":9090", "" para desactivar
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RiskLimits proyecta la sección de riesgo al tipo de dominio.
func (c *Config) RiskLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MinInterval:            time.Duration(c.Risk.MinIntervalSeconds) * time.Second,
		MaxInterval:            time.Duration(c.Risk.MaxIntervalSeconds) * time.Second,
		MinPositionLifetime:    time.Duration(c.Risk.MinLifetimeSeconds) * time.Second,
		MaxPositionLifetime:    time.Duration(c.Risk.MaxLifetimeSeconds) * time.Second,
		MinSizeUSD:             c.Risk.MinSizeUSD,
		MaxSizeUSD:             c.Risk.MaxSizeUSD,
		Leverage:               c.Risk.Leverage,
		MinProfitThresholdPct:  c.Risk.MinProfitThresholdPct,
		MinFundBalanceUSD:      c.Risk.MinFundBalanceUSD,
		MaxSpreadTolerancePct:  c.Risk.MaxSpreadTolerancePct,
		MaxSpreadCostUSD:       c.Risk.MaxSpreadCostUSD,
		DailyMaxVolumeUSD:      c.Risk.DailyMaxVolumeUSD,
		MaxConcurrentPositions: c.Risk.MaxConcurrentPositions,
	}
}

// VolumeTargets proyecta los objetivos de volumen al tipo de dominio.
func (c *Config) VolumeTargets() []domain.Target {
	out := make([]domain.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		out = append(out, domain.Target{
			Symbol:         t.Symbol,
			DailyTargetUSD: t.DailyTargetUSD,
			Priority:       t.Priority,
		})
	}
	return out
}

// Fees proyecta los schedules de comisiones al tipo de dominio.
func (c *Config) Fees() []domain.FeeSchedule {
	out := make([]domain.FeeSchedule, 0, len(c.Venues))
	for _, v := range c.Venues {
		out = append(out, domain.FeeSchedule{
			Venue:     v.Name,
			TakerRate: v.TakerRate,
			MakerRate: v.MakerRate,
		})
	}
	return out
}

// MonitorInterval devuelve el intervalo de monitorización como time.Duration.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Engine.MonitorIntervalSeconds) * time.Second
}

// QuoteRefresh devuelve el intervalo de refresco de quotes.
func (c *Config) QuoteRefresh() time.Duration {
	return time.Duration(c.Engine.QuoteRefreshSeconds) * time.Second
}

// QuoteStaleness devuelve la edad máxima de un quote utilizable.
func (c *Config) QuoteStaleness() time.Duration {
	return time.Duration(c.Engine.QuoteStalenessSeconds) * time.Second
}

// LegTimeout devuelve el timeout por orden de pierna.
func (c *Config) LegTimeout() time.Duration {
	return time.Duration(c.Engine.LegTimeoutSeconds) * time.Second
}

// ReportInterval devuelve la cadencia del report de consola.
func (c *Config) ReportInterval() time.Duration {
	return time.Duration(c.Engine.ReportIntervalSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("HEDGEFARM_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("HEDGEFARM_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("HEDGEFARM_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.Seed = seed
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.MonitorIntervalSeconds <= 0 {
		cfg.Engine.MonitorIntervalSeconds = 30
	}
	if cfg.Engine.QuoteRefreshSeconds <= 0 {
		cfg.Engine.QuoteRefreshSeconds = 2
	}
	if cfg.Engine.QuoteStalenessSeconds <= 0 {
		cfg.Engine.QuoteStalenessSeconds = 10
	}
	if cfg.Engine.LegTimeoutSeconds <= 0 {
		cfg.Engine.LegTimeoutSeconds = 30
	}
	if cfg.Engine.ReportIntervalSeconds <= 0 {
		cfg.Engine.ReportIntervalSeconds = 60
	}
	if cfg.Engine.Seed == 0 {
		cfg.Engine.Seed = time.Now().UnixNano()
	}
	if cfg.Risk.Leverage <= 0 {
		cfg.Risk.Leverage = 1
	}
	if cfg.Risk.MaxConcurrentPositions <= 0 {
		cfg.Risk.MaxConcurrentPositions = 5
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	for i := range cfg.Venues {
		if cfg.Venues[i].PaperInitialUSD <= 0 {
			cfg.Venues[i].PaperInitialUSD = 10000
		}
	}
	for i := range cfg.Targets {
		if cfg.Targets[i].Priority < 1 {
			cfg.Targets[i].Priority = 1
		}
		if cfg.Targets[i].PaperMidPrice <= 0 {
			cfg.Targets[i].PaperMidPrice = 100
		}
	}
}

// validate rechaza configuraciones estructuralmente inviables antes de
// construir nada. Los límites numéricos los valida domain.RiskLimits.
func (c *Config) validate() error {
	if len(c.Venues) < 2 {
		return fmt.Errorf("config: %w: need at least 2 venues, got %d",
			domain.ErrConfigInvalid, len(c.Venues))
	}
	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		if v.Name == "" {
			return fmt.Errorf("config: %w: venue with empty name", domain.ErrConfigInvalid)
		}
		if seen[v.Name] {
			return fmt.Errorf("config: %w: duplicate venue %q", domain.ErrConfigInvalid, v.Name)
		}
		seen[v.Name] = true
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("config: %w: no volume targets defined", domain.ErrConfigInvalid)
	}
	for _, t := range c.Targets {
		if t.Symbol == "" {
			return fmt.Errorf("config: %w: target with empty symbol", domain.ErrConfigInvalid)
		}
	}
	return c.RiskLimits().Validate()
}
