package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PositionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hedgefarm_positions_opened_total", Help: "Positions that reached OPEN"},
		[]string{"symbol"},
	)
	FailedOpens = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hedgefarm_failed_opens_total", Help: "Open attempts that ended in FAILED_OPEN"},
		[]string{"symbol"},
	)
	VolumeUSD = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hedgefarm_volume_usd_total", Help: "Cumulative USD notional of opened positions"},
	)
	SpreadCostUSD = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hedgefarm_spread_cost_usd_total", Help: "Cumulative spread cost of opened positions"},
	)
	RealizedPnLUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hedgefarm_realized_pnl_usd", Help: "Cumulative realized PnL (can go negative)"},
	)
	ActivePositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hedgefarm_active_positions", Help: "Positions currently holding a capacity slot"},
	)
	StuckPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hedgefarm_stuck_positions", Help: "Positions with unresolved one-sided exposure"},
	)
)

func init() {
	prometheus.MustRegister(
		PositionsOpened, FailedOpens, VolumeUSD, SpreadCostUSD,
		RealizedPnLUSD, ActivePositions, StuckPositions,
	)
}

// Serve exposes /metrics on addr in a background goroutine.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
