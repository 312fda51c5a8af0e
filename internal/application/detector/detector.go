package detector

// detector.go — detección de oportunidades cross-venue.
//
// Para cada par de venues evalúa las dos direcciones (largo en A /
// corto en B, y al revés) sobre el snapshot de la cache, ajusta por
// comisiones y filtra por los umbrales de riesgo.

import (
	"sort"

	"github.com/alejandrodnm/hedgefarm/internal/domain"
)

// Config controla los umbrales y el modo de comisiones del detector.
type Config struct {
	MinProfitThresholdPct float64
	MaxSpreadTolerancePct float64

	// AssumeMaker calcula el neto con maker rates en ambas piernas
	// (los rebates, rate negativo, mejoran el neto). Por defecto se
	// asume taker en ambas.
	AssumeMaker bool
}

// Detector calcula oportunidades fee-adjusted a partir de snapshots.
type Detector struct {
	cfg  Config
	fees map[string]domain.FeeSchedule // venue → schedule
}

// New crea un detector con las fee schedules dadas.
func New(cfg Config, fees []domain.FeeSchedule) *Detector {
	byVenue := make(map[string]domain.FeeSchedule, len(fees))
	for _, f := range fees {
		byVenue[f.Venue] = f
	}
	return &Detector{cfg: cfg, fees: byVenue}
}

// Detect evalúa todas las direcciones de todos los pares de venues para
// un símbolo. Devuelve las oportunidades que califican ordenadas por
// beneficio neto descendente. Lista vacía es un resultado válido.
func (d *Detector) Detect(symbol string, venues []string, snap Snapshot) []domain.Opportunity {
	var opps []domain.Opportunity

	for i := 0; i < len(venues); i++ {
		for j := i + 1; j < len(venues); j++ {
			if opp, ok := d.direction(symbol, venues[i], venues[j], snap); ok {
				opps = append(opps, opp)
			}
			if opp, ok := d.direction(symbol, venues[j], venues[i], snap); ok {
				opps = append(opps, opp)
			}
		}
	}

	sort.Slice(opps, func(a, b int) bool {
		return opps[a].NetProfitPct > opps[b].NetProfitPct
	})
	return opps
}

// direction evalúa comprar en longVenue (al ask) y vender en shortVenue
// (al bid). Descarta la dirección si falta alguna quote o está stale.
func (d *Detector) direction(symbol, longVenue, shortVenue string, snap Snapshot) (domain.Opportunity, bool) {
	longQ, ok := snap.Quote(longVenue, symbol)
	if !ok {
		return domain.Opportunity{}, false
	}
	shortQ, ok := snap.Quote(shortVenue, symbol)
	if !ok {
		return domain.Opportunity{}, false
	}

	longAsk := longQ.BestAsk
	shortBid := shortQ.BestBid
	if longAsk <= 0 {
		return domain.Opportunity{}, false
	}

	grossPct := (shortBid - longAsk) / longAsk * 100
	netPct := grossPct - d.feePct(longVenue) - d.feePct(shortVenue)

	if netPct < d.cfg.MinProfitThresholdPct {
		return domain.Opportunity{}, false
	}
	if abs(grossPct) > d.cfg.MaxSpreadTolerancePct {
		return domain.Opportunity{}, false
	}

	return domain.Opportunity{
		Symbol:         symbol,
		LongVenue:      longVenue,
		ShortVenue:     shortVenue,
		LongPrice:      longAsk,
		ShortPrice:     shortBid,
		GrossSpreadPct: grossPct,
		NetProfitPct:   netPct,
	}, true
}

// feePct devuelve la comisión de una pierna en puntos porcentuales.
func (d *Detector) feePct(venue string) float64 {
	f, ok := d.fees[venue]
	if !ok {
		return 0
	}
	if d.cfg.AssumeMaker {
		return f.MakerRate * 100
	}
	return f.TakerRate * 100
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
