package domain

// Opportunity es el resultado de evaluar un par de venues para un símbolo.
// Es efímera: se recalcula en cada ciclo de detección y nunca se persiste.
type Opportunity struct {
	Symbol     string
	LongVenue  string // venue donde se compra (pierna larga)
	ShortVenue string // venue donde se vende (pierna corta)

	LongPrice  float64 // ask del venue largo — precio al que compramos
	ShortPrice float64 // bid del venue corto — precio al que vendemos

	// GrossSpreadPct = (short_bid - long_ask) / long_ask * 100.
	// Positivo = la pierna corta vende más caro de lo que compra la larga.
	GrossSpreadPct float64

	// NetProfitPct = GrossSpreadPct menos las comisiones de ambas piernas.
	// Es lo que decide si la oportunidad califica.
	NetProfitPct float64
}

// SpreadCostUSD estima el coste de abrir ambas piernas a estos precios.
func (o Opportunity) SpreadCostUSD(sizeBase float64) float64 {
	d := o.LongPrice - o.ShortPrice
	if d < 0 {
		d = -d
	}
	return d * sizeBase
}
