package domain

// targetWeightEpsilon evita que un target completado tenga peso cero:
// sigue siendo elegible pero casi nunca sale elegido.
const targetWeightEpsilon = 1e-4

// Target es el objetivo de volumen diario de un símbolo.
// CompletedUSD lo actualiza el agregador de estadísticas en cada apertura
// completada y se resetea en el cambio de día UTC.
type Target struct {
	Symbol         string
	DailyTargetUSD float64
	Priority       int // >= 1
	CompletedUSD   float64
}

// CompletionRate devuelve la fracción completada, acotada a [0, 1].
func (t Target) CompletionRate() float64 {
	if t.DailyTargetUSD <= 0 {
		return 1.0
	}
	r := t.CompletedUSD / t.DailyTargetUSD
	if r > 1 {
		return 1
	}
	return r
}

// RemainingUSD devuelve el volumen que falta para completar el objetivo.
func (t Target) RemainingUSD() float64 {
	r := t.DailyTargetUSD - t.CompletedUSD
	if r < 0 {
		return 0
	}
	return r
}

// Weight es el peso de muestreo: prioridad por fracción incompleta,
// con suelo en epsilon para que un target completado no desaparezca.
func (t Target) Weight() float64 {
	w := float64(t.Priority) * (1 - t.CompletionRate())
	if w < targetWeightEpsilon {
		return targetWeightEpsilon
	}
	return w
}

// Selectable indica si el target participa en la selección.
func (t Target) Selectable() bool {
	return t.DailyTargetUSD > 0
}
