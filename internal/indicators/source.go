package indicators

import "auto_ig/internal/models"

// Source selects which side of the book an indicator reads.
type Source int

const (
	Mid Source = iota
	Bid
	Ask
)

func (s Source) Of(p models.Price) float64 {
	switch s {
	case Bid:
		return p.Bid
	case Ask:
		return p.Ask
	default:
		return p.Mid
	}
}

func (s Source) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "mid"
	}
}

func Opens(bars []models.Bar, src Source) []float64 {
	return pluck(bars, func(b models.Bar) float64 { return src.Of(b.Open) })
}

func Highs(bars []models.Bar, src Source) []float64 {
	return pluck(bars, func(b models.Bar) float64 { return src.Of(b.High) })
}

func Lows(bars []models.Bar, src Source) []float64 {
	return pluck(bars, func(b models.Bar) float64 { return src.Of(b.Low) })
}

func Closes(bars []models.Bar, src Source) []float64 {
	return pluck(bars, func(b models.Bar) float64 { return src.Of(b.Close) })
}

func Volumes(bars []models.Bar) []float64 {
	return pluck(bars, func(b models.Bar) float64 { return b.Volume })
}

// Typical is (high+low+close)/3.
func Typical(bars []models.Bar, src Source) []float64 {
	return pluck(bars, func(b models.Bar) float64 {
		return (src.Of(b.High) + src.Of(b.Low) + src.Of(b.Close)) / 3
	})
}

// HL2 is (high+low)/2.
func HL2(bars []models.Bar, src Source) []float64 {
	return pluck(bars, func(b models.Bar) float64 { return (src.Of(b.High) + src.Of(b.Low)) / 2 })
}

func pluck(bars []models.Bar, f func(models.Bar) float64) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = f(b)
	}
	return out
}

// Write annotates the last len(vals) bars with vals under key.
func Write(bars []models.Bar, key string, vals []float64) {
	diff := len(bars) - len(vals)
	for i, v := range vals {
		if diff+i < 0 {
			continue
		}
		bars[diff+i].Set(key, v)
	}
}

// Series reads key back from the bars that carry it, oldest first.
func Series(bars []models.Bar, key string) []float64 {
	out := make([]float64, 0, len(bars))
	for _, b := range bars {
		if v, ok := b.Get(key); ok {
			out = append(out, v)
		}
	}
	return out
}

// Last returns the last element, or 0 for an empty slice.
func Last(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}

// Tail returns the last n elements (fewer if vals is shorter).
func Tail(vals []float64, n int) []float64 {
	if n >= len(vals) {
		return vals
	}
	return vals[len(vals)-n:]
}
