package indicators

import "auto_ig/internal/models"

// CrossoverAt: a crossed above b between i-1 and i. a and b share indices.
func CrossoverAt(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) {
		return false
	}
	return a[i] > b[i] && a[i-1] < b[i-1]
}

func CrossunderAt(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) {
		return false
	}
	return a[i] < b[i] && a[i-1] > b[i-1]
}

// Crossover compares the last two values of each (tail aligned) series.
func Crossover(a, b []float64) bool {
	if len(a) < 2 || len(b) < 2 {
		return false
	}
	return CrossoverAt(a[len(a)-2:], b[len(b)-2:], 1)
}

func Crossunder(a, b []float64) bool {
	if len(a) < 2 || len(b) < 2 {
		return false
	}
	return CrossunderAt(a[len(a)-2:], b[len(b)-2:], 1)
}

func CrossoverValue(a []float64, v float64) bool {
	return Crossover(a, []float64{v, v})
}

func CrossunderValue(a []float64, v float64) bool {
	return Crossunder(a, []float64{v, v})
}

// IsAbove reports v >= every arg.
func IsAbove(v float64, args ...float64) bool {
	for _, a := range args {
		if v < a {
			return false
		}
	}
	return true
}

func IsBelow(v float64, args ...float64) bool {
	for _, a := range args {
		if v > a {
			return false
		}
	}
	return true
}

// CandleOver: the last candle opened and closed above the series while the
// previous one had a body part below it. Compares bids.
func CandleOver(series []float64, bars []models.Bar) bool {
	if len(series) < 2 || len(bars) < 2 {
		return false
	}
	now, prev := bars[len(bars)-1], bars[len(bars)-2]
	s1, s0 := series[len(series)-1], series[len(series)-2]
	return now.Close.Bid > s1 && now.Open.Bid > s1 &&
		(prev.Close.Bid < s0 || prev.Open.Bid < s0)
}

func CandleUnder(series []float64, bars []models.Bar) bool {
	if len(series) < 2 || len(bars) < 2 {
		return false
	}
	now, prev := bars[len(bars)-1], bars[len(bars)-2]
	s1, s0 := series[len(series)-1], series[len(series)-2]
	return now.Close.Bid < s1 && now.Open.Bid < s1 &&
		(prev.Close.Bid > s0 || prev.Open.Bid > s0)
}
