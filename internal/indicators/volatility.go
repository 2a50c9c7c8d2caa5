package indicators

import (
	"fmt"
	"math"

	"auto_ig/internal/models"
)

// TrueRange: max(h-l, |h-prevClose|, |l-prevClose|), len(bars)-1 values.
func TrueRange(bars []models.Bar, src Source) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(bars)-1)
	prev := src.Of(bars[0].Close)
	for _, b := range bars[1:] {
		h, l := src.Of(b.High), src.Of(b.Low)
		out = append(out, math.Max(h-l, math.Max(math.Abs(h-prev), math.Abs(l-prev))))
		prev = src.Of(b.Close)
	}
	return out
}

// ATR: Wilder average of the true range, seeded with the mean of the first n.
// Returns the ATR series (len(tr)-n+1 values) and the true range.
func ATR(bars []models.Bar, n int, src Source) (atr, tr []float64) {
	tr = TrueRange(bars, src)
	if n <= 0 || len(tr) < n {
		return nil, tr
	}
	avg := 0.0
	for _, x := range tr[:n] {
		avg += x
	}
	avg /= float64(n)
	atr = make([]float64, 0, len(tr)-n+1)
	atr = append(atr, avg)
	for _, x := range tr[n:] {
		avg = (avg*float64(n-1) + x) / float64(n)
		atr = append(atr, avg)
	}
	Write(bars, fmt.Sprintf("atr_%d", n), atr)
	return atr, tr
}

type BandsResult struct {
	Upper []float64
	Lower []float64
	Basis []float64
}

// Bollinger: SMA basis ± mult population standard deviations.
func Bollinger(v []float64, n int, mult float64) BandsResult {
	basis := SMA(v, n)
	if len(basis) == 0 {
		return BandsResult{}
	}
	up := make([]float64, len(basis))
	lo := make([]float64, len(basis))
	for i, m := range basis {
		sq := 0.0
		for _, x := range v[i : i+n] {
			sq += (x - m) * (x - m)
		}
		dev := math.Sqrt(sq/float64(n)) * mult
		up[i], lo[i] = m+dev, m-dev
	}
	return BandsResult{Upper: up, Lower: lo, Basis: basis}
}

func BollingerBars(bars []models.Bar, n int, mult float64, src Source) BandsResult {
	r := Bollinger(Closes(bars, src), n, mult)
	Write(bars, fmt.Sprintf("bb_%d_upper", n), r.Upper)
	Write(bars, fmt.Sprintf("bb_%d_lower", n), r.Lower)
	return r
}
