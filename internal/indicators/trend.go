package indicators

import (
	"auto_ig/internal/models"
)

type PSARResult struct {
	SAR  []float64
	Bull []bool
}

// PSAR: parabolic stop and reverse. iaf is both the initial factor and the
// step, maxaf caps it. The first two values equal the closes.
func PSAR(bars []models.Bar, iaf, maxaf float64, src Source) PSARResult {
	n := len(bars)
	if n < 3 {
		return PSARResult{}
	}
	hi, lo := Highs(bars, src), Lows(bars, src)
	sar := Closes(bars, src)
	bull := make([]bool, n)
	bull[0], bull[1] = true, true

	up := true
	af := iaf
	hp, lp := hi[0], lo[0]
	for i := 2; i < n; i++ {
		if up {
			sar[i] = sar[i-1] + af*(hp-sar[i-1])
		} else {
			sar[i] = sar[i-1] + af*(lp-sar[i-1])
		}

		reverse := false
		if up && lo[i] < sar[i] {
			up, reverse = false, true
			sar[i] = hp
			lp = lo[i]
			af = iaf
		} else if !up && hi[i] > sar[i] {
			up, reverse = true, true
			sar[i] = lp
			hp = hi[i]
			af = iaf
		}

		if !reverse {
			if up {
				if hi[i] > hp {
					hp = hi[i]
					af = min(af+iaf, maxaf)
				}
				sar[i] = min(sar[i], lo[i-1], lo[i-2])
			} else {
				if lo[i] < lp {
					lp = lo[i]
					af = min(af+iaf, maxaf)
				}
				sar[i] = max(sar[i], hi[i-1], hi[i-2])
			}
		}
		bull[i] = up
	}

	for i := 2; i < n; i++ {
		bars[i].Set("psar", sar[i])
		flag := 0.0
		if bull[i] {
			flag = 1
		}
		bars[i].Set("psar_bull", flag)
	}
	return PSARResult{SAR: sar, Bull: bull}
}

// LinReg: least squares fit of (high+low)/2 against the bar index.
func LinReg(bars []models.Bar, src Source) (slope, intercept float64) {
	y := HL2(bars, src)
	n := float64(len(y))
	if len(y) < 2 {
		if len(y) == 1 {
			return 0, y[0]
		}
		return 0, 0
	}
	var sx, sy, sxx, sxy float64
	for i, v := range y {
		x := float64(i)
		sx += x
		sy += v
		sxx += x * x
		sxy += x * v
	}
	den := n*sxx - sx*sx
	slope = (n*sxy - sx*sy) / den
	intercept = (sy - slope*sx) / n
	return slope, intercept
}

// Trend: mean step of the sequence; positive when rising.
func Trend(v []float64) float64 {
	if len(v) < 2 {
		return 0
	}
	total := 0.0
	for i := 1; i < len(v); i++ {
		total += v[i] - v[i-1]
	}
	return total / float64(len(v))
}
