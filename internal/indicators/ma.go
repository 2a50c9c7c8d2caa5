package indicators

import (
	"fmt"

	"auto_ig/internal/models"
)

// SMA: simple moving average, len(v)-n+1 values.
func SMA(v []float64, n int) []float64 {
	if n <= 0 || len(v) < n {
		return nil
	}
	out := make([]float64, 0, len(v)-n+1)
	sum := 0.0
	for i, x := range v {
		sum += x
		if i >= n {
			sum -= v[i-n]
		}
		if i >= n-1 {
			out = append(out, sum/float64(n))
		}
	}
	return out
}

// EMA: alpha 2/(n+1), seeded with the first value; same length as v.
func EMA(v []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	return smooth(v, 2.0/float64(n+1))
}

// RMA: Wilder's running average, alpha 1/n, seeded with the first value.
func RMA(v []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	return smooth(v, 1.0/float64(n))
}

func smooth(v []float64, alpha float64) []float64 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, len(v))
	out[0] = v[0]
	for i := 1; i < len(v); i++ {
		out[i] = alpha*v[i] + (1-alpha)*out[i-1]
	}
	return out
}

// WMA: linear weights 1..n, newest heaviest.
func WMA(v []float64, n int) []float64 {
	if n <= 0 || len(v) < n {
		return nil
	}
	den := float64(n*(n+1)) / 2
	out := make([]float64, 0, len(v)-n+1)
	for i := n - 1; i < len(v); i++ {
		num := 0.0
		for w := 1; w <= n; w++ {
			num += float64(w) * v[i-n+w]
		}
		out = append(out, num/den)
	}
	return out
}

// VWMA: volume weighted average of closes.
func VWMA(closes, volumes []float64, n int) []float64 {
	if len(closes) != len(volumes) {
		return nil
	}
	cv := make([]float64, len(closes))
	for i := range closes {
		cv[i] = closes[i] * volumes[i]
	}
	num, den := SMA(cv, n), SMA(volumes, n)
	out := make([]float64, len(num))
	for i := range num {
		if den[i] == 0 {
			out[i] = closes[len(closes)-len(num)+i]
			continue
		}
		out[i] = num[i] / den[i]
	}
	return out
}

// TEMA: 3*e1 - 3*e2 + e3 over chained EMAs.
func TEMA(v []float64, n int) []float64 {
	e1 := EMA(v, n)
	e2 := EMA(e1, n)
	e3 := EMA(e2, n)
	out := make([]float64, len(e3))
	for i := range e3 {
		out[i] = 3*e1[i] - 3*e2[i] + e3[i]
	}
	return out
}

// ROC: (v[i]-v[i-n])/v[i-n], len(v)-n values.
func ROC(v []float64, n int) []float64 {
	if n <= 0 || len(v) <= n {
		return nil
	}
	out := make([]float64, 0, len(v)-n)
	for i := n; i < len(v); i++ {
		if v[i-n] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (v[i]-v[i-n])/v[i-n])
	}
	return out
}

// ---- bar helpers: compute on closes and annotate ----

func SMABars(bars []models.Bar, n int, src Source) []float64 {
	out := SMA(Closes(bars, src), n)
	Write(bars, fmt.Sprintf("ma_%d", n), out)
	return out
}

func EMABars(bars []models.Bar, n int, src Source) []float64 {
	out := EMA(Closes(bars, src), n)
	Write(bars, fmt.Sprintf("ema_%d", n), out)
	return out
}

func WMABars(bars []models.Bar, n int, src Source) []float64 {
	out := WMA(Closes(bars, src), n)
	Write(bars, fmt.Sprintf("wma_%d", n), out)
	return out
}

func RMABars(bars []models.Bar, n int, src Source) []float64 {
	out := RMA(Closes(bars, src), n)
	Write(bars, fmt.Sprintf("rma_%d", n), out)
	return out
}

func VWMABars(bars []models.Bar, n int, src Source) []float64 {
	out := VWMA(Closes(bars, src), Volumes(bars), n)
	Write(bars, fmt.Sprintf("vwma_%d", n), out)
	return out
}

func TEMABars(bars []models.Bar, n int, src Source) []float64 {
	out := TEMA(Closes(bars, src), n)
	Write(bars, fmt.Sprintf("tema_%d", n), out)
	return out
}

func ROCBars(bars []models.Bar, n int, src Source) []float64 {
	out := ROC(Closes(bars, src), n)
	Write(bars, fmt.Sprintf("roc_%d", n), out)
	return out
}
