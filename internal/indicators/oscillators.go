package indicators

import (
	"fmt"

	"auto_ig/internal/models"
)

// RSI: Wilder smoothing. The first average is the mean of the first n
// gains/losses; result i describes v[n+i].
func RSI(v []float64, n int) []float64 {
	if n <= 0 || len(v) <= n {
		return nil
	}
	up, down := 0.0, 0.0
	for i := 1; i <= n; i++ {
		d := v[i] - v[i-1]
		if d > 0 {
			up += d
		} else {
			down -= d
		}
	}
	up /= float64(n)
	down /= float64(n)

	out := make([]float64, 0, len(v)-n)
	out = append(out, rsiValue(up, down))
	for i := n + 1; i < len(v); i++ {
		d := v[i] - v[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		up = (up*float64(n-1) + g) / float64(n)
		down = (down*float64(n-1) + l) / float64(n)
		out = append(out, rsiValue(up, down))
	}
	return out
}

func rsiValue(up, down float64) float64 {
	switch {
	case down == 0 && up == 0:
		return 50
	case down == 0:
		return 100
	}
	return 100 - 100/(1+up/down)
}

func RSIBars(bars []models.Bar, n int, src Source) []float64 {
	out := RSI(Closes(bars, src), n)
	Write(bars, fmt.Sprintf("rsi_%d", n), out)
	return out
}

type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD: EMA(fast)-EMA(slow), its EMA(signal) and the difference.
func MACD(v []float64, fast, slow, signal int) MACDResult {
	f, s := EMA(v, fast), EMA(v, slow)
	if len(f) == 0 || len(f) != len(s) {
		return MACDResult{}
	}
	m := make([]float64, len(f))
	for i := range f {
		m[i] = f[i] - s[i]
	}
	sig := EMA(m, signal)
	h := make([]float64, len(m))
	for i := range m {
		h[i] = m[i] - sig[i]
	}
	return MACDResult{MACD: m, Signal: sig, Histogram: h}
}

func MACDBars(bars []models.Bar, fast, slow, signal int, src Source) MACDResult {
	r := MACD(Closes(bars, src), fast, slow, signal)
	Write(bars, "macd", r.MACD)
	Write(bars, "macd_signal", r.Signal)
	Write(bars, "macd_histogram", r.Histogram)
	return r
}

type StochResult struct {
	K []float64
	D []float64
}

// Stochastic: raw %K over length bars, smoothed by SMA(smoothK); %D = SMA(%K, smoothD).
// K is trimmed to D's length. A flat window (HH == LL) reads 50.
func Stochastic(bars []models.Bar, length, smoothK, smoothD int, src Source) StochResult {
	if length <= 0 || len(bars) < length {
		return StochResult{}
	}
	hi, lo, cl := Highs(bars, src), Lows(bars, src), Closes(bars, src)
	raw := make([]float64, 0, len(bars)-length+1)
	for i := length - 1; i < len(bars); i++ {
		hh, ll := hi[i], lo[i]
		for j := i - length + 1; j <= i; j++ {
			hh = max(hh, hi[j])
			ll = min(ll, lo[j])
		}
		if hh == ll {
			raw = append(raw, 50)
			continue
		}
		raw = append(raw, (cl[i]-ll)/(hh-ll)*100)
	}
	k := SMA(raw, smoothK)
	d := SMA(k, smoothD)
	if len(d) == 0 {
		return StochResult{}
	}
	k = k[len(k)-len(d):]

	name := fmt.Sprintf("%d_%d_%d", length, smoothK, smoothD)
	Write(bars, "stoch_k_"+name, k)
	Write(bars, "stoch_d_"+name, d)
	return StochResult{K: k, D: d}
}

// MFI: money flow index over typical price. len(bars)-n values.
func MFI(bars []models.Bar, n int, src Source) []float64 {
	if n <= 0 || len(bars) <= n {
		return nil
	}
	tp, vol := Typical(bars, src), Volumes(bars)
	pos := make([]float64, len(bars)-1)
	neg := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		flow := tp[i] * vol[i]
		if tp[i-1] < tp[i] {
			pos[i-1] = flow
		} else {
			neg[i-1] = flow
		}
	}
	ps, ns := rollingSum(pos, n), rollingSum(neg, n)
	out := make([]float64, len(ps))
	for i := range ps {
		out[i] = rsiValue(ps[i], ns[i])
	}
	Write(bars, fmt.Sprintf("mfi_%d", n), out)
	return out
}

// OBV: on-balance volume minus its WMA(smooth) signal.
func OBV(bars []models.Bar, smooth int, src Source) []float64 {
	if len(bars) < 2 {
		return nil
	}
	cl, vol := Closes(bars, src), Volumes(bars)
	obv := make([]float64, len(bars)-1)
	acc := 0.0
	for i := 1; i < len(bars); i++ {
		switch d := cl[i] - cl[i-1]; {
		case d > 0:
			acc += vol[i]
		case d < 0:
			acc -= vol[i]
		}
		obv[i-1] = acc
	}
	sig := WMA(obv, smooth)
	if len(sig) == 0 {
		return nil
	}
	obv = obv[len(obv)-len(sig):]
	out := make([]float64, len(sig))
	for i := range sig {
		out[i] = obv[i] - sig[i]
	}
	Write(bars, fmt.Sprintf("obv_%d", smooth), out)
	return out
}

func rollingSum(v []float64, n int) []float64 {
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
			out = append(out, sum)
		}
	}
	return out
}
