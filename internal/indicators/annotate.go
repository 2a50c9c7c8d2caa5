package indicators

import "auto_ig/internal/models"

// Standard set refreshed on every timeframe each cycle.
const (
	FastEMA   = 8
	SlowEMA   = 20
	RSIPeriod = 14
	ATRPeriod = 14
)

// Annotate writes ema_8, ema_20, rsi_14 and atr_14 onto bars in place.
func Annotate(bars []models.Bar, src Source) {
	if len(bars) == 0 {
		return
	}
	EMABars(bars, FastEMA, src)
	EMABars(bars, SlowEMA, src)
	RSIBars(bars, RSIPeriod, src)
	ATR(bars, ATRPeriod, src)
}
