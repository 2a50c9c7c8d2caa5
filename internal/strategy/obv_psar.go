package strategy

import (
	"auto_ig/internal/indicators"
	"auto_ig/internal/models"
)

const PSAROpen = "PSAR_OPEN"

type OBVPSARConfig struct {
	OBVSmooth int     `yaml:"obv_smooth"`
	OBVFast   int     `yaml:"obv_fast"`
	IAF       float64 `yaml:"iaf"`
	MaxAF     float64 `yaml:"max_af"`
}

// OBVPSAR: OBV histogram zero cross or a PSAR flip, in the daily direction.
// Trades trail the PSAR level of MINUTE_5 instead of the peak excursion.
type OBVPSAR struct {
	Base
	cfg OBVPSARConfig
}

func NewOBVPSAR(cfg OBVPSARConfig) *OBVPSAR {
	if cfg.OBVSmooth <= 0 {
		cfg.OBVSmooth = 10
	}
	if cfg.OBVFast <= 0 {
		cfg.OBVFast = 5
	}
	if cfg.IAF <= 0 {
		cfg.IAF = 0.02
	}
	if cfg.MaxAF <= 0 {
		cfg.MaxAF = 0.2
	}
	return &OBVPSAR{Base: NewBase("obv_psar"), cfg: cfg}
}

func (s *OBVPSAR) OnFastTimeframe(m Market, bars []models.Bar, tf models.Timeframe, out Emitter) {
	if tf != models.Minute5 || len(bars) < 3 {
		return
	}
	day := direction(indicators.WMA(indicators.Closes(m.Bars(models.Day), indicators.Mid), 25))
	roc := indicators.ROC(indicators.Closes(m.Bars(models.Minute30), indicators.Mid), 36)
	if len(roc) == 0 {
		return
	}
	r := indicators.Last(roc)
	if (day == models.SideBuy && r <= 0) || (day == models.SideSell && r >= 0) {
		day = models.SideNone
	}

	obv := indicators.OBV(bars, s.cfg.OBVSmooth, indicators.Mid)
	obvMA := indicators.WMA(obv, s.cfg.OBVFast)
	if len(obvMA) < 2 {
		return
	}
	indicators.Write(bars, "obv_wma", obvMA)
	psar := indicators.PSAR(bars, s.cfg.IAF, s.cfg.MaxAF, indicators.Mid)
	n := len(psar.Bull)
	nowBull, prevBull := psar.Bull[n-1], psar.Bull[n-2]
	last := indicators.Last(obvMA)
	at := bars[len(bars)-1].Time

	emit := func(side models.Side, comment string) {
		out.Emit(models.Signal{
			Name:      PSAROpen,
			Position:  side,
			Score:     models.ScoreOpen,
			Life:      1,
			Comment:   comment,
			Timestamp: at,
		})
	}

	switch day {
	case models.SideBuy:
		if nowBull && indicators.CrossoverValue(obvMA, 0) {
			emit(models.SideBuy, "ZERO_CROSS")
		}
		if nowBull && !prevBull && last > 0 {
			emit(models.SideBuy, "PSAR_FLIP")
		}
	case models.SideSell:
		if !nowBull && indicators.CrossunderValue(obvMA, 0) {
			emit(models.SideSell, "ZERO_CROSS")
		}
		if !nowBull && prevBull && last < 0 {
			emit(models.SideSell, "PSAR_FLIP")
		}
	}
}

// Predict: 2*ATR5 + 1.5 spread stop, 5 point limit, trailing on psar.
func (s *OBVPSAR) Predict(sig models.Signal, m Market) (models.Prediction, error) {
	return ATRPrediction(s.Name(), sig, m, ATRRule{
		Timeframe:  models.Minute5,
		Period:     5,
		StopATR:    2,
		StopSpread: 1.5,
		Limit:      5,
		Trailing: models.TrailRule{
			Mode:      models.TrailIndicator,
			Indicator: "psar",
			Timeframe: models.Minute5,
		},
	})
}
