package strategy

import (
	"fmt"

	"auto_ig/internal/indicators"
	"auto_ig/internal/models"
)

const (
	StochOpen    = "STOCH_OPEN"
	StochConfirm = "STOCH_CONFIRM"
	StochClose   = "STOCH_CLOSE"
)

type StochConfig struct {
	Length  int `yaml:"length"`
	SmoothK int `yaml:"smooth_k"`
	SmoothD int `yaml:"smooth_d"`
}

// Stoch: oscillator recovery on MINUTE_5, gated by the daily WMA25 and the
// MINUTE_30 ROC36. An open hint is promoted once the MINUTE_5 WMA25 agrees.
type Stoch struct {
	Base
	cfg StochConfig
}

func NewStoch(cfg StochConfig) *Stoch {
	if cfg.Length <= 0 {
		cfg.Length = 14
	}
	if cfg.SmoothK <= 0 {
		cfg.SmoothK = 3
	}
	if cfg.SmoothD <= 0 {
		cfg.SmoothD = 3
	}
	return &Stoch{Base: NewBase("stoch"), cfg: cfg}
}

func (s *Stoch) OnSlowTimeframe(m Market, _ []models.Bar, tf models.Timeframe, out Emitter) {
	if tf != models.Minute30 {
		return
	}
	fast := m.Bars(models.Minute5)
	st := indicators.Stochastic(fast, s.cfg.Length, s.cfg.SmoothK, s.cfg.SmoothD, indicators.Mid)
	if len(st.K) < 3 {
		return
	}
	now := fast[len(fast)-1]
	k, d := st.K, st.D
	k1, k3, d3 := k[len(k)-1], k[len(k)-3], d[len(d)-3]

	if indicators.CrossunderValue(k, 79) {
		out.Emit(s.signal(StochClose, now, models.SideSell, models.ScoreClose, 1, "k under 79"))
	}
	if indicators.CrossoverValue(k, 21) {
		out.Emit(s.signal(StochClose, now, models.SideBuy, models.ScoreClose, 1, "k over 21"))
	}

	dayDir := direction(indicators.WMA(indicators.Closes(m.Bars(models.Day), indicators.Mid), 25))
	roc := indicators.ROC(indicators.Closes(m.Bars(models.Minute30), indicators.Mid), 36)
	if len(roc) == 0 {
		return
	}
	if r := indicators.Last(roc); (dayDir == models.SideBuy && r < 0) || (dayDir == models.SideSell && r > 0) {
		dayDir = models.SideNone
	}

	switch dayDir {
	case models.SideBuy:
		if k1 > 55 && k1 < 70 && k3 < 50 {
			out.Emit(s.signal(StochOpen, now, models.SideBuy, models.ScoreInfo, 2, "mid cross"))
		}
		if indicators.Crossover(k, d) && d3 > 50 && d3 < 80 {
			out.Emit(s.signal(StochOpen, now, models.SideBuy, models.ScoreInfo, 2, "mini reversal"))
		}
	case models.SideSell:
		if k1 < 45 && k3 > 50 {
			out.Emit(s.signal(StochOpen, now, models.SideSell, models.ScoreInfo, 2, "mid cross"))
		}
		if indicators.Crossunder(k, d) && d3 > 20 && d3 < 50 {
			out.Emit(s.signal(StochOpen, now, models.SideSell, models.ScoreInfo, 2, "mini reversal"))
		}
	}

	wmaDir := direction(indicators.WMA(indicators.Closes(fast, indicators.Mid), 25))
	for _, open := range out.Query(m.Epic(), models.Minute5, StochOpen) {
		if open.Position != wmaDir {
			continue
		}
		out.Emit(s.signal(StochConfirm, now, open.Position, models.ScoreOpen, 1,
			fmt.Sprintf("orig: %s | %s", open.Timestamp.Format("2006-01-02 15:04"), open.Comment)))
		out.Remove(open.Key())
	}
}

func (s *Stoch) signal(name string, b models.Bar, side models.Side, score, life int, comment string) models.Signal {
	return models.Signal{
		Name:      name,
		Timeframe: models.Minute5,
		Position:  side,
		Score:     score,
		Life:      life,
		Comment:   comment,
		Timestamp: b.Time,
	}
}
