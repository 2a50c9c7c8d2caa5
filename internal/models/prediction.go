package models

import "time"

// TrailMode selects how a trade trails its profit once the limit is passed.
type TrailMode string

const (
	// TrailPeak: level = max(floor, pipMax - offset).
	TrailPeak TrailMode = "peak"
	// TrailIndicator: close once price crosses the bar indicator (e.g. psar) against the trade.
	TrailIndicator TrailMode = "indicator"
)

// Peak trailing defaults: level = max(1.1, pipMax - 4).
const (
	DefaultTrailOffset = 4.0
	DefaultTrailFloor  = 1.1
)

type TrailRule struct {
	Mode   TrailMode `json:"mode"`
	Offset float64   `json:"offset,omitempty"`
	Floor  float64   `json:"floor,omitempty"`
	// Indicator key read from the last bar of Timeframe when Mode == TrailIndicator.
	Indicator string    `json:"indicator,omitempty"`
	Timeframe Timeframe `json:"timeframe,omitempty"`
}

// SignalRef: frozen metadata of the signal a trade was opened from.
type SignalRef struct {
	Name      string    `json:"name"`
	Timeframe Timeframe `json:"timeframe"`
	Position  Side      `json:"position"`
	Score     int       `json:"score"`
	Timestamp time.Time `json:"timestamp"`
	Comment   string    `json:"comment,omitempty"`
}

// Prediction is computed once when a trade is created and never recomputed.
type Prediction struct {
	Strategy         string    `json:"strategy"`
	DirectionToTrade Side      `json:"direction_to_trade"`
	DirectionToClose Side      `json:"direction_to_close"`
	DirectionCompare string    `json:"direction_to_compare"` // "bid" | "offer"
	StopLoss         float64   `json:"stoploss"`
	LimitDistance    float64   `json:"limit_distance"`
	ATRLow           float64   `json:"atr_low"`
	ATRMax           float64   `json:"atr_max"`
	Trailing         TrailRule `json:"trailing"`
	Signal           SignalRef `json:"signal"`
}

// NewPrediction fills the direction fields from the signal position.
func NewPrediction(strategy string, sig Signal, stop, limit float64) Prediction {
	compare := "bid"
	if sig.Position == SideSell {
		compare = "offer"
	}
	return Prediction{
		Strategy:         strategy,
		DirectionToTrade: sig.Position,
		DirectionToClose: sig.Position.Opposite(),
		DirectionCompare: compare,
		StopLoss:         stop,
		LimitDistance:    limit,
		Trailing:         TrailRule{Mode: TrailPeak, Offset: DefaultTrailOffset, Floor: DefaultTrailFloor},
		Signal: SignalRef{
			Name:      sig.Name,
			Timeframe: sig.Timeframe,
			Position:  sig.Position,
			Score:     sig.Score,
			Timestamp: sig.Timestamp,
			Comment:   sig.Comment,
		},
	}
}
