package models

import "time"

// Side: "BUY"/"SELL" or empty.
type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing direction.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	}
	return SideNone
}

// Signal scores. Higher is more important.
const (
	ScoreInfo  = 1 // informational
	ScoreClose = 2 // may close a position
	ScoreOpen  = 4 // may open a position
)

// SignalKey identifies a live signal; at most one per key.
type SignalKey struct {
	Epic      string
	Name      string
	Timeframe Timeframe
}

// Signal: time-boxed, scored hint produced by a strategy.
type Signal struct {
	Epic      string    `json:"epic"`
	Strategy  string    `json:"strategy"`
	Name      string    `json:"name"`
	Timeframe Timeframe `json:"timeframe"`
	Position  Side      `json:"position"`
	Score     int       `json:"score"`
	Life      int       `json:"life"`
	Comment   string    `json:"comment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Confirmed bool      `json:"confirmed"`
	Unused    bool      `json:"unused"`

	// Confirm, when set, must hold on a later bar before the signal may open a trade.
	Confirm func(b Bar) bool `json:"-"`
}

func (s Signal) Key() SignalKey {
	return SignalKey{Epic: s.Epic, Name: s.Name, Timeframe: s.Timeframe}
}
