package models

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe: broker resolution label, e.g. "MINUTE_5".
type Timeframe string

const (
	Minute   Timeframe = "MINUTE"
	Minute5  Timeframe = "MINUTE_5"
	Minute30 Timeframe = "MINUTE_30"
	Hour     Timeframe = "HOUR"
	Hour4    Timeframe = "HOUR_4"
	Day      Timeframe = "DAY"
)

// FoldChain is ordered finest first; every entry is derived from the previous one.
var FoldChain = []Timeframe{Minute, Minute5, Minute30, Hour, Hour4, Day}

func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Minute:
		return time.Minute
	case Minute5:
		return 5 * time.Minute
	case Minute30:
		return 30 * time.Minute
	case Hour:
		return time.Hour
	case Hour4:
		return 4 * time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Bucket returns the start of the interval that t belongs to (UTC aligned).
func (tf Timeframe) Bucket(t time.Time) time.Time {
	d := tf.Duration()
	if d <= 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(d)
}

func (tf Timeframe) Valid() bool { return tf.Duration() > 0 }

// ParseTimeframe accepts broker labels and the short forms used in configs ("5m", "1h", "1d").
func ParseTimeframe(raw string) (Timeframe, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	switch s {
	case "minute", "1m":
		return Minute, nil
	case "minute_5", "5m":
		return Minute5, nil
	case "minute_30", "30m":
		return Minute30, nil
	case "hour", "1h", "60m":
		return Hour, nil
	case "hour_4", "4h":
		return Hour4, nil
	case "day", "1d":
		return Day, nil
	}
	return "", fmt.Errorf("unsupported timeframe %q", raw)
}
