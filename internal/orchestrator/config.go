package orchestrator

import (
	"time"

	"auto_ig/internal/models"
)

const DefaultSnapshotBatch = 50

// Fetch: history kept warm for one timeframe every cycle.
type Fetch struct {
	Timeframe models.Timeframe `yaml:"timeframe"`
	Count     int              `yaml:"count"`
}

type Config struct {
	Epics         []string      `yaml:"epics"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	SnapshotBatch int           `yaml:"snapshot_batch"`
	Workers       int           `yaml:"workers"`
	Fetch         []Fetch       `yaml:"fetch"`
	DataDir       string        `yaml:"data_dir"`
	// IgnoreWindow lets signals be considered at weekends and the week edges.
	IgnoreWindow bool `yaml:"ignore_trading_window"`
}

func (c Config) WithDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.SnapshotBatch <= 0 {
		c.SnapshotBatch = DefaultSnapshotBatch
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if len(c.Fetch) == 0 {
		c.Fetch = []Fetch{
			{Timeframe: models.Minute5, Count: 50},
			{Timeframe: models.Minute30, Count: 50},
			{Timeframe: models.Day, Count: 30},
		}
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	return c
}

// InTradingWindow: no weekends, nothing before 02:00 UTC on Monday or after
// 19:00 UTC on Friday.
func InTradingWindow(now time.Time) bool {
	now = now.UTC()
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	case time.Monday:
		return now.Hour() >= 2
	case time.Friday:
		return now.Hour() < 19
	}
	return true
}

func chunks(list []string, n int) [][]string {
	var out [][]string
	for len(list) > n {
		out = append(out, list[:n])
		list = list[n:]
	}
	if len(list) > 0 {
		out = append(out, list)
	}
	return out
}
