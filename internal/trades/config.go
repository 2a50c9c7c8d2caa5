package trades

import (
	"slices"
	"time"
)

const ReasonStopTooTight = "ATTACHED_ORDER_LEVEL_ERROR"

// Config is the "trades" section of the service config.
type Config struct {
	WaitTimeout    time.Duration `yaml:"wait_timeout"`
	PendingTimeout time.Duration `yaml:"pending_timeout"`
	OvertimeAfter  time.Duration `yaml:"overtime_after"`
	VerifyEvery    int           `yaml:"verify_every"`
	// JobTimeout bounds one broker job; jobs outlive the cycle that planned them.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// requested broker stop, widened on "stop too tight" rejections
	InitialStop      float64  `yaml:"initial_stop"`
	StopStep         float64  `yaml:"stop_step"`
	MaxStop          float64  `yaml:"max_stop"`
	TightStopReasons []string `yaml:"tight_stop_reasons"`
	// BrokerLimit: limit sent with the order; the real limit is managed here.
	BrokerLimit float64 `yaml:"broker_limit"`

	MaxConcurrent int                `yaml:"max_concurrent_trades"`
	MaxSpread     float64            `yaml:"max_spread"`
	Spreads       map[string]float64 `yaml:"max_spread_by_epic"`
	MinScore      int                `yaml:"min_score"`
	Size          float64            `yaml:"size"`
}

func (c Config) WithDefaults() Config {
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 10 * time.Minute
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = 5 * time.Minute
	}
	if c.OvertimeAfter <= 0 {
		c.OvertimeAfter = 2 * time.Hour
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.VerifyEvery == 0 {
		c.VerifyEvery = 10
	}
	if c.InitialStop <= 0 {
		c.InitialStop = 150
	}
	if c.StopStep <= 0 {
		c.StopStep = 5
	}
	if c.MaxStop <= 0 {
		c.MaxStop = 175
	}
	if len(c.TightStopReasons) == 0 {
		c.TightStopReasons = []string{ReasonStopTooTight}
	}
	if c.BrokerLimit <= 0 {
		c.BrokerLimit = 100
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.MaxSpread <= 0 {
		c.MaxSpread = 5
	}
	if c.MinScore <= 0 {
		c.MinScore = 4
	}
	if c.Size <= 0 {
		c.Size = 1
	}
	return c
}

func (c *Config) tightStop(reason string) bool {
	return slices.Contains(c.TightStopReasons, reason)
}

// SpreadLimit returns the maximum spread allowed for epic.
func (c *Config) SpreadLimit(epic string) float64 {
	if v, ok := c.Spreads[epic]; ok && v > 0 {
		return v
	}
	return c.MaxSpread
}
