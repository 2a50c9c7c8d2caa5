package strategy

import (
	"fmt"
	"strings"
)

// Config selects and parametrizes the strategies; it is the "strategy"
// section of the service config.
type Config struct {
	Enabled  []string       `yaml:"enabled"`
	Engine   EngineConfig   `yaml:"engine"`
	Momentum MomentumConfig `yaml:"momentum"`
	Stoch    StochConfig    `yaml:"stoch"`
	MFI      MFIConfig      `yaml:"mfi"`
	OBVPSAR  OBVPSARConfig  `yaml:"obv_psar"`
	LinReg   LinRegConfig   `yaml:"linreg"`
	Hammer   HammerConfig   `yaml:"hammer"`
	EMARSI   EMARSIConfig   `yaml:"emarsi"`
	Donchian DonchianConfig `yaml:"donchian"`
}

// DefaultEnabled is used when the config names no strategy.
var DefaultEnabled = []string{"momentum", "stoch", "mfi", "obv_psar"}

// NewStrategies builds the enabled strategies in config order.
func NewStrategies(cfg Config) ([]Strategy, error) {
	names := cfg.Enabled
	if len(names) == 0 {
		names = DefaultEnabled
	}
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "momentum":
			out = append(out, NewMomentum(cfg.Momentum))
		case "stoch":
			out = append(out, NewStoch(cfg.Stoch))
		case "mfi":
			out = append(out, NewMFI(cfg.MFI))
		case "obv_psar":
			out = append(out, NewOBVPSAR(cfg.OBVPSAR))
		case "linreg":
			out = append(out, NewLinReg(cfg.LinReg))
		case "hammer":
			out = append(out, NewHammer(cfg.Hammer))
		case "emarsi":
			out = append(out, NewEMARSI(cfg.EMARSI))
		case "donchian":
			out = append(out, NewDonchian(cfg.Donchian))
		default:
			return nil, fmt.Errorf("unknown strategy %q", name)
		}
	}
	return out, nil
}

// Dumper is implemented by strategies that can describe their per-instrument state.
type Dumper interface {
	Dump(epic string) string
}

// Dump collects the state of every strategy that keeps one.
func (e *Engine) Dump(epic string) map[string]string {
	out := make(map[string]string)
	for _, s := range e.list {
		if d, ok := s.(Dumper); ok {
			out[s.Name()] = d.Dump(epic)
		}
	}
	return out
}
