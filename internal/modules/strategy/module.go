package strategy

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"auto_ig/internal/modules/config"
	metrics "auto_ig/internal/modules/metrics/service"
	"auto_ig/internal/strategy"
)

func NewEngine(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*strategy.Engine, error) {
	list, err := strategy.NewStrategies(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	e := strategy.NewEngine(log, cfg.Strategy.Engine, m, list...)
	log.Info("strategies loaded", zap.Strings("names", e.Names()))
	return e, nil
}

func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(NewEngine),
	)
}
