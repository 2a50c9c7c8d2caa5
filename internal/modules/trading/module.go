package trading

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"auto_ig/internal/market"
	"auto_ig/internal/modules/config"
	health "auto_ig/internal/modules/health/service"
	metrics "auto_ig/internal/modules/metrics/service"
	history "auto_ig/internal/modules/postgres/service"
	"auto_ig/internal/orchestrator"
	"auto_ig/internal/signals"
	"auto_ig/internal/strategy"
	"auto_ig/internal/trades"
)

func NewMarkets(cfg *config.Config) *market.Registry {
	return market.NewRegistry(cfg.Orchestrator.Epics, cfg.Series)
}

func NewStore(cfg *config.Config) trades.Store {
	return trades.NewFileStore(cfg.Orchestrator.DataDir)
}

func NewManager(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	store trades.Store,
	broker trades.Broker,
	engine *strategy.Engine,
	m *metrics.Metrics,
	h *history.TradeHistory,
) *trades.Manager {
	exec := trades.NewGoExecutor()
	mgr := trades.NewManager(log, cfg.Trades, store, broker, engine, exec)
	mgr.AddListener(m)
	if h != nil {
		mgr.AddListener(h)
	}
	// дожидаемся незавершённых вызовов брокера
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			exec.Wait()
			return nil
		},
	})
	return mgr
}

func NewOrchestrator(
	cfg *config.Config,
	log *zap.Logger,
	broker orchestrator.Broker,
	markets *market.Registry,
	sigs *signals.Registry,
	engine *strategy.Engine,
	mgr *trades.Manager,
	store trades.Store,
	m *metrics.Metrics,
	st *health.State,
) *orchestrator.Orchestrator {
	o := orchestrator.New(log, cfg.Orchestrator, broker, markets, sigs, engine, mgr, store)
	o.AddObserver(m)
	o.AddObserver(st)
	return o
}

// Module собирает торговое ядро: инструменты, сигналы, сделки и цикл опроса.
// Сам цикл запускает bootstrap после прогрева.
func Module() fx.Option {
	return fx.Module("trading",
		fx.Provide(
			NewMarkets,
			signals.NewRegistry,
			NewStore,
			NewManager,
			NewOrchestrator,
		),
	)
}
