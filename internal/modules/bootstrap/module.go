package bootstrap

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	bootstrap "auto_ig/internal/modules/bootstrap/service"
	broker "auto_ig/internal/modules/broker/service"
	"auto_ig/internal/modules/config"
	health "auto_ig/internal/modules/health/service"
	"auto_ig/internal/orchestrator"
	"auto_ig/internal/trades"
)

func NewWarmuper(cfg *config.Config, log *zap.Logger, o *orchestrator.Orchestrator, c *broker.Client, mgr *trades.Manager, st *health.State) *bootstrap.Warmuper {
	return bootstrap.NewWarmuper(log, bootstrap.Config{
		Backfill:        cfg.Strategy.Engine.Backfill,
		SizeFromBalance: cfg.SizeFromBalance,
	}, o, c, mgr, st)
}

// Module прогревает состояние и после этого запускает цикл опроса.
func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(
			NewWarmuper, // -> *bootstrap.Warmuper
		),
		fx.Invoke(func(lc fx.Lifecycle, wu *bootstrap.Warmuper, o *orchestrator.Orchestrator, log *zap.Logger) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						if err := wu.Warmup(ctx); err != nil {
							log.Error("[BOOT] warmup error", zap.Error(err))
							return
						}
						if err := o.Run(ctx); err != nil && ctx.Err() == nil {
							log.Error("[BOOT] cycle loop stopped", zap.Error(err))
						}
					}()
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
