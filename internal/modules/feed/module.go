package feed

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	bootstrap "auto_ig/internal/modules/bootstrap/service"
	broker "auto_ig/internal/modules/broker/service"
	"auto_ig/internal/modules/config"
	"auto_ig/internal/modules/feed/service"
	health "auto_ig/internal/modules/health/service"
	metrics "auto_ig/internal/modules/metrics/service"
	"auto_ig/internal/orchestrator"
)

func NewStream(cfg *config.Config, log *zap.Logger, c *broker.Client, st *health.State, m *metrics.Metrics) *service.Stream {
	s := service.NewStream(cfg.Feed, log, c.StreamHeaders)
	s.AddObserver(st)
	s.AddObserver(m)
	return s
}

// Module подписывается на минутные свечи всех инструментов и отдаёт тики оркестратору.
func Module() fx.Option {
	return fx.Module("feed",
		fx.Provide(NewStream),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, s *service.Stream, o *orchestrator.Orchestrator, wu *bootstrap.Warmuper, log *zap.Logger) {
			if !cfg.Feed.Enabled || cfg.Feed.URL == "" {
				log.Info("price stream disabled, polling only")
				return
			}
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					// тики идут в оркестратор только после прогрева
					go func() {
						select {
						case <-ctx.Done():
							return
						case <-wu.Done():
						}
						o.Consume(ctx, s.Start(ctx, o.Markets().Epics()))
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
