package main

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"auto_ig/internal/modules/bootstrap"
	"auto_ig/internal/modules/broker"
	"auto_ig/internal/modules/config"
	"auto_ig/internal/modules/control"
	"auto_ig/internal/modules/feed"
	"auto_ig/internal/modules/health"
	"auto_ig/internal/modules/metrics"
	"auto_ig/internal/modules/postgres"
	"auto_ig/internal/modules/strategy"
	telegram "auto_ig/internal/modules/telegram_bot"
	"auto_ig/internal/modules/trading"
	"auto_ig/pkg/logger"
	"auto_ig/pkg/tracing"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Service.Name, cfg.Log)
}

func newTracer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (opentracing.Tracer, error) {
	tracer, closer, err := tracing.InitTracer(cfg.Service.Name, cfg.Tracing, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closer()
			return nil
		},
	})
	return tracer, nil
}

func main() {
	fx.New(
		fx.Provide(
			newLogger,
			newTracer,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		config.Module(),
		metrics.Module(),
		health.Module(),
		postgres.Module(),
		broker.Module(),
		strategy.Module(),
		trading.Module(),
		bootstrap.Module(),
		feed.Module(),
		telegram.Module(),
		control.Module(),
		// трейсер должен встать до первого запроса к брокеру
		fx.Invoke(func(opentracing.Tracer) {}),
	).Run()
}
