package control

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"auto_ig/internal/market"
	"auto_ig/internal/modules/config"
	"auto_ig/internal/modules/control/service"
	history "auto_ig/internal/modules/postgres/service"
	"auto_ig/internal/orchestrator"
	"auto_ig/internal/signals"
	"auto_ig/internal/strategy"
	"auto_ig/internal/trades"
)

func NewAPI(
	cfg *config.Config,
	log *zap.Logger,
	o *orchestrator.Orchestrator,
	mgr *trades.Manager,
	sigs *signals.Registry,
	markets *market.Registry,
	engine *strategy.Engine,
	h *history.TradeHistory,
) *service.API {
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	// nil-указатель не должен попасть в интерфейс
	var hist service.History
	if h != nil {
		hist = h
	}
	return service.NewAPI(log, o, mgr, sigs, markets, engine, hist)
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, api *service.API, log *zap.Logger) {
	addr := cfg.Service.PublicAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			log.Info("control api listening", zap.String("addr", addr))
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("control",
		fx.Provide(NewAPI),
		fx.Invoke(RunHTTP),
	)
}
