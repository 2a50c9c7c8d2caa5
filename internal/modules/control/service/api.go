package service

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"auto_ig/internal/market"
	"auto_ig/internal/models"
)

const (
	DefaultTimeout      = 30 * time.Second
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

type Cycler interface {
	RunOnce(ctx context.Context) error
}

type Desk interface {
	Trades() []models.TradeRecord
	Active() int
	Size() float64
	SetSize(size float64)
}

type SignalBoard interface {
	All() []models.Signal
}

type Strategies interface {
	Names() []string
	Dump(epic string) map[string]string
}

// History is optional; without a database the history route answers 503.
type History interface {
	Recent(ctx context.Context, epic string, limit int) ([]models.TradeRecord, error)
}

// API: ручное управление и просмотр состояния бота.
type API struct {
	log        *zap.Logger
	cycler     Cycler
	desk       Desk
	signals    SignalBoard
	markets    *market.Registry
	strategies Strategies
	history    History
}

func NewAPI(log *zap.Logger, cycler Cycler, desk Desk, signals SignalBoard, markets *market.Registry, strategies Strategies, history History) *API {
	return &API{
		log:        log.Named("control"),
		cycler:     cycler,
		desk:       desk,
		signals:    signals,
		markets:    markets,
		strategies: strategies,
		history:    history,
	}
}

// Router builds the gin engine with all routes.
func (a *API) Router() *gin.Engine {
	router := gin.New()

	router.Use(requestIDMiddleware())
	router.Use(a.loggerMiddleware())
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	v1.POST("/cycle", a.RunCycle)
	v1.GET("/signals", a.GetSignals)
	v1.GET("/trades", a.GetTrades)
	v1.GET("/trades/history", a.GetHistory)
	v1.GET("/size", a.GetSize)
	v1.PUT("/size", a.PutSize)
	v1.GET("/markets", a.GetMarkets)
	v1.GET("/markets/:epic/bars/:tf", a.GetBars)
	v1.GET("/strategies", a.GetStrategies)
	v1.GET("/strategies/:epic", a.GetStrategyState)

	return router
}
