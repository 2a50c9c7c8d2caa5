package service

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"auto_ig/internal/models"
)

// RunCycle handles POST /api/v1/cycle. It waits for a running cycle.
func (a *API) RunCycle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	start := time.Now()
	if err := a.cycler.RunOnce(ctx); err != nil {
		a.handleError(c, err, http.StatusInternalServerError, "cycle failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"took_ms": time.Since(start).Milliseconds(),
		"trades":  a.desk.Active(),
	})
}

// GetSignals handles GET /api/v1/signals?epic=
func (a *API) GetSignals(c *gin.Context) {
	epic := c.Query("epic")
	out := make([]models.Signal, 0)
	for _, s := range a.signals.All() {
		if epic == "" || s.Epic == epic {
			out = append(out, s)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) GetTrades(c *gin.Context) {
	c.JSON(http.StatusOK, a.desk.Trades())
}

// GetHistory handles GET /api/v1/trades/history?epic=&limit=
func (a *API) GetHistory(c *gin.Context) {
	if a.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade history is disabled"})
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	recs, err := a.history.Recent(ctx, c.Query("epic"), limit)
	if err != nil {
		a.handleError(c, err, http.StatusInternalServerError, "history unavailable")
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (a *API) GetSize(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"size": a.desk.Size()})
}

type sizeRequest struct {
	Size float64 `json:"size" binding:"required,gt=0"`
}

// PutSize handles PUT /api/v1/size {"size": 1.5}
func (a *API) PutSize(c *gin.Context) {
	var req sizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "size must be a positive number"})
		return
	}
	a.desk.SetSize(req.Size)
	a.log.Info("size changed", zap.Float64("size", req.Size), zap.String("request_id", c.GetString(RequestIDContextKey)))
	c.JSON(http.StatusOK, gin.H{"size": a.desk.Size()})
}

type marketView struct {
	Quote       models.Quote   `json:"quote"`
	CoolingDown bool           `json:"cooling_down"`
	Bars        map[string]int `json:"bars"`
}

func (a *API) GetMarkets(c *gin.Context) {
	now := time.Now().UTC()
	out := make([]marketView, 0)
	for _, inst := range a.markets.All() {
		inst.Lock()
		st := inst.Store()
		v := marketView{Quote: inst.View().Quote(), CoolingDown: st.CoolingDown(now), Bars: map[string]int{}}
		for _, tf := range st.Timeframes() {
			v.Bars[string(tf)] = st.Len(tf)
		}
		inst.Unlock()
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

// GetBars handles GET /api/v1/markets/:epic/bars/:tf?limit=
func (a *API) GetBars(c *gin.Context) {
	inst, ok := a.markets.Get(c.Param("epic"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown epic"})
		return
	}
	tf, err := models.ParseTimeframe(c.Param("tf"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst.Lock()
	bars := inst.View().Bars(tf)
	inst.Unlock()

	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n < len(bars) {
			bars = bars[len(bars)-n:]
		}
	}
	if bars == nil {
		bars = []models.Bar{}
	}
	c.JSON(http.StatusOK, bars)
}

func (a *API) GetStrategies(c *gin.Context) {
	names := a.strategies.Names()
	sort.Strings(names)
	c.JSON(http.StatusOK, names)
}

// GetStrategyState handles GET /api/v1/strategies/:epic
func (a *API) GetStrategyState(c *gin.Context) {
	epic := c.Param("epic")
	if !a.markets.Has(epic) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown epic"})
		return
	}
	inst, _ := a.markets.Get(epic)
	inst.Lock()
	state := a.strategies.Dump(epic)
	inst.Unlock()
	c.JSON(http.StatusOK, state)
}

func (a *API) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	requestID := c.GetString(RequestIDContextKey)
	a.log.Error("API error",
		zap.String("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	c.JSON(statusCode, gin.H{"error": userMessage, "request_id": requestID})
}
