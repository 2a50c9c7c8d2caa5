package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"auto_ig/internal/trades"
)

// Orchestrator is the part of the cycle the warmup drives.
type Orchestrator interface {
	Reconcile() (int, error)
	Warmup(ctx context.Context, lookback int) (int, error)
}

type Balance interface {
	GetAccountBalance(ctx context.Context) (float64, error)
}

type Sizer interface {
	SetSize(size float64)
	Size() float64
}

type Readiness interface {
	SetReady(v bool)
}

type Config struct {
	Backfill        int
	SizeFromBalance bool
}

// Warmuper готовит бота к первому циклу: подхватывает открытые сделки,
// прогревает свечи, восстанавливает сигналы и считает размер ставки.
type Warmuper struct {
	log   *zap.Logger
	cfg   Config
	o     Orchestrator
	bal   Balance
	sizer Sizer
	ready Readiness
	done  chan struct{}
}

func NewWarmuper(log *zap.Logger, cfg Config, o Orchestrator, bal Balance, sizer Sizer, ready Readiness) *Warmuper {
	return &Warmuper{log: log.Named("bootstrap"), cfg: cfg, o: o, bal: bal, sizer: sizer, ready: ready, done: make(chan struct{})}
}

// Done is closed once Warmup succeeded.
func (w *Warmuper) Done() <-chan struct{} { return w.done }

func (w *Warmuper) Warmup(ctx context.Context) error {
	adopted, err := w.o.Reconcile()
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	signals, err := w.o.Warmup(ctx, w.cfg.Backfill)
	if err != nil {
		return fmt.Errorf("warmup: %w", err)
	}

	if w.cfg.SizeFromBalance {
		// без баланса остаёмся на размере из конфига
		if balance, err := w.bal.GetAccountBalance(ctx); err != nil {
			w.log.Warn("balance unavailable, keeping configured size", zap.Float64("size", w.sizer.Size()), zap.Error(err))
		} else {
			w.sizer.SetSize(trades.SizeFromBalance(balance))
			w.log.Info("size from balance", zap.Float64("balance", balance), zap.Float64("size", w.sizer.Size()))
		}
	}

	w.ready.SetReady(true)
	close(w.done)
	w.log.Info("warmup done", zap.Int("trades", adopted), zap.Int("signals", signals))
	return nil
}
