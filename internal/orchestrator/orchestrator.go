package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"auto_ig/internal/indicators"
	"auto_ig/internal/market"
	"auto_ig/internal/models"
	"auto_ig/internal/series"
	"auto_ig/internal/signals"
	"auto_ig/internal/strategy"
	"auto_ig/internal/trades"
)

// Broker is the part of the broker client the cycle needs.
type Broker interface {
	series.HistoryFetcher
	GetMarketSnapshots(ctx context.Context, epics []string) ([]models.Quote, error)
}

// Observer is implemented by the metrics and health modules.
type Observer interface {
	CycleFinished(d time.Duration)
	TickReceived(epic string)
}

type Orchestrator struct {
	log     *zap.Logger
	cfg     Config
	broker  Broker
	markets *market.Registry
	signals *signals.Registry
	engine  *strategy.Engine
	trades  *trades.Manager
	store   trades.Store
	obs     []Observer
	now     func() time.Time

	// one cycle at a time; the poll loop and the control API share it
	cycle sync.Mutex
}

func New(
	log *zap.Logger,
	cfg Config,
	broker Broker,
	markets *market.Registry,
	sigs *signals.Registry,
	engine *strategy.Engine,
	mgr *trades.Manager,
	store trades.Store,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	mgr.SetInstruments(markets)
	return &Orchestrator{
		log:     log.Named("orchestrator"),
		cfg:     cfg.WithDefaults(),
		broker:  broker,
		markets: markets,
		signals: sigs,
		engine:  engine,
		trades:  mgr,
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) AddObserver(obs Observer)      { o.obs = append(o.obs, obs) }
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }
func (o *Orchestrator) Config() Config                { return o.cfg }
func (o *Orchestrator) Markets() *market.Registry     { return o.markets }
func (o *Orchestrator) Signals() *signals.Registry    { return o.signals }
func (o *Orchestrator) Trades() *trades.Manager       { return o.trades }

// Run cycles every poll interval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	t := time.NewTicker(o.cfg.PollInterval)
	defer t.Stop()
	for {
		if err := o.RunOnce(ctx); err != nil && ctx.Err() == nil {
			o.log.Error("cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (o *Orchestrator) RunOnce(ctx context.Context) error {
	return o.Cycle(ctx, o.now())
}

// Cycle runs one pass: quotes, bars and hooks, signal ageing, confirmation,
// signal consideration and trade updates.
func (o *Orchestrator) Cycle(ctx context.Context, now time.Time) error {
	o.cycle.Lock()
	defer o.cycle.Unlock()

	span, ctx := opentracing.StartSpanFromContext(ctx, "orchestrator.cycle")
	defer span.Finish()
	start := time.Now()
	defer func() {
		for _, obs := range o.obs {
			obs.CycleFinished(time.Since(start))
		}
	}()

	o.refreshQuotes(ctx)
	if err := o.refreshBars(ctx, now); err != nil {
		return err
	}
	expired := o.signals.Tick()
	confirmed := o.confirmAll()

	if o.cfg.IgnoreWindow || InTradingWindow(now) {
		o.considerSignals(now)
	} else {
		o.log.Debug("outside trading window, signals left alone", zap.Time("now", now))
	}

	for _, inst := range o.markets.All() {
		inst.Lock()
		jobs := o.trades.Update(inst.View(), now)
		inst.Unlock()
		o.trades.Dispatch(ctx, jobs)
	}

	o.log.Info("cycle done",
		zap.Duration("took", time.Since(start)),
		zap.Int("signals", o.signals.Len()),
		zap.Int("expired", expired),
		zap.Int("confirmed", confirmed),
		zap.Int("trades", o.trades.Active()),
	)
	return nil
}

// Warmup fetches quotes and bars once without trading, then replays the last
// lookback bars of every slow timeframe so recent signals survive a restart.
// Returns the number of signals restored.
func (o *Orchestrator) Warmup(ctx context.Context, lookback int) (int, error) {
	o.cycle.Lock()
	defer o.cycle.Unlock()

	span, ctx := opentracing.StartSpanFromContext(ctx, "orchestrator.warmup")
	defer span.Finish()

	o.refreshQuotes(ctx)
	if err := o.refreshBars(ctx, o.now()); err != nil {
		return 0, err
	}
	restored := 0
	for _, inst := range o.markets.All() {
		inst.Lock()
		for _, tf := range o.engine.Timeframes() {
			if o.engine.IsSlow(tf) {
				restored += o.engine.Backfill(inst.View(), tf, lookback, o.signals)
			}
		}
		inst.Unlock()
	}
	o.log.Info("warmed up", zap.Int("instruments", len(o.markets.All())), zap.Int("signals", restored))
	return restored, nil
}

func (o *Orchestrator) refreshQuotes(ctx context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "orchestrator.snapshots")
	defer span.Finish()

	for _, batch := range chunks(o.markets.Epics(), o.cfg.SnapshotBatch) {
		quotes, err := o.broker.GetMarketSnapshots(ctx, batch)
		if err != nil {
			o.log.Warn("market snapshots failed", zap.Int("epics", len(batch)), zap.Error(err))
			continue
		}
		for _, q := range quotes {
			inst, ok := o.markets.Get(q.Epic)
			if !ok {
				continue
			}
			inst.Lock()
			inst.SetQuote(q)
			inst.Unlock()
		}
	}
}

// refreshBars fans out per instrument. Only a cancelled ctx is an error.
func (o *Orchestrator) refreshBars(ctx context.Context, now time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "orchestrator.refresh")
	defer span.Finish()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for _, inst := range o.markets.All() {
		g.Go(func() error {
			o.refreshInstrument(gctx, inst, now)
			return gctx.Err()
		})
	}
	return g.Wait()
}

// refreshInstrument holds the instrument lock across the fetch; feed ticks
// for the epic wait for it.
func (o *Orchestrator) refreshInstrument(ctx context.Context, inst *market.Instrument, now time.Time) {
	inst.Lock()
	defer inst.Unlock()

	st := inst.Store()
	if st.CoolingDown(now) {
		return
	}
	view := inst.View()
	for _, f := range o.cfg.Fetch {
		before, had := st.Last(f.Timeframe)
		n, err := st.Refresh(ctx, o.broker, f.Timeframe, f.Count, now)
		if err != nil {
			o.log.Warn("history refresh failed, cooling down",
				zap.String("epic", inst.Epic()),
				zap.String("tf", string(f.Timeframe)),
				zap.Time("until", st.CooldownUntil()),
				zap.Error(err),
			)
			break
		}
		if n == 0 {
			continue
		}
		indicators.Annotate(st.Live(f.Timeframe), indicators.Mid)
		after, _ := st.Last(f.Timeframe)
		if had && after.Time.After(before.Time) {
			bars := st.Bars(f.Timeframe)
			// the broker's last bar is still in progress
			o.engine.OnBarClose(view, f.Timeframe, bars[:len(bars)-1], o.signals)
		}
	}
	if err := st.Save(o.cfg.DataDir); err != nil {
		o.log.Warn("price snapshot not saved", zap.String("epic", inst.Epic()), zap.Error(err))
	}
}

func (o *Orchestrator) confirmAll() int {
	n := 0
	for _, inst := range o.markets.All() {
		inst.Lock()
		n += o.confirm(inst)
		inst.Unlock()
	}
	return n
}

// confirm: caller holds the instrument lock.
func (o *Orchestrator) confirm(inst *market.Instrument) int {
	n := 0
	for _, tf := range inst.Store().Timeframes() {
		if b, ok := inst.Store().Last(tf); ok {
			n += o.signals.Confirm(inst.Epic(), tf, b)
		}
	}
	return n
}

// considerSignals walks the tightest spreads first, best score first.
func (o *Orchestrator) considerSignals(now time.Time) {
	for _, inst := range o.markets.BySpread() {
		sigs := o.signals.Eligible(inst.Epic(), models.ScoreClose)
		if len(sigs) == 0 {
			continue
		}
		inst.Lock()
		view := inst.View()
		for _, sig := range sigs {
			out := o.trades.Consider(sig, view, now)
			if out.Consumed {
				o.signals.MarkUsed(sig.Key())
			}
			if out.Reason != "" {
				o.log.Debug("signal considered",
					zap.String("epic", sig.Epic),
					zap.String("signal", sig.Name),
					zap.String("reason", out.Reason),
				)
			}
		}
		inst.Unlock()
	}
}

// OnTick folds a feed tick and reacts to it on the instrument alone.
func (o *Orchestrator) OnTick(ctx context.Context, t models.Tick) {
	inst, ok := o.markets.Get(t.Epic)
	if !ok {
		return
	}
	for _, obs := range o.obs {
		obs.TickReceived(t.Epic)
	}

	inst.Lock()
	st := inst.Store()
	closed := st.FoldTick(t)
	if !models.Missing(t.Close.Bid) && !models.Missing(t.Close.Ask) {
		inst.ApplyTick(t)
	}
	view := inst.View()
	for _, tf := range closed {
		indicators.Annotate(st.Live(tf), indicators.Mid)
		bars := st.Bars(tf)
		// the last bar is the one the tick just opened
		o.engine.OnBarClose(view, tf, bars[:len(bars)-1], o.signals)
	}
	o.engine.OnTick(view, o.signals)
	o.confirm(inst)
	jobs := o.trades.Update(view, t.Time)
	inst.Unlock()

	o.trades.Dispatch(ctx, jobs)
}

// Consume reads ticks until the channel closes or ctx is done.
func (o *Orchestrator) Consume(ctx context.Context, ticks <-chan models.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			o.OnTick(ctx, t)
		}
	}
}

// Reconcile adopts the open trade files of configured epics, drops duplicate
// deals and restores the price snapshots. Returns the adopted count.
func (o *Orchestrator) Reconcile() (int, error) {
	recs, err := o.store.LoadOpen()
	if err != nil {
		return 0, err
	}
	kept := make([]models.TradeRecord, 0, len(recs))
	for _, rec := range recs {
		if o.markets.Has(rec.Epic) {
			kept = append(kept, rec)
			continue
		}
		o.log.Warn("trade file for unconfigured epic skipped", zap.String("epic", rec.Epic), zap.String("deal", rec.DealID))
	}
	added := o.trades.Restore(kept)
	dropped := 0
	if o.trades.Active() > len(kept) {
		dropped = o.trades.Dedupe()
	}

	for _, inst := range o.markets.All() {
		inst.Lock()
		st := inst.Store()
		if err := st.Load(o.cfg.DataDir); err != nil {
			o.log.Warn("price snapshot not restored", zap.String("epic", inst.Epic()), zap.Error(err))
		}
		for _, tf := range st.Timeframes() {
			indicators.Annotate(st.Live(tf), indicators.Mid)
		}
		inst.Unlock()
	}

	o.log.Info("reconciled",
		zap.Int("files", len(recs)),
		zap.Int("adopted", added),
		zap.Int("deduped", dropped),
		zap.Int("active", o.trades.Active()),
	)
	return added, nil
}
