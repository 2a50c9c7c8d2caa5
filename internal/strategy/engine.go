package strategy

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"auto_ig/internal/models"
)

// Observer receives engine events; the metrics module implements it.
type Observer interface {
	StrategyPanic(strategy, hook string)
	SignalEmitted(strategy, name string, score int)
}

type nopObserver struct{}

func (nopObserver) StrategyPanic(string, string)      {}
func (nopObserver) SignalEmitted(string, string, int) {}

type EngineConfig struct {
	Slow []models.Timeframe `yaml:"slow"`
	Fast []models.Timeframe `yaml:"fast"`
	// Backfill: bars replayed through the slow hook at warmup.
	Backfill int `yaml:"backfill"`
}

func (c EngineConfig) withDefaults() EngineConfig {
	if len(c.Slow) == 0 {
		c.Slow = []models.Timeframe{models.Minute30}
	}
	if len(c.Fast) == 0 {
		c.Fast = []models.Timeframe{models.Minute5}
	}
	return c
}

// Engine dispatches hooks to every strategy and isolates their failures.
type Engine struct {
	log *zap.Logger
	cfg EngineConfig
	obs Observer

	list   []Strategy
	byName map[string]Strategy
}

func NewEngine(log *zap.Logger, cfg EngineConfig, obs Observer, list ...Strategy) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	e := &Engine{
		log:    log.Named("strategy"),
		cfg:    cfg.withDefaults(),
		obs:    obs,
		byName: make(map[string]Strategy, len(list)),
	}
	for _, s := range list {
		if _, dup := e.byName[s.Name()]; dup {
			e.log.Warn("duplicate strategy ignored", zap.String("strategy", s.Name()))
			continue
		}
		e.list = append(e.list, s)
		e.byName[s.Name()] = s
	}
	return e
}

func (e *Engine) Strategies() []Strategy { return e.list }

func (e *Engine) Get(name string) (Strategy, bool) {
	s, ok := e.byName[name]
	return s, ok
}

func (e *Engine) IsSlow(tf models.Timeframe) bool { return contains(e.cfg.Slow, tf) }
func (e *Engine) IsFast(tf models.Timeframe) bool { return contains(e.cfg.Fast, tf) }

// Timeframes returns the slow and fast timeframes the hooks listen to.
func (e *Engine) Timeframes() []models.Timeframe {
	out := append([]models.Timeframe{}, e.cfg.Slow...)
	for _, tf := range e.cfg.Fast {
		if !contains(out, tf) {
			out = append(out, tf)
		}
	}
	return out
}

// OnBarClose runs the hooks registered for tf. bars are tf's buffer.
func (e *Engine) OnBarClose(m Market, tf models.Timeframe, bars []models.Bar, out Emitter) {
	slow, fast := e.IsSlow(tf), e.IsFast(tf)
	if !slow && !fast {
		return
	}
	for _, s := range e.list {
		em := e.scoped(s, m, tf, bars, out)
		if slow {
			e.safe(s.Name(), "slow", func() { s.OnSlowTimeframe(m, bars, tf, em) })
		}
		if fast {
			e.safe(s.Name(), "fast", func() { s.OnFastTimeframe(m, bars, tf, em) })
		}
	}
}

// OnTick runs the fast hook of strategies that listen to every tick.
func (e *Engine) OnTick(m Market, out Emitter) {
	for _, s := range e.list {
		tl, ok := s.(TickListener)
		if !ok || !tl.FastOnTick() {
			continue
		}
		for _, tf := range e.cfg.Fast {
			bars := m.Bars(tf)
			em := e.scoped(s, m, tf, bars, out)
			e.safe(s.Name(), "tick", func() { s.OnFastTimeframe(m, bars, tf, em) })
		}
	}
}

// Backfill replays the last lookback bars of tf through the slow hook so
// recent signals exist after a restart. Replayed signals age one step per
// replayed bar; only survivors reach out.
func (e *Engine) Backfill(m Market, tf models.Timeframe, lookback int, out Emitter) int {
	bars := m.Bars(tf)
	if lookback <= 0 || len(bars) <= lookback {
		return 0
	}
	buf := newReplayBuffer(m.Epic())
	for i := lookback; i >= 1; i-- {
		view := until{Market: m, cut: bars[len(bars)-i].Time}
		part := bars[:len(bars)-i+1]
		for _, s := range e.list {
			em := e.scoped(s, view, tf, part, buf)
			e.safe(s.Name(), "backfill", func() { s.OnSlowTimeframe(view, part, tf, em) })
		}
		if i > 1 {
			buf.tick()
		}
	}
	for _, sig := range buf.live {
		out.Emit(sig)
	}
	return len(buf.live)
}

func (e *Engine) Predict(sig models.Signal, m Market) (p models.Prediction, err error) {
	s, ok := e.byName[sig.Strategy]
	if !ok {
		return p, fmt.Errorf("unknown strategy %q", sig.Strategy)
	}
	if !e.safe(s.Name(), "predict", func() { p, err = s.Predict(sig, m) }) {
		return p, fmt.Errorf("strategy %s predict panicked", s.Name())
	}
	if err != nil {
		return p, err
	}
	p.Strategy = s.Name()
	return p, nil
}

// EntryGate asks the signal's strategy. A panicking gate vetoes the entry.
func (e *Engine) EntryGate(sig models.Signal, m Market, now time.Time) bool {
	s, ok := e.byName[sig.Strategy]
	if !ok {
		return false
	}
	pass := false
	e.safe(s.Name(), "entry_gate", func() { pass = s.EntryGate(sig, m, now) })
	return pass
}

// OnOpposingSignal asks the strategy that opened t.
func (e *Engine) OnOpposingSignal(sig models.Signal, t TradeView) (bool, string) {
	var s Strategy = Base{}
	if owner, ok := e.byName[t.Prediction().Strategy]; ok {
		s = owner
	}
	var (
		closeIt bool
		reason  string
	)
	e.safe(s.Name(), "opposing", func() { closeIt, reason = s.OnOpposingSignal(sig, t) })
	return closeIt, reason
}

func (e *Engine) safe(name, hook string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			e.obs.StrategyPanic(name, hook)
			e.log.Error("strategy panic",
				zap.String("strategy", name),
				zap.String("hook", hook),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	fn()
	return true
}

// scoped fills in the fields every signal of s shares.
func (e *Engine) scoped(s Strategy, m Market, tf models.Timeframe, bars []models.Bar, out Emitter) Emitter {
	var at time.Time
	if len(bars) > 0 {
		at = bars[len(bars)-1].Time
	}
	return &scopedEmitter{Emitter: out, engine: e, strategy: s.Name(), epic: m.Epic(), tf: tf, at: at}
}

type scopedEmitter struct {
	Emitter
	engine   *Engine
	strategy string
	epic     string
	tf       models.Timeframe
	at       time.Time
}

func (s *scopedEmitter) Emit(sig models.Signal) {
	sig.Strategy = s.strategy
	if sig.Epic == "" {
		sig.Epic = s.epic
	}
	if sig.Timeframe == "" {
		sig.Timeframe = s.tf
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = s.at
	}
	s.engine.obs.SignalEmitted(s.strategy, sig.Name, sig.Score)
	s.Emitter.Emit(sig)
}

// replayBuffer is a private Emitter for Backfill.
type replayBuffer struct {
	epic string
	live []models.Signal
}

func newReplayBuffer(epic string) *replayBuffer { return &replayBuffer{epic: epic} }

func (b *replayBuffer) Emit(sig models.Signal) {
	b.Remove(sig.Key())
	b.live = append(b.live, sig)
}

func (b *replayBuffer) Query(epic string, tf models.Timeframe, name string) []models.Signal {
	var out []models.Signal
	for _, s := range b.live {
		if s.Epic == epic && (tf == "" || s.Timeframe == tf) && (name == "" || s.Name == name) {
			out = append(out, s)
		}
	}
	return out
}

func (b *replayBuffer) Remove(key models.SignalKey) bool {
	kept := make([]models.Signal, 0, len(b.live))
	for _, s := range b.live {
		if s.Key() != key {
			kept = append(kept, s)
		}
	}
	removed := len(kept) != len(b.live)
	b.live = kept
	return removed
}

func (b *replayBuffer) tick() {
	kept := make([]models.Signal, 0, len(b.live))
	for _, s := range b.live {
		s.Life--
		if s.Life >= 0 {
			kept = append(kept, s)
		}
	}
	b.live = kept
}

func contains(list []models.Timeframe, tf models.Timeframe) bool {
	for _, x := range list {
		if x == tf {
			return true
		}
	}
	return false
}

// Names lists the registered strategies, sorted.
func (e *Engine) Names() []string {
	out := make([]string, 0, len(e.list))
	for _, s := range e.list {
		out = append(out, s.Name())
	}
	sort.Strings(out)
	return out
}
