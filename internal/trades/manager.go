package trades

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auto_ig/internal/models"
	"auto_ig/internal/strategy"
)

// Market is the instrument view the manager decides on.
type Market interface {
	strategy.Market
	CoolingDown(now time.Time) bool
}

// Advisor is implemented by strategy.Engine.
type Advisor interface {
	Predict(sig models.Signal, m strategy.Market) (models.Prediction, error)
	EntryGate(sig models.Signal, m strategy.Market, now time.Time) bool
	OnOpposingSignal(sig models.Signal, t strategy.TradeView) (bool, string)
}

// Instruments hands executor jobs the instrument lock and the cooldown.
type Instruments interface {
	Lock(epic string) (unlock func())
	Cooldown(epic string, now time.Time)
}

// Listener is told about every persisted change of a trade.
type Listener interface {
	TradeChanged(rec models.TradeRecord)
}

// Job is one broker call planned under the instrument lock and run outside it.
type Job struct {
	Action Action
	Epic   string
	Open   models.OpenRequest
	Close  models.CloseRequest
	DealID string

	trade *Trade
}

type Decision int

const (
	DecisionSkipped Decision = iota
	DecisionOpened
	DecisionReinforced
	DecisionClosing
	DecisionKept
)

// Outcome of Consider. Consumed signals should be marked used.
type Outcome struct {
	Decision Decision
	Reason   string
	Consumed bool
	TradeID  string
}

type Manager struct {
	log     *zap.Logger
	cfg     Config
	store   Store
	broker  Broker
	advisor Advisor
	exec    Executor
	now     func() time.Time

	inst      Instruments
	listeners []Listener

	mu      sync.Mutex
	active  map[string]*Trade
	records map[string]models.TradeRecord
	size    float64
}

func NewManager(log *zap.Logger, cfg Config, store Store, broker Broker, advisor Advisor, exec Executor) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if exec == nil {
		exec = NewGoExecutor()
	}
	cfg = cfg.WithDefaults()
	return &Manager{
		log:     log.Named("trades"),
		cfg:     cfg,
		store:   store,
		broker:  broker,
		advisor: advisor,
		exec:    exec,
		now:     time.Now,
		inst:    newLocalInstruments(),
		active:  make(map[string]*Trade),
		records: make(map[string]models.TradeRecord),
		size:    cfg.Size,
	}
}

func (m *Manager) SetInstruments(i Instruments)  { m.inst = i }
func (m *Manager) SetClock(now func() time.Time) { m.now = now }
func (m *Manager) AddListener(l Listener)        { m.listeners = append(m.listeners, l) }
func (m *Manager) Config() Config                { return m.cfg }
func (m *Manager) Executor() Executor            { return m.exec }

// SetSize changes the stake of trades created from now on.
func (m *Manager) SetSize(size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size > 0 {
		m.size = size
	}
}

func (m *Manager) Size() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Consider decides what sig means for its instrument. Caller holds the instrument lock.
func (m *Manager) Consider(sig models.Signal, mk Market, now time.Time) Outcome {
	epic := mk.Epic()
	existing, total := m.forEpic(epic)
	log := m.log.With(zap.String("epic", epic), zap.String("signal", sig.Name), zap.String("position", string(sig.Position)))

	if len(existing) > 0 {
		out := Outcome{Decision: DecisionKept, Consumed: true}
		for _, t := range existing {
			if sig.Position == t.Direction() {
				t.Reinforce(now, sig)
				out.Decision, out.TradeID = DecisionReinforced, t.ID()
			} else if t.State() == models.TradeOpen {
				if closeIt, why := m.advisor.OnOpposingSignal(sig, t); closeIt && t.RequestClose(why) {
					log.Info("opposing signal closes trade", zap.String("trade", t.ID()), zap.String("reason", why))
					out.Decision, out.Reason, out.TradeID = DecisionClosing, why, t.ID()
				}
			}
			m.persist(t)
		}
		return out
	}

	if sig.Score < m.cfg.MinScore {
		return Outcome{Reason: "score too low"}
	}
	q := mk.Quote()
	if limit := m.cfg.SpreadLimit(epic); q.Spread >= limit {
		log.Info("spread too wide, ignoring signal", zap.Float64("spread", q.Spread), zap.Float64("max", limit))
		return Outcome{Reason: "spread too wide", Consumed: true}
	}
	if total >= m.cfg.MaxConcurrent {
		log.Info("trades full", zap.Int("active", total), zap.Int("max", m.cfg.MaxConcurrent))
		return Outcome{Reason: "trades full"}
	}
	if mk.CoolingDown(now) {
		return Outcome{Reason: "cooling down"}
	}
	if !m.advisor.EntryGate(sig, mk, now) {
		return Outcome{Reason: "entry gate"}
	}

	pred, err := m.advisor.Predict(sig, mk)
	if err != nil {
		log.Warn("prediction failed", zap.Error(err))
		return Outcome{Reason: "prediction: " + err.Error(), Consumed: true}
	}
	t := NewTrade(&m.cfg, epic, m.Size(), sig, pred, now)
	m.mu.Lock()
	m.active[t.ID()] = t
	m.records[t.ID()] = t.Record()
	m.mu.Unlock()
	m.persist(t)
	log.Info("trade created",
		zap.String("trade", t.ID()),
		zap.Float64("stop", pred.StopLoss),
		zap.Float64("limit", pred.LimitDistance),
	)
	return Outcome{Decision: DecisionOpened, Consumed: true, TradeID: t.ID()}
}

// Update evaluates the instrument's trades and plans broker jobs.
// Caller holds the instrument lock; pass the jobs to Dispatch after unlocking.
func (m *Manager) Update(mk Market, now time.Time) []Job {
	list, _ := m.forEpic(mk.Epic())
	if len(list) == 0 {
		return nil
	}
	q := mk.Quote()
	var jobs []Job
	for _, t := range list {
		origin := t.Origin()
		gate := func(at time.Time) bool {
			return !mk.CoolingDown(at) && m.advisor.EntryGate(origin, mk, at)
		}
		switch act := t.Evaluate(now, q, mk, gate); act {
		case ActionOpen:
			jobs = append(jobs, Job{Action: act, Epic: t.Epic(), Open: t.OpenRequest(), trade: t})
		case ActionClose:
			jobs = append(jobs, Job{Action: act, Epic: t.Epic(), Close: t.CloseRequest(), trade: t})
		case ActionVerify:
			jobs = append(jobs, Job{Action: act, Epic: t.Epic(), DealID: t.DealID(), trade: t})
		}
		m.persist(t)
	}
	m.sweep()
	return jobs
}

// Dispatch runs jobs on the executor. Outcomes are applied under the instrument lock.
// Jobs keep ctx's values but not its cancellation; each is bounded by JobTimeout.
func (m *Manager) Dispatch(ctx context.Context, jobs []Job) {
	base := context.WithoutCancel(ctx)
	for _, j := range jobs {
		m.exec.Go(func() {
			ctx, cancel := context.WithTimeout(base, m.cfg.JobTimeout)
			defer cancel()
			m.run(ctx, j)
		})
	}
}

func (m *Manager) run(ctx context.Context, j Job) {
	log := m.log.With(zap.String("epic", j.Epic), zap.String("trade", j.trade.ID()), zap.Stringer("action", j.Action))
	switch j.Action {
	case ActionOpen:
		out := m.open(ctx, j.Open)
		if out.Err != nil {
			log.Warn("open failed", zap.Error(out.Err))
		}
		m.apply(j, func(now time.Time) error {
			cooldown, err := j.trade.ApplyOpen(now, out)
			if cooldown {
				m.inst.Cooldown(j.Epic, now)
			}
			return err
		})

	case ActionClose:
		err := m.broker.ClosePosition(ctx, j.Close)
		if err != nil {
			log.Warn("close failed", zap.Error(err))
		}
		m.apply(j, func(now time.Time) error { return j.trade.ApplyClose(now, err) })

	case ActionVerify:
		_, err := m.broker.GetPosition(ctx, j.DealID)
		if err != nil && !errors.Is(err, models.ErrPositionNotFound) {
			log.Warn("verify failed", zap.Error(err))
			return
		}
		found := err == nil
		m.apply(j, func(now time.Time) error { return j.trade.ApplyVerify(now, found) })
	}
}

func (m *Manager) apply(j Job, fn func(now time.Time) error) {
	unlock := m.inst.Lock(j.Epic)
	defer unlock()
	if err := fn(m.now()); err != nil {
		m.log.Error("apply outcome", zap.String("trade", j.trade.ID()), zap.Error(err))
	}
	m.persist(j.trade)
	m.sweep()
}

func (m *Manager) open(ctx context.Context, req models.OpenRequest) OpenOutcome {
	ref, err := m.broker.OpenPosition(ctx, req)
	if err != nil {
		return OpenOutcome{Err: err}
	}
	conf, err := m.broker.ConfirmDeal(ctx, ref)
	if err != nil {
		return OpenOutcome{DealReference: ref, Err: err}
	}
	out := OpenOutcome{
		DealReference: ref,
		DealID:        conf.DealID,
		Accepted:      conf.Accepted(),
		Level:         conf.Level,
		Reason:        conf.Reason,
	}
	if out.Accepted && out.Level == 0 && conf.DealID != "" {
		if pos, err := m.broker.GetPosition(ctx, conf.DealID); err == nil {
			out.Level = pos.OpenLevel
		}
	}
	return out
}

func (m *Manager) persist(t *Trade) {
	if !t.takeDirty() {
		return
	}
	rec := t.Record()
	if m.store != nil {
		if err := m.store.Save(rec); err != nil {
			m.log.Error("save trade", zap.String("trade", rec.ID), zap.Error(err))
		}
	}
	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()
	for _, l := range m.listeners {
		l.TradeChanged(rec)
	}
}

// sweep drops terminal trades from the active set.
// A *Trade belongs to its instrument lock; across instruments only the
// persisted copies in m.records are read.
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.active {
		if m.records[id].State.Terminal() {
			delete(m.active, id)
			delete(m.records, id)
		}
	}
}

func (m *Manager) forEpic(epic string) (list []*Trade, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.active {
		if t.Epic() == epic && !m.records[id].State.Terminal() {
			list = append(list, t)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].rec.CreatedAt.Before(list[j].rec.CreatedAt) })
	return list, len(m.active)
}

// Restore adopts persisted records that are not in memory yet, matched by id,
// deal id or file name. Returns how many were added.
func (m *Manager) Restore(records []models.TradeRecord) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make(map[string]bool, len(m.active))
	deals := make(map[string]bool, len(m.active))
	files := make(map[string]bool, len(m.active))
	for id := range m.active {
		rec := m.records[id]
		ids[id] = true
		files[FileName(rec)] = true
		if realDeal(rec.DealID) {
			deals[rec.DealID] = true
		}
	}

	n := 0
	for _, rec := range records {
		if rec.State.Terminal() {
			continue
		}
		if ids[rec.ID] || files[FileName(rec)] || (realDeal(rec.DealID) && deals[rec.DealID]) {
			continue
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		t := FromRecord(&m.cfg, rec)
		m.active[rec.ID] = t
		m.records[rec.ID] = t.Record()
		ids[rec.ID], files[FileName(rec)] = true, true
		if realDeal(rec.DealID) {
			deals[rec.DealID] = true
		}
		n++
	}
	return n
}

// Dedupe keeps the oldest trade per deal id and drops the rest from memory.
func (m *Manager) Dedupe() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]models.TradeRecord, 0, len(m.active))
	for id := range m.active {
		list = append(list, m.records[id])
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })

	seen := make(map[string]bool)
	dropped := 0
	for _, rec := range list {
		d := rec.DealID
		if !realDeal(d) {
			continue
		}
		if seen[d] {
			delete(m.active, rec.ID)
			delete(m.records, rec.ID)
			dropped++
			continue
		}
		seen[d] = true
	}
	return dropped
}

func realDeal(id string) bool { return id != "" && id != "PENDING" }

// Trades returns the active trades, oldest first.
func (m *Manager) Trades() []models.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TradeRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// localInstruments is the fallback when no market registry is wired.
type localInstruments struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLocalInstruments() *localInstruments {
	return &localInstruments{locks: make(map[string]*sync.Mutex)}
}

func (l *localInstruments) Lock(epic string) func() {
	l.mu.Lock()
	mu, ok := l.locks[epic]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[epic] = mu
	}
	l.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (*localInstruments) Cooldown(string, time.Time) {}
