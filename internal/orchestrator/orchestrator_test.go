package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auto_ig/internal/market"
	"auto_ig/internal/models"
	"auto_ig/internal/series"
	"auto_ig/internal/signals"
	"auto_ig/internal/strategy"
	"auto_ig/internal/trades"
)

const epic = "CS.D.EURUSD.MINI.IP"

// a Wednesday
var t0 = time.Date(2024, 1, 10, 10, 2, 0, 0, time.UTC)

type fakeBroker struct {
	mu       sync.Mutex
	batches  []int
	spreads  map[string]float64
	histErr  error
	fetches  int
	opens    int
	confirms []models.Confirmation
	// now places the broker's in-progress bar; t0 when zero
	now time.Time
}

func (b *fakeBroker) GetMarketSnapshots(_ context.Context, epics []string) ([]models.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, len(epics))
	out := make([]models.Quote, 0, len(epics))
	for _, e := range epics {
		spread := 0.5
		if s, ok := b.spreads[e]; ok {
			spread = s
		}
		out = append(out, models.Quote{Epic: e, Bid: 100, Offer: 100 + spread, Status: models.StatusTradeable})
	}
	return out, nil
}

func (b *fakeBroker) GetPriceHistory(_ context.Context, _ string, tf models.Timeframe, count int) ([]models.Bar, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	if b.histErr != nil {
		return nil, b.histErr
	}
	now := b.now
	if now.IsZero() {
		now = t0
	}
	last := tf.Bucket(now)
	out := make([]models.Bar, count)
	for i := range out {
		c := 100 + float64(i%7)
		out[i] = models.Bar{
			Time:  last.Add(-time.Duration(count-1-i) * tf.Duration()),
			Open:  models.NewPrice(c, c+0.5),
			High:  models.NewPrice(c+1, c+1.5),
			Low:   models.NewPrice(c-1, c-0.5),
			Close: models.NewPrice(c, c+0.5),
		}
	}
	return out, nil
}

func (b *fakeBroker) OpenPosition(context.Context, models.OpenRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	return fmt.Sprintf("REF%d", b.opens), nil
}

func (b *fakeBroker) ConfirmDeal(context.Context, string) (models.Confirmation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.confirms) == 0 {
		return models.Confirmation{Status: models.DealRejected, Reason: "UNKNOWN"}, nil
	}
	c := b.confirms[0]
	b.confirms = b.confirms[1:]
	return c, nil
}

func (b *fakeBroker) GetPosition(_ context.Context, dealID string) (models.Position, error) {
	return models.Position{DealID: dealID}, nil
}

func (b *fakeBroker) ClosePosition(context.Context, models.CloseRequest) error { return nil }

// stub records the hooks it sees and predicts a fixed trade.
type stub struct {
	strategy.Base
	slow, fast []models.Timeframe
	// last bar handed to each hook call
	slowLast, fastLast []time.Time
	predicts int
}

func (s *stub) OnSlowTimeframe(_ strategy.Market, bars []models.Bar, tf models.Timeframe, _ strategy.Emitter) {
	s.slow = append(s.slow, tf)
	s.slowLast = append(s.slowLast, lastTime(bars))
}

func (s *stub) OnFastTimeframe(_ strategy.Market, bars []models.Bar, tf models.Timeframe, _ strategy.Emitter) {
	s.fast = append(s.fast, tf)
	s.fastLast = append(s.fastLast, lastTime(bars))
}

func lastTime(bars []models.Bar) time.Time {
	if len(bars) == 0 {
		return time.Time{}
	}
	return bars[len(bars)-1].Time
}

func (s *stub) Predict(sig models.Signal, _ strategy.Market) (models.Prediction, error) {
	s.predicts++
	return models.NewPrediction(s.Name(), sig, 20, 5), nil
}

type fixture struct {
	dir    string
	broker *fakeBroker
	stub   *stub
	sigs   *signals.Registry
	store  *trades.FileStore
	mgr    *trades.Manager
	o      *Orchestrator
}

func newFixture(t *testing.T, epics ...string) *fixture {
	if len(epics) == 0 {
		epics = []string{epic}
	}
	f := &fixture{
		dir:    t.TempDir(),
		broker: &fakeBroker{},
		stub:   &stub{Base: strategy.NewBase("stub")},
		sigs:   signals.NewRegistry(zap.NewNop()),
	}
	engine := strategy.NewEngine(zap.NewNop(), strategy.EngineConfig{}, nil, f.stub)
	f.store = trades.NewFileStore(f.dir)
	f.mgr = trades.NewManager(zap.NewNop(), trades.Config{}, f.store, f.broker, engine, trades.SyncExecutor{})
	f.mgr.SetClock(func() time.Time { return t0 })
	f.o = New(zap.NewNop(), Config{Epics: epics, DataDir: f.dir}, f.broker,
		market.NewRegistry(epics, series.Config{}), f.sigs, engine, f.mgr, f.store)
	return f
}

func (f *fixture) emit(side models.Side) {
	f.sigs.Emit(models.Signal{
		Epic:      epic,
		Strategy:  "stub",
		Name:      "STUB_OPEN",
		Timeframe: models.Minute30,
		Position:  side,
		Score:     models.ScoreOpen,
		Life:      1,
		Timestamp: t0,
	})
}

func TestInTradingWindow(t *testing.T) {
	cases := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2024, 1, 13, 12, 0, 0, 0, time.UTC), false}, // Saturday
		{time.Date(2024, 1, 14, 12, 0, 0, 0, time.UTC), false}, // Sunday
		{time.Date(2024, 1, 8, 1, 59, 0, 0, time.UTC), false},
		{time.Date(2024, 1, 8, 2, 0, 0, 0, time.UTC), true},
		{time.Date(2024, 1, 10, 23, 0, 0, 0, time.UTC), true},
		{time.Date(2024, 1, 12, 18, 59, 0, 0, time.UTC), true},
		{time.Date(2024, 1, 12, 19, 0, 1, 0, time.UTC), false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, InTradingWindow(c.at), c.at.Format(time.RFC1123))
	}
}

func TestCycleOpensTradeFromSignal(t *testing.T) {
	f := newFixture(t)
	f.broker.confirms = []models.Confirmation{{DealID: "DIAAA", Status: models.DealAccepted, Level: 100.5}}
	f.emit(models.SideBuy)

	require.NoError(t, f.o.Cycle(context.Background(), t0))

	recs := f.mgr.Trades()
	require.Len(t, recs, 1)
	assert.Equal(t, models.TradeOpen, recs[0].State)
	assert.Equal(t, "DIAAA", recs[0].DealID)
	assert.Equal(t, "stub", recs[0].Prediction.Strategy)
	assert.Equal(t, 1, f.stub.predicts)
	assert.Equal(t, 1, f.broker.opens)
	assert.Empty(t, f.sigs.Eligible(epic, models.ScoreClose), "consumed signal is marked used")

	_, err := os.Stat(filepath.Join(f.dir, "trades", trades.BucketOpen, trades.FileName(recs[0])))
	assert.NoError(t, err)
	_, err = os.Stat(series.SnapshotPath(f.dir, epic))
	assert.NoError(t, err, "price snapshot written")
}

// slowOpens answers an open only after a delay, failing on a cancelled ctx.
type slowOpens struct {
	*fakeBroker
}

func (b slowOpens) OpenPosition(ctx context.Context, req models.OpenRequest) (string, error) {
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return b.fakeBroker.OpenPosition(ctx, req)
}

func TestCancelledCycleContextLeavesOpensRunning(t *testing.T) {
	f := newFixture(t)
	b := slowOpens{fakeBroker: f.broker}
	f.broker.confirms = []models.Confirmation{{DealID: "DIAAA", Status: models.DealAccepted, Level: 100.5}}
	engine := strategy.NewEngine(zap.NewNop(), strategy.EngineConfig{}, nil, f.stub)
	exec := trades.NewGoExecutor()
	mgr := trades.NewManager(zap.NewNop(), trades.Config{}, f.store, b, engine, exec)
	mgr.SetClock(func() time.Time { return t0 })
	o := New(zap.NewNop(), Config{Epics: []string{epic}, DataDir: f.dir}, b,
		market.NewRegistry([]string{epic}, series.Config{}), f.sigs, engine, mgr, f.store)
	o.SetClock(func() time.Time { return t0 })
	f.emit(models.SideBuy)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	require.NoError(t, o.RunOnce(ctx))
	cancel()
	exec.Wait()

	recs := mgr.Trades()
	require.Len(t, recs, 1)
	assert.Equal(t, models.TradeOpen, recs[0].State)
	assert.Equal(t, 1, f.broker.opens)
}

func TestCycleLeavesSignalsAloneAtWeekends(t *testing.T) {
	f := newFixture(t)
	f.emit(models.SideBuy)
	saturday := time.Date(2024, 1, 13, 12, 0, 0, 0, time.UTC)

	require.NoError(t, f.o.Cycle(context.Background(), saturday))

	assert.Empty(t, f.mgr.Trades())
	assert.Len(t, f.sigs.Eligible(epic, models.ScoreClose), 1)
}

func TestSnapshotsAreBatched(t *testing.T) {
	epics := make([]string, 120)
	for i := range epics {
		epics[i] = fmt.Sprintf("CS.D.E%03d.MINI.IP", i)
	}
	f := newFixture(t, epics...)
	f.broker.spreads = map[string]float64{epics[77]: 0.1, epics[3]: 3}

	require.NoError(t, f.o.Cycle(context.Background(), t0))

	assert.Equal(t, []int{50, 50, 20}, f.broker.batches)
	inst, ok := f.o.Markets().Get(epics[3])
	require.True(t, ok)
	assert.InDelta(t, 3, inst.QuoteSnapshot().Spread, 1e-9)
	assert.Equal(t, epics[77], f.o.Markets().BySpread()[0].Epic())
}

func TestFetchErrorCoolsDown(t *testing.T) {
	f := newFixture(t)
	f.broker.histErr = errors.New("allowance exceeded")
	ctx := context.Background()

	require.NoError(t, f.o.Cycle(ctx, t0))
	assert.Equal(t, 1, f.broker.fetches, "one failure stops the instrument's refresh")

	require.NoError(t, f.o.Cycle(ctx, t0.Add(5*time.Minute)))
	assert.Equal(t, 1, f.broker.fetches)

	f.broker.histErr = nil
	require.NoError(t, f.o.Cycle(ctx, t0.Add(11*time.Minute)))
	assert.Greater(t, f.broker.fetches, 1)
}

func TestReconcileAdoptsOpenFiles(t *testing.T) {
	f := newFixture(t)
	opened := t0.Add(-time.Hour)
	sig := models.Signal{Name: "STUB_OPEN", Timeframe: models.Minute30, Position: models.SideBuy, Score: models.ScoreOpen}
	mine := models.TradeRecord{
		ID:         "a",
		Epic:       epic,
		Size:       1,
		DealID:     "DIXYZ",
		State:      models.TradeOpen,
		CreatedAt:  opened,
		OpenedAt:   &opened,
		OpenLevel:  100,
		Prediction: models.NewPrediction("stub", sig, 20, 5),
	}
	other := mine
	other.ID, other.Epic, other.DealID = "b", "IX.D.FTSE.DAILY.IP", "DIOTHER"
	require.NoError(t, f.store.Save(mine))
	require.NoError(t, f.store.Save(other))

	prices := series.NewStore(epic, series.Config{})
	bars, err := f.broker.GetPriceHistory(context.Background(), epic, models.Minute30, 20)
	require.NoError(t, err)
	prices.Append(models.Minute30, bars)
	require.NoError(t, prices.Save(f.dir))

	added, err := f.o.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	recs := f.mgr.Trades()
	require.Len(t, recs, 1)
	assert.Equal(t, "DIXYZ", recs[0].DealID)
	assert.Equal(t, models.TradeOpen, recs[0].State)

	added, err = f.o.Reconcile()
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Len(t, f.mgr.Trades(), 1)

	inst, _ := f.o.Markets().Get(epic)
	inst.Lock()
	defer inst.Unlock()
	assert.Equal(t, 20, inst.Store().Len(models.Minute30))
	last, _ := inst.Store().Last(models.Minute30)
	_, annotated := last.Get("ema_8")
	assert.True(t, annotated)
}

func TestOnTickFoldsAndRunsHooks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	tick := func(at string, bid float64) {
		d, err := time.ParseDuration(at)
		require.NoError(t, err)
		p := models.NewPrice(bid, bid+0.5)
		f.o.OnTick(ctx, models.Tick{Epic: epic, Time: day.Add(d), Open: p, High: p, Low: p, Close: p})
	}

	tick("10h0m10s", 100)
	assert.Empty(t, f.stub.fast)

	tick("10h5m10s", 101)
	assert.Equal(t, []models.Timeframe{models.Minute5}, f.stub.fast)
	assert.Empty(t, f.stub.slow)

	tick("10h30m10s", 102)
	assert.Equal(t, []models.Timeframe{models.Minute30}, f.stub.slow)
	assert.Len(t, f.stub.fast, 2)

	inst, _ := f.o.Markets().Get(epic)
	q := inst.QuoteSnapshot()
	assert.Equal(t, 102.0, q.Bid)
	assert.InDelta(t, 0.5, q.Spread, 1e-9)

	f.o.OnTick(ctx, models.Tick{Epic: "UNKNOWN", Time: day})
}

func TestPollAndTickHandHooksClosedBarsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.o.Cycle(ctx, t0))
	require.Empty(t, f.stub.slow)

	later := t0.Add(30 * time.Minute)
	f.broker.now = later
	require.NoError(t, f.o.Cycle(ctx, later))
	require.Equal(t, []models.Timeframe{models.Minute30}, f.stub.slow)
	assert.Equal(t, models.Minute30.Bucket(t0), f.stub.slowLast[0], "in-progress 10:30 bar held back")
	require.NotEmpty(t, f.stub.fastLast)
	assert.Equal(t, models.Minute5.Bucket(later).Add(-5*time.Minute), f.stub.fastLast[0])

	// a tick opening the next bucket closes the 10:30 bar the same way
	p := models.NewPrice(101, 101.5)
	next := models.Minute30.Bucket(later).Add(30*time.Minute + 10*time.Second)
	f.o.OnTick(ctx, models.Tick{Epic: epic, Time: next, Open: p, High: p, Low: p, Close: p})
	require.Len(t, f.stub.slowLast, 2)
	assert.Equal(t, models.Minute30.Bucket(later), f.stub.slowLast[1])
}

func TestWarmupReplaysSlowBarsWithoutTrading(t *testing.T) {
	f := newFixture(t)
	f.o.SetClock(func() time.Time { return t0 })
	f.emit(models.SideBuy)

	_, err := f.o.Warmup(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, []models.Timeframe{models.Minute30, models.Minute30, models.Minute30, models.Minute30, models.Minute30}, f.stub.slow,
		"first fetch runs no hooks, backfill replays five slow bars")
	assert.Zero(t, f.broker.opens)
	assert.Len(t, f.sigs.Eligible(epic, models.ScoreClose), 1, "warmup leaves signals alone")

	inst, ok := f.o.Markets().Get(epic)
	require.True(t, ok)
	assert.Equal(t, 100.0, inst.QuoteSnapshot().Bid)
}
