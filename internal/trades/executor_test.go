package trades

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auto_ig/internal/models"
)

// slowBroker answers after a delay and honours cancellation like the HTTP client.
type slowBroker struct {
	delay time.Duration

	mu    sync.Mutex
	opens int
}

func (b *slowBroker) wait(ctx context.Context) error {
	select {
	case <-time.After(b.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *slowBroker) OpenPosition(ctx context.Context, req models.OpenRequest) (string, error) {
	if err := b.wait(ctx); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.opens++
	b.mu.Unlock()
	return "REF-" + req.Epic, nil
}

func (b *slowBroker) ConfirmDeal(ctx context.Context, ref string) (models.Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return models.Confirmation{}, err
	}
	return models.Confirmation{DealID: "DI-" + ref, Status: models.DealAccepted, Level: 100}, nil
}

func (b *slowBroker) GetPosition(_ context.Context, id string) (models.Position, error) {
	return models.Position{DealID: id, OpenLevel: 100}, nil
}

func (b *slowBroker) ClosePosition(context.Context, models.CloseRequest) error { return nil }

func (b *slowBroker) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

// epicMarket is fakeMarket under another epic.
type epicMarket struct {
	*fakeMarket
	epic string
}

func (m epicMarket) Epic() string { return m.epic }

func newAsyncManager(b Broker) (*Manager, *GoExecutor) {
	exec := NewGoExecutor()
	adv := &fakeAdvisor{pred: models.Prediction{Strategy: "test", StopLoss: 20, LimitDistance: 50, Trailing: models.TrailRule{Mode: models.TrailPeak}}}
	m := NewManager(zap.NewNop(), Config{}, nil, b, adv, exec)
	m.SetClock(func() time.Time { return t0 })
	return m, exec
}

func openSignal(e string) models.Signal {
	return models.Signal{Epic: e, Strategy: "test", Name: "TEST_OPEN", Position: models.SideBuy, Score: models.ScoreOpen, Timestamp: t0}
}

func TestDispatchedOpenOutlivesCallerContext(t *testing.T) {
	b := &slowBroker{delay: 20 * time.Millisecond}
	m, exec := newAsyncManager(b)
	mk := &fakeMarket{}
	mk.price(100, 100.8)

	require.Equal(t, DecisionOpened, m.Consider(openSignal(epic), mk, t0).Decision)

	ctx, cancel := context.WithCancel(context.Background())
	m.Dispatch(ctx, m.Update(mk, t0))
	cancel()
	exec.Wait()

	assert.Equal(t, 1, b.Opens())
	require.Equal(t, 1, m.Active())
	rec := m.Trades()[0]
	assert.Equal(t, models.TradeOpen, rec.State)
	assert.Equal(t, "DI-REF-"+epic, rec.DealID)
}

func TestJobTimeoutBoundsBrokerCall(t *testing.T) {
	b := &slowBroker{delay: time.Second}
	exec := NewGoExecutor()
	m := NewManager(zap.NewNop(), Config{JobTimeout: 10 * time.Millisecond}, nil, b, &fakeAdvisor{}, exec)
	m.SetClock(func() time.Time { return t0 })
	mk := &fakeMarket{}
	mk.price(100, 100.8)

	m.Consider(openSignal(epic), mk, t0)
	m.Dispatch(context.Background(), m.Update(mk, t0))
	exec.Wait()

	assert.Zero(t, b.Opens())
	assert.Zero(t, m.Active(), "a failed open is swept")
}

// Instrument A is evaluated under its own lock while B's open job lands.
// Run with -race.
func TestUpdatesOnOneInstrumentDoNotReadAnother(t *testing.T) {
	const other = "CS.D.EURUSD.MINI.IP"
	b := &slowBroker{delay: 5 * time.Millisecond}
	m, exec := newAsyncManager(b)
	locks := newLocalInstruments()
	m.SetInstruments(locks)

	a := &fakeMarket{}
	a.price(100, 100.8)
	bm := epicMarket{fakeMarket: &fakeMarket{}, epic: other}
	bm.price(100, 100.8)

	unlock := locks.Lock(epic)
	m.Consider(openSignal(epic), a, t0)
	jobs := m.Update(a, t0)
	unlock()
	m.Dispatch(context.Background(), jobs)
	exec.Wait()

	unlock = locks.Lock(other)
	m.Consider(openSignal(other), bm, t0)
	jobs = m.Update(bm, t0)
	unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			unlock := locks.Lock(epic)
			a.q.Bid = 100 + float64(i%5)
			m.Update(a, t0)
			unlock()
		}
	}()
	m.Dispatch(context.Background(), jobs)
	exec.Wait()
	<-done

	recs := m.Trades()
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, models.TradeOpen, rec.State, rec.Epic)
	}
}
