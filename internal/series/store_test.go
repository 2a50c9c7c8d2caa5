package series

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_ig/internal/models"
)

var t0 = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func px(v float64) models.Price { return models.NewPrice(v, v+1) }

func bar(at time.Time, o, h, l, c, vol float64) models.Bar {
	return models.Bar{Time: at, Open: px(o), High: px(h), Low: px(l), Close: px(c), Volume: vol}
}

func tick(at time.Time, o, h, l, c, vol float64) models.Tick {
	return models.Tick{Epic: "CS.D.EURUSD.MINI.IP", Time: at, Open: px(o), High: px(h), Low: px(l), Close: px(c), Volume: vol}
}

func series(n int, tf models.Timeframe, from time.Time) []models.Bar {
	out := make([]models.Bar, n)
	for i := range out {
		v := 100 + float64(i)
		out[i] = bar(from.Add(time.Duration(i)*tf.Duration()), v, v+2, v-2, v+1, 10)
	}
	return out
}

type fakeFetcher struct {
	calls int
	err   error
	bars  []models.Bar
}

func (f *fakeFetcher) GetPriceHistory(_ context.Context, _ string, _ models.Timeframe, count int) ([]models.Bar, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if count > len(f.bars) {
		count = len(f.bars)
	}
	return f.bars[len(f.bars)-count:], nil
}

func TestEnsure(t *testing.T) {
	s := NewStore("EPIC", Config{})

	assert.Equal(t, 20, s.Ensure(models.Minute5, 20, t0))
	assert.Equal(t, DefaultCap, s.Ensure(models.Minute5, 500, t0), "capped at buffer size")

	s.Append(models.Minute5, series(20, models.Minute5, t0))
	last := t0.Add(19 * 5 * time.Minute)

	assert.Equal(t, 0, s.Ensure(models.Minute5, 20, last.Add(4*time.Minute)), "current bar counts as present")
	assert.Equal(t, 2, s.Ensure(models.Minute5, 20, last.Add(12*time.Minute)))
	assert.Equal(t, 10, s.Ensure(models.Minute5, 30, last.Add(12*time.Minute)), "shortfall wins")
	assert.Equal(t, 20, s.Ensure(models.Minute5, 20, last.Add(48*time.Hour)), "never more than minCount")
}

func TestAppendMergesAndEvicts(t *testing.T) {
	s := NewStore("EPIC", Config{Cap: 5})
	s.Append(models.Hour, series(4, models.Hour, t0))

	live := s.Live(models.Hour)
	live[3].Set("ema_8", 1.5)

	upd := bar(t0.Add(3*time.Hour), 1, 2, 0.5, 1.9, 7)
	s.Append(models.Hour, append([]models.Bar{upd}, series(3, models.Hour, t0.Add(4*time.Hour))...))

	bars := s.Bars(models.Hour)
	require.Len(t, bars, 5)
	assert.Equal(t, t0.Add(2*time.Hour), bars[0].Time, "oldest evicted first")
	assert.Equal(t, 1.9, bars[1].Close.Bid)
	v, ok := bars[1].Get("ema_8")
	assert.True(t, ok, "replaced bar keeps indicators")
	assert.Equal(t, 1.5, v)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i-1].Time.Before(bars[i].Time))
	}
}

func TestAppendCarriesForwardMissingSides(t *testing.T) {
	s := NewStore("EPIC", Config{})
	first := bar(t0, 10, 12, 9, 11, 1)
	second := bar(t0.Add(time.Minute), 11, 13, 10, 12, 1)
	second.Close.Bid = 0
	second.High.Ask = math.NaN()

	s.Append(models.Minute, []models.Bar{first, second})

	got, ok := s.Last(models.Minute)
	require.True(t, ok)
	assert.Equal(t, 11.0, got.Close.Bid, "previous close carried forward")
	assert.Equal(t, (11.0+13.0)/2, got.Close.Mid)
	assert.False(t, models.Missing(got.High.Ask))
	assert.InDelta(t, (got.High.Bid+got.High.Ask)/2, got.High.Mid, 1e-9)
}

func TestFoldTickDerivesCoarseBars(t *testing.T) {
	s := NewStore("EPIC", Config{Chain: []models.Timeframe{models.Minute, models.Minute5}})

	assert.Empty(t, s.FoldTick(tick(t0.Add(10*time.Second), 100, 101, 99, 100.5, 3)))
	assert.Empty(t, s.FoldTick(tick(t0.Add(40*time.Second), 100, 103, 99, 102, 5)))
	closed := s.FoldTick(tick(t0.Add(90*time.Second), 102, 102, 98, 99, 2))
	assert.Equal(t, []models.Timeframe{models.Minute}, closed)

	m5, ok := s.Last(models.Minute5)
	require.True(t, ok)
	assert.Equal(t, t0, m5.Time)
	assert.Equal(t, 100.0, m5.Open.Bid)
	assert.Equal(t, 103.0, m5.High.Bid)
	assert.Equal(t, 98.0, m5.Low.Bid)
	assert.Equal(t, 99.0, m5.Close.Bid)
	assert.Equal(t, 7.0, m5.Volume, "minute volume replaced, coarse volume summed")

	closed = s.FoldTick(tick(t0.Add(5*time.Minute), 99, 99, 99, 99, 1))
	assert.Equal(t, []models.Timeframe{models.Minute, models.Minute5}, closed)
	assert.Equal(t, 2, s.Len(models.Minute5))
}

func TestFoldTickIsIdempotent(t *testing.T) {
	chain := []models.Timeframe{models.Minute, models.Minute5, models.Minute30}
	once := NewStore("EPIC", Config{Chain: chain})
	twice := NewStore("EPIC", Config{Chain: chain})

	seedBar := bar(t0, 90, 120, 80, 100, 500)
	once.Append(models.Minute30, []models.Bar{seedBar})
	twice.Append(models.Minute30, []models.Bar{seedBar})

	for i := 0; i < 40; i++ {
		v := 100 + float64(i%7)
		tk := tick(t0.Add(3*time.Minute+time.Duration(i)*37*time.Second), v, v+1, v-1, v+0.5, float64(i))
		once.FoldTick(tk)
		twice.FoldTick(tk)
		twice.FoldTick(tk)
	}

	for _, tf := range chain {
		assert.Equal(t, once.Bars(tf), twice.Bars(tf), tf)
	}

	m30, ok := once.Last(models.Minute30)
	require.True(t, ok)
	assert.Equal(t, 90.0, m30.Open.Bid, "fetched open kept as seed")
	assert.Equal(t, 120.0, m30.High.Bid)
	assert.Equal(t, 80.0, m30.Low.Bid)
	assert.Greater(t, m30.Volume, 500.0)
}

func TestFoldTickOverFetchedBarCountsVolumeOnce(t *testing.T) {
	s := NewStore("EPIC", Config{Chain: []models.Timeframe{models.Minute, models.Minute5}})
	s.Append(models.Minute5, []models.Bar{bar(t0, 100, 104, 96, 101, 100)})
	s.Append(models.Minute, []models.Bar{
		bar(t0, 100, 102, 99, 101, 30),
		bar(t0.Add(time.Minute), 101, 104, 100, 102, 40),
		bar(t0.Add(2*time.Minute), 102, 103, 96, 101, 30),
	})

	// the fetched 10:02 minute keeps filling
	s.FoldTick(tick(t0.Add(2*time.Minute+30*time.Second), 102, 103, 96, 100, 35))
	m5, ok := s.Last(models.Minute5)
	require.True(t, ok)
	assert.Equal(t, 105.0, m5.Volume)
	assert.Equal(t, 100.0, m5.Open.Bid, "fetched open kept")
	assert.Equal(t, 104.0, m5.High.Bid)

	// a minute the fetch never saw adds its own volume
	s.FoldTick(tick(t0.Add(3*time.Minute+10*time.Second), 100, 105, 100, 105, 5))
	m5, _ = s.Last(models.Minute5)
	assert.Equal(t, 110.0, m5.Volume)
	assert.Equal(t, 105.0, m5.High.Bid)
	assert.Equal(t, 105.0, m5.Close.Bid)
}

func TestFoldTickIgnoresLateTicks(t *testing.T) {
	s := NewStore("EPIC", Config{Chain: []models.Timeframe{models.Minute, models.Minute5}})
	s.FoldTick(tick(t0.Add(2*time.Minute), 1, 2, 1, 2, 1))
	before := s.Bars(models.Minute)

	assert.Nil(t, s.FoldTick(tick(t0, 5, 6, 5, 6, 1)))
	assert.Equal(t, before, s.Bars(models.Minute))
}

func TestRefreshCooldownOnFetchError(t *testing.T) {
	s := NewStore("EPIC", Config{Cooldown: 10 * time.Minute})
	f := &fakeFetcher{err: errors.New("boom")}

	n, err := s.Refresh(context.Background(), f, models.Minute5, 20, t0)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.True(t, s.CoolingDown(t0.Add(9*time.Minute)))

	_, err = s.Refresh(context.Background(), f, models.Minute5, 20, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls, "skipped while cooling down")

	f.err = nil
	f.bars = series(30, models.Minute5, t0)
	n, err = s.Refresh(context.Background(), f, models.Minute5, 20, t0.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	assert.Equal(t, 2, f.calls)
	assert.Equal(t, 20, s.Len(models.Minute5))
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore("IX.D.FTSE.DAILY.IP", Config{})
	s.Append(models.Day, series(3, models.Day, t0))
	s.Cooldown(t0)
	require.NoError(t, s.Save(dir))
	assert.FileExists(t, SnapshotPath(dir, "IX.D.FTSE.DAILY.IP"))

	restored := NewStore("IX.D.FTSE.DAILY.IP", Config{})
	require.NoError(t, restored.Load(dir))
	assert.Equal(t, 3, restored.Len(models.Day))
	assert.True(t, restored.CoolingDown(t0.Add(time.Minute)))

	missing := NewStore("OTHER", Config{})
	assert.NoError(t, missing.Load(dir))
}
