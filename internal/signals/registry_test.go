package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auto_ig/internal/models"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func sig(epic, name string, score, life int) models.Signal {
	return models.Signal{
		Epic:      epic,
		Strategy:  "test",
		Name:      name,
		Timeframe: models.Minute5,
		Position:  models.SideBuy,
		Score:     score,
		Life:      life,
		Timestamp: t0,
	}
}

func TestEmitReplacesSameKey(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Emit(sig("A", "X", 4, 1))
	second := sig("A", "X", 2, 3)
	second.Comment = "second"
	r.Emit(second)
	r.Emit(sig("A", "Y", 1, 1))
	other := sig("A", "X", 4, 1)
	other.Timeframe = models.Hour
	r.Emit(other)

	assert.Equal(t, 3, r.Len())
	got := r.Query("A", models.Minute5, "X")
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Comment)
	assert.True(t, got[0].Confirmed, "no predicate: confirmed on emit")
	assert.True(t, got[0].Unused)
}

func TestTickLifeMonotonic(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Emit(sig("A", "ONE", 4, 1))
	r.Emit(sig("A", "ZERO", 4, 0))
	r.Emit(sig("B", "TWO", 4, 2))

	assert.Equal(t, 1, r.Tick())
	_, ok := r.Get(models.SignalKey{Epic: "A", Name: "ZERO", Timeframe: models.Minute5})
	assert.False(t, ok)
	one, ok := r.Get(models.SignalKey{Epic: "A", Name: "ONE", Timeframe: models.Minute5})
	require.True(t, ok)
	assert.Equal(t, 0, one.Life)

	prev := map[string]int{}
	for _, s := range r.All() {
		prev[s.Name] = s.Life
	}
	r.Tick()
	for _, s := range r.All() {
		assert.Less(t, s.Life, prev[s.Name])
	}
	assert.Equal(t, 1, r.Len(), "only TWO left")
	r.Tick()
	assert.Zero(t, r.Len())
}

func TestConfirmNeedsLaterBar(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	s := sig("A", "HAMMER", 4, 3)
	s.Confirm = func(b models.Bar) bool { return b.Close.Bid > 10 }
	r.Emit(s)
	assert.Empty(t, r.Eligible("A", 4))

	same := models.Bar{Time: t0, Close: models.NewPrice(11, 12)}
	assert.Zero(t, r.Confirm("A", models.Minute5, same))

	low := models.Bar{Time: t0.Add(5 * time.Minute), Close: models.NewPrice(9, 10)}
	assert.Zero(t, r.Confirm("A", models.Minute5, low))

	other := models.Bar{Time: t0.Add(5 * time.Minute), Close: models.NewPrice(11, 12)}
	assert.Zero(t, r.Confirm("A", models.Hour, other))
	assert.Equal(t, 1, r.Confirm("A", models.Minute5, other))
	assert.Len(t, r.Eligible("A", 4), 1)
}

func TestEligibleOrderAndMarkUsed(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	old := sig("A", "OLD", 4, 2)
	newer := sig("A", "NEW", 4, 2)
	newer.Timestamp = t0.Add(time.Minute)
	r.Emit(old)
	r.Emit(newer)
	r.Emit(sig("A", "INFO", 1, 2))
	r.Emit(sig("A", "CLOSE", 2, 2))

	got := r.Eligible("A", 2)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"NEW", "OLD", "CLOSE"}, []string{got[0].Name, got[1].Name, got[2].Name})

	assert.True(t, r.MarkUsed(newer.Key()))
	assert.False(t, r.MarkUsed(models.SignalKey{Epic: "A", Name: "NOPE"}))
	got = r.Eligible("A", 4)
	require.Len(t, got, 1)
	assert.Equal(t, "OLD", got[0].Name)
}
