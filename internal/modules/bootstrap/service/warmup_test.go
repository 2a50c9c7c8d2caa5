package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOrchestrator struct {
	calls    []string
	lookback int
	err      error
}

func (f *fakeOrchestrator) Reconcile() (int, error) {
	f.calls = append(f.calls, "reconcile")
	return 2, nil
}

func (f *fakeOrchestrator) Warmup(_ context.Context, lookback int) (int, error) {
	f.calls = append(f.calls, "warmup")
	f.lookback = lookback
	return 3, f.err
}

type fakeBalance struct {
	v   float64
	err error
}

func (b fakeBalance) GetAccountBalance(context.Context) (float64, error) { return b.v, b.err }

type fakeSizer struct{ size float64 }

func (s *fakeSizer) SetSize(v float64) { s.size = v }
func (s *fakeSizer) Size() float64     { return s.size }

type fakeReady struct{ ready bool }

func (r *fakeReady) SetReady(v bool) { r.ready = v }

func TestWarmupOrderAndSizing(t *testing.T) {
	o := &fakeOrchestrator{}
	sizer := &fakeSizer{size: 1}
	ready := &fakeReady{}
	w := NewWarmuper(zap.NewNop(), Config{Backfill: 12, SizeFromBalance: true}, o, fakeBalance{v: 2750}, sizer, ready)

	require.NoError(t, w.Warmup(context.Background()))

	assert.Equal(t, []string{"reconcile", "warmup"}, o.calls)
	assert.Equal(t, 12, o.lookback)
	assert.Equal(t, 2.0, sizer.size)
	assert.True(t, ready.ready)
	assert.NotNil(t, w.Done())
	select {
	case <-w.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestWarmupKeepsSizeWithoutBalance(t *testing.T) {
	sizer := &fakeSizer{size: 1.5}
	ready := &fakeReady{}
	w := NewWarmuper(zap.NewNop(), Config{SizeFromBalance: true}, &fakeOrchestrator{}, fakeBalance{err: errors.New("down")}, sizer, ready)

	require.NoError(t, w.Warmup(context.Background()))
	assert.Equal(t, 1.5, sizer.size)
	assert.True(t, ready.ready)
}

func TestWarmupFailureLeavesNotReady(t *testing.T) {
	ready := &fakeReady{}
	w := NewWarmuper(zap.NewNop(), Config{}, &fakeOrchestrator{err: context.Canceled}, fakeBalance{}, &fakeSizer{}, ready)

	assert.ErrorIs(t, w.Warmup(context.Background()), context.Canceled)
	assert.False(t, ready.ready)
	select {
	case <-w.Done():
		t.Fatal("done closed after a failed warmup")
	default:
	}
}
