package service

import (
	"sync/atomic"
	"time"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	feedConnected atomic.Bool
	lastTickUnix  atomic.Int64 // unix seconds
	lastCycleUnix atomic.Int64
	cycleMillis   atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

// FeedConnected: feed observer.
func (s *State) FeedConnected(v bool) { s.feedConnected.Store(v) }
func (s *State) Connected() bool      { return s.feedConnected.Load() }

// TickReceived and CycleFinished: orchestrator observer.
func (s *State) TickReceived(string) { s.lastTickUnix.Store(time.Now().Unix()) }
func (s *State) CycleFinished(d time.Duration) {
	s.lastCycleUnix.Store(time.Now().Unix())
	s.cycleMillis.Store(d.Milliseconds())
}

func (s *State) LastTick() time.Time  { return unix(s.lastTickUnix.Load()) }
func (s *State) LastCycle() time.Time { return unix(s.lastCycleUnix.Load()) }
func (s *State) CycleTook() time.Duration {
	return time.Duration(s.cycleMillis.Load()) * time.Millisecond
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func unix(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}
