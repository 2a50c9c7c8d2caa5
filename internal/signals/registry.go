package signals

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"auto_ig/internal/models"
)

// Registry keeps the live signals per instrument, at most one per
// (epic, name, timeframe).
type Registry struct {
	log *zap.Logger

	mu     sync.Mutex
	byEpic map[string][]models.Signal
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:    log.Named("signals"),
		byEpic: make(map[string][]models.Signal),
	}
}

// Emit replaces any signal with the same key. Signals without a confirmation
// predicate are confirmed immediately.
func (r *Registry) Emit(sig models.Signal) {
	sig.Unused = true
	if sig.Confirm == nil {
		sig.Confirmed = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := sig.Key()
	live := r.byEpic[sig.Epic]
	out := make([]models.Signal, 0, len(live)+1)
	for _, s := range live {
		if s.Key() != key {
			out = append(out, s)
		}
	}
	r.byEpic[sig.Epic] = append(out, sig)

	r.log.Debug("signal emitted",
		zap.String("epic", sig.Epic),
		zap.String("name", sig.Name),
		zap.String("tf", string(sig.Timeframe)),
		zap.String("position", string(sig.Position)),
		zap.Int("score", sig.Score),
		zap.Int("life", sig.Life),
	)
}

// Tick ages every signal by one cycle and drops the ones whose life went
// negative. Returns the number of dropped signals.
func (r *Registry) Tick() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for epic, live := range r.byEpic {
		kept := make([]models.Signal, 0, len(live))
		for _, s := range live {
			s.Life--
			if s.Life < 0 {
				dropped++
				r.log.Debug("signal expired",
					zap.String("epic", epic),
					zap.String("name", s.Name),
					zap.String("tf", string(s.Timeframe)),
				)
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(r.byEpic, epic)
			continue
		}
		r.byEpic[epic] = kept
	}
	return dropped
}

// Query returns copies of epic's signals on tf; an empty name matches all.
func (r *Registry) Query(epic string, tf models.Timeframe, name string) []models.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Signal
	for _, s := range r.byEpic[epic] {
		if tf != "" && s.Timeframe != tf {
			continue
		}
		if name != "" && s.Name != name {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *Registry) Get(key models.SignalKey) (models.Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byEpic[key.Epic] {
		if s.Key() == key {
			return s, true
		}
	}
	return models.Signal{}, false
}

// Confirm checks pending predicates of epic's tf signals against a bar newer
// than the signal. Returns how many got confirmed.
func (r *Registry) Confirm(epic string, tf models.Timeframe, bar models.Bar) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	live := r.byEpic[epic]
	for i := range live {
		s := &live[i]
		if s.Confirmed || s.Confirm == nil || s.Timeframe != tf {
			continue
		}
		if !bar.Time.After(s.Timestamp) {
			continue
		}
		if s.Confirm(bar) {
			s.Confirmed = true
			n++
			r.log.Debug("signal confirmed", zap.String("epic", epic), zap.String("name", s.Name))
		}
	}
	return n
}

// Eligible lists confirmed, unused signals of epic with score >= minScore,
// best score first, newest first within a score.
func (r *Registry) Eligible(epic string, minScore int) []models.Signal {
	r.mu.Lock()
	var out []models.Signal
	for _, s := range r.byEpic[epic] {
		if s.Confirmed && s.Unused && s.Score >= minScore {
			out = append(out, s)
		}
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Remove drops the signal under key, e.g. once a strategy promoted it.
func (r *Registry) Remove(key models.SignalKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.byEpic[key.Epic]
	kept := make([]models.Signal, 0, len(live))
	for _, s := range live {
		if s.Key() != key {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(live) {
		return false
	}
	r.byEpic[key.Epic] = kept
	return true
}

func (r *Registry) MarkUsed(key models.SignalKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.byEpic[key.Epic]
	for i := range live {
		if live[i].Key() == key {
			live[i].Unused = false
			return true
		}
	}
	return false
}

// All returns every live signal ordered by epic, then timeframe and name.
func (r *Registry) All() []models.Signal {
	r.mu.Lock()
	out := make([]models.Signal, 0, 16)
	for _, live := range r.byEpic {
		out = append(out, live...)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Epic != b.Epic {
			return a.Epic < b.Epic
		}
		if a.Timeframe != b.Timeframe {
			return a.Timeframe < b.Timeframe
		}
		return a.Name < b.Name
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, live := range r.byEpic {
		n += len(live)
	}
	return n
}
