package market

import (
	"sort"
	"sync"
	"time"

	"auto_ig/internal/models"
	"auto_ig/internal/series"
)

// Instrument is one epic's mutable state. Every access to the store, the
// quote and the instrument's trades happens under its lock.
type Instrument struct {
	mu    sync.Mutex
	epic  string
	store *series.Store
	quote models.Quote
}

func NewInstrument(epic string, cfg series.Config) *Instrument {
	return &Instrument{epic: epic, store: series.NewStore(epic, cfg), quote: models.Quote{Epic: epic}}
}

func (i *Instrument) Epic() string { return i.epic }

func (i *Instrument) Lock()   { i.mu.Lock() }
func (i *Instrument) Unlock() { i.mu.Unlock() }

// Store: caller holds the lock.
func (i *Instrument) Store() *series.Store { return i.store }

// SetQuote: caller holds the lock.
func (i *Instrument) SetQuote(q models.Quote) {
	q.Epic = i.epic
	if q.Spread == 0 && q.Offer > 0 && q.Bid > 0 {
		q.Spread = q.Offer - q.Bid
	}
	i.quote = q
}

// ApplyTick moves the quote to the tick's close. Caller holds the lock.
func (i *Instrument) ApplyTick(t models.Tick) {
	q := i.quote
	q.Bid, q.Offer = t.Close.Bid, t.Close.Ask
	q.Spread = q.Offer - q.Bid
	q.UpdatedAt = t.Time
	i.quote = q
}

// QuoteSnapshot takes the lock itself.
func (i *Instrument) QuoteSnapshot() models.Quote {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.quote
}

// View returns the read-only view handed to strategies and the trade
// manager. It must only be used while the lock is held.
func (i *Instrument) View() View { return View{inst: i} }

type View struct {
	inst *Instrument
}

func (v View) Epic() string                          { return v.inst.epic }
func (v View) Quote() models.Quote                   { return v.inst.quote }
func (v View) Bars(tf models.Timeframe) []models.Bar { return v.inst.store.Bars(tf) }
func (v View) CoolingDown(now time.Time) bool        { return v.inst.store.CoolingDown(now) }

// Registry holds the configured instruments.
type Registry struct {
	mu     sync.RWMutex
	byEpic map[string]*Instrument
}

func NewRegistry(epics []string, cfg series.Config) *Registry {
	r := &Registry{byEpic: make(map[string]*Instrument, len(epics))}
	for _, e := range epics {
		if _, ok := r.byEpic[e]; !ok {
			r.byEpic[e] = NewInstrument(e, cfg)
		}
	}
	return r
}

func (r *Registry) Get(epic string) (*Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byEpic[epic]
	return i, ok
}

func (r *Registry) Has(epic string) bool {
	_, ok := r.Get(epic)
	return ok
}

// All returns the instruments sorted by epic.
func (r *Registry) All() []*Instrument {
	r.mu.RLock()
	out := make([]*Instrument, 0, len(r.byEpic))
	for _, i := range r.byEpic {
		out = append(out, i)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].epic < out[b].epic })
	return out
}

func (r *Registry) Epics() []string {
	all := r.All()
	out := make([]string, len(all))
	for n, i := range all {
		out[n] = i.epic
	}
	return out
}

// BySpread returns the instruments with the tightest spread first.
func (r *Registry) BySpread() []*Instrument {
	all := r.All()
	spread := make(map[string]float64, len(all))
	for _, i := range all {
		spread[i.epic] = i.QuoteSnapshot().Spread
	}
	sort.SliceStable(all, func(a, b int) bool { return spread[all[a].epic] < spread[all[b].epic] })
	return all
}

// Lock takes the instrument lock for epic; unknown epics get a no-op.
func (r *Registry) Lock(epic string) func() {
	i, ok := r.Get(epic)
	if !ok {
		return func() {}
	}
	i.Lock()
	return i.Unlock
}

// Cooldown starts the fetch/trade cooldown of epic. Caller holds the lock.
func (r *Registry) Cooldown(epic string, now time.Time) {
	if i, ok := r.Get(epic); ok {
		i.store.Cooldown(now)
	}
}
