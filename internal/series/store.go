package series

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"auto_ig/internal/models"
)

const (
	DefaultCap      = 50
	DefaultCooldown = 10 * time.Minute
)

// HistoryFetcher returns the last count bars of tf, oldest first.
type HistoryFetcher interface {
	GetPriceHistory(ctx context.Context, epic string, tf models.Timeframe, count int) ([]models.Bar, error)
}

type Config struct {
	Cap      int           `yaml:"cap"`
	Cooldown time.Duration `yaml:"cooldown"`
	// Chain is ordered finest first; ticks fold into Chain[0] and are re-derived upward.
	Chain []models.Timeframe `yaml:"chain"`
}

func (c Config) withDefaults() Config {
	if c.Cap <= 0 {
		c.Cap = DefaultCap
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if len(c.Chain) == 0 {
		c.Chain = models.FoldChain
	}
	return c
}

// Store holds the bar buffers of one instrument.
// It is not safe for concurrent use: the owner serialises access (market.Instrument lock).
type Store struct {
	epic string
	cfg  Config

	bars map[models.Timeframe][]models.Bar
	// seeds records every coarse bucket ticks folded into. A bar that was already
	// stored at first touch (fetched) is kept as the base of the bucket.
	seeds map[models.Timeframe]map[int64]seed

	cooldownUntil time.Time
}

func NewStore(epic string, cfg Config) *Store {
	return &Store{
		epic:  epic,
		cfg:   cfg.withDefaults(),
		bars:  make(map[models.Timeframe][]models.Bar),
		seeds: make(map[models.Timeframe]map[int64]seed),
	}
}

// seed is the running state of one coarse bucket ticks folded into.
type seed struct {
	open      models.Price
	high, low models.Price
	// base is the volume of a fetched bar not covered by the finer bars
	// present when ticks first reached the bucket.
	base float64
	// parts holds the latest volume of every finer bar folded in, so
	// finer bars evicted from their buffer still count.
	parts map[int64]float64
}

func (sd *seed) volume() float64 {
	v := sd.base
	for _, p := range sd.parts {
		v += p
	}
	return v
}

func (s *Store) Epic() string { return s.epic }

func (s *Store) Cap() int { return s.cfg.Cap }

// Ensure returns how many bars of tf have to be fetched so the buffer holds
// minCount bars up to now. The current (in-progress) bar counts as present.
func (s *Store) Ensure(tf models.Timeframe, minCount int, now time.Time) int {
	if minCount > s.cfg.Cap {
		minCount = s.cfg.Cap
	}
	if minCount <= 0 {
		return 0
	}
	buf := s.bars[tf]
	if len(buf) == 0 {
		return minCount
	}
	d := tf.Duration()
	if d <= 0 {
		return 0
	}

	elapsed := 0
	if age := now.Sub(buf[len(buf)-1].Time); age > 0 {
		elapsed = int(age / d)
	}
	missing := minCount - len(buf)
	if elapsed > missing {
		missing = elapsed
	}
	if missing > minCount {
		missing = minCount
	}
	if missing < 0 {
		missing = 0
	}
	return missing
}

// Append merges fetched bars into tf. A bar with an existing timestamp replaces
// the stored one but keeps its indicators.
func (s *Store) Append(tf models.Timeframe, bars []models.Bar) {
	if len(bars) == 0 {
		return
	}
	in := make([]models.Bar, len(bars))
	copy(in, bars)
	sort.SliceStable(in, func(i, j int) bool { return in[i].Time.Before(in[j].Time) })

	buf := s.bars[tf]
	idx := make(map[int64]int, len(buf))
	for i, b := range buf {
		idx[b.Time.UnixNano()] = i
	}

	appended := false
	for _, b := range in {
		b.Time = b.Time.UTC()
		if i, ok := idx[b.Time.UnixNano()]; ok {
			b.Indicators = buf[i].Indicators
			buf[i] = b
			continue
		}
		idx[b.Time.UnixNano()] = len(buf)
		buf = append(buf, b)
		appended = true
	}
	if appended {
		sort.SliceStable(buf, func(i, j int) bool { return buf[i].Time.Before(buf[j].Time) })
	}
	repair(buf)
	s.bars[tf] = s.evict(tf, buf)
}

func (s *Store) evict(tf models.Timeframe, buf []models.Bar) []models.Bar {
	if over := len(buf) - s.cfg.Cap; over > 0 {
		if seeds := s.seeds[tf]; seeds != nil {
			for _, b := range buf[:over] {
				delete(seeds, b.Time.UnixNano())
			}
		}
		buf = append(buf[:0:0], buf[over:]...)
	}
	return buf
}

// repair carries the previous close forward into null sides and recomputes mid.
func repair(buf []models.Bar) {
	for i := range buf {
		var prev *models.Price
		if i > 0 {
			prev = &buf[i-1].Close
		}
		b := &buf[i]
		fillPrice(&b.Close, prev)
		closeRef := b.Close
		fillPrice(&b.Open, &closeRef)
		fillPrice(&b.High, &closeRef)
		fillPrice(&b.Low, &closeRef)
		if prev != nil {
			fillPrice(&b.Open, prev)
		}
	}
}

func fillPrice(p *models.Price, ref *models.Price) {
	if ref != nil {
		if models.Missing(p.Bid) && !models.Missing(ref.Bid) {
			p.Bid = ref.Bid
		}
		if models.Missing(p.Ask) && !models.Missing(ref.Ask) {
			p.Ask = ref.Ask
		}
	}
	if !models.Missing(p.Bid) && !models.Missing(p.Ask) {
		p.Mid = (p.Bid + p.Ask) / 2
	}
}

// FoldTick folds a feed tick into the finest timeframe and re-derives the
// coarser ones. It returns the timeframes whose previous bar got closed.
func (s *Store) FoldTick(t models.Tick) []models.Timeframe {
	chain := s.cfg.Chain
	finest := chain[0]
	bucket := finest.Bucket(t.Time)

	var closed []models.Timeframe
	fresh := false
	buf := s.bars[finest]
	n := len(buf)
	switch {
	case n > 0 && buf[n-1].Time.Equal(bucket):
		b := &buf[n-1]
		b.High = maxPrice(b.High, t.High)
		b.Low = minPrice(b.Low, t.Low)
		b.Close = t.Close
		b.Volume = t.Volume
	case n > 0 && bucket.Before(buf[n-1].Time):
		// late tick for an already closed bucket
		return nil
	default:
		if n > 0 {
			closed = append(closed, finest)
		}
		fresh = true
		buf = append(buf, models.Bar{
			Time:   bucket,
			Open:   t.Open,
			High:   t.High,
			Low:    t.Low,
			Close:  t.Close,
			Volume: t.Volume,
		})
	}
	repair(buf[max(0, len(buf)-2):])
	s.bars[finest] = s.evict(finest, buf)

	for i := 1; i < len(chain); i++ {
		var shut bool
		shut, fresh = s.derive(chain[i-1], chain[i], t.Time, fresh)
		if shut {
			closed = append(closed, chain[i])
		}
	}
	return closed
}

// derive rebuilds the coarse bar of tf containing at from the finer buffer.
// fresh tells that the finer bar containing at was just created by this tick.
// Reports whether a new coarse bucket was opened after an existing one, and
// whether the coarse bar itself was just created.
func (s *Store) derive(finer, tf models.Timeframe, at time.Time, fresh bool) (closed, created bool) {
	bucket := tf.Bucket(at)
	end := bucket.Add(tf.Duration())

	var contrib []models.Bar
	for _, b := range s.bars[finer] {
		if !b.Time.Before(bucket) && b.Time.Before(end) {
			contrib = append(contrib, b)
		}
	}
	if len(contrib) == 0 {
		return false, false
	}

	buf := s.bars[tf]
	n := len(buf)
	if n > 0 && bucket.Before(buf[n-1].Time) {
		return false, false
	}
	stored := n > 0 && buf[n-1].Time.Equal(bucket)

	key := bucket.UnixNano()
	if s.seeds[tf] == nil {
		s.seeds[tf] = make(map[int64]seed)
	}
	sd, touched := s.seeds[tf][key]
	if !touched {
		sd = firstTouch(contrib, buf, stored, finer.Bucket(at), fresh)
	}
	for _, c := range contrib {
		sd.high = maxPrice(sd.high, c.High)
		sd.low = minPrice(sd.low, c.Low)
		sd.parts[c.Time.UnixNano()] = c.Volume
	}
	s.seeds[tf][key] = sd

	out := models.Bar{
		Time:   bucket,
		Open:   sd.open,
		High:   sd.high,
		Low:    sd.low,
		Close:  contrib[len(contrib)-1].Close,
		Volume: sd.volume(),
	}
	if stored {
		out.Indicators = buf[n-1].Indicators
		buf[n-1] = out
		s.bars[tf] = buf
		return false, false
	}
	s.bars[tf] = s.evict(tf, append(buf, out))
	return n > 0, true
}

// firstTouch starts the seed of a bucket. A stored (fetched) bar is the base;
// the finer bars already present are part of it, except the one this tick created.
func firstTouch(contrib, buf []models.Bar, stored bool, current time.Time, fresh bool) seed {
	sd := seed{parts: make(map[int64]float64, len(contrib))}
	if !stored {
		sd.open, sd.high, sd.low = contrib[0].Open, contrib[0].High, contrib[0].Low
		return sd
	}
	fetched := buf[len(buf)-1]
	sd.open, sd.high, sd.low = fetched.Open, fetched.High, fetched.Low
	covered := 0.0
	for _, c := range contrib {
		if fresh && c.Time.Equal(current) {
			continue
		}
		covered += c.Volume
	}
	sd.base = math.Max(0, fetched.Volume-covered)
	return sd
}

func maxPrice(a, b models.Price) models.Price {
	return models.NewPrice(pick(a.Bid, b.Bid, true), pick(a.Ask, b.Ask, true))
}

func minPrice(a, b models.Price) models.Price {
	return models.NewPrice(pick(a.Bid, b.Bid, false), pick(a.Ask, b.Ask, false))
}

func pick(a, b float64, higher bool) float64 {
	switch {
	case models.Missing(a):
		return b
	case models.Missing(b):
		return a
	case higher && b > a, !higher && b < a:
		return b
	}
	return a
}

// Refresh fetches whatever Ensure reports as missing. A fetch error starts the
// cooldown; existing bars stay untouched.
func (s *Store) Refresh(ctx context.Context, f HistoryFetcher, tf models.Timeframe, minCount int, now time.Time) (int, error) {
	if s.CoolingDown(now) {
		return 0, nil
	}
	count := s.Ensure(tf, minCount, now)
	if count <= 0 {
		return 0, nil
	}
	bars, err := f.GetPriceHistory(ctx, s.epic, tf, count)
	if err != nil {
		s.Cooldown(now)
		return 0, fmt.Errorf("refresh %s %s: %w", s.epic, tf, err)
	}
	s.Append(tf, bars)
	return len(bars), nil
}

// Cooldown blocks fetches (and trading) on this instrument for the configured period.
func (s *Store) Cooldown(now time.Time) {
	s.cooldownUntil = now.Add(s.cfg.Cooldown)
}

func (s *Store) CoolingDown(now time.Time) bool {
	return now.Before(s.cooldownUntil)
}

func (s *Store) CooldownUntil() time.Time { return s.cooldownUntil }

// Bars returns a copy of tf's buffer, oldest first.
func (s *Store) Bars(tf models.Timeframe) []models.Bar {
	buf := s.bars[tf]
	out := make([]models.Bar, len(buf))
	for i, b := range buf {
		out[i] = b.Clone()
	}
	return out
}

// Live exposes the stored buffer so indicator functions can annotate in place.
func (s *Store) Live(tf models.Timeframe) []models.Bar { return s.bars[tf] }

func (s *Store) Last(tf models.Timeframe) (models.Bar, bool) {
	buf := s.bars[tf]
	if len(buf) == 0 {
		return models.Bar{}, false
	}
	return buf[len(buf)-1].Clone(), true
}

func (s *Store) Len(tf models.Timeframe) int { return len(s.bars[tf]) }

func (s *Store) Timeframes() []models.Timeframe {
	out := make([]models.Timeframe, 0, len(s.bars))
	for _, tf := range s.cfg.Chain {
		if _, ok := s.bars[tf]; ok {
			out = append(out, tf)
		}
	}
	for tf := range s.bars {
		found := false
		for _, c := range out {
			if c == tf {
				found = true
				break
			}
		}
		if !found {
			out = append(out, tf)
		}
	}
	return out
}
