package trades

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"auto_ig/internal/indicators"
	"auto_ig/internal/models"
)

var ErrIllegalTransition = errors.New("illegal trade transition")

// Action is what Evaluate asks the manager to do at the broker.
type Action int

const (
	ActionNone Action = iota
	ActionOpen
	ActionClose
	ActionVerify
)

func (a Action) String() string {
	switch a {
	case ActionOpen:
		return "open"
	case ActionClose:
		return "close"
	case ActionVerify:
		return "verify"
	}
	return "none"
}

var edges = map[models.TradeState][]models.TradeState{
	models.TradeWaiting: {models.TradePending, models.TradeFailed},
	models.TradePending: {models.TradeOpen, models.TradeFailed, models.TradeWaiting},
	models.TradeOpen:    {models.TradeClosed},
}

// Legal reports whether the state machine allows from -> to.
func Legal(from, to models.TradeState) bool {
	return slices.Contains(edges[from], to)
}

// BarSource gives the trailing rule access to the instrument's bars.
type BarSource interface {
	Bars(tf models.Timeframe) []models.Bar
}

// Gate is the entry veto consulted before every open attempt.
type Gate func(now time.Time) bool

// OpenOutcome: result of an open request plus its confirmation.
type OpenOutcome struct {
	DealReference string
	DealID        string
	Accepted      bool
	Level         float64
	Reason        string
	Err           error
}

// Trade is one supervised position. Not safe for concurrent use; the
// manager mutates it under the instrument lock only.
type Trade struct {
	cfg *Config
	rec models.TradeRecord

	origin  models.Signal
	evals   int
	closing bool
	// closeReason is set by an approved opposing signal; the next evaluation closes.
	closeReason string
	dirty       bool
}

func NewTrade(cfg *Config, epic string, size float64, sig models.Signal, pred models.Prediction, now time.Time) *Trade {
	t := &Trade{
		cfg:    cfg,
		origin: sig,
		rec: models.TradeRecord{
			ID:            uuid.NewString(),
			Epic:          epic,
			Size:          size,
			Prediction:    pred,
			DealID:        "PENDING",
			State:         models.TradeWaiting,
			CreatedAt:     now.UTC(),
			ExpiresAt:     now.UTC().Add(cfg.WaitTimeout),
			LimitDistance: pred.LimitDistance,
			StopDistance:  cfg.InitialStop,
		},
	}
	t.log(now, "created trade from %s %s (%s)", sig.Name, sig.Position, pred.Strategy)
	return t
}

// FromRecord rebuilds a trade loaded from disk.
func FromRecord(cfg *Config, rec models.TradeRecord) *Trade {
	if rec.LimitDistance == 0 {
		rec.LimitDistance = rec.Prediction.LimitDistance
	}
	if rec.StopDistance == 0 {
		rec.StopDistance = cfg.InitialStop
	}
	if rec.OpenedAt == nil && rec.State == models.TradeOpen {
		at := rec.CreatedAt
		rec.OpenedAt = &at
	}
	rec.StatusLog = slices.Clone(rec.StatusLog)
	ps := rec.Prediction.Signal
	return &Trade{
		cfg: cfg,
		rec: rec,
		origin: models.Signal{
			Epic:      rec.Epic,
			Strategy:  rec.Prediction.Strategy,
			Name:      ps.Name,
			Timeframe: ps.Timeframe,
			Position:  ps.Position,
			Score:     ps.Score,
			Timestamp: ps.Timestamp,
			Comment:   ps.Comment,
		},
	}
}

func (t *Trade) ID() string                    { return t.rec.ID }
func (t *Trade) Epic() string                  { return t.rec.Epic }
func (t *Trade) State() models.TradeState      { return t.rec.State }
func (t *Trade) Direction() models.Side        { return t.rec.Prediction.DirectionToTrade }
func (t *Trade) PipDiff() float64              { return t.rec.PipDiff }
func (t *Trade) Prediction() models.Prediction { return t.rec.Prediction }
func (t *Trade) DealID() string                { return t.rec.DealID }
func (t *Trade) Origin() models.Signal         { return t.origin }

// Record returns a copy safe to hand to other goroutines.
func (t *Trade) Record() models.TradeRecord {
	rec := t.rec
	rec.StatusLog = slices.Clone(t.rec.StatusLog)
	return rec
}

func (t *Trade) log(now time.Time, format string, args ...any) {
	t.rec.StatusLog = append(t.rec.StatusLog, models.StatusEntry{Time: now.UTC(), Message: fmt.Sprintf(format, args...)})
	t.dirty = true
}

// takeDirty reports whether the trade changed since the last call.
func (t *Trade) takeDirty() bool {
	d := t.dirty
	t.dirty = false
	return d
}

func (t *Trade) transition(now time.Time, to models.TradeState, why string) error {
	from := t.rec.State
	if !Legal(from, to) {
		return fmt.Errorf("%s %s -> %s: %w", t.rec.Epic, from, to, ErrIllegalTransition)
	}
	t.rec.State = to
	switch to {
	case models.TradeOpen:
		at := now.UTC()
		t.rec.OpenedAt = &at
	case models.TradeClosed, models.TradeFailed:
		at := now.UTC()
		t.rec.ClosedAt = &at
	}
	t.log(now, "%s -> %s: %s", from, to, why)
	return nil
}

// RequestClose marks an open trade for closing on its next evaluation.
func (t *Trade) RequestClose(reason string) bool {
	if t.rec.State != models.TradeOpen || t.closing || t.closeReason != "" {
		return false
	}
	t.closeReason = reason
	return true
}

// Reinforce logs a same-direction signal against the trade.
func (t *Trade) Reinforce(now time.Time, sig models.Signal) {
	t.log(now, "%s signal reinforced %s", sig.Name, sig.Position)
}

// OpenRequest builds the broker order for a PENDING trade.
func (t *Trade) OpenRequest() models.OpenRequest {
	return models.OpenRequest{
		Epic:          t.rec.Epic,
		Direction:     t.rec.Prediction.DirectionToTrade,
		Size:          t.rec.Size,
		StopDistance:  t.rec.StopDistance,
		LimitDistance: t.cfg.BrokerLimit,
	}
}

func (t *Trade) CloseRequest() models.CloseRequest {
	return models.CloseRequest{
		DealID:    t.rec.DealID,
		Direction: t.rec.Prediction.DirectionToClose,
		Size:      t.rec.Size,
	}
}

// Evaluate advances the trade at now. Deadlines are checked here; nothing sleeps.
func (t *Trade) Evaluate(now time.Time, q models.Quote, bars BarSource, gate Gate) Action {
	switch t.rec.State {
	case models.TradeWaiting:
		if now.After(t.rec.ExpiresAt) {
			_ = t.transition(now, models.TradeFailed, "timed out waiting to open")
			return ActionNone
		}
		if gate != nil && !gate(now) {
			return ActionNone
		}
		t.rec.ExpiresAt = now.UTC().Add(t.cfg.PendingTimeout)
		_ = t.transition(now, models.TradePending, fmt.Sprintf("attempting to open, stop %.0f", t.rec.StopDistance))
		return ActionOpen

	case models.TradePending:
		if now.After(t.rec.ExpiresAt) {
			_ = t.transition(now, models.TradeFailed, "timed out waiting for confirmation")
		}
		return ActionNone

	case models.TradeOpen:
		return t.monitor(now, q, bars)
	}
	return ActionNone
}

func (t *Trade) monitor(now time.Time, q models.Quote, bars BarSource) Action {
	if t.closing {
		return ActionNone
	}
	r := &t.rec
	pred := r.Prediction

	var pip float64
	if pred.DirectionToTrade == models.SideSell {
		pip = r.OpenLevel - q.Offer
	} else {
		pip = q.Bid - r.OpenLevel
	}
	r.PipDiff = pip
	r.PipMax = math.Max(r.PipMax, pip)
	r.PipMin = math.Min(r.PipMin, pip)
	r.ProfitLoss = r.Size * pip

	if !r.Overtime && r.OpenedAt != nil && now.Sub(*r.OpenedAt) > t.cfg.OvertimeAfter {
		r.Overtime = true
		r.LimitDistance = pred.ATRLow / 2
		t.log(now, "open for %s, limit halved to %.2f", t.cfg.OvertimeAfter, r.LimitDistance)
	}

	if reason := t.closeReason; reason != "" {
		return t.requestClose(now, reason)
	}

	if !r.TrailingActive && pip > r.LimitDistance {
		r.TrailingActive = true
		t.log(now, "trailing stop threshold passed at %.2f", r.ProfitLoss)
	}
	if r.TrailingActive {
		if hit, why := t.trail(pip, q, bars); hit {
			return t.requestClose(now, why)
		}
	}

	if pip < -pred.StopLoss {
		return t.requestClose(now, fmt.Sprintf("artificial stop loss hit at %.2f", pip))
	}

	t.evals++
	if t.cfg.VerifyEvery > 0 && t.evals >= t.cfg.VerifyEvery {
		t.evals = 0
		return ActionVerify
	}
	return ActionNone
}

func (t *Trade) trail(pip float64, q models.Quote, bars BarSource) (bool, string) {
	r := &t.rec
	rule := r.Prediction.Trailing
	if rule.Mode == models.TrailIndicator {
		level, ok := indicatorLevel(bars, rule)
		if !ok {
			return false, ""
		}
		r.TrailingLevel = level
		if r.Prediction.DirectionToTrade == models.SideSell {
			return q.Offer > level, fmt.Sprintf("%s %.5f crossed by offer %.5f", rule.Indicator, level, q.Offer)
		}
		return q.Bid < level, fmt.Sprintf("%s %.5f crossed by bid %.5f", rule.Indicator, level, q.Bid)
	}

	offset, floor := rule.Offset, rule.Floor
	if offset == 0 {
		offset = models.DefaultTrailOffset
	}
	if floor == 0 {
		floor = models.DefaultTrailFloor
	}
	r.TrailingLevel = math.Max(floor, r.PipMax-offset)
	return pip < r.TrailingLevel, fmt.Sprintf("trailing stop hit at %.2f", r.ProfitLoss)
}

// indicatorLevel reads rule.Indicator off the last bar of rule.Timeframe,
// computing psar when the bars were not annotated with it.
func indicatorLevel(bars BarSource, rule models.TrailRule) (float64, bool) {
	if bars == nil {
		return 0, false
	}
	bs := bars.Bars(rule.Timeframe)
	if len(bs) == 0 {
		return 0, false
	}
	if v, ok := bs[len(bs)-1].Get(rule.Indicator); ok {
		return v, true
	}
	if rule.Indicator == "psar" {
		res := indicators.PSAR(bs, 0.02, 0.2, indicators.Mid)
		if len(res.SAR) > 0 {
			return indicators.Last(res.SAR), true
		}
	}
	return 0, false
}

func (t *Trade) requestClose(now time.Time, reason string) Action {
	t.closing = true
	t.closeReason = ""
	t.rec.CloseReason = reason
	t.log(now, "closing: %s", reason)
	return ActionClose
}

// ApplyOpen folds the broker outcome of an open attempt into the trade and
// reports whether the instrument should cool down.
func (t *Trade) ApplyOpen(now time.Time, out OpenOutcome) (cooldown bool, err error) {
	if t.rec.State != models.TradePending {
		return false, fmt.Errorf("%s apply open in %s: %w", t.rec.Epic, t.rec.State, ErrIllegalTransition)
	}
	if out.DealReference != "" {
		t.rec.DealReference = out.DealReference
	}
	if out.DealID != "" {
		t.rec.DealID = out.DealID
	}

	switch {
	case out.Err != nil:
		return true, t.transition(now, models.TradeFailed, "open request failed: "+out.Err.Error())

	case out.Accepted && out.Level != 0:
		t.rec.OpenLevel = out.Level
		return false, t.transition(now, models.TradeOpen, fmt.Sprintf("accepted at %.5f", out.Level))

	case out.Accepted:
		t.log(now, "accepted but no open level yet")
		return false, nil

	case t.cfg.tightStop(out.Reason):
		next := t.rec.StopDistance + t.cfg.StopStep
		if next > t.cfg.MaxStop {
			return true, t.transition(now, models.TradeFailed, fmt.Sprintf("rejected: %s, stop %.0f at max", out.Reason, t.rec.StopDistance))
		}
		t.rec.StopDistance = next
		t.rec.StopBumps++
		return false, t.transition(now, models.TradeWaiting, fmt.Sprintf("rejected: %s, bumping stop to %.0f", out.Reason, next))

	default:
		return true, t.transition(now, models.TradeFailed, "rejected: "+out.Reason)
	}
}

// ApplyClose: success closes the trade; a failure keeps it OPEN for a retry.
func (t *Trade) ApplyClose(now time.Time, err error) error {
	t.closing = false
	if err != nil && !errors.Is(err, models.ErrPositionNotFound) {
		t.log(now, "close failed: %v", err)
		return nil
	}
	why := t.rec.CloseReason
	if err != nil {
		why = "already closed at broker"
	}
	return t.transition(now, models.TradeClosed, why)
}

// ApplyVerify closes a trade the broker no longer knows about.
func (t *Trade) ApplyVerify(now time.Time, found bool) error {
	if found || t.rec.State != models.TradeOpen {
		return nil
	}
	t.rec.CloseReason = "not found at broker"
	return t.transition(now, models.TradeClosed, "can't find position, closed at broker")
}
