package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"auto_ig/internal/models"
	"auto_ig/pkg/db"
)

const (
	upsertTrade = `
INSERT INTO trades (
    id, epic, strategy, signal_name, direction, state, deal_id, size,
    open_level, pip_diff, pip_max, pip_min, profit_loss, close_reason,
    created_at, opened_at, closed_at, record, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18, now())
ON CONFLICT (id) DO UPDATE SET
    state        = EXCLUDED.state,
    deal_id      = EXCLUDED.deal_id,
    size         = EXCLUDED.size,
    open_level   = EXCLUDED.open_level,
    pip_diff     = EXCLUDED.pip_diff,
    pip_max      = EXCLUDED.pip_max,
    pip_min      = EXCLUDED.pip_min,
    profit_loss  = EXCLUDED.profit_loss,
    close_reason = EXCLUDED.close_reason,
    opened_at    = EXCLUDED.opened_at,
    closed_at    = EXCLUDED.closed_at,
    record       = EXCLUDED.record,
    updated_at   = now()`

	selectRecent = `SELECT record FROM trades WHERE ($1 = '' OR epic = $1) ORDER BY created_at DESC LIMIT $2`
)

// TradeHistory mirrors trade records into postgres. TradeChanged only queues;
// Run does the writes.
type TradeHistory struct {
	db  db.TxManager
	log *zap.Logger
	ch  chan models.TradeRecord
}

func NewTradeHistory(tx db.TxManager, log *zap.Logger, buffer int) *TradeHistory {
	if buffer <= 0 {
		buffer = 256
	}
	return &TradeHistory{db: tx, log: log.Named("trade_history"), ch: make(chan models.TradeRecord, buffer)}
}

// TradeChanged drops the record when the queue is full; the json file stays
// the source of truth.
func (h *TradeHistory) TradeChanged(rec models.TradeRecord) {
	select {
	case h.ch <- rec:
	default:
		h.log.Warn("history queue full, record dropped", zap.String("trade", rec.ID), zap.String("state", string(rec.State)))
	}
}

// Run drains the queue until ctx is done.
func (h *TradeHistory) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-h.ch:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := h.Save(wctx, rec); err != nil {
				h.log.Error("save trade", zap.String("trade", rec.ID), zap.Error(err))
			}
			cancel()
		}
	}
}

// Save upserts one record by trade id.
func (h *TradeHistory) Save(ctx context.Context, rec models.TradeRecord) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("TradeHistory.Save: %w", err)
		}
	}()
	data, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	p := rec.Prediction
	return h.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, upsertTrade,
			rec.ID, rec.Epic, p.Strategy, p.Signal.Name, string(p.DirectionToTrade), string(rec.State),
			rec.DealID, rec.Size, rec.OpenLevel, rec.PipDiff, rec.PipMax, rec.PipMin, rec.ProfitLoss,
			rec.CloseReason, rec.CreatedAt, rec.OpenedAt, rec.ClosedAt, data,
		)
		return err
	})
}

// Recent returns the newest records, optionally for one epic.
func (h *TradeHistory) Recent(ctx context.Context, epic string, limit int) (out []models.TradeRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("TradeHistory.Recent: %w", err)
		}
	}()
	if limit <= 0 {
		limit = 20
	}
	var raw [][]byte
	err = h.db.RunRepeatableRead(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		rows, err := tx.Query(ctxTx, selectRecent, epic, limit)
		if err != nil {
			return err
		}
		raw, err = pgx.CollectRows(rows, pgx.RowTo[[]byte])
		return err
	})
	if err != nil {
		return nil, err
	}
	out = make([]models.TradeRecord, 0, len(raw))
	for _, b := range raw {
		var rec models.TradeRecord
		if err := sonic.Unmarshal(b, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
