package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"auto_ig/internal/models"
)

func stateIcon(s models.TradeState) string {
	switch s {
	case models.TradePending:
		return "⏳"
	case models.TradeOpen:
		return "🟢"
	case models.TradeClosed:
		return "🏁"
	case models.TradeFailed:
		return "❌"
	}
	return "•"
}

func formatTrade(rec models.TradeRecord) string {
	p := rec.Prediction
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* `%s` %s\n", stateIcon(rec.State), rec.State, rec.Epic, p.DirectionToTrade)
	fmt.Fprintf(&b, "Стратегия: `%s` (%s %s)\n", p.Strategy, p.Signal.Name, p.Signal.Timeframe)
	fmt.Fprintf(&b, "Размер: `%s` Stop: `%s` Limit: `%s`\n", f2(rec.Size), f2(p.StopLoss), f2(rec.LimitDistance))
	if rec.OpenLevel != 0 {
		fmt.Fprintf(&b, "Вход: `%s` Pips: `%s` (max %s / min %s)\n", f2(rec.OpenLevel), f2(rec.PipDiff), f2(rec.PipMax), f2(rec.PipMin))
	}
	if rec.State == models.TradeClosed {
		fmt.Fprintf(&b, "P/L: `%s`\n", f2(rec.ProfitLoss))
	}
	if rec.CloseReason != "" {
		fmt.Fprintf(&b, "Причина: %s\n", rec.CloseReason)
	}
	return b.String()
}

func formatTrades(list []models.TradeRecord) string {
	if len(list) == 0 {
		return "📭 Активных сделок нет"
	}
	var b strings.Builder
	b.WriteString("*📊 Сделки*\n")
	for _, rec := range list {
		fmt.Fprintf(&b, "%s `%s` %s %s pips=%s trailing=%s\n",
			stateIcon(rec.State), rec.Epic, rec.Prediction.DirectionToTrade, rec.Prediction.Strategy,
			f2(rec.PipDiff), onOff(rec.TrailingActive))
	}
	return b.String()
}

func formatSignals(list []models.Signal, epic string) string {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	var b strings.Builder
	n := 0
	for _, s := range list {
		if epic != "" && s.Epic != epic {
			continue
		}
		if n == 0 {
			b.WriteString("*📡 Сигналы*\n")
		}
		n++
		fmt.Fprintf(&b, "`%s` %s %s %s score=%d life=%d\n", s.Epic, s.Name, s.Timeframe, s.Position, s.Score, s.Life)
	}
	if n == 0 {
		return "📭 Сигналов нет"
	}
	return b.String()
}

func formatStatus(st Status, desk Desk) string {
	return fmt.Sprintf(
		"*ℹ️ Статус*\n\n"+
			"Готов: *%s*\n"+
			"Поток: *%s*\n"+
			"Цикл: `%s`\n"+
			"Тик: `%s`\n"+
			"Сделок: `%d`\n"+
			"Размер: `%s`\n",
		onOff(st.Ready()),
		onOff(st.Connected()),
		ago(st.LastCycle()),
		ago(st.LastTick()),
		desk.Active(),
		f2(desk.Size()),
	)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "никогда"
	}
	return time.Since(t).Truncate(time.Second).String() + " назад"
}
