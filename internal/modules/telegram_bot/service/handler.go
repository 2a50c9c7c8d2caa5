package service

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return
	}
	// чужие чаты игнорируем
	if msg.Chat == nil || msg.Chat.ID != t.chatID {
		return
	}
	if err := t.Send(t.chatID, t.reply(msg.Command(), msg.CommandArguments())); err != nil {
		t.log.Warn("reply", zap.String("command", msg.Command()), zap.Error(err))
	}
}

func (t *Telegram) reply(command, args string) string {
	switch command {
	case "start", "help":
		return helpText
	case "status":
		return formatStatus(t.status, t.desk)
	case "trades":
		return formatTrades(t.desk.Trades())
	case "signals":
		return formatSignals(t.signals.All(), strings.TrimSpace(args))
	case "size":
		return t.setSize(strings.TrimSpace(args))
	default:
		return "Неизвестная команда. /help"
	}
}

func (t *Telegram) setSize(arg string) string {
	if arg == "" {
		return "Размер: `" + f2(t.desk.Size()) + "`"
	}
	v := mustFloat(arg)
	if v <= 0 {
		return "Формат: `/size 1.5`"
	}
	t.desk.SetSize(v)
	t.log.Info("size changed from telegram", zap.Float64("size", v))
	return "✅ Размер: `" + f2(v) + "`"
}

const helpText = "*auto_ig*\n\n" +
	"/status - состояние\n" +
	"/trades - активные сделки\n" +
	"/signals [epic] - живые сигналы\n" +
	"/size [value] - размер ставки"
