package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"auto_ig/internal/models"
)

// Sender is the part of the bot api the notifier needs.
type Sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Desk: trade book the commands read from.
type Desk interface {
	Trades() []models.TradeRecord
	Active() int
	Size() float64
	SetSize(size float64)
}

type SignalBoard interface {
	All() []models.Signal
}

type Status interface {
	Ready() bool
	Connected() bool
	LastCycle() time.Time
	LastTick() time.Time
}

// Telegram шлёт уведомления о сделках в один чат и отвечает на команды оттуда же.
type Telegram struct {
	bot    *tgbot.BotAPI
	sender Sender
	chatID int64
	log    *zap.Logger

	desk    Desk
	signals SignalBoard
	status  Status

	mu   sync.Mutex
	seen map[string]models.TradeState
	ch   chan models.TradeRecord
	stop chan struct{}
}

func NewTelegram(token string, chatID int64, log *zap.Logger, desk Desk, signals SignalBoard, status Status) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	t := newTelegram(b, chatID, log, desk, signals, status)
	t.bot = b
	return t, nil
}

func newTelegram(s Sender, chatID int64, log *zap.Logger, desk Desk, signals SignalBoard, status Status) *Telegram {
	return &Telegram{
		sender:  s,
		chatID:  chatID,
		log:     log.Named("telegram"),
		desk:    desk,
		signals: signals,
		status:  status,
		seen:    make(map[string]models.TradeState),
		ch:      make(chan models.TradeRecord, 128),
		stop:    make(chan struct{}),
	}
}

func (t *Telegram) Send(chatID int64, msg string) error {
	m := tgbot.NewMessage(chatID, msg)
	m.ParseMode = tgbot.ModeMarkdown
	_, err := t.sender.Send(m)
	return err
}

func (t *Telegram) SendF(chatID int64, format string, args ...any) error {
	return t.Send(chatID, fmt.Sprintf(format, args...))
}

// TradeChanged queues a notice when the trade reached a new state.
func (t *Telegram) TradeChanged(rec models.TradeRecord) {
	t.mu.Lock()
	prev, ok := t.seen[rec.ID]
	if ok && prev == rec.State {
		t.mu.Unlock()
		return
	}
	t.seen[rec.ID] = rec.State
	if rec.State.Terminal() {
		delete(t.seen, rec.ID)
	}
	t.mu.Unlock()

	if rec.State == models.TradeWaiting {
		return
	}
	select {
	case t.ch <- rec:
	default:
		t.log.Warn("notice queue full", zap.String("trade", rec.ID))
	}
}

// Start runs the notice worker and, with a real bot, the update loop.
func (t *Telegram) Start(ctx context.Context) {
	go t.notices(ctx)
	if t.bot == nil {
		return
	}
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(update)
			}
		}
	}()
}

func (t *Telegram) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
}

func (t *Telegram) notices(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case rec := <-t.ch:
			if err := t.Send(t.chatID, formatTrade(rec)); err != nil {
				t.log.Warn("send notice", zap.String("trade", rec.ID), zap.Error(err))
			}
		}
	}
}
