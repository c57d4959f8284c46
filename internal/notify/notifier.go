package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"threshold_bot/internal/models"
	"threshold_bot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Sendf(ctx context.Context, format string, args ...any)
}

// SnapshotSource — откуда брать статус для /status.
type SnapshotSource interface {
	Snapshot() models.Snapshot
}

const queueSize = 32

// Telegram — пассивный нотифайер + обработка команды /status.
// Отправка асинхронная, чтобы тик не ждал сеть.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64

	queue chan string
	wg    sync.WaitGroup

	mu     sync.RWMutex
	status SnapshotSource
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newTelegram(b, chatID), nil
}

func newTelegram(b *tgbot.BotAPI, chatID int64) *Telegram {
	return &Telegram{
		bot:    b,
		chatID: chatID,
		queue:  make(chan string, queueSize),
	}
}

func (t *Telegram) SetStatusSource(src SnapshotSource) {
	t.mu.Lock()
	t.status = src
	t.mu.Unlock()
}

func (t *Telegram) Sendf(_ context.Context, format string, args ...any) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	msg := fmt.Sprintf(format, args...)
	select {
	case t.queue <- msg:
	default:
		logger.Warn("Telegram queue is full, dropping: %s", msg)
	}
}

func (t *Telegram) send(msg string) {
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		logger.Error("Telegram send failed: %v", err)
	}
}

// Start: воркер отправки + long-polling для команд.
func (t *Telegram) Start(ctx context.Context) {
	if t == nil || t.bot == nil {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-t.queue:
				if !ok {
					return
				}
				t.send(msg)
			}
		}
	}()

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				t.bot.StopReceivingUpdates()
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				if upd.Message == nil || upd.Message.Chat == nil ||
					upd.Message.Chat.ID != t.chatID || !upd.Message.IsCommand() {
					continue
				}
				switch upd.Message.Command() {
				case "status":
					t.send(t.statusText())
				}
			}
		}
	}()
}

func (t *Telegram) Wait() { t.wg.Wait() }

func (t *Telegram) statusText() string {
	t.mu.RLock()
	src := t.status
	t.mu.RUnlock()
	if src == nil {
		return "❗️ Статус ещё не готов"
	}
	return FormatSnapshot(src.Snapshot())
}

// FormatSnapshot — короткий текст статуса для чата.
func FormatSnapshot(s models.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 %s — %s\n", s.Pair, s.Mode)
	fmt.Fprintf(&b, "Price: %s\n", opt(s.Price, 4))
	fmt.Fprintf(&b, "Position: %.6f @ %s\n", s.PositionQty, opt(s.EntryPrice, 4))
	fmt.Fprintf(&b, "Buy below: %s | Sell above: %s\n", opt(s.DropThresholdPrice, 4), opt(s.RiseThresholdPrice, 4))
	fmt.Fprintf(&b, "24h: %s\n", pct(s.Price24hChangePct))
	if s.LastAction != nil {
		fmt.Fprintf(&b, "Last action: %s\n", *s.LastAction)
	}
	if !s.TradingEnabled {
		b.WriteString("⚠️ dry-run\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func opt(v *float64, prec int) string {
	if v == nil {
		return "—"
	}
	return fmt.Sprintf("%.*f", prec, *v)
}

func pct(v *float64) string {
	if v == nil {
		return "—"
	}
	return fmt.Sprintf("%+.2f%%", *v*100)
}

// Log — заглушка без телеграма: сообщения уходят в лог.
type Log struct{}

func NewLog() *Log { return &Log{} }

func (Log) Sendf(_ context.Context, format string, args ...any) {
	logger.Info("NOTIFY: "+format, args...)
}
