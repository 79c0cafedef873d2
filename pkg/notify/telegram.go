package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/phenomenon0/gameweek/pkg/game"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Min interval between two messages to one chat (~30/min limit).
const telegramSendInterval = 2 * time.Second

// sender is the part of tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts notifications to one chat.
type Telegram struct {
	bot     sender
	chatID  int64
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

// NewTelegram connects a bot with token and targets chatID.
func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	bot.Debug = false
	return newTelegram(bot, chatID, logger), nil
}

func newTelegram(bot sender, chatID int64, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("telegram notifier initialized", zap.Int64("chat_id", chatID))
	return &Telegram{
		bot:     bot,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(telegramSendInterval), 1),
		logger:  logger,
		now:     time.Now,
	}
}

// Remind implements heartbeat.Notifier.
func (t *Telegram) Remind(ctx context.Context, round *game.Round, pending []*game.Player) error {
	return t.send(ctx, FormatReminder(round, pending, t.now()))
}

// Settled posts a settlement summary.
func (t *Telegram) Settled(ctx context.Context, report *game.SettlementReport) error {
	return t.send(ctx, FormatSettlement(report))
}

func (t *Telegram) send(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limiter: %w", err)
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("telegram send failed", zap.Int64("chat_id", t.chatID), zap.Error(err))
		return fmt.Errorf("telegram send: %w", err)
	}
	t.logger.Debug("telegram message sent", zap.Int64("chat_id", t.chatID))
	return nil
}
