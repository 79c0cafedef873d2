package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/phenomenon0/gameweek/pkg/game"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

var closeAt = time.Date(2026, 8, 15, 11, 0, 0, 0, time.UTC)

func TestFormatReminder(t *testing.T) {
	round := &game.Round{Number: 3, CloseTime: closeAt}
	pending := []*game.Player{{Name: "alice"}, {Name: "bob"}}

	text := FormatReminder(round, pending, closeAt.Add(-90*time.Minute))
	for _, want := range []string{"Gameweek 3", "1h30m", "2 player(s)", "alice, bob"} {
		if !strings.Contains(text, want) {
			t.Errorf("reminder %q missing %q", text, want)
		}
	}
}

func TestFormatReminder_TruncatesNames(t *testing.T) {
	round := &game.Round{Number: 1, CloseTime: closeAt}
	pending := make([]*game.Player, 0, 25)
	for i := 0; i < 25; i++ {
		pending = append(pending, &game.Player{Name: fmt.Sprintf("p%d", i)})
	}

	text := FormatReminder(round, pending, closeAt)
	if !strings.Contains(text, "and 5 more") {
		t.Errorf("expected truncation, got %q", text)
	}
	if strings.Contains(text, "p24") {
		t.Errorf("truncated name listed: %q", text)
	}
}

func TestFormatSettlement(t *testing.T) {
	report := &game.SettlementReport{
		Round:           4,
		Resolved:        2,
		Delayed:         1,
		NoPick:          1,
		DelayedResolved: 1,
		Players: []game.PlayerDelta{
			{Name: "alice", Points: decimal.NewFromInt(3)},
			{Name: "bob", Points: decimal.RequireFromString("6.1")},
		},
	}

	text := FormatSettlement(report)
	for _, want := range []string{"Gameweek 4 settled", "2 resolved", "1 delayed", "1 without a pick", "1 delayed match", "bob with 6.1"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary %q missing %q", text, want)
		}
	}
}

func TestTelegram_Remind(t *testing.T) {
	bot := &fakeBot{}
	n := newTelegram(bot, 42, nil)
	n.now = func() time.Time { return closeAt.Add(-time.Hour) }

	err := n.Remind(context.Background(), &game.Round{Number: 2, CloseTime: closeAt}, []*game.Player{{Name: "alice"}})
	if err != nil {
		t.Fatalf("Remind failed: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(bot.sent))
	}
	if bot.sent[0].ChatID != 42 || !strings.Contains(bot.sent[0].Text, "alice") {
		t.Errorf("unexpected message %+v", bot.sent[0])
	}
}

func TestTelegram_SendError(t *testing.T) {
	bot := &fakeBot{err: errors.New("429 Too Many Requests")}
	n := newTelegram(bot, 42, nil)

	err := n.Settled(context.Background(), &game.SettlementReport{Round: 1})
	if err == nil {
		t.Fatal("expected send error")
	}
}

func TestLog(t *testing.T) {
	n := NewLog(nil)
	ctx := context.Background()
	if err := n.Remind(ctx, &game.Round{Number: 1, CloseTime: closeAt}, nil); err != nil {
		t.Errorf("Remind failed: %v", err)
	}
	if err := n.Settled(ctx, &game.SettlementReport{Round: 1}); err != nil {
		t.Errorf("Settled failed: %v", err)
	}
}
