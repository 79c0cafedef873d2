// Package notify delivers round reminders and settlement summaries.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phenomenon0/gameweek/pkg/game"

	"go.uber.org/zap"
)

// maxNamesListed caps the names included in a reminder.
const maxNamesListed = 20

// FormatReminder renders the pre-close reminder.
func FormatReminder(round *game.Round, pending []*game.Player, now time.Time) string {
	var b strings.Builder
	left := round.CloseTime.Sub(now).Round(time.Minute)
	if left < 0 {
		left = 0
	}
	fmt.Fprintf(&b, "Gameweek %d closes %s (in %s).\n",
		round.Number, round.CloseTime.UTC().Format("Mon 2 Jan 15:04 MST"), left)
	fmt.Fprintf(&b, "%d player(s) have not picked yet", len(pending))

	names := make([]string, 0, maxNamesListed)
	for i, p := range pending {
		if i == maxNamesListed {
			names = append(names, fmt.Sprintf("and %d more", len(pending)-maxNamesListed))
			break
		}
		names = append(names, p.Name)
	}
	if len(names) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(names, ", "))
	}
	b.WriteString(".")
	return b.String()
}

// FormatSettlement renders a settlement summary.
func FormatSettlement(report *game.SettlementReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gameweek %d settled: %d resolved, %d delayed, %d without a pick.",
		report.Round, report.Resolved, report.Delayed, report.NoPick)
	if report.DelayedResolved > 0 {
		fmt.Fprintf(&b, "\n%d delayed match(es) from earlier rounds resolved.", report.DelayedResolved)
	}

	var best *game.PlayerDelta
	for i := range report.Players {
		d := &report.Players[i]
		if best == nil || d.Points.GreaterThan(best.Points) {
			best = d
		}
	}
	if best != nil && best.Points.IsPositive() {
		fmt.Fprintf(&b, "\nTop score: %s with %s points.", best.Name, best.Points.StringFixed(1))
	}
	return b.String()
}

// Log writes notifications to the logger. It is the notifier used when no
// chat is configured.
type Log struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewLog creates a log notifier.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger, now: time.Now}
}

// Remind implements heartbeat.Notifier.
func (l *Log) Remind(ctx context.Context, round *game.Round, pending []*game.Player) error {
	l.logger.Info("reminder",
		zap.Int("round", round.Number),
		zap.Int("pending", len(pending)),
		zap.String("text", FormatReminder(round, pending, l.now())),
	)
	return nil
}

// Settled logs a settlement summary.
func (l *Log) Settled(ctx context.Context, report *game.SettlementReport) error {
	l.logger.Info("settlement", zap.Int("round", report.Round), zap.String("text", FormatSettlement(report)))
	return nil
}
