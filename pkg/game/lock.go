package game

import (
	"context"
	"fmt"
	"time"

	"github.com/phenomenon0/gameweek/pkg/bonus"
	"github.com/phenomenon0/gameweek/pkg/pricing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Lock freezes every player's pick and debits its gold, moving the round
// from OPEN to LOCKED. A round that is not open, or has no cost table, is
// left untouched and ErrInvalidPhase is returned.
func (e *Engine) Lock(ctx context.Context) (*LockReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		report *LockReport
		round  *Round
	)
	err := e.store.Update(ctx, func(tx Tx) error {
		r, err := tx.Round(ctx)
		if err != nil {
			return err
		}
		if r == nil {
			return ErrNoRound
		}
		if r.Phase != PhaseOpen {
			return fmt.Errorf("%w: lock during %s", ErrInvalidPhase, r.Phase)
		}
		if len(r.Costs) == 0 {
			return fmt.Errorf("%w: round %d has no cost table", ErrInvalidPhase, r.Number)
		}

		players, err := tx.Players(ctx)
		if err != nil {
			return err
		}

		now := e.now()
		report = &LockReport{Round: r.Number, GoldDebited: decimal.Zero}
		for _, p := range players {
			before := p.Gold
			e.lockPlayer(p, r.Costs, now, report)
			report.GoldDebited = report.GoldDebited.Add(before.Sub(p.Gold))
			p.UpdatedAt = now
			if err := tx.SavePlayer(ctx, p); err != nil {
				return err
			}
		}

		r.Phase = PhaseLocked
		r.Costs = nil
		r.CloseTime = r.CloseTime.Add(e.config.LockGuard)
		r.UpdatedAt = now
		round = r
		return tx.SaveRound(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("round locked",
		zap.Int("round", report.Round),
		zap.Int("locked", report.Locked),
		zap.Int("no_pick", report.NoPick),
		zap.Int("double_ups", report.DoubleUps),
		zap.Int("double_ups_cancelled", report.DoubleUpsCancelled),
		zap.String("gold_debited", report.GoldDebited.String()),
	)
	if e.onTransition != nil {
		e.onTransition(round)
	}
	if e.onLock != nil {
		e.onLock(report)
	}
	return report, nil
}

// lockPlayer converts the unlocked pick into a locked one. A pick that is
// missing, no longer in the table, or unaffordable becomes the no-pick
// sentinel and pays the penalty, clamped at the remaining gold.
func (e *Engine) lockPlayer(p *Player, table pricing.Table, now time.Time, report *LockReport) {
	defer func() { p.Pick = nil }()

	if p.Bonuses == nil {
		p.Bonuses = bonus.NewLedger(nil)
	}

	if p.Pick != nil {
		cost, ok := table.Cost(*p.Pick)
		if ok && p.Gold.GreaterThanOrEqual(cost) {
			outcome := *p.Pick
			p.Gold = p.Gold.Sub(cost)
			locked := &LockedPick{Outcome: &outcome, Charged: cost, LockedAt: now}

			if p.Bonuses.Active(bonus.DoubleUp) {
				if p.Gold.GreaterThanOrEqual(cost) {
					p.Gold = p.Gold.Sub(cost)
					locked.Charged = locked.Charged.Add(cost)
					locked.DoubledUp = true
					report.DoubleUps++
				} else {
					p.Bonuses.Cancel(bonus.DoubleUp)
					report.DoubleUpsCancelled++
				}
			}

			p.Locked = locked
			report.Locked++
			return
		}
	}

	penalty := e.config.NoPickPenalty
	if p.Gold.LessThan(penalty) {
		penalty = decimal.Max(p.Gold, decimal.Zero)
	}
	p.Gold = p.Gold.Sub(penalty)
	p.Locked = &LockedPick{NoPick: true, Charged: penalty, LockedAt: now}
	report.NoPick++
}
