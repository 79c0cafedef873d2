package game

import (
	"context"
	"fmt"
	"time"

	"github.com/phenomenon0/gameweek/pkg/bonus"
	"github.com/phenomenon0/gameweek/pkg/fixtures"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Settle applies results to every player and moves the round from LOCKED to
// SETTLED. Outcomes missing from results become delayed matches. Settling a
// round that is not locked changes nothing and returns ErrInvalidPhase.
func (e *Engine) Settle(ctx context.Context, results fixtures.Results) (*SettlementReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		report *SettlementReport
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
		if r.Phase != PhaseLocked {
			return fmt.Errorf("%w: settle during %s", ErrInvalidPhase, r.Phase)
		}

		players, err := tx.Players(ctx)
		if err != nil {
			return err
		}

		now := e.now()
		report = &SettlementReport{
			Round:           r.Number,
			Players:         make([]PlayerDelta, 0, len(players)),
			Points:          decimal.Zero,
			BonusesConsumed: make(map[bonus.Kind]int),
		}
		for _, p := range players {
			delta := e.settlePlayer(p, r.Number, results, now)
			report.add(delta)
			report.PendingDelayed += len(p.Delayed)
			p.UpdatedAt = now
			if err := tx.SavePlayer(ctx, p); err != nil {
				return err
			}
		}

		settled := make(fixtures.Results, len(results))
		settled.Merge(r.Results)
		settled.Merge(results)
		r.Results = settled
		r.Phase = PhaseSettled
		r.UpdatedAt = now
		round = r
		return tx.SaveRound(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("round settled",
		zap.Int("round", report.Round),
		zap.Int("resolved", report.Resolved),
		zap.Int("delayed", report.Delayed),
		zap.Int("delayed_resolved", report.DelayedResolved),
		zap.Int("pending_delayed", report.PendingDelayed),
		zap.Int("no_pick", report.NoPick),
		zap.String("points", report.Points.String()),
	)
	if e.onTransition != nil {
		e.onTransition(round)
	}
	if e.onSettle != nil {
		e.onSettle(report)
	}
	return report, nil
}

// settlePlayer resolves delayed matches first, then the locked pick, and
// finally clears both picks. Gold is never credited.
func (e *Engine) settlePlayer(p *Player, round int, results fixtures.Results, now time.Time) PlayerDelta {
	delta := PlayerDelta{PlayerID: p.ID, Name: p.Name, Points: decimal.Zero, PickPoints: decimal.Zero}

	pending := make([]DelayedMatch, 0, len(p.Delayed))
	for _, d := range p.Delayed {
		gd, ok := results.Lookup(d.Outcome)
		if !ok {
			pending = append(pending, d)
			continue
		}
		outcome := d.Outcome
		points := e.config.Scoring.Score(outcome, gd, d.Bonuses)
		p.record(Settlement{
			Round:          d.Round,
			SettledIn:      round,
			Outcome:        &outcome,
			GoalDifference: gd,
			Points:         points,
			Bonuses:        d.Bonuses,
			Carried:        true,
			SettledAt:      now,
		})
		delta.Points = delta.Points.Add(points)
		delta.GoalDifference += gd
		delta.DelayedResolved++
	}
	p.Delayed = pending

	switch locked := p.Locked; {
	case locked == nil:
		// Registered after the lock.
	case locked.NoPick || locked.Outcome == nil:
		p.record(Settlement{Round: round, SettledIn: round, NoPick: true, Points: decimal.Zero, SettledAt: now})
		delta.NoPick = true
	default:
		if p.Bonuses == nil {
			p.Bonuses = bonus.NewLedger(nil)
		}
		active := p.Bonuses.Consume()
		delta.Bonuses = active

		outcome := *locked.Outcome
		gd, ok := results.Lookup(outcome)
		if !ok {
			p.Delayed = append(p.Delayed, DelayedMatch{
				Round:    round,
				Outcome:  outcome,
				Charged:  locked.Charged,
				Bonuses:  active,
				LockedAt: locked.LockedAt,
			})
			delta.Delayed = true
			break
		}

		points := e.config.Scoring.Score(outcome, gd, active)
		p.record(Settlement{
			Round:          round,
			SettledIn:      round,
			Outcome:        &outcome,
			GoalDifference: gd,
			Points:         points,
			Bonuses:        active,
			SettledAt:      now,
		})
		delta.Points = delta.Points.Add(points)
		delta.GoalDifference += gd
		delta.PickPoints = points
		delta.PickGoalDifference = gd
		delta.Resolved = true
	}

	p.Locked = nil
	p.Pick = nil
	return delta
}

// record appends a history entry and folds it into the totals.
func (p *Player) record(s Settlement) {
	s.Seq = len(p.History) + 1
	p.History = append(p.History, s)
	p.Score = p.Score.Add(s.Points).Round(1)
	p.GoalDifference += s.GoalDifference
}

func (r *SettlementReport) add(d PlayerDelta) {
	r.Players = append(r.Players, d)
	r.Points = r.Points.Add(d.Points)
	r.DelayedResolved += d.DelayedResolved
	if d.Resolved {
		r.Resolved++
	}
	if d.Delayed {
		r.Delayed++
	}
	if d.NoPick {
		r.NoPick++
	}
	for _, k := range d.Bonuses.Kinds() {
		r.BonusesConsumed[k]++
	}
}
