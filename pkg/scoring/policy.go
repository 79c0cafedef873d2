// Package scoring maps a resolved pick to points.
package scoring

import (
	"strings"

	"github.com/phenomenon0/gameweek/pkg/bonus"
	"github.com/phenomenon0/gameweek/pkg/fixtures"

	"github.com/shopspring/decimal"
)

// Policy holds the point values of a resolved pick.
type Policy struct {
	Win  decimal.Decimal
	Draw decimal.Decimal
	Loss decimal.Decimal

	// HandicapShift is added to the goal difference when the handicap bonus applies.
	HandicapShift int

	// LoyaltyPrefix awards LoyaltyBonus to any outcome whose encoded
	// identifier starts with it. Empty disables the rule.
	LoyaltyPrefix string
	LoyaltyBonus  decimal.Decimal
}

// DefaultPolicy returns 3/1/0 scoring with a +2 handicap and the "Lei" loyalty rule.
func DefaultPolicy() *Policy {
	return &Policy{
		Win:           decimal.NewFromInt(3),
		Draw:          decimal.NewFromInt(1),
		Loss:          decimal.Zero,
		HandicapShift: 2,
		LoyaltyPrefix: "Lei",
		LoyaltyBonus:  decimal.NewFromFloat(0.1),
	}
}

// Base returns the win/draw/loss points for a goal difference.
func (p *Policy) Base(gd int) decimal.Decimal {
	switch {
	case gd > 0:
		return p.Win
	case gd == 0:
		return p.Draw
	default:
		return p.Loss
	}
}

// Loyalty returns the loyalty bonus that applies to id.
func (p *Policy) Loyalty(id fixtures.OutcomeID) decimal.Decimal {
	if p.LoyaltyPrefix == "" || !strings.HasPrefix(id.String(), p.LoyaltyPrefix) {
		return decimal.Zero
	}
	return p.LoyaltyBonus
}

// Score returns the points for outcome id resolved with goal difference gd
// under the given bonuses. The result is rounded to one decimal place and
// never negative.
func (p *Policy) Score(id fixtures.OutcomeID, gd int, active bonus.Snapshot) decimal.Decimal {
	shifted := gd
	if active.Has(bonus.Handicap) {
		shifted += p.HandicapShift
	}

	points := p.Base(shifted)
	if active.Has(bonus.DoubleUp) {
		points = points.Mul(decimal.NewFromInt(2))
	}
	if active.Has(bonus.GoalDifference) {
		points = points.Add(decimal.NewFromInt(int64(gd)))
	}
	points = points.Add(p.Loyalty(id))

	if points.IsNegative() {
		return decimal.Zero
	}
	return points.Round(1)
}
