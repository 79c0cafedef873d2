// Package pricing turns bookmaker odds into a gold-cost table.
//
// Costs follow the odds rank, not the odds value: every outcome of every
// fixture is ranked together, favourite first, and the rank is mapped onto a
// scale whose spread equals the number of outcomes and whose mean stays fixed.
// This keeps the gold economy stable however many fixtures a gameweek has.
package pricing

import (
	"fmt"
	"sort"

	"github.com/phenomenon0/gameweek/pkg/fixtures"

	"github.com/shopspring/decimal"
)

// DefaultBaseline is the outcome count the cost scale is centred on.
const DefaultBaseline = 20

// Entry is one priced outcome.
type Entry struct {
	Outcome fixtures.OutcomeID `json:"outcome"`
	Odds    decimal.Decimal    `json:"odds"`
	Cost    decimal.Decimal    `json:"cost"`
}

// Table is a cost table ordered from favourite (highest cost) to longshot.
type Table []Entry

// Cost returns the gold cost of id, if it is priced.
func (t Table) Cost(id fixtures.OutcomeID) (decimal.Decimal, bool) {
	for _, e := range t {
		if e.Outcome == id {
			return e.Cost, true
		}
	}
	return decimal.Zero, false
}

// Total returns the sum of all costs.
func (t Table) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range t {
		total = total.Add(e.Cost)
	}
	return total
}

// ParseError reports a fixture excluded from pricing.
type ParseError struct {
	Fixture fixtures.Fixture
	Reason  string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fixture %s vs %s excluded: %s: %v", e.Fixture.Home, e.Fixture.Away, e.Reason, e.Err)
	}
	return fmt.Sprintf("fixture %s vs %s excluded: %s", e.Fixture.Home, e.Fixture.Away, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Config configures the pricer.
type Config struct {
	// Baseline is the outcome count for which costs run Baseline..1.
	Baseline int
}

// DefaultConfig returns the standard pricing configuration.
func DefaultConfig() *Config {
	return &Config{Baseline: DefaultBaseline}
}

// Pricer builds cost tables.
type Pricer struct {
	config *Config
}

// NewPricer creates a pricer. A nil config uses DefaultConfig.
func NewPricer(config *Config) *Pricer {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Baseline <= 0 {
		config.Baseline = DefaultBaseline
	}
	return &Pricer{config: config}
}

type candidate struct {
	outcome fixtures.OutcomeID
	odds    decimal.Decimal
	order   int
}

// Price ranks every outcome of the given fixtures and assigns costs.
// Fixtures whose odds cannot be read are skipped and returned as
// *ParseError values; the rest of the table is still produced.
func (p *Pricer) Price(fxs []fixtures.Fixture) (Table, []error) {
	var (
		candidates []candidate
		errs       []error
		seen       = make(map[fixtures.OutcomeID]bool)
		one        = decimal.NewFromInt(1)
	)

	for _, f := range fxs {
		home, away, err := f.Outcomes()
		if err != nil {
			errs = append(errs, &ParseError{Fixture: f, Reason: "bad team names", Err: err})
			continue
		}
		homeOdds, err := decimal.NewFromString(f.HomeOdds)
		if err != nil {
			errs = append(errs, &ParseError{Fixture: f, Reason: "bad home odds", Err: err})
			continue
		}
		awayOdds, err := decimal.NewFromString(f.AwayOdds)
		if err != nil {
			errs = append(errs, &ParseError{Fixture: f, Reason: "bad away odds", Err: err})
			continue
		}
		if homeOdds.LessThanOrEqual(one) || awayOdds.LessThanOrEqual(one) {
			errs = append(errs, &ParseError{Fixture: f, Reason: "decimal odds must exceed 1.0"})
			continue
		}
		if seen[home] || seen[away] {
			errs = append(errs, &ParseError{Fixture: f, Reason: "duplicate fixture"})
			continue
		}
		seen[home], seen[away] = true, true

		candidates = append(candidates,
			candidate{outcome: home, odds: homeOdds, order: len(candidates)},
			candidate{outcome: away, odds: awayOdds, order: len(candidates) + 1},
		)
	}

	// Equal odds keep input order: fixture order, home before away.
	sort.SliceStable(candidates, func(i, j int) bool {
		if c := candidates[i].odds.Cmp(candidates[j].odds); c != 0 {
			return c < 0
		}
		return candidates[i].order < candidates[j].order
	})

	table := make(Table, len(candidates))
	for rank, c := range candidates {
		table[rank] = Entry{
			Outcome: c.outcome,
			Odds:    c.odds,
			Cost:    p.costForRank(rank, len(candidates)),
		}
	}
	return table, errs
}

// costForRank maps a 0-based rank onto Baseline - rank - (Baseline - n)/2.
func (p *Pricer) costForRank(rank, n int) decimal.Decimal {
	baseline := decimal.NewFromInt(int64(p.config.Baseline))
	offset := baseline.Sub(decimal.NewFromInt(int64(n))).Div(decimal.NewFromInt(2))
	return baseline.Sub(decimal.NewFromInt(int64(rank))).Sub(offset)
}
