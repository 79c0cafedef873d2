package game_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/phenomenon0/gameweek/pkg/bonus"
	"github.com/phenomenon0/gameweek/pkg/fixtures"
	"github.com/phenomenon0/gameweek/pkg/game"
	"github.com/phenomenon0/gameweek/pkg/pricing"
	"github.com/phenomenon0/gameweek/pkg/store/memory"

	"github.com/shopspring/decimal"
)

var (
	testNow = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	homes = []string{"Arsenal", "Chelsea", "Liverpool", "", "Spurs", "Villa", "Wolves", "Fulham", "Brighton", "Brentford"}
	aways = []string{"Burnley", "Luton", "Sheffield", "Everton", "Palace", "Forest", "Bournemouth", "Newcastle", "Westham", "Mancity"}

	arsenalBurnley   = fixtures.OutcomeID{Team: "Arsenal", Opponent: "Burnley", Venue: fixtures.Home}
	leicesterEverton = fixtures.OutcomeID{Team: "Leicester", Opponent: "Everton", Venue: fixtures.Home}
	southamptonEvert = fixtures.OutcomeID{Team: "Southampton", Opponent: "Everton", Venue: fixtures.Home}
)

// buildTable prices ten fixtures (twenty outcomes). The home side of the
// fourth fixture is sixth favourite and costs 14 gold.
func buildTable(t *testing.T, fourthHome string) pricing.Table {
	t.Helper()

	fxs := make([]fixtures.Fixture, 0, len(homes))
	for i := range homes {
		home := homes[i]
		if i == 3 {
			home = fourthHome
		}
		fxs = append(fxs, fixtures.Fixture{
			Home:     home,
			Away:     aways[i],
			HomeOdds: fmt.Sprintf("%d.50", i+1),
			AwayOdds: fmt.Sprintf("%d.75", i+1),
		})
	}

	table, errs := pricing.NewPricer(nil).Price(fxs)
	if len(errs) != 0 {
		t.Fatalf("unexpected pricing errors: %v", errs)
	}
	if len(table) != 20 {
		t.Fatalf("expected 20 outcomes, got %d", len(table))
	}
	return table
}

func newEngine(t *testing.T) (*game.Engine, *memory.Store) {
	t.Helper()
	st := memory.New()
	e := game.NewEngine(nil, st, game.WithClock(func() time.Time { return testNow }))
	return e, st
}

func register(t *testing.T, e *game.Engine, name string) *game.Player {
	t.Helper()
	p, err := e.Register(context.Background(), name)
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", name, err)
	}
	return p
}

func setGold(t *testing.T, st *memory.Store, id string, gold int64) {
	t.Helper()
	ctx := context.Background()
	err := st.Update(ctx, func(tx game.Tx) error {
		p, err := tx.Player(ctx, id)
		if err != nil {
			return err
		}
		p.Gold = decimal.NewFromInt(gold)
		return tx.SavePlayer(ctx, p)
	})
	if err != nil {
		t.Fatalf("setGold failed: %v", err)
	}
}

// nextNumber is the round number after the current one, or 1.
func nextNumber(t *testing.T, e *game.Engine) int {
	t.Helper()
	r, err := e.Round(context.Background())
	if errors.Is(err, game.ErrNoRound) {
		return 1
	}
	if err != nil {
		t.Fatalf("Round failed: %v", err)
	}
	return r.Number + 1
}

func mustGenerate(t *testing.T, e *game.Engine, table pricing.Table) *game.Round {
	t.Helper()
	r, err := e.Generate(context.Background(), nextNumber(t, e), table, time.Time{}, testNow.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return r
}

func mustPlayer(t *testing.T, e *game.Engine, id string) *game.Player {
	t.Helper()
	p, err := e.Player(context.Background(), id)
	if err != nil {
		t.Fatalf("Player(%s) failed: %v", id, err)
	}
	return p
}

func assertDecimal(t *testing.T, what string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s = %s, want %s", what, got, want)
	}
}

func TestWorkedExample(t *testing.T) {
	tests := []struct {
		name      string
		home      string
		outcome   fixtures.OutcomeID
		wantScore string
	}{
		{"plain", "Southampton", southamptonEvert, "3"},
		{"loyalty", "Leicester", leicesterEverton, "3.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e, _ := newEngine(t)
			p := register(t, e, "alice")
			table := buildTable(t, tt.home)

			cost, ok := table.Cost(tt.outcome)
			if !ok {
				t.Fatalf("%s not priced", tt.outcome)
			}
			assertDecimal(t, "cost", cost, "14")

			mustGenerate(t, e, table)
			if _, err := e.Pick(ctx, p.ID, tt.outcome); err != nil {
				t.Fatalf("Pick failed: %v", err)
			}

			// Picking debits nothing.
			assertDecimal(t, "gold after pick", mustPlayer(t, e, p.ID).Gold, "380")

			report, err := e.Lock(ctx)
			if err != nil {
				t.Fatalf("Lock failed: %v", err)
			}
			if report.Locked != 1 || report.NoPick != 0 {
				t.Errorf("unexpected lock report %+v", report)
			}
			assertDecimal(t, "gold debited", report.GoldDebited, "14")

			locked := mustPlayer(t, e, p.ID)
			assertDecimal(t, "gold after lock", locked.Gold, "366")
			if locked.Pick != nil {
				t.Error("unlocked pick should be cleared at lock")
			}
			if locked.Locked == nil || locked.Locked.Outcome == nil || *locked.Locked.Outcome != tt.outcome {
				t.Fatalf("unexpected locked pick %+v", locked.Locked)
			}

			if _, err := e.Settle(ctx, fixtures.Results{tt.outcome: 2}); err != nil {
				t.Fatalf("Settle failed: %v", err)
			}

			settled := mustPlayer(t, e, p.ID)
			assertDecimal(t, "score", settled.Score, tt.wantScore)
			assertDecimal(t, "gold after settle", settled.Gold, "366")
			if settled.GoalDifference != 2 {
				t.Errorf("goal difference = %d, want 2", settled.GoalDifference)
			}
			if len(settled.History) != 1 || settled.History[0].Seq != 1 || settled.History[0].Round != 1 {
				t.Errorf("unexpected history %+v", settled.History)
			}
			if settled.Locked != nil {
				t.Error("locked pick should be cleared at settle")
			}
		})
	}
}

func TestLock_NoPick(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t)
	idle := register(t, e, "idle")
	broke := register(t, e, "broke")
	setGold(t, st, broke.ID, 4)

	mustGenerate(t, e, buildTable(t, "Southampton"))
	report, err := e.Lock(ctx)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if report.NoPick != 2 {
		t.Errorf("NoPick = %d, want 2", report.NoPick)
	}

	assertDecimal(t, "idle gold", mustPlayer(t, e, idle.ID).Gold, "370")

	b := mustPlayer(t, e, broke.ID)
	assertDecimal(t, "broke gold", b.Gold, "0")
	if b.Locked == nil || !b.Locked.NoPick {
		t.Fatalf("expected no-pick sentinel, got %+v", b.Locked)
	}

	if _, err := e.Settle(ctx, fixtures.Results{}); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	p := mustPlayer(t, e, idle.ID)
	if len(p.History) != 1 || !p.History[0].NoPick || !p.History[0].Points.IsZero() {
		t.Errorf("expected one zero no-pick record, got %+v", p.History)
	}
	if len(p.Delayed) != 0 {
		t.Errorf("no-pick must not create delayed entries")
	}
}

func TestLock_UnaffordablePickBecomesNoPick(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t)
	p := register(t, e, "alice")

	mustGenerate(t, e, buildTable(t, "Southampton"))
	if _, err := e.Pick(ctx, p.ID, arsenalBurnley); err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	setGold(t, st, p.ID, 12)

	if _, err := e.Lock(ctx); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	got := mustPlayer(t, e, p.ID)
	if got.Locked == nil || !got.Locked.NoPick {
		t.Fatalf("expected no-pick sentinel, got %+v", got.Locked)
	}
	assertDecimal(t, "gold", got.Gold, "2")
}

func TestLock_DoubleUp(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t)
	rich := register(t, e, "rich")
	poor := register(t, e, "poor")

	mustGenerate(t, e, buildTable(t, "Leicester"))
	for _, id := range []string{rich.ID, poor.ID} {
		if _, err := e.Pick(ctx, id, leicesterEverton); err != nil {
			t.Fatalf("Pick failed: %v", err)
		}
		if _, err := e.ToggleBonus(ctx, id, bonus.DoubleUp, true); err != nil {
			t.Fatalf("ToggleBonus failed: %v", err)
		}
	}
	setGold(t, st, poor.ID, 20)

	report, err := e.Lock(ctx)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if report.DoubleUps != 1 || report.DoubleUpsCancelled != 1 {
		t.Errorf("unexpected lock report %+v", report)
	}

	r := mustPlayer(t, e, rich.ID)
	assertDecimal(t, "rich gold", r.Gold, "352")
	if !r.Locked.DoubledUp {
		t.Error("rich should be doubled up")
	}

	p := mustPlayer(t, e, poor.ID)
	assertDecimal(t, "poor gold", p.Gold, "6")
	if p.Locked.DoubledUp || p.Bonuses.Active(bonus.DoubleUp) {
		t.Error("unaffordable double-up should be cancelled")
	}
	if p.Bonuses.Remaining(bonus.DoubleUp) != 2 {
		t.Errorf("cancelled double-up must not spend a use, remaining %d", p.Bonuses.Remaining(bonus.DoubleUp))
	}

	if _, err := e.Settle(ctx, fixtures.Results{leicesterEverton: 1}); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	assertDecimal(t, "rich score", mustPlayer(t, e, rich.ID).Score, "6.1")
	assertDecimal(t, "poor score", mustPlayer(t, e, poor.ID).Score, "3.1")
}

func TestSettle_MissingResultDelays(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	p := register(t, e, "alice")

	mustGenerate(t, e, buildTable(t, "Leicester"))
	if _, err := e.Pick(ctx, p.ID, leicesterEverton); err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	if _, err := e.ToggleBonus(ctx, p.ID, bonus.GoalDifference, true); err != nil {
		t.Fatalf("ToggleBonus failed: %v", err)
	}
	if _, err := e.Lock(ctx); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	report, err := e.Settle(ctx, fixtures.Results{arsenalBurnley: 1})
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if report.Delayed != 1 || report.PendingDelayed != 1 || report.BonusesConsumed[bonus.GoalDifference] != 1 {
		t.Errorf("unexpected report %+v", report)
	}

	got := mustPlayer(t, e, p.ID)
	if len(got.Delayed) != 1 {
		t.Fatalf("expected one delayed match, got %d", len(got.Delayed))
	}
	d := got.Delayed[0]
	if d.Round != 1 || d.Outcome != leicesterEverton || !d.Bonuses.Has(bonus.GoalDifference) {
		t.Errorf("unexpected delayed match %+v", d)
	}
	if len(got.History) != 0 {
		t.Errorf("delayed pick must not write history yet")
	}
	if got.Bonuses.Remaining(bonus.GoalDifference) != 1 {
		t.Errorf("bonus should be consumed at commit, remaining %d", got.Bonuses.Remaining(bonus.GoalDifference))
	}
	assertDecimal(t, "gold", got.Gold, "366")
	assertDecimal(t, "score", got.Score, "0")
}

func TestSettle_DelayedRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	p := register(t, e, "alice")
	table := buildTable(t, "Leicester")

	// Round 1: handicap pick whose result does not arrive.
	mustGenerate(t, e, table)
	if _, err := e.Pick(ctx, p.ID, leicesterEverton); err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	if _, err := e.ToggleBonus(ctx, p.ID, bonus.Handicap, true); err != nil {
		t.Fatalf("ToggleBonus failed: %v", err)
	}
	if _, err := e.Lock(ctx); err != nil {
		t.Fatalf("Lock 1 failed: %v", err)
	}
	if _, err := e.Settle(ctx, fixtures.Results{}); err != nil {
		t.Fatalf("Settle 1 failed: %v", err)
	}

	// Round 2: double-up on another outcome; round 1 still unresolved.
	mustGenerate(t, e, table)
	if _, err := e.Pick(ctx, p.ID, arsenalBurnley); err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	if _, err := e.ToggleBonus(ctx, p.ID, bonus.DoubleUp, true); err != nil {
		t.Fatalf("ToggleBonus failed: %v", err)
	}
	if _, err := e.Lock(ctx); err != nil {
		t.Fatalf("Lock 2 failed: %v", err)
	}
	if _, err := e.Settle(ctx, fixtures.Results{arsenalBurnley: 1}); err != nil {
		t.Fatalf("Settle 2 failed: %v", err)
	}
	if got := mustPlayer(t, e, p.ID); len(got.Delayed) != 1 || len(got.History) != 1 {
		t.Fatalf("after round 2: delayed %d history %d", len(got.Delayed), len(got.History))
	}

	// Round 3: no pick; the round 1 result finally arrives.
	r3 := mustGenerate(t, e, table)
	if r3.Number != 3 {
		t.Fatalf("round number = %d, want 3", r3.Number)
	}
	if _, err := e.Lock(ctx); err != nil {
		t.Fatalf("Lock 3 failed: %v", err)
	}
	report, err := e.Settle(ctx, fixtures.Results{leicesterEverton: -1})
	if err != nil {
		t.Fatalf("Settle 3 failed: %v", err)
	}
	if report.DelayedResolved != 1 || report.PendingDelayed != 0 {
		t.Errorf("unexpected report %+v", report)
	}

	got := mustPlayer(t, e, p.ID)
	if len(got.Delayed) != 0 {
		t.Errorf("delayed backlog not drained: %+v", got.Delayed)
	}
	if len(got.History) != 3 {
		t.Fatalf("history length = %d, want 3", len(got.History))
	}

	carried := got.History[1]
	if carried.Seq != 2 || carried.Round != 1 || carried.SettledIn != 3 || !carried.Carried {
		t.Errorf("unexpected carried record %+v", carried)
	}
	// Handicap from round 1 applies; double-up from round 2 does not.
	if !carried.Bonuses.Has(bonus.Handicap) || carried.Bonuses.Has(bonus.DoubleUp) {
		t.Errorf("carried record used wrong bonuses: %v", carried.Bonuses.Kinds())
	}
	assertDecimal(t, "carried points", carried.Points, "3.1")
	if !got.History[2].NoPick || got.History[2].Seq != 3 {
		t.Errorf("unexpected round 3 record %+v", got.History[2])
	}

	assertDecimal(t, "score", got.Score, "9.1")
	assertDecimal(t, "gold", got.Gold, "316")
	if got.GoalDifference != 0 {
		t.Errorf("goal difference = %d, want 0", got.GoalDifference)
	}
	if got.Bonuses.Remaining(bonus.Handicap) != 1 || got.Bonuses.Remaining(bonus.DoubleUp) != 1 {
		t.Errorf("unexpected bonus uses: handicap %d double-up %d",
			got.Bonuses.Remaining(bonus.Handicap), got.Bonuses.Remaining(bonus.DoubleUp))
	}
}

func TestSettle_DeltaSeparatesPickFromCarried(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	p := register(t, e, "alice")
	table := buildTable(t, "Leicester")

	mustGenerate(t, e, table)
	if _, err := e.Pick(ctx, p.ID, leicesterEverton); err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	e.Lock(ctx)
	e.Settle(ctx, fixtures.Results{})

	mustGenerate(t, e, table)
	if _, err := e.Pick(ctx, p.ID, arsenalBurnley); err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	e.Lock(ctx)
	report, err := e.Settle(ctx, fixtures.Results{arsenalBurnley: 1, leicesterEverton: -3})
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	if len(report.Players) != 1 {
		t.Fatalf("players = %d", len(report.Players))
	}
	d := report.Players[0]
	if !d.Resolved || d.DelayedResolved != 1 {
		t.Errorf("unexpected delta %+v", d)
	}
	if d.PickGoalDifference != 1 || d.GoalDifference != -2 {
		t.Errorf("gd: pick %d total %d, want 1 and -2", d.PickGoalDifference, d.GoalDifference)
	}
	assertDecimal(t, "pick points", d.PickPoints, "3")
	assertDecimal(t, "total points", d.Points, "3.1")
}

func TestSettle_Idempotent(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	p := register(t, e, "alice")

	mustGenerate(t, e, buildTable(t, "Leicester"))
	if _, err := e.Pick(ctx, p.ID, leicesterEverton); err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	if _, err := e.Lock(ctx); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	results := fixtures.Results{leicesterEverton: 3}
	if _, err := e.Settle(ctx, results); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	before := mustPlayer(t, e, p.ID)

	if _, err := e.Settle(ctx, results); !errors.Is(err, game.ErrInvalidPhase) {
		t.Fatalf("second Settle: expected ErrInvalidPhase, got %v", err)
	}

	after := mustPlayer(t, e, p.ID)
	if !after.Score.Equal(before.Score) || !after.Gold.Equal(before.Gold) || len(after.History) != len(before.History) {
		t.Errorf("repeated settle changed state: before %s/%s/%d after %s/%s/%d",
			before.Score, before.Gold, len(before.History), after.Score, after.Gold, len(after.History))
	}

	r, err := e.Round(ctx)
	if err != nil {
		t.Fatalf("Round failed: %v", err)
	}
	if r.Phase != game.PhaseSettled {
		t.Errorf("phase = %s, want settled", r.Phase)
	}
	if gd, ok := r.Results.Lookup(leicesterEverton); !ok || gd != 3 {
		t.Errorf("settled results not recorded: %v", r.Results)
	}
}

func TestBonusConservation(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	cfg := game.DefaultConfig()
	cfg.BonusAllowance = map[bonus.Kind]int{bonus.DoubleUp: 1}
	e := game.NewEngine(cfg, st, game.WithClock(func() time.Time { return testNow }))
	p := register(t, e, "alice")
	table := buildTable(t, "Leicester")

	for round := 1; round <= 3; round++ {
		mustGenerate(t, e, table)
		if _, err := e.Pick(ctx, p.ID, arsenalBurnley); err != nil {
			t.Fatalf("round %d Pick failed: %v", round, err)
		}
		_, err := e.ToggleBonus(ctx, p.ID, bonus.DoubleUp, true)
		if round == 1 && err != nil {
			t.Fatalf("ToggleBonus failed: %v", err)
		}
		if round > 1 && !errors.Is(err, bonus.ErrNoUsesRemaining) {
			t.Fatalf("round %d: expected ErrNoUsesRemaining, got %v", round, err)
		}
		if _, err := e.Lock(ctx); err != nil {
			t.Fatalf("round %d Lock failed: %v", round, err)
		}
		report, err := e.Settle(ctx, fixtures.Results{arsenalBurnley: 1})
		if err != nil {
			t.Fatalf("round %d Settle failed: %v", round, err)
		}
		want := 0
		if round == 1 {
			want = 1
		}
		if report.BonusesConsumed[bonus.DoubleUp] != want {
			t.Errorf("round %d consumed %d double-ups, want %d", round, report.BonusesConsumed[bonus.DoubleUp], want)
		}
		if got := mustPlayer(t, e, p.ID).Bonuses.Remaining(bonus.DoubleUp); got != 0 {
			t.Errorf("round %d remaining = %d, want 0", round, got)
		}
	}

	// 6 + 3 + 3
	assertDecimal(t, "score", mustPlayer(t, e, p.ID).Score, "12")
}

func TestPhaseGuards(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t)
	p := register(t, e, "alice")
	table := buildTable(t, "Leicester")

	if _, err := e.Round(ctx); !errors.Is(err, game.ErrNoRound) {
		t.Errorf("Round before generate: expected ErrNoRound, got %v", err)
	}
	if _, err := e.Lock(ctx); !errors.Is(err, game.ErrNoRound) {
		t.Errorf("Lock before generate: expected ErrNoRound, got %v", err)
	}
	if _, err := e.Generate(ctx, 1, nil, time.Time{}, time.Time{}); !errors.Is(err, game.ErrEmptyTable) {
		t.Errorf("Generate with empty table: expected ErrEmptyTable, got %v", err)
	}

	mustGenerate(t, e, table)
	if _, err := e.Generate(ctx, 2, table, time.Time{}, time.Time{}); !errors.Is(err, game.ErrInvalidPhase) {
		t.Errorf("Generate while open: expected ErrInvalidPhase, got %v", err)
	}
	if _, err := e.Settle(ctx, nil); !errors.Is(err, game.ErrInvalidPhase) {
		t.Errorf("Settle while open: expected ErrInvalidPhase, got %v", err)
	}

	unknown := fixtures.OutcomeID{Team: "Leeds", Opponent: "Hull", Venue: fixtures.Away}
	if _, err := e.Pick(ctx, p.ID, unknown); !errors.Is(err, game.ErrUnknownOutcome) {
		t.Errorf("Pick unknown: expected ErrUnknownOutcome, got %v", err)
	}
	if _, err := e.Pick(ctx, "nobody", arsenalBurnley); !errors.Is(err, game.ErrPlayerNotFound) {
		t.Errorf("Pick by unknown player: expected ErrPlayerNotFound, got %v", err)
	}

	setGold(t, st, p.ID, 5)
	if _, err := e.Pick(ctx, p.ID, arsenalBurnley); !errors.Is(err, game.ErrInsufficientFunds) {
		t.Errorf("Pick unaffordable: expected ErrInsufficientFunds, got %v", err)
	}
	if mustPlayer(t, e, p.ID).Pick != nil {
		t.Error("rejected pick must not be stored")
	}

	if _, err := e.Lock(ctx); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if _, err := e.Lock(ctx); !errors.Is(err, game.ErrInvalidPhase) {
		t.Errorf("second Lock: expected ErrInvalidPhase, got %v", err)
	}
	if _, err := e.Pick(ctx, p.ID, arsenalBurnley); !errors.Is(err, game.ErrInvalidPhase) {
		t.Errorf("Pick while locked: expected ErrInvalidPhase, got %v", err)
	}
	if _, err := e.ToggleBonus(ctx, p.ID, bonus.Handicap, true); !errors.Is(err, game.ErrInvalidPhase) {
		t.Errorf("ToggleBonus while locked: expected ErrInvalidPhase, got %v", err)
	}
	if _, err := e.MarkReminded(ctx); !errors.Is(err, game.ErrInvalidPhase) {
		t.Errorf("MarkReminded while locked: expected ErrInvalidPhase, got %v", err)
	}
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	p := register(t, e, "alice")
	table := buildTable(t, "Leicester")

	r, err := e.Generate(ctx, 1, table, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if r.Number != 1 || r.Phase != game.PhaseOpen {
		t.Errorf("unexpected round %+v", r)
	}
	if !r.OpenTime.Equal(testNow) {
		t.Errorf("open time = %v, want %v", r.OpenTime, testNow)
	}
	if want := testNow.Add(e.Config().PlaceholderClose); !r.CloseTime.Equal(want) {
		t.Errorf("placeholder close = %v, want %v", r.CloseTime, want)
	}

	if _, err := e.Pick(ctx, p.ID, arsenalBurnley); err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	locked, err := e.Lock(ctx)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if locked.Round != 1 {
		t.Errorf("lock report round = %d", locked.Round)
	}

	round, err := e.Round(ctx)
	if err != nil {
		t.Fatalf("Round failed: %v", err)
	}
	if len(round.Costs) != 0 {
		t.Error("cost table should be cleared at lock")
	}
	if want := r.CloseTime.Add(e.Config().LockGuard); !round.CloseTime.Equal(want) {
		t.Errorf("close time after lock = %v, want %v", round.CloseTime, want)
	}

	if _, err := e.Settle(ctx, fixtures.Results{arsenalBurnley: 0}); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	next := mustGenerate(t, e, table)
	if next.Number != 2 {
		t.Errorf("next round number = %d, want 2", next.Number)
	}
	assertDecimal(t, "score", mustPlayer(t, e, p.ID).Score, "1")
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	p := register(t, e, "  alice ")
	if p.Name != "alice" {
		t.Errorf("name = %q, want trimmed", p.Name)
	}
	assertDecimal(t, "starting gold", p.Gold, "380")
	for _, k := range bonus.Kinds {
		if p.Bonuses.Remaining(k) != 2 {
			t.Errorf("%s remaining = %d, want 2", k, p.Bonuses.Remaining(k))
		}
	}

	if _, err := e.Register(ctx, "ALICE"); !errors.Is(err, game.ErrPlayerExists) {
		t.Errorf("duplicate name: expected ErrPlayerExists, got %v", err)
	}
	if _, err := e.Register(ctx, " "); !errors.Is(err, game.ErrInvalidName) {
		t.Errorf("blank name: expected ErrInvalidName, got %v", err)
	}

	players, err := e.Players(ctx)
	if err != nil {
		t.Fatalf("Players failed: %v", err)
	}
	if len(players) != 1 {
		t.Errorf("players = %d, want 1", len(players))
	}
}

func TestInterimAndSchedule(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	register(t, e, "alice")

	mustGenerate(t, e, buildTable(t, "Leicester"))
	if _, err := e.MarkReminded(ctx); err != nil {
		t.Fatalf("MarkReminded failed: %v", err)
	}
	if _, err := e.RecordInterimResults(ctx, fixtures.Results{arsenalBurnley: 1}); !errors.Is(err, game.ErrInvalidPhase) {
		t.Errorf("interim while open: expected ErrInvalidPhase, got %v", err)
	}
	if _, err := e.Lock(ctx); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	r, err := e.RecordInterimResults(ctx, fixtures.Results{arsenalBurnley: 1})
	if err != nil {
		t.Fatalf("RecordInterimResults failed: %v", err)
	}
	if r.InterimAt == nil || len(r.Results) != 1 {
		t.Errorf("interim results not recorded: %+v", r)
	}

	next := testNow.Add(7 * 24 * time.Hour)
	r, err = e.SetNextOpenTime(ctx, next)
	if err != nil {
		t.Fatalf("SetNextOpenTime failed: %v", err)
	}
	if r.NextOpenTime == nil || !r.NextOpenTime.Equal(next) {
		t.Errorf("next open time = %v, want %v", r.NextOpenTime, next)
	}
	if r.RemindedAt == nil {
		t.Error("reminder timestamp lost")
	}

	// Interim results are kept alongside the final ones.
	if _, err := e.Settle(ctx, fixtures.Results{leicesterEverton: 2}); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	r, err = e.Round(ctx)
	if err != nil {
		t.Fatalf("Round failed: %v", err)
	}
	if len(r.Results) != 2 {
		t.Errorf("settled results = %v, want 2 entries", r.Results)
	}
}

func TestCallbacks(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	p := register(t, e, "alice")

	var (
		phases  []game.Phase
		picks   int
		locks   int
		settled *game.SettlementReport
	)
	e.OnTransition(func(r *game.Round) { phases = append(phases, r.Phase) })
	e.OnPick(func(*game.PickEvent) { picks++ })
	e.OnLock(func(*game.LockReport) { locks++ })
	e.OnSettle(func(r *game.SettlementReport) { settled = r })

	mustGenerate(t, e, buildTable(t, "Leicester"))
	if _, err := e.Pick(ctx, p.ID, leicesterEverton); err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	if _, err := e.Lock(ctx); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if _, err := e.Settle(ctx, fixtures.Results{leicesterEverton: 1}); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	want := []game.Phase{game.PhaseOpen, game.PhaseLocked, game.PhaseSettled}
	if fmt.Sprint(phases) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", phases, want)
	}
	if picks != 1 || locks != 1 {
		t.Errorf("picks = %d locks = %d", picks, locks)
	}
	if settled == nil || settled.Resolved != 1 || len(settled.Players) != 1 {
		t.Fatalf("unexpected settlement report %+v", settled)
	}
	assertDecimal(t, "report points", settled.Points, "3.1")
}

func TestGenerate_FollowsFeedNumbering(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	table := buildTable(t, "Leicester")

	if _, err := e.Generate(ctx, 0, table, time.Time{}, time.Time{}); !errors.Is(err, game.ErrRoundNumber) {
		t.Errorf("Generate round 0: expected ErrRoundNumber, got %v", err)
	}

	r, err := e.Generate(ctx, 12, table, time.Time{}, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if r.Number != 12 {
		t.Errorf("round number = %d, want 12", r.Number)
	}
	if _, err := e.Lock(ctx); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if _, err := e.Settle(ctx, nil); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	for _, n := range []int{11, 12} {
		if _, err := e.Generate(ctx, n, table, time.Time{}, time.Time{}); !errors.Is(err, game.ErrRoundNumber) {
			t.Errorf("Generate round %d after 12: expected ErrRoundNumber, got %v", n, err)
		}
	}
	// Gameweeks may be skipped by the feed.
	if r, err := e.Generate(ctx, 14, table, time.Time{}, time.Time{}); err != nil || r.Number != 14 {
		t.Errorf("Generate round 14 = %+v, %v", r, err)
	}
}

func TestPickAfterClose(t *testing.T) {
	ctx := context.Background()
	now := testNow
	e := game.NewEngine(nil, memory.New(), game.WithClock(func() time.Time { return now }))
	p := register(t, e, "alice")

	closeAt := testNow.Add(time.Hour)
	if _, err := e.Generate(ctx, 1, buildTable(t, "Leicester"), time.Time{}, closeAt); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := e.Pick(ctx, p.ID, arsenalBurnley); err != nil {
		t.Fatalf("Pick before close failed: %v", err)
	}

	// Closed but not yet locked by the heartbeat.
	now = closeAt
	if _, err := e.Pick(ctx, p.ID, leicesterEverton); !errors.Is(err, game.ErrInvalidPhase) {
		t.Errorf("Pick at close: expected ErrInvalidPhase, got %v", err)
	}
	if _, err := e.ToggleBonus(ctx, p.ID, bonus.DoubleUp, true); !errors.Is(err, game.ErrInvalidPhase) {
		t.Errorf("ToggleBonus at close: expected ErrInvalidPhase, got %v", err)
	}

	got := mustPlayer(t, e, p.ID)
	if got.Pick == nil || *got.Pick != arsenalBurnley {
		t.Errorf("pick = %v, want the pre-close pick", got.Pick)
	}
	if got.Bonuses.Active(bonus.DoubleUp) {
		t.Error("late toggle must not arm the bonus")
	}

	if report, err := e.Lock(ctx); err != nil || report.Locked != 1 {
		t.Errorf("Lock = %+v, %v", report, err)
	}
}
