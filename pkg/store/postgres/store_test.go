package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/phenomenon0/gameweek/pkg/bonus"
	"github.com/phenomenon0/gameweek/pkg/fixtures"
	"github.com/phenomenon0/gameweek/pkg/game"
	"github.com/phenomenon0/gameweek/pkg/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("GAMEWEEK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GAMEWEEK_TEST_POSTGRES_DSN not set")
	}

	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		t.Skipf("postgres unreachable: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	for _, table := range []string{"gameweek_round", "gameweek_players", "gameweek_leagues"} {
		if _, err := s.db.ExecContext(ctx, "TRUNCATE "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return s
}

func TestRoundAndPlayers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := fixtures.OutcomeID{Team: "Leicester", Opponent: "Everton", Venue: fixtures.Home}
	round := &game.Round{
		Number: 4,
		Phase:  game.PhaseOpen,
		Costs: pricing.Table{
			{Outcome: id, Odds: decimal.RequireFromString("2.5"), Cost: decimal.NewFromInt(14)},
		},
		Results: fixtures.Results{id: 2},
	}
	player := &game.Player{
		ID:      uuid.New().String(),
		Name:    "alice",
		Gold:    decimal.NewFromInt(366),
		Score:   decimal.RequireFromString("3.1"),
		Bonuses: bonus.NewLedger(map[bonus.Kind]int{bonus.DoubleUp: 1}),
		Delayed: []game.DelayedMatch{{Round: 3, Outcome: id, Bonuses: bonus.Snapshot{bonus.Handicap: true}}},
	}

	err := s.Update(ctx, func(tx game.Tx) error {
		if err := tx.SaveRound(ctx, round); err != nil {
			return err
		}
		return tx.SavePlayer(ctx, player)
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = s.View(ctx, func(tx game.Tx) error {
		r, err := tx.Round(ctx)
		if err != nil {
			return err
		}
		if r.Number != 4 || len(r.Costs) != 1 || r.Costs[0].Outcome != id {
			t.Errorf("unexpected round %+v", r)
		}
		if gd, ok := r.Results.Lookup(id); !ok || gd != 2 {
			t.Errorf("results lost: %v", r.Results)
		}

		p, err := tx.Player(ctx, player.ID)
		if err != nil {
			return err
		}
		if !p.Score.Equal(player.Score) || !p.Gold.Equal(player.Gold) {
			t.Errorf("unexpected player %+v", p)
		}
		if len(p.Delayed) != 1 || !p.Delayed[0].Bonuses.Has(bonus.Handicap) {
			t.Errorf("delayed match lost: %+v", p.Delayed)
		}

		byID, err := tx.PlayersByID(ctx, []string{player.ID, "missing"})
		if err != nil {
			return err
		}
		if len(byID) != 1 {
			t.Errorf("PlayersByID returned %d players", len(byID))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestUpdate_Rollback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx game.Tx) error {
		if err := tx.SavePlayer(ctx, &game.Player{ID: "p1", Name: "alice"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = s.View(ctx, func(tx game.Tx) error {
		if _, err := tx.Player(ctx, "p1"); !errors.Is(err, game.ErrPlayerNotFound) {
			t.Errorf("rolled back player visible: %v", err)
		}
		return nil
	})
}

func TestSaveLeague_UniqueName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx game.Tx) error {
		return tx.SaveLeague(ctx, &game.League{ID: "l1", Name: "Office"})
	})
	if err != nil {
		t.Fatalf("SaveLeague failed: %v", err)
	}

	err = s.Update(ctx, func(tx game.Tx) error {
		return tx.SaveLeague(ctx, &game.League{ID: "l2", Name: "OFFICE"})
	})
	if !errors.Is(err, game.ErrLeagueExists) {
		t.Errorf("expected ErrLeagueExists, got %v", err)
	}

	_ = s.View(ctx, func(tx game.Tx) error {
		l, err := tx.LeagueByName(ctx, "office")
		if err != nil {
			t.Fatalf("LeagueByName failed: %v", err)
		}
		if l.ID != "l1" {
			t.Errorf("unexpected league %+v", l)
		}
		return nil
	})
}

func TestEngineOnPostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := game.NewEngine(nil, s)

	p, err := e.Register(ctx, "alice")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	id := fixtures.OutcomeID{Team: "Arsenal", Opponent: "Chelsea", Venue: fixtures.Home}
	table := pricing.Table{{Outcome: id, Odds: decimal.RequireFromString("1.8"), Cost: decimal.NewFromInt(20)}}
	if _, err := e.Generate(ctx, 1, table, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := e.Pick(ctx, p.ID, id); err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	if _, err := e.Lock(ctx); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if _, err := e.Settle(ctx, fixtures.Results{id: 1}); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if _, err := e.Settle(ctx, fixtures.Results{id: 1}); !errors.Is(err, game.ErrInvalidPhase) {
		t.Errorf("second settle: expected ErrInvalidPhase, got %v", err)
	}

	got, err := e.Player(ctx, p.ID)
	if err != nil {
		t.Fatalf("Player failed: %v", err)
	}
	if !got.Score.Equal(decimal.NewFromInt(3)) || !got.Gold.Equal(decimal.NewFromInt(360)) {
		t.Errorf("score %s gold %s", got.Score, got.Gold)
	}
}
