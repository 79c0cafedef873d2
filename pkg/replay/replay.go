// Package replay runs a scripted season through the game engine.
//
// A season lists gameweeks with odds, the players taking part and, per
// round, their picks, bonus toggles and the scorelines known when the round
// settles. Scorelines that only appear in a later round model postponed
// matches.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/phenomenon0/gameweek/pkg/bonus"
	"github.com/phenomenon0/gameweek/pkg/feed"
	"github.com/phenomenon0/gameweek/pkg/fixtures"
	"github.com/phenomenon0/gameweek/pkg/game"
	"github.com/phenomenon0/gameweek/pkg/league"
	"github.com/phenomenon0/gameweek/pkg/pricing"
	"github.com/phenomenon0/gameweek/pkg/store/memory"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Season is the replay input.
type Season struct {
	Gameweeks []feed.Gameweek `json:"gameweeks"`
	Players   []string        `json:"players"`
	Rounds    []RoundScript   `json:"rounds"`
}

// RoundScript is what happens in one round.
type RoundScript struct {
	Round int `json:"round"`
	// Picks maps player name to an encoded or display outcome.
	Picks map[string]string `json:"picks"`
	// Bonuses maps player name to the bonus kinds switched on.
	Bonuses map[string][]string `json:"bonuses,omitempty"`
	// Scores are the results published before the round settles.
	Scores []fixtures.Scoreline `json:"scores"`
}

// Rejection records a scripted action the engine refused.
type Rejection struct {
	Round  int    `json:"round"`
	Player string `json:"player"`
	Action string `json:"action"`
	Error  string `json:"error"`
}

// RoundSummary is the outcome of one replayed round.
type RoundSummary struct {
	Round      int                    `json:"round"`
	Outcomes   int                    `json:"outcomes"`
	Skipped    int                    `json:"skipped"`
	Lock       *game.LockReport       `json:"lock"`
	Settlement *game.SettlementReport `json:"settlement"`
}

// Result is the outcome of a replay.
type Result struct {
	StartTime  time.Time          `json:"start_time"`
	EndTime    time.Time          `json:"end_time"`
	Rounds     []RoundSummary     `json:"rounds"`
	Rejections []Rejection        `json:"rejections"`
	Standings  []league.Standing  `json:"standings"`
	Players    []*game.Player     `json:"players"`
	Points     decimal.Decimal    `json:"points"`
	Pending    int                `json:"pending_delayed"`
	Bonuses    map[bonus.Kind]int `json:"bonuses_consumed"`
}

// Config configures a replay.
type Config struct {
	Rules   *game.Config
	Pricing *pricing.Config
	Logger  *zap.Logger
}

// DefaultConfig uses the standard rules.
func DefaultConfig() *Config {
	return &Config{
		Rules:   game.DefaultConfig(),
		Pricing: pricing.DefaultConfig(),
	}
}

// Replay runs seasons.
type Replay struct {
	config *Config
	logger *zap.Logger
}

// New creates a replay. A nil config uses DefaultConfig.
func New(config *Config) *Replay {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replay{config: config, logger: logger}
}

// LoadSeasonJSON reads a season file.
func LoadSeasonJSON(filename string) (*Season, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read season file: %w", err)
	}
	var season Season
	if err := json.Unmarshal(data, &season); err != nil {
		return nil, fmt.Errorf("failed to parse season file: %w", err)
	}
	return &season, nil
}

// Run replays season on a fresh in-memory store.
func (rp *Replay) Run(ctx context.Context, season *Season) (*Result, error) {
	if len(season.Rounds) == 0 {
		return nil, errors.New("season has no rounds")
	}

	source := feed.NewStatic()
	for i := range season.Gameweeks {
		source.Publish(&season.Gameweeks[i])
	}

	// The clock follows the gameweek schedule.
	clock := time.Time{}
	store := memory.New()
	engine := game.NewEngine(rp.config.Rules, store,
		game.WithLogger(rp.logger),
		game.WithClock(func() time.Time { return clock }),
	)
	pricer := pricing.NewPricer(rp.config.Pricing)

	ids := make(map[string]string, len(season.Players))
	for _, name := range season.Players {
		p, err := engine.Register(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
		ids[name] = p.ID
	}

	result := &Result{
		Rounds:     make([]RoundSummary, 0, len(season.Rounds)),
		Rejections: make([]Rejection, 0),
		Points:     decimal.Zero,
		Bonuses:    make(map[bonus.Kind]int),
	}

	for _, script := range season.Rounds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		gw, err := source.FetchGameweek(ctx, script.Round)
		if err != nil {
			return nil, err
		}
		clock = gw.OpenTime
		if result.StartTime.IsZero() {
			result.StartTime = clock
		}

		table, skipped := pricer.Price(gw.Fixtures)
		for _, err := range skipped {
			rp.logger.Warn("fixture excluded from cost table", zap.Int("round", gw.Round), zap.Error(err))
		}
		if _, err := engine.Generate(ctx, gw.Round, table, gw.OpenTime, gw.CloseTime); err != nil {
			return nil, fmt.Errorf("generate round %d: %w", script.Round, err)
		}
		summary := RoundSummary{Round: script.Round, Outcomes: len(table), Skipped: len(skipped)}

		for _, name := range sortedKeys(script.Picks) {
			if err := rp.pick(ctx, engine, ids, name, script.Picks[name]); err != nil {
				result.Rejections = append(result.Rejections, Rejection{script.Round, name, "pick", err.Error()})
			}
		}
		for _, name := range sortedKeys(script.Bonuses) {
			for _, k := range script.Bonuses[name] {
				if err := rp.toggle(ctx, engine, ids, name, k); err != nil {
					result.Rejections = append(result.Rejections, Rejection{script.Round, name, "bonus " + k, err.Error()})
				}
			}
		}

		clock = gw.CloseTime
		if summary.Lock, err = engine.Lock(ctx); err != nil {
			return nil, fmt.Errorf("lock round %d: %w", script.Round, err)
		}

		scores, errs := fixtures.ResultsFromScores(script.Scores)
		for _, err := range errs {
			rp.logger.Warn("scoreline skipped", zap.Int("round", script.Round), zap.Error(err))
		}
		source.SetResults(scores)
		known, err := source.FetchResults(ctx)
		if err != nil {
			return nil, err
		}
		if summary.Settlement, err = engine.Settle(ctx, known); err != nil {
			return nil, fmt.Errorf("settle round %d: %w", script.Round, err)
		}

		result.Points = result.Points.Add(summary.Settlement.Points)
		result.Pending = summary.Settlement.PendingDelayed
		for k, n := range summary.Settlement.BonusesConsumed {
			result.Bonuses[k] += n
		}
		result.Rounds = append(result.Rounds, summary)
		result.EndTime = clock
	}

	players, err := engine.Players(ctx)
	if err != nil {
		return nil, err
	}
	result.Players = players
	result.Standings = league.Rank(players)
	return result, nil
}

func (rp *Replay) pick(ctx context.Context, engine *game.Engine, ids map[string]string, name, outcome string) error {
	id, ok := ids[name]
	if !ok {
		return game.ErrPlayerNotFound
	}
	oid, err := fixtures.Parse(outcome)
	if err != nil {
		if oid, err = fixtures.ParseDisplay(outcome); err != nil {
			return err
		}
	}
	_, err = engine.Pick(ctx, id, oid)
	return err
}

func (rp *Replay) toggle(ctx context.Context, engine *game.Engine, ids map[string]string, name, kind string) error {
	id, ok := ids[name]
	if !ok {
		return game.ErrPlayerNotFound
	}
	k, err := bonus.ParseKind(kind)
	if err != nil {
		return err
	}
	_, err = engine.ToggleBonus(ctx, id, k, true)
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
