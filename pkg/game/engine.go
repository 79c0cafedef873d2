package game

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/phenomenon0/gameweek/pkg/bonus"
	"github.com/phenomenon0/gameweek/pkg/fixtures"
	"github.com/phenomenon0/gameweek/pkg/pricing"
	"github.com/phenomenon0/gameweek/pkg/scoring"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds the game rules.
type Config struct {
	StartingGold  decimal.Decimal
	NoPickPenalty decimal.Decimal

	// LockGuard pushes the close time forward at lock so a locked round is
	// never mistaken for one that is due to lock again.
	LockGuard time.Duration
	// PlaceholderClose is used when a round is generated without a close time.
	PlaceholderClose time.Duration

	BonusAllowance map[bonus.Kind]int
	Scoring        *scoring.Policy
}

// DefaultConfig returns the standard rules.
func DefaultConfig() *Config {
	return &Config{
		StartingGold:     decimal.NewFromInt(380),
		NoPickPenalty:    decimal.NewFromInt(10),
		LockGuard:        365 * 24 * time.Hour,
		PlaceholderClose: 365 * 24 * time.Hour,
		BonusAllowance: map[bonus.Kind]int{
			bonus.DoubleUp:       2,
			bonus.GoalDifference: 2,
			bonus.Handicap:       2,
		},
		Scoring: scoring.DefaultPolicy(),
	}
}

// Engine runs the round lifecycle against a Store.
type Engine struct {
	config *Config
	store  Store
	logger *zap.Logger
	now    func() time.Time

	// mu serializes writers in this process; the store serializes across processes.
	mu sync.Mutex

	// Callbacks
	onTransition func(*Round)
	onLock       func(*LockReport)
	onSettle     func(*SettlementReport)
	onPick       func(*PickEvent)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an engine. A nil config uses DefaultConfig.
func NewEngine(config *Config, store Store, opts ...Option) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Scoring == nil {
		config.Scoring = scoring.DefaultPolicy()
	}

	e := &Engine{
		config: config,
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine rules.
func (e *Engine) Config() *Config {
	return e.config
}

// OnTransition sets a callback for phase changes.
func (e *Engine) OnTransition(fn func(*Round)) {
	e.onTransition = fn
}

// OnLock sets a callback for completed lock passes.
func (e *Engine) OnLock(fn func(*LockReport)) {
	e.onLock = fn
}

// OnSettle sets a callback for completed settlement passes.
func (e *Engine) OnSettle(fn func(*SettlementReport)) {
	e.onSettle = fn
}

// OnPick sets a callback for accepted picks.
func (e *Engine) OnPick(fn func(*PickEvent)) {
	e.onPick = fn
}

// Register creates a player with the starting gold and bonus allowance.
func (e *Engine) Register(ctx context.Context, name string) (*Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	p := &Player{
		ID:        uuid.New().String(),
		Name:      name,
		Score:     decimal.Zero,
		Gold:      e.config.StartingGold,
		History:   make([]Settlement, 0),
		Delayed:   make([]DelayedMatch, 0),
		Bonuses:   bonus.NewLedger(e.config.BonusAllowance),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := e.store.Update(ctx, func(tx Tx) error {
		players, err := tx.Players(ctx)
		if err != nil {
			return err
		}
		for _, other := range players {
			if strings.EqualFold(other.Name, name) {
				return fmt.Errorf("%w: %s", ErrPlayerExists, name)
			}
		}
		return tx.SavePlayer(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("player registered", zap.String("player_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// Generate opens round number with the given cost table. number is the
// feed's gameweek number and must be after the current round's. It is legal
// only when no round exists or the current round is settled. A zero close
// time is replaced by a far-future placeholder.
func (e *Engine) Generate(ctx context.Context, number int, table pricing.Table, openAt, closeAt time.Time) (*Round, error) {
	if len(table) == 0 {
		return nil, ErrEmptyTable
	}
	if number < 1 {
		return nil, fmt.Errorf("%w: %d", ErrRoundNumber, number)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if openAt.IsZero() {
		openAt = now
	}
	if closeAt.IsZero() {
		closeAt = now.Add(e.config.PlaceholderClose)
	}

	var round *Round
	err := e.store.Update(ctx, func(tx Tx) error {
		current, err := tx.Round(ctx)
		if err != nil {
			return err
		}
		if current != nil {
			if current.Phase != PhaseSettled {
				return fmt.Errorf("%w: generate during %s", ErrInvalidPhase, current.Phase)
			}
			if number <= current.Number {
				return fmt.Errorf("%w: %d after round %d", ErrRoundNumber, number, current.Number)
			}
		}

		round = &Round{
			Number:    number,
			Phase:     PhaseOpen,
			Costs:     append(pricing.Table(nil), table...),
			OpenTime:  openAt,
			CloseTime: closeAt,
			UpdatedAt: now,
		}
		if err := tx.SaveRound(ctx, round); err != nil {
			return err
		}

		players, err := tx.Players(ctx)
		if err != nil {
			return err
		}
		for _, p := range players {
			if p.Pick == nil {
				continue
			}
			p.Pick = nil
			p.UpdatedAt = now
			if err := tx.SavePlayer(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("round generated",
		zap.Int("round", round.Number),
		zap.Int("outcomes", len(round.Costs)),
		zap.Time("close", round.CloseTime),
	)
	if e.onTransition != nil {
		e.onTransition(round)
	}
	return round, nil
}

// Pick records an unlocked pick. Gold is not debited until lock.
func (e *Engine) Pick(ctx context.Context, playerID string, id fixtures.OutcomeID) (*PickEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var event *PickEvent
	err := e.store.Update(ctx, func(tx Tx) error {
		r, err := openRound(ctx, tx, e.now())
		if err != nil {
			return err
		}
		cost, ok := r.Costs.Cost(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownOutcome, id)
		}

		p, err := tx.Player(ctx, playerID)
		if err != nil {
			return err
		}
		if p.Gold.LessThan(cost) {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, p.Gold, cost)
		}

		picked := id
		p.Pick = &picked
		p.UpdatedAt = e.now()
		if err := tx.SavePlayer(ctx, p); err != nil {
			return err
		}
		event = &PickEvent{PlayerID: p.ID, Round: r.Number, Outcome: id, Cost: cost}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.onPick != nil {
		e.onPick(event)
	}
	return event, nil
}

// ToggleBonus enables or disables a bonus for the next locked pick. Bonuses
// can only change while the round is open.
func (e *Engine) ToggleBonus(ctx context.Context, playerID string, kind bonus.Kind, on bool) (*Player, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var player *Player
	err := e.store.Update(ctx, func(tx Tx) error {
		if _, err := openRound(ctx, tx, e.now()); err != nil {
			return err
		}
		p, err := tx.Player(ctx, playerID)
		if err != nil {
			return err
		}
		if p.Bonuses == nil {
			p.Bonuses = bonus.NewLedger(nil)
		}
		if err := p.Bonuses.Toggle(kind, on); err != nil {
			return err
		}
		p.UpdatedAt = e.now()
		player = p
		return tx.SavePlayer(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return player, nil
}

// RecordInterimResults merges partial results into the locked round without
// settling it.
func (e *Engine) RecordInterimResults(ctx context.Context, results fixtures.Results) (*Round, error) {
	return e.updateRound(ctx, func(r *Round, now time.Time) error {
		if r.Phase != PhaseLocked {
			return fmt.Errorf("%w: interim results during %s", ErrInvalidPhase, r.Phase)
		}
		if r.Results == nil {
			r.Results = make(fixtures.Results, len(results))
		}
		r.Results.Merge(results)
		r.InterimAt = &now
		return nil
	})
}

// SetNextOpenTime records when the following round becomes available.
func (e *Engine) SetNextOpenTime(ctx context.Context, t time.Time) (*Round, error) {
	return e.updateRound(ctx, func(r *Round, _ time.Time) error {
		if r.Phase != PhaseLocked {
			return fmt.Errorf("%w: next open time during %s", ErrInvalidPhase, r.Phase)
		}
		next := t
		r.NextOpenTime = &next
		return nil
	})
}

// MarkReminded records that the pre-close reminder was sent.
func (e *Engine) MarkReminded(ctx context.Context) (*Round, error) {
	return e.updateRound(ctx, func(r *Round, now time.Time) error {
		if r.Phase != PhaseOpen {
			return fmt.Errorf("%w: reminder during %s", ErrInvalidPhase, r.Phase)
		}
		r.RemindedAt = &now
		return nil
	})
}

func (e *Engine) updateRound(ctx context.Context, fn func(r *Round, now time.Time) error) (*Round, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var round *Round
	err := e.store.Update(ctx, func(tx Tx) error {
		r, err := tx.Round(ctx)
		if err != nil {
			return err
		}
		if r == nil {
			return ErrNoRound
		}
		now := e.now()
		if err := fn(r, now); err != nil {
			return err
		}
		r.UpdatedAt = now
		round = r
		return tx.SaveRound(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return round, nil
}

// Round returns the current round.
func (e *Engine) Round(ctx context.Context) (*Round, error) {
	var round *Round
	err := e.store.View(ctx, func(tx Tx) error {
		r, err := tx.Round(ctx)
		if err != nil {
			return err
		}
		if r == nil {
			return ErrNoRound
		}
		round = r
		return nil
	})
	return round, err
}

// Player returns a player by id.
func (e *Engine) Player(ctx context.Context, id string) (*Player, error) {
	var player *Player
	err := e.store.View(ctx, func(tx Tx) error {
		p, err := tx.Player(ctx, id)
		player = p
		return err
	})
	return player, err
}

// Players returns every player.
func (e *Engine) Players(ctx context.Context) ([]*Player, error) {
	var players []*Player
	err := e.store.View(ctx, func(tx Tx) error {
		ps, err := tx.Players(ctx)
		players = ps
		return err
	})
	return players, err
}

// Unpicked returns the players without a pick in the open round.
func (e *Engine) Unpicked(ctx context.Context) ([]*Player, error) {
	players, err := e.Players(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Player, 0, len(players))
	for _, p := range players {
		if p.Pick == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

// openRound returns the round if it still accepts picks at now. An open
// round past its close time is waiting for the lock beat and is closed.
func openRound(ctx context.Context, tx Tx, now time.Time) (*Round, error) {
	r, err := tx.Round(ctx)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNoRound
	}
	if r.Phase != PhaseOpen {
		return nil, fmt.Errorf("%w: round %d is %s", ErrInvalidPhase, r.Number, r.Phase)
	}
	if !now.Before(r.CloseTime) {
		return nil, fmt.Errorf("%w: round %d closed at %s", ErrInvalidPhase, r.Number, r.CloseTime.Format(time.RFC3339))
	}
	return r, nil
}
