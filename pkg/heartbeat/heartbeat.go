// Package heartbeat drives the round lifecycle from an external keep-alive.
//
// Each Beat inspects the current round and performs exactly one action:
// generate, lock, remind, schedule, settle (followed by generate), interim
// results, or nothing. Beats are throttled and serialized with a Locker so
// concurrent triggers never run two lifecycle passes at once.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/phenomenon0/gameweek/pkg/feed"
	"github.com/phenomenon0/gameweek/pkg/game"
	"github.com/phenomenon0/gameweek/pkg/pricing"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Action is what a beat did.
type Action string

const (
	ActionNone      Action = "none"
	ActionGenerate  Action = "generate"
	ActionLock      Action = "lock"
	ActionRemind    Action = "remind"
	ActionSchedule  Action = "schedule"
	ActionSettle    Action = "settle"
	ActionInterim   Action = "interim"
	ActionThrottled Action = "throttled"
	ActionBusy      Action = "busy"
)

// Result describes one beat.
type Result struct {
	Action     Action                 `json:"action"`
	Round      int                    `json:"round,omitempty"`
	Waiting    bool                   `json:"waiting,omitempty"` // feed has not published the data yet
	Generated  *game.Round            `json:"generated,omitempty"`
	Lock       *game.LockReport       `json:"lock,omitempty"`
	Settlement *game.SettlementReport `json:"settlement,omitempty"`
	Reminded   int                    `json:"reminded,omitempty"`
	Skipped    int                    `json:"skipped,omitempty"` // fixtures the pricer rejected
	Error      string                 `json:"error,omitempty"`
	Duration   time.Duration          `json:"duration"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Notifier sends the pre-close reminder.
type Notifier interface {
	Remind(ctx context.Context, round *game.Round, pending []*game.Player) error
}

// Config controls beat timing.
type Config struct {
	// ReminderLead is how long before close the reminder goes out.
	ReminderLead time.Duration
	// InterimInterval is the minimum gap between interim result fetches.
	InterimInterval time.Duration
	// MinInterval throttles beats; zero disables throttling.
	MinInterval time.Duration
	// Burst is the number of beats allowed back to back.
	Burst int
}

// DefaultConfig returns default timing.
func DefaultConfig() *Config {
	return &Config{
		ReminderLead:    24 * time.Hour,
		InterimInterval: 30 * time.Minute,
		MinInterval:     10 * time.Second,
		Burst:           1,
	}
}

// Heartbeat runs lifecycle actions on demand.
type Heartbeat struct {
	config   *Config
	engine   *game.Engine
	source   feed.Source
	pricer   *pricing.Pricer
	notifier Notifier
	locker   Locker
	limiter  *rate.Limiter
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.RWMutex
	last *Result

	// Callbacks
	onBeat  func(*Result)
	onError func(error)
}

// Option configures a Heartbeat.
type Option func(*Heartbeat)

// WithNotifier sets the reminder notifier.
func WithNotifier(n Notifier) Option {
	return func(h *Heartbeat) {
		h.notifier = n
	}
}

// WithLocker sets the cross-process lock. The default is a LocalLocker.
func WithLocker(l Locker) Option {
	return func(h *Heartbeat) {
		if l != nil {
			h.locker = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Heartbeat) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Heartbeat) {
		if now != nil {
			h.now = now
		}
	}
}

// New creates a heartbeat.
func New(config *Config, engine *game.Engine, source feed.Source, pricer *pricing.Pricer, opts ...Option) *Heartbeat {
	if config == nil {
		config = DefaultConfig()
	}
	if pricer == nil {
		pricer = pricing.NewPricer(nil)
	}

	h := &Heartbeat{
		config: config,
		engine: engine,
		source: source,
		pricer: pricer,
		locker: NewLocalLocker(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	if config.MinInterval > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Every(config.MinInterval), burst)
	}

	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnBeat sets a callback for completed beats.
func (h *Heartbeat) OnBeat(fn func(*Result)) {
	h.onBeat = fn
}

// OnError sets a callback for beat errors.
func (h *Heartbeat) OnError(fn func(error)) {
	h.onError = fn
}

// Last returns the most recent beat result.
func (h *Heartbeat) Last() *Result {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Beat performs at most one lifecycle action.
func (h *Heartbeat) Beat(ctx context.Context) (*Result, error) {
	start := h.now()
	result := &Result{Action: ActionNone, Timestamp: start}

	err := h.beat(ctx, result)
	result.Duration = h.now().Sub(start)
	if err != nil {
		result.Error = err.Error()
		h.handleError(fmt.Errorf("heartbeat %s: %w", result.Action, err))
	}

	h.mu.Lock()
	h.last = result
	h.mu.Unlock()

	if result.Action != ActionNone && result.Action != ActionThrottled {
		h.logger.Info("heartbeat",
			zap.String("action", string(result.Action)),
			zap.Int("round", result.Round),
			zap.Bool("waiting", result.Waiting),
			zap.Duration("duration", result.Duration),
		)
	}
	if h.onBeat != nil {
		h.onBeat(result)
	}
	return result, err
}

func (h *Heartbeat) beat(ctx context.Context, result *Result) error {
	if h.limiter != nil && !h.limiter.Allow() {
		result.Action = ActionThrottled
		return nil
	}

	release, err := h.locker.TryLock(ctx)
	if errors.Is(err, ErrBusy) {
		result.Action = ActionBusy
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer release()

	round, err := h.engine.Round(ctx)
	if err != nil && !errors.Is(err, game.ErrNoRound) {
		return fmt.Errorf("load round: %w", err)
	}
	if round != nil {
		result.Round = round.Number
	}

	result.Action = Decide(h.config, round, h.now())
	switch result.Action {
	case ActionGenerate:
		return h.generate(ctx, round, result)
	case ActionLock:
		return h.lock(ctx, result)
	case ActionRemind:
		return h.remind(ctx, round, result)
	case ActionSchedule:
		return h.schedule(ctx, round, result)
	case ActionSettle:
		return h.settle(ctx, round, result)
	case ActionInterim:
		return h.interim(ctx, result)
	}
	return nil
}

// Decide picks the action for round at now. A nil round means none exists yet.
func Decide(config *Config, round *game.Round, now time.Time) Action {
	if round == nil {
		return ActionGenerate
	}

	switch round.Phase {
	case game.PhaseSettled:
		return ActionGenerate

	case game.PhaseOpen:
		if !now.Before(round.CloseTime) {
			return ActionLock
		}
		if round.RemindedAt == nil && !now.Before(round.CloseTime.Add(-config.ReminderLead)) {
			return ActionRemind
		}

	case game.PhaseLocked:
		if round.NextOpenTime == nil {
			return ActionSchedule
		}
		if !now.Before(*round.NextOpenTime) {
			return ActionSettle
		}
		if round.InterimAt == nil || now.Sub(*round.InterimAt) >= config.InterimInterval {
			return ActionInterim
		}
	}
	return ActionNone
}

func (h *Heartbeat) generate(ctx context.Context, current *game.Round, result *Result) error {
	gw, err := h.nextGameweek(ctx, current)
	if errors.Is(err, feed.ErrNotPublished) {
		result.Waiting = true
		return nil
	}
	if err != nil {
		return err
	}

	table, skipped := h.pricer.Price(gw.Fixtures)
	for _, err := range skipped {
		h.logger.Warn("fixture excluded from cost table", zap.Int("round", gw.Round), zap.Error(err))
	}
	result.Skipped = len(skipped)

	round, err := h.engine.Generate(ctx, gw.Round, table, gw.OpenTime, gw.CloseTime)
	if errors.Is(err, game.ErrInvalidPhase) {
		return nil
	}
	if err != nil {
		return err
	}
	result.Round = round.Number
	result.Generated = round
	return nil
}

// nextGameweek finds the gameweek to open after current. A fresh deployment
// starts from the feed's current gameweek. Otherwise the following number is
// preferred, falling back to the current gameweek when the feed skipped one.
func (h *Heartbeat) nextGameweek(ctx context.Context, current *game.Round) (*feed.Gameweek, error) {
	if current == nil {
		gw, err := h.source.FetchCurrentGameweek(ctx, h.now())
		if err != nil && !errors.Is(err, feed.ErrNotPublished) {
			return nil, fmt.Errorf("fetch current gameweek: %w", err)
		}
		return gw, err
	}

	number := current.Number + 1
	gw, err := h.source.FetchGameweek(ctx, number)
	if err == nil {
		return gw, nil
	}
	if !errors.Is(err, feed.ErrNotPublished) {
		return nil, fmt.Errorf("fetch gameweek %d: %w", number, err)
	}

	gw, err = h.source.FetchCurrentGameweek(ctx, h.now())
	if err != nil {
		if errors.Is(err, feed.ErrNotPublished) {
			return nil, err
		}
		return nil, fmt.Errorf("fetch current gameweek: %w", err)
	}
	if gw.Round <= current.Number {
		return nil, fmt.Errorf("gameweek after %d: %w", current.Number, feed.ErrNotPublished)
	}
	h.logger.Info("feed skipped gameweeks", zap.Int("after", current.Number), zap.Int("next", gw.Round))
	return gw, nil
}

func (h *Heartbeat) lock(ctx context.Context, result *Result) error {
	report, err := h.engine.Lock(ctx)
	if errors.Is(err, game.ErrInvalidPhase) {
		h.logger.Debug("lock skipped", zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	result.Lock = report
	return nil
}

func (h *Heartbeat) remind(ctx context.Context, round *game.Round, result *Result) error {
	pending, err := h.engine.Unpicked(ctx)
	if err != nil {
		return err
	}
	if h.notifier != nil && len(pending) > 0 {
		if err := h.notifier.Remind(ctx, round, pending); err != nil {
			return fmt.Errorf("send reminder: %w", err)
		}
	}
	result.Reminded = len(pending)
	_, err = h.engine.MarkReminded(ctx)
	if errors.Is(err, game.ErrInvalidPhase) {
		return nil
	}
	return err
}

func (h *Heartbeat) schedule(ctx context.Context, round *game.Round, result *Result) error {
	next, err := h.source.FetchNextOpenTime(ctx, round.Number)
	if errors.Is(err, feed.ErrNotPublished) {
		result.Waiting = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch next open time: %w", err)
	}
	_, err = h.engine.SetNextOpenTime(ctx, next)
	if errors.Is(err, game.ErrInvalidPhase) {
		return nil
	}
	return err
}

func (h *Heartbeat) settle(ctx context.Context, round *game.Round, result *Result) error {
	results, err := h.source.FetchResults(ctx)
	if err != nil {
		return fmt.Errorf("fetch results: %w", err)
	}

	report, err := h.engine.Settle(ctx, results)
	switch {
	case errors.Is(err, game.ErrInvalidPhase):
		h.logger.Debug("settle skipped", zap.Error(err))
	case err != nil:
		return err
	default:
		result.Settlement = report
		round = &game.Round{Number: report.Round, Phase: game.PhaseSettled}
	}

	return h.generate(ctx, round, result)
}

func (h *Heartbeat) interim(ctx context.Context, result *Result) error {
	results, err := h.source.FetchResults(ctx)
	if err != nil {
		return fmt.Errorf("fetch results: %w", err)
	}
	_, err = h.engine.RecordInterimResults(ctx, results)
	if errors.Is(err, game.ErrInvalidPhase) {
		return nil
	}
	return err
}

func (h *Heartbeat) handleError(err error) {
	h.logger.Error("heartbeat failed", zap.Error(err))
	if h.onError != nil {
		h.onError(err)
	}
}
