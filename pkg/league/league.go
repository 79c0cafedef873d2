// Package league groups players into password-protected leagues and ranks them.
package league

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/phenomenon0/gameweek/pkg/game"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrBadCredentials is returned when a league name and password do not match.
	ErrBadCredentials = errors.New("invalid league name or password")
	// ErrInvalidName is returned for an empty league name.
	ErrInvalidName = errors.New("league name is required")
)

// Standing is one row of a leaderboard.
type Standing struct {
	Rank           int             `json:"rank"`
	PlayerID       string          `json:"player_id"`
	Name           string          `json:"name"`
	Score          decimal.Decimal `json:"score"`
	GoalDifference int             `json:"goal_difference"`
	Gold           decimal.Decimal `json:"gold"`
}

// Service manages leagues on top of the game store.
type Service struct {
	store      game.Store
	logger     *zap.Logger
	now        func() time.Time
	bcryptCost int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.bcryptCost = cost
	}
}

// NewService creates a league service.
func NewService(store game.Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		logger:     zap.NewNop(),
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create makes a league. A non-empty ownerID joins the league immediately.
func (s *Service) Create(ctx context.Context, name, password, ownerID string) (*game.League, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash league password: %w", err)
	}

	l := &game.League{
		ID:           uuid.NewString(),
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}

	err = s.store.Update(ctx, func(tx game.Tx) error {
		existing, err := tx.LeagueByName(ctx, name)
		if err != nil && !errors.Is(err, game.ErrLeagueNotFound) {
			return err
		}
		if existing != nil {
			return game.ErrLeagueExists
		}

		if ownerID != "" {
			if err := s.addMember(ctx, tx, l, ownerID); err != nil {
				return err
			}
		}
		return tx.SaveLeague(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("league created", zap.String("league", l.ID), zap.String("name", l.Name))
	return l, nil
}

// Join adds playerID to the league called name. Joining twice is a no-op.
func (s *Service) Join(ctx context.Context, name, password, playerID string) (*game.League, error) {
	var joined *game.League
	err := s.store.Update(ctx, func(tx game.Tx) error {
		l, err := tx.LeagueByName(ctx, strings.TrimSpace(name))
		if errors.Is(err, game.ErrLeagueNotFound) {
			return ErrBadCredentials
		}
		if err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword([]byte(l.PasswordHash), []byte(password)) != nil {
			return ErrBadCredentials
		}

		if err := s.addMember(ctx, tx, l, playerID); err != nil {
			return err
		}
		joined = l
		return tx.SaveLeague(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("league joined", zap.String("league", joined.ID), zap.String("player", playerID))
	return joined, nil
}

func (s *Service) addMember(ctx context.Context, tx game.Tx, l *game.League, playerID string) error {
	p, err := tx.Player(ctx, playerID)
	if err != nil {
		return err
	}
	l.AddMember(p.ID)
	if p.JoinLeague(l.ID) {
		p.UpdatedAt = s.now()
		return tx.SavePlayer(ctx, p)
	}
	return nil
}

// Standings ranks the members of a league.
func (s *Service) Standings(ctx context.Context, leagueID string) ([]Standing, error) {
	var players []*game.Player
	err := s.store.View(ctx, func(tx game.Tx) error {
		l, err := tx.League(ctx, leagueID)
		if err != nil {
			return err
		}
		players, err = tx.PlayersByID(ctx, l.Members)
		return err
	})
	if err != nil {
		return nil, err
	}
	return Rank(players), nil
}

// Overall ranks every player.
func (s *Service) Overall(ctx context.Context) ([]Standing, error) {
	var players []*game.Player
	err := s.store.View(ctx, func(tx game.Tx) error {
		var err error
		players, err = tx.Players(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return Rank(players), nil
}

// Rank orders players by score descending, then by name. Equal scores share
// a rank.
func Rank(players []*game.Player) []Standing {
	sorted := make([]*game.Player, len(players))
	copy(sorted, players)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].Score.Cmp(sorted[j].Score); c != 0 {
			return c > 0
		}
		return sorted[i].Name < sorted[j].Name
	})

	table := make([]Standing, len(sorted))
	for i, p := range sorted {
		rank := i + 1
		if i > 0 && p.Score.Equal(sorted[i-1].Score) {
			rank = table[i-1].Rank
		}
		table[i] = Standing{
			Rank:           rank,
			PlayerID:       p.ID,
			Name:           p.Name,
			Score:          p.Score,
			GoalDifference: p.GoalDifference,
			Gold:           p.Gold,
		}
	}
	return table
}
