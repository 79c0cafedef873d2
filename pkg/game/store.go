package game

import (
	"context"
	"errors"
)

var (
	// ErrInvalidPhase is returned when an operation does not apply to the
	// current round phase. Lifecycle callers treat it as a no-op.
	ErrInvalidPhase = errors.New("invalid round phase")
	// ErrNoRound is returned when no round has been generated yet.
	ErrNoRound = errors.New("no active round")
	// ErrRoundNumber is returned when a generated round does not come after
	// the current one.
	ErrRoundNumber = errors.New("round number must advance")
	// ErrEmptyTable is returned when generating a round without priced outcomes.
	ErrEmptyTable = errors.New("cost table is empty")
	// ErrInsufficientFunds is returned when a pick costs more gold than the player has.
	ErrInsufficientFunds = errors.New("insufficient gold")
	// ErrUnknownOutcome is returned for an outcome missing from the cost table.
	ErrUnknownOutcome = errors.New("outcome not in cost table")
	// ErrPlayerNotFound is returned for an unknown player id.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrInvalidName is returned when registering a blank player name.
	ErrInvalidName = errors.New("player name is required")
	// ErrPlayerExists is returned when registering a taken name.
	ErrPlayerExists = errors.New("player name already taken")
	// ErrLeagueNotFound is returned for an unknown league.
	ErrLeagueNotFound = errors.New("league not found")
	// ErrLeagueExists is returned when creating a league with a taken name.
	ErrLeagueExists = errors.New("league name already taken")
)

// Store persists the round, players and leagues.
//
// Update runs fn in a transaction: either every Save made by fn is committed
// or none is. Implementations must serialize concurrent Update calls on the
// round record.
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view of the store inside a transaction. Returned records are
// private copies; changes only persist through the Save methods.
type Tx interface {
	// Round returns the current round, or nil if none exists.
	Round(ctx context.Context) (*Round, error)
	SaveRound(ctx context.Context, r *Round) error

	// Players returns all players in registration order.
	Players(ctx context.Context) ([]*Player, error)
	// PlayersByID returns the given players in registration order, skipping unknown ids.
	PlayersByID(ctx context.Context, ids []string) ([]*Player, error)
	Player(ctx context.Context, id string) (*Player, error)
	SavePlayer(ctx context.Context, p *Player) error

	Leagues(ctx context.Context) ([]*League, error)
	League(ctx context.Context, id string) (*League, error)
	LeagueByName(ctx context.Context, name string) (*League, error)
	SaveLeague(ctx context.Context, l *League) error
}
