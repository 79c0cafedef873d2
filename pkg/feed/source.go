// Package feed fetches gameweek fixtures, odds and results from an external source.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/phenomenon0/gameweek/pkg/fixtures"
)

// ErrNotPublished is returned when the source has no data yet for a request,
// e.g. the next gameweek's odds are not out. Callers retry on a later beat.
var ErrNotPublished = errors.New("not published yet")

// Gameweek is one round's fixtures with odds.
type Gameweek struct {
	Round     int                `json:"round"`
	OpenTime  time.Time          `json:"open_time"`
	CloseTime time.Time          `json:"close_time"`
	Fixtures  []fixtures.Fixture `json:"fixtures"`
}

// Source provides the external data the lifecycle needs.
type Source interface {
	// FetchGameweek returns the fixtures and odds of the given round.
	FetchGameweek(ctx context.Context, round int) (*Gameweek, error)
	// FetchCurrentGameweek returns the earliest published gameweek that is
	// still open for picks at the given time. A deployment with no round yet
	// starts from it.
	FetchCurrentGameweek(ctx context.Context, at time.Time) (*Gameweek, error)
	// FetchResults returns every known result. Missing outcomes are simply absent.
	FetchResults(ctx context.Context) (fixtures.Results, error)
	// FetchNextOpenTime returns when the round after the given one opens.
	FetchNextOpenTime(ctx context.Context, round int) (time.Time, error)
}
