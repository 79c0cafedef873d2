package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/phenomenon0/gameweek/pkg/fixtures"
)

// Static is an in-memory Source. It backs tests, the replay tool and
// file-driven deployments.
type Static struct {
	mu        sync.RWMutex
	gameweeks map[int]*Gameweek
	results   fixtures.Results
	nextOpen  map[int]time.Time
}

// NewStatic creates an empty source.
func NewStatic() *Static {
	return &Static{
		gameweeks: make(map[int]*Gameweek),
		results:   make(fixtures.Results),
		nextOpen:  make(map[int]time.Time),
	}
}

// StaticFile is the on-disk form read by LoadStatic.
type StaticFile struct {
	Gameweeks []Gameweek          `json:"gameweeks"`
	Scores    []fixtures.Scoreline `json:"scores"`
}

// LoadStatic reads a StaticFile. The next open time of each round is taken
// from the open time of the following gameweek.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed file: %w", err)
	}

	var file StaticFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse feed file: %w", err)
	}

	s := NewStatic()
	for i := range file.Gameweeks {
		s.Publish(&file.Gameweeks[i])
	}
	for _, gw := range file.Gameweeks {
		if next, ok := s.gameweeks[gw.Round+1]; ok && !next.OpenTime.IsZero() {
			s.nextOpen[gw.Round] = next.OpenTime
		}
	}
	results, errs := fixtures.ResultsFromScores(file.Scores)
	if len(errs) > 0 {
		return nil, fmt.Errorf("feed file scores: %v", errs[0])
	}
	s.SetResults(results)
	return s, nil
}

// Publish makes a gameweek available.
func (s *Static) Publish(gw *Gameweek) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gameweeks[gw.Round] = gw
}

// SetResults merges results into the known set.
func (s *Static) SetResults(results fixtures.Results) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results.Merge(results)
}

// SetNextOpenTime records when the round after round opens.
func (s *Static) SetNextOpenTime(round int, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOpen[round] = t
}

// FetchGameweek implements Source.
func (s *Static) FetchGameweek(ctx context.Context, round int) (*Gameweek, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gw, ok := s.gameweeks[round]
	if !ok {
		return nil, fmt.Errorf("gameweek %d: %w", round, ErrNotPublished)
	}
	cp := *gw
	cp.Fixtures = append([]fixtures.Fixture(nil), gw.Fixtures...)
	return &cp, nil
}

// FetchCurrentGameweek implements Source. A gameweek without a close time
// counts as open.
func (s *Static) FetchCurrentGameweek(ctx context.Context, at time.Time) (*Gameweek, error) {
	s.mu.RLock()
	current := 0
	for round, gw := range s.gameweeks {
		if !gw.CloseTime.IsZero() && !at.Before(gw.CloseTime) {
			continue
		}
		if current == 0 || round < current {
			current = round
		}
	}
	s.mu.RUnlock()

	if current == 0 {
		return nil, fmt.Errorf("gameweek open at %s: %w", at.Format(time.RFC3339), ErrNotPublished)
	}
	return s.FetchGameweek(ctx, current)
}

// FetchResults implements Source.
func (s *Static) FetchResults(ctx context.Context) (fixtures.Results, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(fixtures.Results, len(s.results))
	out.Merge(s.results)
	return out, nil
}

// FetchNextOpenTime implements Source.
func (s *Static) FetchNextOpenTime(ctx context.Context, round int) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.nextOpen[round]
	if !ok {
		return time.Time{}, fmt.Errorf("next open time after round %d: %w", round, ErrNotPublished)
	}
	return t, nil
}
