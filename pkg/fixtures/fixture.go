package fixtures

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Fixture is one scheduled match with raw decimal odds for each side winning.
// Odds are kept as text so a malformed feed value only excludes its fixture.
type Fixture struct {
	Home     string    `json:"home"`
	Away     string    `json:"away"`
	HomeOdds string    `json:"home_odds"`
	AwayOdds string    `json:"away_odds"`
	Kickoff  time.Time `json:"kickoff,omitempty"`
}

// Outcomes returns the home-backed and away-backed outcomes of the fixture.
func (f Fixture) Outcomes() (home, away OutcomeID, err error) {
	home, err = NewOutcomeID(f.Home, f.Away, Home)
	if err != nil {
		return OutcomeID{}, OutcomeID{}, err
	}
	return home, home.Reverse(), nil
}

// Results maps an outcome to the signed goal difference from the backed
// team's point of view. A missing key means the result is not known yet.
type Results map[OutcomeID]int

// Lookup returns the goal difference for id, if known.
func (r Results) Lookup(id OutcomeID) (int, bool) {
	if r == nil {
		return 0, false
	}
	gd, ok := r[id]
	return gd, ok
}

// Merge copies every entry of other into r, overwriting existing keys.
func (r Results) Merge(other Results) {
	for id, gd := range other {
		r[id] = gd
	}
}

// Keys returns the outcomes in r sorted by their encoded identifier.
func (r Results) Keys() []OutcomeID {
	keys := make([]OutcomeID, 0, len(r))
	for id := range r {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Scoreline is a finished match as reported by a results feed, e.g. "2:1".
type Scoreline struct {
	Home  string `json:"home"`
	Away  string `json:"away"`
	Score string `json:"score"`
}

// GoalDifference parses the home-minus-away margin of the scoreline.
func (s Scoreline) GoalDifference() (int, error) {
	parts := strings.Split(strings.TrimSpace(s.Score), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed score %q", s.Score)
	}
	home, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, fmt.Errorf("malformed home goals in %q: %w", s.Score, err)
	}
	away, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("malformed away goals in %q: %w", s.Score, err)
	}
	if home < 0 || away < 0 {
		return 0, fmt.Errorf("negative goals in %q", s.Score)
	}
	return home - away, nil
}

// ResultsFromScores converts scorelines into a results map holding both
// outcomes of every fixture. Rows that cannot be read are skipped and
// reported; the remaining rows are still returned.
func ResultsFromScores(lines []Scoreline) (Results, []error) {
	results := make(Results, 2*len(lines))
	var errs []error
	for _, line := range lines {
		gd, err := line.GoalDifference()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s vs %s: %w", line.Home, line.Away, err))
			continue
		}
		home, err := NewOutcomeID(line.Home, line.Away, Home)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results[home] = gd
		results[home.Reverse()] = -gd
	}
	return results, errs
}
