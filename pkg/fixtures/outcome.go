// Package fixtures defines match outcomes, their identifiers and result maps.
//
// An outcome backs one team in one fixture. Its identifier carries the backed
// team, the opponent and the venue the backed team plays at. The string form
// "Team_Opponent_H" is only used at serialization edges (store, feed, HTTP).
package fixtures

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidOutcome is returned when an outcome identifier cannot be parsed.
var ErrInvalidOutcome = errors.New("invalid outcome identifier")

// Venue is the side the backed team plays on.
type Venue int

const (
	Home Venue = iota
	Away
)

func (v Venue) String() string {
	if v == Away {
		return "away"
	}
	return "home"
}

// marker is the single-letter tag used in the encoded identifier.
func (v Venue) marker() string {
	if v == Away {
		return "A"
	}
	return "H"
}

func venueFromMarker(s string) (Venue, bool) {
	switch s {
	case "H":
		return Home, true
	case "A":
		return Away, true
	}
	return Home, false
}

// OutcomeID identifies a backable outcome within a gameweek.
type OutcomeID struct {
	Team     string
	Opponent string
	Venue    Venue
}

// NewOutcomeID normalizes both team names and validates the result.
func NewOutcomeID(team, opponent string, venue Venue) (OutcomeID, error) {
	id := OutcomeID{
		Team:     NormalizeTeam(team),
		Opponent: NormalizeTeam(opponent),
		Venue:    venue,
	}
	if err := id.Validate(); err != nil {
		return OutcomeID{}, err
	}
	return id, nil
}

// Validate checks that both team names can be encoded unambiguously.
func (id OutcomeID) Validate() error {
	for _, name := range []string{id.Team, id.Opponent} {
		if name == "" {
			return fmt.Errorf("%w: empty team name", ErrInvalidOutcome)
		}
		if strings.ContainsRune(name, '_') || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
			return fmt.Errorf("%w: team %q contains a separator", ErrInvalidOutcome, name)
		}
	}
	if id.Venue != Home && id.Venue != Away {
		return fmt.Errorf("%w: unknown venue %d", ErrInvalidOutcome, id.Venue)
	}
	return nil
}

// String returns the encoded identifier, e.g. "Leicester_Arsenal_H".
func (id OutcomeID) String() string {
	return id.Team + "_" + id.Opponent + "_" + id.Venue.marker()
}

// Display returns the human-readable form, e.g. "Leicester vs Arsenal (H)".
func (id OutcomeID) Display() string {
	return id.Team + " vs " + id.Opponent + " (" + id.Venue.marker() + ")"
}

// Reverse returns the outcome backing the other team of the same fixture.
func (id OutcomeID) Reverse() OutcomeID {
	venue := Home
	if id.Venue == Home {
		venue = Away
	}
	return OutcomeID{Team: id.Opponent, Opponent: id.Team, Venue: venue}
}

// Parse decodes an identifier produced by String.
func Parse(s string) (OutcomeID, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 {
		return OutcomeID{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
	}
	venue, ok := venueFromMarker(parts[2])
	if !ok {
		return OutcomeID{}, fmt.Errorf("%w: bad venue marker in %q", ErrInvalidOutcome, s)
	}
	id := OutcomeID{Team: parts[0], Opponent: parts[1], Venue: venue}
	if err := id.Validate(); err != nil {
		return OutcomeID{}, err
	}
	return id, nil
}

// ParseDisplay decodes a string produced by Display.
func ParseDisplay(s string) (OutcomeID, error) {
	if len(s) < 4 || !strings.HasSuffix(s, ")") {
		return OutcomeID{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
	}
	open := strings.LastIndex(s, " (")
	if open < 0 {
		return OutcomeID{}, fmt.Errorf("%w: missing venue in %q", ErrInvalidOutcome, s)
	}
	venue, ok := venueFromMarker(s[open+2 : len(s)-1])
	if !ok {
		return OutcomeID{}, fmt.Errorf("%w: bad venue marker in %q", ErrInvalidOutcome, s)
	}
	teams := strings.Split(s[:open], " vs ")
	if len(teams) != 2 {
		return OutcomeID{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
	}
	id := OutcomeID{Team: teams[0], Opponent: teams[1], Venue: venue}
	if err := id.Validate(); err != nil {
		return OutcomeID{}, err
	}
	return id, nil
}

// MarshalText lets OutcomeID be used as a JSON map key.
func (id OutcomeID) MarshalText() ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *OutcomeID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NormalizeTeam strips accents and all whitespace from a team name so it
// can be embedded in an identifier.
func NormalizeTeam(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	name, _, _ = transform.String(t, name)

	return strings.Join(strings.Fields(name), "")
}
