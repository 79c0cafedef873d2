// Package bonus tracks the limited-use modifiers a player can attach to a pick.
//
// Each kind is an independent (enabled, remaining) pair. Enabling a kind
// requires a use to be left, but only Consume spends one. New kinds are added
// to Kinds; player records keep them in a map and need no reshaping.
package bonus

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownKind is returned for a bonus kind the ledger does not track.
	ErrUnknownKind = errors.New("unknown bonus kind")
	// ErrNoUsesRemaining is returned when enabling an exhausted bonus.
	ErrNoUsesRemaining = errors.New("no bonus uses remaining")
)

// Kind names a bonus.
type Kind string

const (
	// DoubleUp doubles the base points of one pick (and its gold cost).
	DoubleUp Kind = "double_up"
	// GoalDifference adds the raw signed goal difference to one pick.
	GoalDifference Kind = "gd_bonus"
	// Handicap shifts the goal difference by +2 before scoring one pick.
	Handicap Kind = "handicap"
)

// Kinds lists every supported bonus kind in a fixed order.
var Kinds = []Kind{DoubleUp, GoalDifference, Handicap}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Entry is the state of one bonus kind for one player.
type Entry struct {
	Enabled   bool `json:"enabled"`
	Remaining int  `json:"remaining"`
}

// Ledger holds a player's bonuses keyed by kind.
type Ledger map[Kind]*Entry

// NewLedger creates a ledger with every known kind disabled and the given
// number of uses. Kinds missing from allowance start with zero uses.
func NewLedger(allowance map[Kind]int) Ledger {
	l := make(Ledger, len(Kinds))
	for _, k := range Kinds {
		uses := allowance[k]
		if uses < 0 {
			uses = 0
		}
		l[k] = &Entry{Remaining: uses}
	}
	return l
}

// entry returns the entry for k, creating a zero entry for a known kind that
// an older record did not carry yet.
func (l Ledger) entry(k Kind) (*Entry, error) {
	if e, ok := l[k]; ok {
		return e, nil
	}
	if _, err := ParseKind(string(k)); err != nil {
		return nil, err
	}
	e := &Entry{}
	l[k] = e
	return e, nil
}

// Toggle enables or disables a bonus. Enabling requires Remaining > 0.
// Toggling never changes Remaining.
func (l Ledger) Toggle(k Kind, on bool) error {
	e, err := l.entry(k)
	if err != nil {
		return err
	}
	if on && e.Remaining <= 0 {
		return fmt.Errorf("%w: %s", ErrNoUsesRemaining, k)
	}
	e.Enabled = on
	return nil
}

// Active reports whether k is enabled and still has a use left.
func (l Ledger) Active(k Kind) bool {
	e, ok := l[k]
	return ok && e.Enabled && e.Remaining > 0
}

// Cancel clears the enabled flag of k without spending a use.
func (l Ledger) Cancel(k Kind) {
	if e, ok := l[k]; ok {
		e.Enabled = false
	}
}

// Consume spends one use of every active bonus, clears all enabled flags and
// returns which bonuses were applied.
func (l Ledger) Consume() Snapshot {
	snap := make(Snapshot)
	for k, e := range l {
		if e.Enabled && e.Remaining > 0 {
			e.Remaining--
			snap[k] = true
		}
		e.Enabled = false
	}
	return snap
}

// Snapshot returns the currently active bonuses without consuming them.
func (l Ledger) Snapshot() Snapshot {
	snap := make(Snapshot)
	for k := range l {
		if l.Active(k) {
			snap[k] = true
		}
	}
	return snap
}

// Remaining returns the uses left for k.
func (l Ledger) Remaining(k Kind) int {
	if e, ok := l[k]; ok {
		return e.Remaining
	}
	return 0
}

// Snapshot records which bonuses applied to a pick at commit time.
type Snapshot map[Kind]bool

// Has reports whether k was active.
func (s Snapshot) Has(k Kind) bool {
	return s[k]
}

// Kinds returns the active kinds in sorted order.
func (s Snapshot) Kinds() []Kind {
	kinds := make([]Kind, 0, len(s))
	for k, on := range s {
		if on {
			kinds = append(kinds, k)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
