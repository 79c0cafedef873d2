// Package game implements the gameweek lifecycle: the round state machine,
// lock-time gold debits and settlement of picks into points.
//
// A round moves OPEN -> LOCKED -> SETTLED and a new round is then generated.
// Every transition runs inside one store transaction so a pass over all
// players commits completely or not at all.
package game

import (
	"time"

	"github.com/phenomenon0/gameweek/pkg/bonus"
	"github.com/phenomenon0/gameweek/pkg/fixtures"
	"github.com/phenomenon0/gameweek/pkg/pricing"

	"github.com/shopspring/decimal"
)

// Phase is the lifecycle stage of a round.
type Phase string

const (
	// PhaseOpen accepts picks against the cost table.
	PhaseOpen Phase = "open"
	// PhaseLocked holds frozen, gold-debited picks awaiting results.
	PhaseLocked Phase = "locked"
	// PhaseSettled is reached after results were applied; a new round follows.
	PhaseSettled Phase = "settled"
)

// Round is the single authoritative gameweek record.
type Round struct {
	Number       int              `json:"number"`
	Phase        Phase            `json:"phase"`
	Costs        pricing.Table    `json:"costs"`
	OpenTime     time.Time        `json:"open_time"`
	CloseTime    time.Time        `json:"close_time"`
	NextOpenTime *time.Time       `json:"next_open_time,omitempty"`
	Results      fixtures.Results `json:"results,omitempty"` // interim while locked, final once settled
	RemindedAt   *time.Time       `json:"reminded_at,omitempty"`
	InterimAt    *time.Time       `json:"interim_at,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// LockedPick is a player's frozen choice for the locked round.
type LockedPick struct {
	Outcome   *fixtures.OutcomeID `json:"outcome,omitempty"`
	NoPick    bool                `json:"no_pick"`
	Charged   decimal.Decimal     `json:"charged"`
	DoubledUp bool                `json:"doubled_up"`
	LockedAt  time.Time           `json:"locked_at"`
}

// DelayedMatch is a locked pick whose result was not known at settlement.
// Its bonuses were consumed when it was committed and are frozen here.
type DelayedMatch struct {
	Round    int                `json:"round"`
	Outcome  fixtures.OutcomeID `json:"outcome"`
	Charged  decimal.Decimal    `json:"charged"`
	Bonuses  bonus.Snapshot     `json:"bonuses,omitempty"`
	LockedAt time.Time          `json:"locked_at"`
}

// Settlement is one entry of a player's history.
type Settlement struct {
	Seq            int                 `json:"seq"`   // 1-indexed
	Round          int                 `json:"round"` // round the pick was locked in
	SettledIn      int                 `json:"settled_in"`
	Outcome        *fixtures.OutcomeID `json:"outcome,omitempty"`
	NoPick         bool                `json:"no_pick"`
	GoalDifference int                 `json:"goal_difference"`
	Points         decimal.Decimal     `json:"points"`
	Bonuses        bonus.Snapshot      `json:"bonuses,omitempty"`
	Carried        bool                `json:"carried"`
	SettledAt      time.Time           `json:"settled_at"`
}

// Player is a participant's game state.
type Player struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Score          decimal.Decimal     `json:"score"`
	Gold           decimal.Decimal     `json:"gold"`
	Pick           *fixtures.OutcomeID `json:"pick,omitempty"`
	Locked         *LockedPick         `json:"locked,omitempty"`
	History        []Settlement        `json:"history"`
	Delayed        []DelayedMatch      `json:"delayed"`
	GoalDifference int                 `json:"goal_difference"`
	Bonuses        bonus.Ledger        `json:"bonuses"`
	Leagues        []string            `json:"leagues,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// JoinLeague records league membership. It reports false if already a member.
func (p *Player) JoinLeague(leagueID string) bool {
	for _, id := range p.Leagues {
		if id == leagueID {
			return false
		}
	}
	p.Leagues = append(p.Leagues, leagueID)
	return true
}

// League is a named group of players ranked together.
type League struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"password_hash"`
	Members      []string  `json:"members"`
	CreatedAt    time.Time `json:"created_at"`
}

// AddMember adds a player. Adding an existing member is a no-op that reports false.
func (l *League) AddMember(playerID string) bool {
	if l.HasMember(playerID) {
		return false
	}
	l.Members = append(l.Members, playerID)
	return true
}

// HasMember reports whether playerID belongs to the league.
func (l *League) HasMember(playerID string) bool {
	for _, id := range l.Members {
		if id == playerID {
			return true
		}
	}
	return false
}

// LockReport summarizes a lock pass.
type LockReport struct {
	Round              int             `json:"round"`
	Locked             int             `json:"locked"`
	NoPick             int             `json:"no_pick"`
	DoubleUps          int             `json:"double_ups"`
	DoubleUpsCancelled int             `json:"double_ups_cancelled"`
	GoldDebited        decimal.Decimal `json:"gold_debited"`
}

// PlayerDelta is the effect of one settlement pass on one player. Points and
// GoalDifference total every record written in the pass; the Pick fields
// cover only this round's locked pick when it resolved.
type PlayerDelta struct {
	PlayerID           string          `json:"player_id"`
	Name               string          `json:"name"`
	Points             decimal.Decimal `json:"points"`
	GoalDifference     int             `json:"goal_difference"`
	PickPoints         decimal.Decimal `json:"pick_points"`
	PickGoalDifference int             `json:"pick_goal_difference"`
	Resolved           bool            `json:"resolved"`
	Delayed            bool            `json:"delayed"`
	NoPick             bool            `json:"no_pick"`
	DelayedResolved    int             `json:"delayed_resolved"`
	Bonuses            bonus.Snapshot  `json:"bonuses,omitempty"`
}

// SettlementReport summarizes a settlement pass.
type SettlementReport struct {
	Round           int                `json:"round"`
	Players         []PlayerDelta      `json:"players"`
	Resolved        int                `json:"resolved"`
	Delayed         int                `json:"delayed"`
	NoPick          int                `json:"no_pick"`
	DelayedResolved int                `json:"delayed_resolved"`
	PendingDelayed  int                `json:"pending_delayed"`
	Points          decimal.Decimal    `json:"points"`
	BonusesConsumed map[bonus.Kind]int `json:"bonuses_consumed"`
}

// PickEvent describes an accepted pick.
type PickEvent struct {
	PlayerID string             `json:"player_id"`
	Round    int                `json:"round"`
	Outcome  fixtures.OutcomeID `json:"outcome"`
	Cost     decimal.Decimal    `json:"cost"`
}
