// Package memory is an in-process game.Store.
//
// Records are held JSON-encoded, so every read hands out a private copy and
// every Update works on a staged copy of the state that replaces the live
// one only when the transaction function succeeds.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/phenomenon0/gameweek/pkg/game"
)

// ErrReadOnly is returned by Save calls inside View.
var ErrReadOnly = errors.New("read-only transaction")

type state struct {
	round       []byte
	players     map[string][]byte
	playerOrder []string
	leagues     map[string][]byte
	leagueOrder []string
}

func (s *state) clone() *state {
	c := &state{
		round:       s.round,
		players:     make(map[string][]byte, len(s.players)),
		playerOrder: append([]string(nil), s.playerOrder...),
		leagues:     make(map[string][]byte, len(s.leagues)),
		leagueOrder: append([]string(nil), s.leagueOrder...),
	}
	for k, v := range s.players {
		c.players[k] = v
	}
	for k, v := range s.leagues {
		c.leagues[k] = v
	}
	return c
}

// Store is a game.Store kept in memory.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// New creates an empty store.
func New() *Store {
	return &Store{state: &state{
		players: make(map[string][]byte),
		leagues: make(map[string][]byte),
	}}
}

// View runs fn against the current state.
func (s *Store) View(ctx context.Context, fn func(tx game.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{state: s.state, readOnly: true})
}

// Update runs fn against a staged copy and commits it if fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(tx game.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(&tx{state: staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = staged
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

type tx struct {
	state    *state
	readOnly bool
}

func (t *tx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (t *tx) Round(ctx context.Context) (*game.Round, error) {
	if t.state.round == nil {
		return nil, nil
	}
	var r game.Round
	if err := json.Unmarshal(t.state.round, &r); err != nil {
		return nil, fmt.Errorf("decode round: %w", err)
	}
	return &r, nil
}

func (t *tx) SaveRound(ctx context.Context, r *game.Round) error {
	if err := t.writable(); err != nil {
		return err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode round: %w", err)
	}
	t.state.round = b
	return nil
}

func (t *tx) Players(ctx context.Context) ([]*game.Player, error) {
	out := make([]*game.Player, 0, len(t.state.playerOrder))
	for _, id := range t.state.playerOrder {
		p, err := t.Player(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (t *tx) PlayersByID(ctx context.Context, ids []string) ([]*game.Player, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]*game.Player, 0, len(ids))
	for _, id := range t.state.playerOrder {
		if !want[id] {
			continue
		}
		p, err := t.Player(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (t *tx) Player(ctx context.Context, id string) (*game.Player, error) {
	b, ok := t.state.players[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", game.ErrPlayerNotFound, id)
	}
	var p game.Player
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode player %s: %w", id, err)
	}
	return &p, nil
}

func (t *tx) SavePlayer(ctx context.Context, p *game.Player) error {
	if err := t.writable(); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("player id is required")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode player %s: %w", p.ID, err)
	}
	if _, ok := t.state.players[p.ID]; !ok {
		t.state.playerOrder = append(t.state.playerOrder, p.ID)
	}
	t.state.players[p.ID] = b
	return nil
}

func (t *tx) Leagues(ctx context.Context) ([]*game.League, error) {
	out := make([]*game.League, 0, len(t.state.leagueOrder))
	for _, id := range t.state.leagueOrder {
		l, err := t.League(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (t *tx) League(ctx context.Context, id string) (*game.League, error) {
	b, ok := t.state.leagues[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", game.ErrLeagueNotFound, id)
	}
	var l game.League
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, fmt.Errorf("decode league %s: %w", id, err)
	}
	return &l, nil
}

func (t *tx) LeagueByName(ctx context.Context, name string) (*game.League, error) {
	for _, id := range t.state.leagueOrder {
		l, err := t.League(ctx, id)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(l.Name, name) {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", game.ErrLeagueNotFound, name)
}

func (t *tx) SaveLeague(ctx context.Context, l *game.League) error {
	if err := t.writable(); err != nil {
		return err
	}
	if l.ID == "" {
		return fmt.Errorf("league id is required")
	}
	for _, id := range t.state.leagueOrder {
		if id == l.ID {
			continue
		}
		other, err := t.League(ctx, id)
		if err != nil {
			return err
		}
		if strings.EqualFold(other.Name, l.Name) {
			return fmt.Errorf("%w: %s", game.ErrLeagueExists, l.Name)
		}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode league %s: %w", l.ID, err)
	}
	if _, ok := t.state.leagues[l.ID]; !ok {
		t.state.leagueOrder = append(t.state.leagueOrder, l.ID)
	}
	t.state.leagues[l.ID] = b
	return nil
}
