// Package postgres is a game.Store backed by PostgreSQL.
//
// Each record is one JSONB document. Update transactions take a
// transaction-scoped advisory lock and read the round row FOR UPDATE, so
// two lifecycle passes can never interleave, even across processes.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phenomenon0/gameweek/pkg/game"

	"github.com/lib/pq"
)

// advisoryKey identifies the gameweek writer lock.
const advisoryKey int64 = 0x67616d65

const schema = `
CREATE TABLE IF NOT EXISTS gameweek_round (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS gameweek_players (
	id         TEXT PRIMARY KEY,
	seq        BIGSERIAL,
	name       TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS gameweek_leagues (
	id         TEXT PRIMARY KEY,
	seq        BIGSERIAL,
	name       TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS gameweek_leagues_name_idx ON gameweek_leagues (LOWER(name));
`

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store implements game.Store.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and configures the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx game.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(&tx{tx: sqlTx})
}

// Update runs fn in a read-write transaction and commits if it returns nil.
func (s *Store) Update(ctx context.Context, fn func(tx game.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey); err != nil {
		return fmt.Errorf("acquire writer lock: %w", err)
	}

	if err := fn(&tx{tx: sqlTx, forUpdate: true}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type tx struct {
	tx        *sql.Tx
	forUpdate bool
}

func (t *tx) Round(ctx context.Context) (*game.Round, error) {
	query := `SELECT doc FROM gameweek_round WHERE id = 1`
	if t.forUpdate {
		query += ` FOR UPDATE`
	}

	var doc []byte
	err := t.tx.QueryRowContext(ctx, query).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get round: %w", err)
	}

	var r game.Round
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode round: %w", err)
	}
	return &r, nil
}

func (t *tx) SaveRound(ctx context.Context, r *game.Round) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode round: %w", err)
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO gameweek_round (id, doc, updated_at) VALUES (1, $1, NOW())
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		doc,
	)
	if err != nil {
		return fmt.Errorf("save round: %w", err)
	}
	return nil
}

func (t *tx) Players(ctx context.Context) ([]*game.Player, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT doc FROM gameweek_players ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	players := make([]*game.Player, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		var p game.Player
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("decode player: %w", err)
		}
		players = append(players, &p)
	}
	return players, rows.Err()
}

func (t *tx) PlayersByID(ctx context.Context, ids []string) ([]*game.Player, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT doc FROM gameweek_players WHERE id = ANY($1) ORDER BY seq`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	players := make([]*game.Player, 0, len(ids))
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		var p game.Player
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("decode player: %w", err)
		}
		players = append(players, &p)
	}
	return players, rows.Err()
}

func (t *tx) Player(ctx context.Context, id string) (*game.Player, error) {
	var doc []byte
	err := t.tx.QueryRowContext(ctx, `SELECT doc FROM gameweek_players WHERE id = $1`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", game.ErrPlayerNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get player %s: %w", id, err)
	}

	var p game.Player
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode player %s: %w", id, err)
	}
	return &p, nil
}

func (t *tx) SavePlayer(ctx context.Context, p *game.Player) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode player %s: %w", p.ID, err)
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO gameweek_players (id, name, doc, updated_at) VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, doc = EXCLUDED.doc, updated_at = NOW()`,
		p.ID, p.Name, doc,
	)
	if err != nil {
		return fmt.Errorf("save player %s: %w", p.ID, err)
	}
	return nil
}

func (t *tx) Leagues(ctx context.Context) ([]*game.League, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT doc FROM gameweek_leagues ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list leagues: %w", err)
	}
	defer rows.Close()

	leagues := make([]*game.League, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan league: %w", err)
		}
		var l game.League
		if err := json.Unmarshal(doc, &l); err != nil {
			return nil, fmt.Errorf("decode league: %w", err)
		}
		leagues = append(leagues, &l)
	}
	return leagues, rows.Err()
}

func (t *tx) League(ctx context.Context, id string) (*game.League, error) {
	return t.queryLeague(ctx, `SELECT doc FROM gameweek_leagues WHERE id = $1`, id)
}

func (t *tx) LeagueByName(ctx context.Context, name string) (*game.League, error) {
	return t.queryLeague(ctx, `SELECT doc FROM gameweek_leagues WHERE LOWER(name) = LOWER($1)`, name)
}

func (t *tx) queryLeague(ctx context.Context, query, arg string) (*game.League, error) {
	var doc []byte
	err := t.tx.QueryRowContext(ctx, query, arg).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", game.ErrLeagueNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get league %s: %w", arg, err)
	}

	var l game.League
	if err := json.Unmarshal(doc, &l); err != nil {
		return nil, fmt.Errorf("decode league %s: %w", arg, err)
	}
	return &l, nil
}

func (t *tx) SaveLeague(ctx context.Context, l *game.League) error {
	doc, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode league %s: %w", l.ID, err)
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO gameweek_leagues (id, name, doc, updated_at) VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, doc = EXCLUDED.doc, updated_at = NOW()`,
		l.ID, l.Name, doc,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", game.ErrLeagueExists, l.Name)
		}
		return fmt.Errorf("save league %s: %w", l.ID, err)
	}
	return nil
}
