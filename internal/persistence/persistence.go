// Package persistence is the pgx-backed snapshot and fill log described by
// the original Python implementation's StateStore: one overwritten
// snapshot row and an append-only fill log, so a restart can rehydrate an
// Engine from where it left off (§6).
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kizxyz/hl-paper-mode/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY,
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fills (
	id BIGSERIAL PRIMARY KEY,
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store is the append-only fill log plus single-row snapshot table backing
// the simulator's durability story. All methods are safe for concurrent
// use — they hand off to the pool's own connection locking.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("persistence: init schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveSnapshot overwrites the single persisted account state row.
func (s *Store) SaveSnapshot(ctx context.Context, state *types.AccountState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("persistence: marshal snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO snapshots (id, data, created_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, created_at = now()
	`, data)
	if err != nil {
		return fmt.Errorf("persistence: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the most recently saved account state, or
// (nil, nil) if none has ever been saved.
func (s *Store) LoadSnapshot(ctx context.Context) (*types.AccountState, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM snapshots WHERE id = 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: load snapshot: %w", err)
	}

	var state types.AccountState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("persistence: unmarshal snapshot: %w", err)
	}
	if state.Positions == nil {
		state.Positions = make(map[string]*types.Position)
	}
	if state.OpenOrders == nil {
		state.OpenOrders = make(map[string]*types.OpenOrder)
	}
	return &state, nil
}

// LogFill appends one fill to the durable fill log. Callers control commit
// timing by calling this once per applied fill, same as the fee and PnL
// bookkeeping it follows.
func (s *Store) LogFill(ctx context.Context, record types.FillRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("persistence: marshal fill: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO fills (data) VALUES ($1)`, data)
	if err != nil {
		return fmt.Errorf("persistence: log fill: %w", err)
	}
	return nil
}

// RecentFills returns up to limit most recent fills, newest first.
func (s *Store) RecentFills(ctx context.Context, limit int) ([]types.FillRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM fills ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("persistence: query fills: %w", err)
	}
	defer rows.Close()

	var out []types.FillRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("persistence: scan fill: %w", err)
		}
		var rec types.FillRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("persistence: unmarshal fill: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// StampFill turns a fill into a durable record against the account
// balance at the moment it was applied.
func StampFill(fill types.Fill, balance float64, at time.Time) types.FillRecord {
	return types.FillRecord{Fill: fill, AccountBalance: balance, At: at}
}
