package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/veris/pkg/adjudicator"
	"github.com/Mindburn-Labs/veris/pkg/commitment"
)

var _ adjudicator.State = (*SQLState)(nil)

// SQLState implements the adjudicator state using database/sql.
// It supports both Postgres (lib/pq) and SQLite (modernc.org/sqlite): the
// schema and $n placeholders are accepted by both drivers.
type SQLState struct {
	db *sql.DB
}

// NewSQLState migrates the schema and returns a state over db.
func NewSQLState(db *sql.DB) (*SQLState, error) {
	s := &SQLState{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLState) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS visit_counters (
			visit_group TEXT PRIMARY KEY,
			count BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS commitments (
			key TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS claim_records (
			id BIGINT PRIMARY KEY,
			commitment_key TEXT NOT NULL UNIQUE
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLState) Begin(ctx context.Context) (adjudicator.StateTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

func (s *SQLState) ClaimKeyOf(ctx context.Context, id uint64) (commitment.Key, error) {
	var hexKey string
	err := s.db.QueryRowContext(ctx,
		`SELECT commitment_key FROM claim_records WHERE id = $1`, int64(id)).Scan(&hexKey)
	if errors.Is(err, sql.ErrNoRows) {
		return commitment.Key{}, adjudicator.ErrNoSuchClaim
	}
	if err != nil {
		return commitment.Key{}, fmt.Errorf("store: claim key lookup: %w", err)
	}
	return commitment.ParseKey(hexKey)
}

func (s *SQLState) LastClaimID(ctx context.Context) (uint64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM claim_records`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("store: last claim id: %w", err)
	}
	return uint64(last), nil
}

type sqlTx struct {
	tx   *sql.Tx
	done bool
}

func (t *sqlTx) VisitCount(ctx context.Context, group commitment.VisitGroup) (uint64, error) {
	var count int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT count FROM visit_counters WHERE visit_group = $1`, group.String()).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: visit count: %w", err)
	}
	return uint64(count), nil
}

func (t *sqlTx) SetVisitCount(ctx context.Context, group commitment.VisitGroup, count uint64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO visit_counters (visit_group, count) VALUES ($1, $2)
		ON CONFLICT(visit_group) DO UPDATE SET count = excluded.count`,
		group.String(), int64(count))
	if err != nil {
		return fmt.Errorf("store: set visit count: %w", err)
	}
	return nil
}

func (t *sqlTx) HasCommitment(ctx context.Context, key commitment.Key) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx,
		`SELECT 1 FROM commitments WHERE key = $1`, key.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: commitment lookup: %w", err)
	}
	return true, nil
}

func (t *sqlTx) MarkCommitment(ctx context.Context, key commitment.Key) error {
	// The primary key rejects an already-used key even if the caller's
	// HasCommitment read raced with another writer.
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO commitments (key) VALUES ($1)`, key.String())
	if err != nil {
		return fmt.Errorf("store: mark commitment: %w", err)
	}
	return nil
}

func (t *sqlTx) NextClaimID(ctx context.Context) (uint64, error) {
	// Records staged earlier in this transaction are visible here.
	var last int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM claim_records`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("store: next claim id: %w", err)
	}
	return uint64(last) + 1, nil
}

func (t *sqlTx) PutClaimRecord(ctx context.Context, id uint64, key commitment.Key) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO claim_records (id, commitment_key) VALUES ($1, $2)`,
		int64(id), key.String())
	if err != nil {
		return fmt.Errorf("store: put claim record: %w", err)
	}
	return nil
}

func (t *sqlTx) Commit() error {
	if t.done {
		return fmt.Errorf("store: transaction already finished")
	}
	t.done = true
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
