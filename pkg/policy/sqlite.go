package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLiteStore persists rules in a sqlite table.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS rules (
		code INTEGER PRIMARY KEY,
		enabled INTEGER NOT NULL,
		price INTEGER NOT NULL,
		max_per_year INTEGER NOT NULL DEFAULT 0,
		label TEXT NOT NULL DEFAULT ''
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Rule(ctx context.Context, code uint16) (Rule, bool, error) {
	query := `SELECT enabled, price, max_per_year, label FROM rules WHERE code = ?`
	var (
		enabled    int
		price      int64
		maxPerYear uint64
		label      string
	)
	err := s.db.QueryRowContext(ctx, query, code).Scan(&enabled, &price, &maxPerYear, &label)
	if errors.Is(err, sql.ErrNoRows) {
		return Rule{}, false, nil
	}
	if err != nil {
		return Rule{}, false, fmt.Errorf("policy: get rule: %w", err)
	}
	return Rule{Enabled: enabled != 0, Price: price, MaxPerYear: maxPerYear, Label: label}, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, code uint16, r Rule) error {
	query := `
	INSERT INTO rules (code, enabled, price, max_per_year, label)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(code) DO UPDATE SET enabled = excluded.enabled, price = excluded.price,
		max_per_year = excluded.max_per_year, label = excluded.label`
	enabled := 0
	if r.Enabled {
		enabled = 1
	}
	if _, err := s.db.ExecContext(ctx, query, code, enabled, r.Price, r.MaxPerYear, r.Label); err != nil {
		return fmt.Errorf("policy: set rule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, code uint16) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE code = ?`, code); err != nil {
		return fmt.Errorf("policy: delete rule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) (map[uint16]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, enabled, price, max_per_year, label FROM rules`)
	if err != nil {
		return nil, fmt.Errorf("policy: list rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[uint16]Rule)
	for rows.Next() {
		var (
			code       uint16
			enabled    int
			price      int64
			maxPerYear uint64
			label      string
		)
		if err := rows.Scan(&code, &enabled, &price, &maxPerYear, &label); err != nil {
			return nil, err
		}
		out[code] = Rule{Enabled: enabled != 0, Price: price, MaxPerYear: maxPerYear, Label: label}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
