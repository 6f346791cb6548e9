package eligibility

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/veris/pkg/identity"
)

// SQLiteStore persists provider windows in a sqlite table.
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
	CREATE TABLE IF NOT EXISTS provider_windows (
		provider TEXT PRIMARY KEY,
		active INTEGER NOT NULL,
		start_year INTEGER NOT NULL DEFAULT 0,
		end_year INTEGER NOT NULL DEFAULT 0
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) IsActive(ctx context.Context, provider identity.Principal, year uint16) (bool, error) {
	w, ok, err := s.Get(ctx, provider)
	if err != nil || !ok {
		return false, err
	}
	return w.Covers(year), nil
}

func (s *SQLiteStore) Set(ctx context.Context, provider identity.Principal, w Window) error {
	query := `
	INSERT INTO provider_windows (provider, active, start_year, end_year)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(provider) DO UPDATE SET active = excluded.active,
		start_year = excluded.start_year, end_year = excluded.end_year`
	active := 0
	if w.Active {
		active = 1
	}
	if _, err := s.db.ExecContext(ctx, query, provider.String(), active, w.StartYear, w.EndYear); err != nil {
		return fmt.Errorf("eligibility: set window: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, provider identity.Principal) (Window, bool, error) {
	query := `SELECT active, start_year, end_year FROM provider_windows WHERE provider = ?`
	var (
		active             int
		startYear, endYear uint16
	)
	err := s.db.QueryRowContext(ctx, query, provider.String()).Scan(&active, &startYear, &endYear)
	if errors.Is(err, sql.ErrNoRows) {
		return Window{}, false, nil
	}
	if err != nil {
		return Window{}, false, fmt.Errorf("eligibility: get window: %w", err)
	}
	return Window{Active: active != 0, StartYear: startYear, EndYear: endYear}, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, provider identity.Principal) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM provider_windows WHERE provider = ?`, provider.String())
	if err != nil {
		return fmt.Errorf("eligibility: delete window: %w", err)
	}
	return nil
}
