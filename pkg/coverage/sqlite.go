package coverage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/veris/pkg/identity"
)

// SQLiteStore persists coverage windows keyed by patient digest.
type SQLiteStore struct {
	db       *sql.DB
	digester Digester
}

func NewSQLiteStore(db *sql.DB, digester Digester) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, digester: digester}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS coverage_windows (
		patient_digest TEXT PRIMARY KEY,
		active INTEGER NOT NULL,
		start_year INTEGER NOT NULL DEFAULT 0,
		end_year INTEGER NOT NULL DEFAULT 0
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) IsCovered(ctx context.Context, patient identity.PatientToken, year uint16) (bool, error) {
	w, ok, err := s.Get(ctx, patient)
	if err != nil || !ok {
		return false, err
	}
	return w.Covers(year), nil
}

func (s *SQLiteStore) Set(ctx context.Context, patient identity.PatientToken, w Window) error {
	query := `
	INSERT INTO coverage_windows (patient_digest, active, start_year, end_year)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(patient_digest) DO UPDATE SET active = excluded.active,
		start_year = excluded.start_year, end_year = excluded.end_year`
	active := 0
	if w.Active {
		active = 1
	}
	digest := s.digester.PatientDigest(patient).String()
	if _, err := s.db.ExecContext(ctx, query, digest, active, w.StartYear, w.EndYear); err != nil {
		return fmt.Errorf("coverage: set window: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, patient identity.PatientToken) (Window, bool, error) {
	query := `SELECT active, start_year, end_year FROM coverage_windows WHERE patient_digest = ?`
	var (
		active             int
		startYear, endYear uint16
	)
	digest := s.digester.PatientDigest(patient).String()
	err := s.db.QueryRowContext(ctx, query, digest).Scan(&active, &startYear, &endYear)
	if errors.Is(err, sql.ErrNoRows) {
		return Window{}, false, nil
	}
	if err != nil {
		return Window{}, false, fmt.Errorf("coverage: get window: %w", err)
	}
	return Window{Active: active != 0, StartYear: startYear, EndYear: endYear}, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, patient identity.PatientToken) error {
	digest := s.digester.PatientDigest(patient).String()
	_, err := s.db.ExecContext(ctx, `DELETE FROM coverage_windows WHERE patient_digest = ?`, digest)
	if err != nil {
		return fmt.Errorf("coverage: delete window: %w", err)
	}
	return nil
}
