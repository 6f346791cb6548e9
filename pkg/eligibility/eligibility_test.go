package eligibility_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/veris/pkg/eligibility"
)

func TestWindowCovers(t *testing.T) {
	cases := []struct {
		name   string
		window eligibility.Window
		year   uint16
		want   bool
	}{
		{"inactive", eligibility.Window{Active: false}, 2024, false},
		{"open both sides", eligibility.Window{Active: true}, 2024, true},
		{"within range", eligibility.Window{Active: true, StartYear: 2020, EndYear: 2025}, 2024, true},
		{"before start", eligibility.Window{Active: true, StartYear: 2020}, 2019, false},
		{"after end", eligibility.Window{Active: true, EndYear: 2023}, 2024, false},
		{"start boundary", eligibility.Window{Active: true, StartYear: 2024}, 2024, true},
		{"end boundary", eligibility.Window{Active: true, EndYear: 2024}, 2024, true},
		{"open start", eligibility.Window{Active: true, EndYear: 2030}, 1950, true},
		{"open end", eligibility.Window{Active: true, StartYear: 2020}, 9000, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.window.Covers(tc.year))
		})
	}
}

func runStoreSuite(t *testing.T, s eligibility.Store) {
	ctx := context.Background()

	active, err := s.IsActive(ctx, "prov:unknown", 2024)
	require.NoError(t, err)
	assert.False(t, active, "unknown providers are inactive")

	require.NoError(t, s.Set(ctx, "prov:mercy-west", eligibility.Window{Active: true, StartYear: 2020}))

	active, err = s.IsActive(ctx, "prov:mercy-west", 2024)
	require.NoError(t, err)
	assert.True(t, active)

	active, err = s.IsActive(ctx, "prov:mercy-west", 2019)
	require.NoError(t, err)
	assert.False(t, active)

	w, ok, err := s.Get(ctx, "prov:mercy-west")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint16(2020), w.StartYear)

	// Update in place.
	require.NoError(t, s.Set(ctx, "prov:mercy-west", eligibility.Window{Active: false}))
	active, err = s.IsActive(ctx, "prov:mercy-west", 2024)
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, s.Delete(ctx, "prov:mercy-west"))
	_, ok, err = s.Get(ctx, "prov:mercy-west")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, eligibility.NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s, err := eligibility.NewSQLiteStore(db)
	require.NoError(t, err)
	runStoreSuite(t, s)
}
