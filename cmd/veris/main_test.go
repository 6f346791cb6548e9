package main

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/veris/pkg/commitment"
	"github.com/Mindburn-Labs/veris/pkg/config"
	"github.com/Mindburn-Labs/veris/pkg/coverage"
	"github.com/Mindburn-Labs/veris/pkg/eligibility"
	"github.com/Mindburn-Labs/veris/pkg/policy"
)

func testDeriver(t *testing.T) *commitment.Deriver {
	t.Helper()
	salt, err := commitment.DeriveSalt([]byte("cmd-test-master"), "cmd-test")
	require.NoError(t, err)
	return commitment.NewDeriver(salt)
}

func TestNewLoggerLevels(t *testing.T) {
	ctx := t.Context()

	debug := newLogger("DEBUG")
	assert.True(t, debug.Handler().Enabled(ctx, slog.LevelDebug))

	warn := newLogger("WARN")
	assert.False(t, warn.Handler().Enabled(ctx, slog.LevelInfo))
	assert.True(t, warn.Handler().Enabled(ctx, slog.LevelWarn))

	// Garbage falls back to INFO.
	fallback := newLogger("shouting")
	assert.False(t, fallback.Handler().Enabled(ctx, slog.LevelDebug))
	assert.True(t, fallback.Handler().Enabled(ctx, slog.LevelInfo))
}

func TestSafePrefix(t *testing.T) {
	assert.Equal(t, "a1a1a1", safePrefix("a1a1a1a1a1a1"))
	assert.Equal(t, "ab", safePrefix("ab"))
}

func TestBuildStoresLiteMode(t *testing.T) {
	cfg := &config.Config{}
	state, providers, patients, rules, closeDB, err := buildStores(
		t.Context(), cfg, testDeriver(t), slog.Default())
	require.NoError(t, err)
	defer closeDB()

	assert.NotNil(t, state)
	assert.IsType(t, &eligibility.MemoryStore{}, providers)
	assert.IsType(t, &coverage.MemoryStore{}, patients)
	assert.IsType(t, &policy.MemoryStore{}, rules)
}

func TestBuildStoresSQLite(t *testing.T) {
	cfg := &config.Config{DatabaseURL: filepath.Join(t.TempDir(), "veris.db")}
	state, providers, patients, rules, closeDB, err := buildStores(
		t.Context(), cfg, testDeriver(t), slog.Default())
	require.NoError(t, err)
	defer closeDB()

	assert.NotNil(t, state)
	assert.IsType(t, &eligibility.SQLiteStore{}, providers)
	assert.IsType(t, &coverage.SQLiteStore{}, patients)
	assert.IsType(t, &policy.SQLiteStore{}, rules)
}

func TestSeedFromProfile(t *testing.T) {
	ctx := t.Context()
	deriver := testDeriver(t)
	providers := eligibility.NewMemoryStore()
	patients := coverage.NewMemoryStore(deriver)
	rules := policy.NewMemoryStore()

	profile := &config.Profile{
		Rules:     map[uint16]policy.Rule{1: {Enabled: true, Price: 250000}},
		Providers: map[string]eligibility.Window{"prov:mercy-west": {Active: true}},
		Patients: map[string]coverage.Window{
			"a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1": {Active: true},
		},
	}
	require.NoError(t, seedFromProfile(ctx, profile, providers, patients, rules))

	active, err := providers.IsActive(ctx, "prov:mercy-west", 2026)
	require.NoError(t, err)
	assert.True(t, active)

	rule, ok, err := rules.Rule(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(250000), rule.Price)

	bad := &config.Profile{Patients: map[string]coverage.Window{"nope": {}}}
	assert.Error(t, seedFromProfile(ctx, bad, providers, patients, rules))
}
