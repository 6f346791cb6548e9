// Command veris runs the claims adjudication and settlement service.
//
// With DATABASE_URL unset it runs in lite mode: all state in memory, seeded
// from the profile. A sqlite file path or postgres:// URL makes the
// adjudication state durable.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/veris/pkg/adjudicator"
	"github.com/Mindburn-Labs/veris/pkg/api"
	"github.com/Mindburn-Labs/veris/pkg/commitment"
	"github.com/Mindburn-Labs/veris/pkg/config"
	"github.com/Mindburn-Labs/veris/pkg/coverage"
	"github.com/Mindburn-Labs/veris/pkg/eligibility"
	"github.com/Mindburn-Labs/veris/pkg/identity"
	"github.com/Mindburn-Labs/veris/pkg/observability"
	"github.com/Mindburn-Labs/veris/pkg/policy"
	"github.com/Mindburn-Labs/veris/pkg/store"
	"github.com/Mindburn-Labs/veris/pkg/treasury"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver (CGo-free)
)

func main() {
	if err := run(); err != nil {
		slog.Error("veris failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	ctx := context.Background()

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return err
	}

	if cfg.MasterSecret == "" {
		return fmt.Errorf("VERIS_MASTER_SECRET is required")
	}
	salt, err := commitment.DeriveSalt([]byte(cfg.MasterSecret), cfg.Deployment)
	if err != nil {
		return fmt.Errorf("salt derivation: %w", err)
	}
	deriver := commitment.NewDeriver(salt)

	state, providers, patients, rules, closeDB, err := buildStores(ctx, cfg, deriver, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := seedFromProfile(ctx, profile, providers, patients, rules); err != nil {
		return err
	}

	bank := treasury.NewReservoir(profile.Reservoir.OpeningBalance).WithCurrency(profile.Currency)

	engine, err := adjudicator.New(
		adjudicator.Config{
			Owner:   identity.Principal(profile.Owner),
			MinYear: profile.Years.Min,
			MaxYear: profile.Years.Max,
		},
		adjudicator.Deps{
			Deriver:     deriver,
			State:       state,
			Eligibility: providers,
			Coverage:    patients,
			Rules:       rules,
			Treasury:    bank,
		},
	)
	if err != nil {
		return err
	}
	engine.WithLogger(logger)

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "veris",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Deployment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		return err
	}
	engine.WithObserver(obs)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability shutdown", "error", err)
		}
	}()

	opts := []api.ServerOption{
		api.WithLogger(logger),
		api.WithSubmissionRecorder(obs),
		api.WithIPRateLimiter(api.NewIPRateLimiter(20, 40)),
	}
	if cfg.RedisAddr != "" {
		opts = append(opts, api.WithCallerRateLimiter(api.NewRedisRateLimiter(cfg.RedisAddr, 10, 20)))
		logger.Info("distributed rate limiting enabled", "redis", cfg.RedisAddr)
	}

	server := api.NewServer(engine, rules, providers, patients, bank,
		api.NewJWTVerifier(cfg.JWTSecret), opts...)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("veris listening", "port", cfg.Port, "owner", profile.Owner)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// buildStores selects the persistence tier from DATABASE_URL.
//
// SQLite keeps oracles and adjudication state in the same file. Postgres
// holds the adjudication state; oracles stay in memory and are fed by the
// profile plus the admin API.
func buildStores(ctx context.Context, cfg *config.Config, deriver *commitment.Deriver, logger *slog.Logger) (
	adjudicator.State, eligibility.Store, coverage.Store, policy.Store, func(), error,
) {
	noop := func() {}

	switch {
	case cfg.DatabaseURL == "":
		logger.Info("lite mode: in-memory state")
		return store.NewMemoryState(), eligibility.NewMemoryStore(),
			coverage.NewMemoryStore(deriver), policy.NewMemoryStore(), noop, nil

	case strings.HasPrefix(cfg.DatabaseURL, "postgres://"),
		strings.HasPrefix(cfg.DatabaseURL, "postgresql://"):
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, nil, noop, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, nil, nil, nil, noop, fmt.Errorf("postgres ping: %w", err)
		}
		state, err := store.NewSQLState(db)
		if err != nil {
			return nil, nil, nil, nil, noop, err
		}
		logger.Info("postgres adjudication state ready")
		return state, eligibility.NewMemoryStore(), coverage.NewMemoryStore(deriver),
			policy.NewMemoryStore(), func() { _ = db.Close() }, nil

	default:
		db, err := sql.Open("sqlite", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, nil, noop, fmt.Errorf("open sqlite: %w", err)
		}
		state, err := store.NewSQLState(db)
		if err != nil {
			return nil, nil, nil, nil, noop, err
		}
		providers, err := eligibility.NewSQLiteStore(db)
		if err != nil {
			return nil, nil, nil, nil, noop, err
		}
		patients, err := coverage.NewSQLiteStore(db, deriver)
		if err != nil {
			return nil, nil, nil, nil, noop, err
		}
		rules, err := policy.NewSQLiteStore(db)
		if err != nil {
			return nil, nil, nil, nil, noop, err
		}
		logger.Info("sqlite state ready", "path", cfg.DatabaseURL)
		return state, providers, patients, rules, func() { _ = db.Close() }, nil
	}
}

// seedFromProfile upserts the profile's rules, providers, and patients so a
// fresh deployment is usable without the admin API.
func seedFromProfile(ctx context.Context, profile *config.Profile,
	providers eligibility.Store, patients coverage.Store, rules policy.Store,
) error {
	for code, rule := range profile.Rules {
		if err := rules.Set(ctx, code, rule); err != nil {
			return fmt.Errorf("seed rule %d: %w", code, err)
		}
	}
	for id, win := range profile.Providers {
		if err := providers.Set(ctx, identity.Principal(id), win); err != nil {
			return fmt.Errorf("seed provider %s: %w", id, err)
		}
	}
	for tokenHex, win := range profile.Patients {
		token, err := identity.ParsePatientToken(tokenHex)
		if err != nil {
			return fmt.Errorf("seed patient %s...: %w", safePrefix(tokenHex), err)
		}
		if err := patients.Set(ctx, token, win); err != nil {
			return fmt.Errorf("seed patient %s...: %w", safePrefix(tokenHex), err)
		}
	}
	return nil
}

// safePrefix returns enough of a hex token to identify the profile line
// without reproducing the token itself.
func safePrefix(s string) string {
	if len(s) > 6 {
		return s[:6]
	}
	return s
}
