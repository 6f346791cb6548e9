// Package adjudicator implements the claim adjudication and settlement engine.
//
// A submission runs four policy checks in a fixed order (provider eligibility,
// patient coverage, code rule, per-year visit cap), derives a commitment key
// for the visit attempt, and — only when every check passes — couples counter
// advancement, commitment marking, and claim record creation with the payment
// in one all-or-nothing unit. Rejections are cheap: they complete normally and
// leave no state residue.
//
// The engine is serialized per instance: one mutex wraps each submission end
// to end, making the counter-read → key-derive → counter-write sequence
// linearizable.
package adjudicator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Mindburn-Labs/veris/pkg/commitment"
	"github.com/Mindburn-Labs/veris/pkg/coverage"
	"github.com/Mindburn-Labs/veris/pkg/eligibility"
	"github.com/Mindburn-Labs/veris/pkg/identity"
	"github.com/Mindburn-Labs/veris/pkg/ledger"
	"github.com/Mindburn-Labs/veris/pkg/policy"
	"github.com/Mindburn-Labs/veris/pkg/treasury"
)

// Default service year bounds.
const (
	DefaultMinYear uint16 = 1900
	DefaultMaxYear uint16 = 9999
)

// Config carries the engine's fixed parameters.
type Config struct {
	// Owner is the single principal allowed to pause and resume submissions.
	Owner identity.Principal
	// MinYear/MaxYear bound acceptable service years; zero values fall back
	// to the defaults.
	MinYear uint16
	MaxYear uint16
}

// Deps are the engine's collaborators. All fields are required.
type Deps struct {
	Deriver     *commitment.Deriver
	State       State
	Eligibility eligibility.Oracle
	Coverage    coverage.Oracle
	Rules       policy.Source
	Treasury    treasury.Authority
}

// Engine adjudicates claim submissions and drives settlement.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	deps   Deps
	paused bool

	trail     *ledger.Ledger
	observers []Observer
	log       *slog.Logger
}

// New validates deps and builds an engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if cfg.Owner.IsZero() {
		return nil, errors.New("adjudicator: config requires an owner")
	}
	if deps.Deriver == nil || deps.State == nil || deps.Eligibility == nil ||
		deps.Coverage == nil || deps.Rules == nil || deps.Treasury == nil {
		return nil, errors.New("adjudicator: all deps are required")
	}
	if cfg.MinYear == 0 {
		cfg.MinYear = DefaultMinYear
	}
	if cfg.MaxYear == 0 {
		cfg.MaxYear = DefaultMaxYear
	}
	return &Engine{
		cfg:   cfg,
		deps:  deps,
		trail: ledger.New(),
		log:   slog.Default().With("component", "adjudicator"),
	}, nil
}

// WithObserver registers an outcome observer. Not safe to call once
// submissions have started.
func (e *Engine) WithObserver(obs Observer) *Engine {
	e.observers = append(e.observers, obs)
	return e
}

// WithLogger overrides the engine logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.log = l.With("component", "adjudicator")
	return e
}

// Submit adjudicates one claim on behalf of the calling provider.
//
// Submit is fire and forget: a nil return means the submission was fully
// processed — paid or cleanly rejected — and the outcome is observable only
// through the emitted records. A non-nil return is a hard failure
// (precondition abort or settlement failure) with no observable state change.
func (e *Engine) Submit(ctx context.Context, provider identity.Principal, patient identity.PatientToken, code, year uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Caller preconditions: hard failures, never rejection records.
	if e.paused {
		return ErrPaused
	}
	if provider.IsZero() {
		return ErrBadProvider
	}
	if patient.IsZero() {
		return ErrBadPatient
	}
	if year < e.cfg.MinYear || year > e.cfg.MaxYear {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrYearOutOfRange, year, e.cfg.MinYear, e.cfg.MaxYear)
	}

	tx, err := e.deps.State.Begin(ctx)
	if err != nil {
		return fmt.Errorf("adjudicator: begin state tx: %w", err)
	}

	group := e.deps.Deriver.VisitGroup(patient, code, year)
	count, err := tx.VisitCount(ctx, group)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("adjudicator: read visit counter: %w", err)
	}

	// Ordered policy checks; the first failure wins and nothing is mutated.
	active, err := e.deps.Eligibility.IsActive(ctx, provider, year)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("adjudicator: eligibility query: %w", err)
	}
	if !active {
		return e.reject(tx, provider, patient, code, year, count, ReasonProviderInactive)
	}

	covered, err := e.deps.Coverage.IsCovered(ctx, patient, year)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("adjudicator: coverage query: %w", err)
	}
	if !covered {
		return e.reject(tx, provider, patient, code, year, count, ReasonNotCovered)
	}

	rule, ok, err := e.deps.Rules.Rule(ctx, code)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("adjudicator: rule query: %w", err)
	}
	if !ok || !rule.Payable() {
		return e.reject(tx, provider, patient, code, year, count, ReasonCodeDisabled)
	}

	if rule.MaxPerYear > 0 && count >= rule.MaxPerYear {
		return e.reject(tx, provider, patient, code, year, count, ReasonMaxPerYear)
	}

	// Idempotency backstop, independent of the counter check.
	nextVisit := count + 1
	key := e.deps.Deriver.Key(provider, patient, code, year, nextVisit)
	used, err := tx.HasCommitment(ctx, key)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("adjudicator: commitment lookup: %w", err)
	}
	if used {
		return e.reject(tx, provider, patient, code, year, count, ReasonDuplicate)
	}

	// Funding hint only. The authority's own check inside Pay is the
	// enforcement point; a hint-query error means "hint unavailable, proceed".
	if balance, err := e.deps.Treasury.Balance(ctx); err != nil {
		e.log.WarnContext(ctx, "balance hint unavailable, proceeding", "error", err)
	} else if balance < rule.Price {
		return e.reject(tx, provider, patient, code, year, count, ReasonUnderfunded)
	}

	// Settlement: stage all state writes, then pay, then commit.
	if err := tx.MarkCommitment(ctx, key); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("adjudicator: mark commitment: %w", err)
	}
	if err := tx.SetVisitCount(ctx, group, nextVisit); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("adjudicator: advance visit counter: %w", err)
	}
	id, err := tx.NextClaimID(ctx)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("adjudicator: assign claim id: %w", err)
	}
	if err := tx.PutClaimRecord(ctx, id, key); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("adjudicator: store claim record: %w", err)
	}

	if err := e.deps.Treasury.Pay(ctx, provider, rule.Price, id); err != nil {
		_ = tx.Rollback()
		e.log.ErrorContext(ctx, "payment refused, submission rolled back",
			"claim_id", id, "code", code, "year", year, "error", err)
		return fmt.Errorf("%w: %v", ErrSettlement, err)
	}
	if err := tx.Commit(); err != nil {
		// The payment has executed but the state commit failed. Counters are
		// unadvanced, so the visit can be resubmitted; surface loudly.
		e.log.ErrorContext(ctx, "state commit failed after payment",
			"claim_id", id, "code", code, "year", year, "error", err)
		return fmt.Errorf("%w: state commit: %v", ErrSettlement, err)
	}

	paid := Paid{
		ID:         id,
		Key:        key,
		Provider:   provider,
		Code:       code,
		Year:       year,
		Amount:     rule.Price,
		VisitIndex: nextVisit,
	}
	e.emitPaid(ctx, paid)
	return nil
}

// reject completes a submission as a policy rejection: the open transaction is
// discarded untouched and only a rejection record is emitted. The rejection
// key commits to the current (unincremented) counter so it can never collide
// with the key a later settlement of this visit will use.
func (e *Engine) reject(tx StateTx, provider identity.Principal, patient identity.PatientToken, code, year uint16, count uint64, reason Reason) error {
	_ = tx.Rollback()

	rec := Rejected{
		Key:      e.deps.Deriver.Key(provider, patient, code, year, count),
		Provider: provider,
		Code:     code,
		Year:     year,
		Reason:   reason,
	}
	if _, err := e.trail.Append(ledger.KindRejected, map[string]interface{}{
		"commitment_key": rec.Key.String(),
		"provider":       rec.Provider.String(),
		"code":           rec.Code,
		"year":           rec.Year,
		"reason":         string(rec.Reason),
	}); err != nil {
		return fmt.Errorf("adjudicator: record rejection: %w", err)
	}
	e.log.Info("claim rejected",
		"reason", string(reason), "provider", rec.Provider.String(), "code", code, "year", year)
	for _, obs := range e.observers {
		obs.ClaimRejected(rec)
	}
	return nil
}

func (e *Engine) emitPaid(ctx context.Context, p Paid) {
	if _, err := e.trail.Append(ledger.KindPaid, map[string]interface{}{
		"id":             p.ID,
		"commitment_key": p.Key.String(),
		"provider":       p.Provider.String(),
		"code":           p.Code,
		"year":           p.Year,
		"amount":         p.Amount,
		"visit_index":    p.VisitIndex,
	}); err != nil {
		// The settlement is committed; a trail append failure must not undo it.
		e.log.ErrorContext(ctx, "failed to append paid record", "claim_id", p.ID, "error", err)
	}
	e.log.InfoContext(ctx, "claim paid",
		"claim_id", p.ID, "provider", p.Provider.String(), "code", p.Code,
		"year", p.Year, "amount", p.Amount, "visit_index", p.VisitIndex)
	for _, obs := range e.observers {
		obs.ClaimPaid(p)
	}
}

// SetPaused blocks or unblocks all future submissions. Owner only; takes
// effect for the next submission, never an in-flight one.
func (e *Engine) SetPaused(caller identity.Principal, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.Owner {
		return ErrNotOwner
	}
	if e.paused == paused {
		return nil
	}
	e.paused = paused

	kind := ledger.KindResumed
	if paused {
		kind = ledger.KindPaused
	}
	if _, err := e.trail.Append(kind, map[string]interface{}{"by": caller.String()}); err != nil {
		return fmt.Errorf("adjudicator: record pause transition: %w", err)
	}
	e.log.Info("pause state changed", "paused", paused)
	return nil
}

// Paused reports the current pause state.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// ClaimKeyOf returns the commitment key recorded for a claim id.
func (e *Engine) ClaimKeyOf(ctx context.Context, id uint64) (commitment.Key, error) {
	return e.deps.State.ClaimKeyOf(ctx, id)
}

// Trail exposes the append-only outcome ledger for read-only consumers.
func (e *Engine) Trail() *ledger.Ledger {
	return e.trail
}
