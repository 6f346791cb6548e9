package adjudicator_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/veris/pkg/adjudicator"
	"github.com/Mindburn-Labs/veris/pkg/commitment"
	"github.com/Mindburn-Labs/veris/pkg/coverage"
	"github.com/Mindburn-Labs/veris/pkg/eligibility"
	"github.com/Mindburn-Labs/veris/pkg/identity"
	"github.com/Mindburn-Labs/veris/pkg/policy"
	"github.com/Mindburn-Labs/veris/pkg/store"
	"github.com/Mindburn-Labs/veris/pkg/treasury"
)

const (
	owner    = identity.Principal("admin:root")
	provider = identity.Principal("prov:mercy-west")
)

var patientHex = strings.Repeat("a1", 32)

// flakyAuthority lets tests drive the hint and enforcement paths separately.
type flakyAuthority struct {
	balance    int64
	balanceErr error
	payErr     error
	paid       []int64
}

func (f *flakyAuthority) Pay(_ context.Context, _ identity.Principal, amount int64, _ uint64) error {
	if f.payErr != nil {
		return f.payErr
	}
	f.paid = append(f.paid, amount)
	return nil
}

func (f *flakyAuthority) Balance(_ context.Context) (int64, error) {
	return f.balance, f.balanceErr
}

// recorder captures emitted outcome records.
type recorder struct {
	paid     []adjudicator.Paid
	rejected []adjudicator.Rejected
}

func (r *recorder) ClaimPaid(p adjudicator.Paid)         { r.paid = append(r.paid, p) }
func (r *recorder) ClaimRejected(x adjudicator.Rejected) { r.rejected = append(r.rejected, x) }

type fixture struct {
	engine  *adjudicator.Engine
	state   *store.MemoryState
	elig    *eligibility.MemoryStore
	cover   *coverage.MemoryStore
	rules   *policy.MemoryStore
	deriver *commitment.Deriver
	rec     *recorder
	patient identity.PatientToken
}

func newFixture(t *testing.T, authority treasury.Authority) *fixture {
	t.Helper()

	salt, err := commitment.DeriveSalt([]byte("test-master-secret"), "engine-test")
	require.NoError(t, err)
	deriver := commitment.NewDeriver(salt)

	f := &fixture{
		state:   store.NewMemoryState(),
		elig:    eligibility.NewMemoryStore(),
		cover:   coverage.NewMemoryStore(deriver),
		rules:   policy.NewMemoryStore(),
		deriver: deriver,
		rec:     &recorder{},
	}
	f.patient, err = identity.ParsePatientToken(patientHex)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f.elig.Set(ctx, provider, eligibility.Window{Active: true, StartYear: 2024, EndYear: 2024}))
	require.NoError(t, f.cover.Set(ctx, f.patient, coverage.Window{Active: true}))
	require.NoError(t, f.rules.Set(ctx, 1, policy.Rule{Enabled: true, Price: 250000, Label: "annual exam"}))
	require.NoError(t, f.rules.Set(ctx, 2, policy.Rule{Enabled: true, Price: 500000, MaxPerYear: 1, Label: "imaging"}))

	f.engine, err = adjudicator.New(
		adjudicator.Config{Owner: owner},
		adjudicator.Deps{
			Deriver:     deriver,
			State:       f.state,
			Eligibility: f.elig,
			Coverage:    f.cover,
			Rules:       f.rules,
			Treasury:    authority,
		},
	)
	require.NoError(t, err)
	f.engine.WithObserver(f.rec)
	return f
}

func TestRepeatSubmissionsPayDistinctVisits(t *testing.T) {
	ctx := context.Background()
	auth := &flakyAuthority{balance: 1_000_000}
	f := newFixture(t, auth)

	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024))
	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024))

	require.Len(t, f.rec.paid, 2)
	assert.Equal(t, uint64(1), f.rec.paid[0].VisitIndex)
	assert.Equal(t, uint64(2), f.rec.paid[1].VisitIndex)
	assert.Equal(t, int64(250000), f.rec.paid[0].Amount)
	assert.Equal(t, int64(250000), f.rec.paid[1].Amount)
	assert.NotEqual(t, f.rec.paid[0].Key, f.rec.paid[1].Key, "each visit gets its own commitment key")
	assert.Equal(t, uint64(1), f.rec.paid[0].ID)
	assert.Equal(t, uint64(2), f.rec.paid[1].ID)
	assert.Equal(t, []int64{250000, 250000}, auth.paid)
}

func TestProviderInactiveYearRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &flakyAuthority{balance: 1_000_000})

	// Provider enrolled for 2024 only; 2025 must reject, not hard-fail.
	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2025))

	require.Len(t, f.rec.rejected, 1)
	assert.Equal(t, adjudicator.ReasonProviderInactive, f.rec.rejected[0].Reason)
	assert.Empty(t, f.rec.paid)

	last, err := f.state.LastClaimID(ctx)
	require.NoError(t, err)
	assert.Zero(t, last, "rejections never mutate state")
}

func TestMaxPerYearCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &flakyAuthority{balance: 10_000_000})

	// Code 2 allows one visit per year.
	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 2, 2024))
	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 2, 2024))

	require.Len(t, f.rec.paid, 1)
	assert.Equal(t, uint64(1), f.rec.paid[0].VisitIndex)
	require.Len(t, f.rec.rejected, 1)
	assert.Equal(t, adjudicator.ReasonMaxPerYear, f.rec.rejected[0].Reason)
}

func TestUncappedCodeNeverLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &flakyAuthority{balance: 100_000_000})

	for i := 0; i < 10; i++ {
		require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024))
	}
	assert.Len(t, f.rec.paid, 10)
	assert.Empty(t, f.rec.rejected)
	assert.Equal(t, uint64(10), f.rec.paid[9].VisitIndex)
}

func TestFirstFailingCheckWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &flakyAuthority{balance: 1_000_000})

	// Fails eligibility AND coverage: the reason must be the eligibility one.
	otherPatient, err := identity.ParsePatientToken(strings.Repeat("c3", 32))
	require.NoError(t, err)

	require.NoError(t, f.engine.Submit(ctx, provider, otherPatient, 1, 2025))

	require.Len(t, f.rec.rejected, 1)
	assert.Equal(t, adjudicator.ReasonProviderInactive, f.rec.rejected[0].Reason)
}

func TestNotCoveredRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &flakyAuthority{balance: 1_000_000})

	otherPatient, err := identity.ParsePatientToken(strings.Repeat("c3", 32))
	require.NoError(t, err)

	require.NoError(t, f.engine.Submit(ctx, provider, otherPatient, 1, 2024))
	require.Len(t, f.rec.rejected, 1)
	assert.Equal(t, adjudicator.ReasonNotCovered, f.rec.rejected[0].Reason)
}

func TestDisabledOrUnpricedCodeRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &flakyAuthority{balance: 1_000_000})

	require.NoError(t, f.rules.Set(ctx, 3, policy.Rule{Enabled: false, Price: 1000}))
	require.NoError(t, f.rules.Set(ctx, 4, policy.Rule{Enabled: true, Price: 0}))

	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 3, 2024))
	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 4, 2024))
	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 9, 2024)) // unknown code

	require.Len(t, f.rec.rejected, 3)
	for _, r := range f.rec.rejected {
		assert.Equal(t, adjudicator.ReasonCodeDisabled, r.Reason)
	}
}

func TestDuplicateCommitmentBackstop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &flakyAuthority{balance: 1_000_000})

	// Mark the key for visit 1 as used without advancing the counter,
	// simulating a racing settlement that won between read and derive.
	key := f.deriver.Key(provider, f.patient, 1, 2024, 1)
	tx, err := f.state.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.MarkCommitment(ctx, key))
	require.NoError(t, tx.Commit())

	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024))

	require.Len(t, f.rec.rejected, 1)
	assert.Equal(t, adjudicator.ReasonDuplicate, f.rec.rejected[0].Reason)
	assert.Empty(t, f.rec.paid)

	last, err := f.state.LastClaimID(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestUnderfundedHintThenTopUp(t *testing.T) {
	ctx := context.Background()
	reservoir := treasury.NewReservoir(0)
	f := newFixture(t, reservoir)

	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024))
	require.Len(t, f.rec.rejected, 1)
	assert.Equal(t, adjudicator.ReasonUnderfunded, f.rec.rejected[0].Reason)

	// The rejection cost nothing; after a top-up the same logical visit
	// settles at sequence number 1.
	require.NoError(t, reservoir.Fund(1_000_000))
	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024))

	require.Len(t, f.rec.paid, 1)
	assert.Equal(t, uint64(1), f.rec.paid[0].VisitIndex)
}

func TestHintUnavailableProceeds(t *testing.T) {
	ctx := context.Background()
	auth := &flakyAuthority{balanceErr: errors.New("treasury offline")}
	f := newFixture(t, auth)

	// Balance hint errors are not rejections: the pay call decides.
	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024))
	require.Len(t, f.rec.paid, 1)
	assert.Empty(t, f.rec.rejected)
}

func TestStaleHintPayStillEnforces(t *testing.T) {
	ctx := context.Background()
	// Hint says funded; the authority itself refuses.
	auth := &flakyAuthority{balance: 10_000_000, payErr: treasury.ErrInsufficient}
	f := newFixture(t, auth)

	err := f.engine.Submit(ctx, provider, f.patient, 1, 2024)
	assert.ErrorIs(t, err, adjudicator.ErrSettlement)
	assert.Empty(t, f.rec.paid)
	assert.Empty(t, f.rec.rejected)
}

func TestSettlementFailureRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	auth := &flakyAuthority{balance: 1_000_000, payErr: errors.New("wire failure")}
	f := newFixture(t, auth)

	err := f.engine.Submit(ctx, provider, f.patient, 1, 2024)
	assert.ErrorIs(t, err, adjudicator.ErrSettlement)

	// No residue: no records, no counter advancement, no trail entries.
	assert.Empty(t, f.rec.paid)
	assert.Empty(t, f.rec.rejected)
	assert.Zero(t, f.engine.Trail().Length())

	last, err := f.state.LastClaimID(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)

	// The next attempt settles visit 1, proving the counter never advanced.
	auth.payErr = nil
	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024))
	require.Len(t, f.rec.paid, 1)
	assert.Equal(t, uint64(1), f.rec.paid[0].VisitIndex)
	assert.Equal(t, uint64(1), f.rec.paid[0].ID)
}

func TestCallerPreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &flakyAuthority{balance: 1_000_000})

	var zero identity.PatientToken
	assert.ErrorIs(t, f.engine.Submit(ctx, provider, zero, 1, 2024), adjudicator.ErrBadPatient)
	assert.ErrorIs(t, f.engine.Submit(ctx, "", f.patient, 1, 2024), adjudicator.ErrBadProvider)
	assert.ErrorIs(t, f.engine.Submit(ctx, provider, f.patient, 1, 1899), adjudicator.ErrYearOutOfRange)
	assert.ErrorIs(t, f.engine.Submit(ctx, provider, f.patient, 1, 10_000), adjudicator.ErrYearOutOfRange)

	// Hard failures leave no outcome records of any kind.
	assert.Empty(t, f.rec.paid)
	assert.Empty(t, f.rec.rejected)
	assert.Zero(t, f.engine.Trail().Length())
}

func TestPauseGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &flakyAuthority{balance: 1_000_000})

	assert.ErrorIs(t, f.engine.SetPaused("prov:someone-else", true), adjudicator.ErrNotOwner)
	assert.False(t, f.engine.Paused())

	require.NoError(t, f.engine.SetPaused(owner, true))
	assert.True(t, f.engine.Paused())
	assert.ErrorIs(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024), adjudicator.ErrPaused)

	require.NoError(t, f.engine.SetPaused(owner, false))
	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024))
	require.Len(t, f.rec.paid, 1)

	// Idempotent set is silent.
	require.NoError(t, f.engine.SetPaused(owner, false))
}

func TestClaimKeyLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &flakyAuthority{balance: 1_000_000})

	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024))
	require.Len(t, f.rec.paid, 1)

	key, err := f.engine.ClaimKeyOf(ctx, f.rec.paid[0].ID)
	require.NoError(t, err)
	assert.Equal(t, f.rec.paid[0].Key, key)

	_, err = f.engine.ClaimKeyOf(ctx, 999)
	assert.ErrorIs(t, err, adjudicator.ErrNoSuchClaim)
}

// Rejection keys commit to the pre-increment counter: two rejections at the
// same counter state share a key, and neither collides with the settlement key.
func TestRejectionKeyDerivation(t *testing.T) {
	ctx := context.Background()
	reservoir := treasury.NewReservoir(0)
	f := newFixture(t, reservoir)

	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024)) // underfunded
	require.NoError(t, f.rules.Set(ctx, 1, policy.Rule{Enabled: false, Price: 250000}))
	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024)) // code disabled

	require.Len(t, f.rec.rejected, 2)
	assert.Equal(t, f.rec.rejected[0].Key, f.rec.rejected[1].Key,
		"rejection keys identify the visit attempt, not the cause")

	require.NoError(t, f.rules.Set(ctx, 1, policy.Rule{Enabled: true, Price: 250000}))
	require.NoError(t, reservoir.Fund(1_000_000))
	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024))

	require.Len(t, f.rec.paid, 1)
	assert.NotEqual(t, f.rec.rejected[0].Key, f.rec.paid[0].Key,
		"a rejection never consumes the key of the eventual settlement")
}

// No serialized outcome may contain the patient token.
func TestLeakageFreedom(t *testing.T) {
	ctx := context.Background()
	reservoir := treasury.NewReservoir(300000)
	f := newFixture(t, reservoir)

	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024)) // paid
	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024)) // underfunded

	for _, entry := range f.engine.Trail().Tail(0) {
		raw, err := json.Marshal(entry)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), patientHex)
		assert.NotContains(t, strings.ToLower(string(raw)), patientHex)
	}

	for _, p := range f.rec.paid {
		raw, err := json.Marshal(p)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), patientHex)
	}
	for _, r := range f.rec.rejected {
		raw, err := json.Marshal(r)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), patientHex)
	}
}

func TestTrailRecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &flakyAuthority{balance: 1_000_000})

	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2024))
	require.NoError(t, f.engine.Submit(ctx, provider, f.patient, 1, 2025)) // provider inactive
	require.NoError(t, f.engine.SetPaused(owner, true))

	entries := f.engine.Trail().Tail(0)
	require.Len(t, entries, 3)

	ok, msg := f.engine.Trail().Verify()
	assert.True(t, ok, msg)

	assert.Equal(t, "PAID", string(entries[0].Kind))
	assert.Equal(t, "REJECTED", string(entries[1].Kind))
	assert.Equal(t, "PAUSED", string(entries[2].Kind))
	assert.Equal(t, "provider inactive", entries[1].Data["reason"])
}

func TestEngineWorksAgainstSQLiteState(t *testing.T) {
	ctx := context.Background()

	db := newTestSQLite(t)
	sqlState, err := store.NewSQLState(db)
	require.NoError(t, err)

	salt, err := commitment.DeriveSalt([]byte("test-master-secret"), "sqlite-engine-test")
	require.NoError(t, err)
	deriver := commitment.NewDeriver(salt)

	elig := eligibility.NewMemoryStore()
	cover := coverage.NewMemoryStore(deriver)
	rules := policy.NewMemoryStore()
	patient, err := identity.ParsePatientToken(patientHex)
	require.NoError(t, err)

	require.NoError(t, elig.Set(ctx, provider, eligibility.Window{Active: true}))
	require.NoError(t, cover.Set(ctx, patient, coverage.Window{Active: true}))
	require.NoError(t, rules.Set(ctx, 2, policy.Rule{Enabled: true, Price: 500000, MaxPerYear: 1}))

	rec := &recorder{}
	engine, err := adjudicator.New(
		adjudicator.Config{Owner: owner},
		adjudicator.Deps{
			Deriver:     deriver,
			State:       sqlState,
			Eligibility: elig,
			Coverage:    cover,
			Rules:       rules,
			Treasury:    treasury.NewReservoir(1_000_000),
		},
	)
	require.NoError(t, err)
	engine.WithObserver(rec)

	require.NoError(t, engine.Submit(ctx, provider, patient, 2, 2024))
	require.NoError(t, engine.Submit(ctx, provider, patient, 2, 2024))

	require.Len(t, rec.paid, 1)
	require.Len(t, rec.rejected, 1)
	assert.Equal(t, adjudicator.ReasonMaxPerYear, rec.rejected[0].Reason)

	key, err := engine.ClaimKeyOf(ctx, rec.paid[0].ID)
	require.NoError(t, err)
	assert.Equal(t, rec.paid[0].Key, key)

	// The raw token must not be present anywhere in the database.
	assertNoTokenInDB(t, db, patientHex)
}
