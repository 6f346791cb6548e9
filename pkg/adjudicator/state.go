package adjudicator

import (
	"context"

	"github.com/Mindburn-Labs/veris/pkg/commitment"
)

// State is the engine's owned persistence: visit counters, the commitment
// ledger, and the id → key claim records. Implementations live in pkg/store.
//
// All Submit-side access goes through a StateTx so that counter advancement,
// ledger marking, and record creation commit or roll back as one unit.
type State interface {
	Begin(ctx context.Context) (StateTx, error)

	// ClaimKeyOf returns the commitment key recorded for a claim id.
	// Returns ErrNoSuchClaim for unknown ids.
	ClaimKeyOf(ctx context.Context, id uint64) (commitment.Key, error)

	// LastClaimID returns the highest assigned claim id, 0 when none.
	LastClaimID(ctx context.Context) (uint64, error)
}

// StateTx is one atomic unit of engine state access. Writes become visible
// only on Commit; Rollback discards them. Rollback after Commit is a no-op.
type StateTx interface {
	VisitCount(ctx context.Context, group commitment.VisitGroup) (uint64, error)
	SetVisitCount(ctx context.Context, group commitment.VisitGroup, count uint64) error

	HasCommitment(ctx context.Context, key commitment.Key) (bool, error)
	// MarkCommitment records a key as used. Marking an already-used key is an
	// error: the commitment table is the last line of defense against
	// double settlement.
	MarkCommitment(ctx context.Context, key commitment.Key) error

	// NextClaimID returns the next monotonic claim id, accounting for records
	// staged in this transaction.
	NextClaimID(ctx context.Context) (uint64, error)
	PutClaimRecord(ctx context.Context, id uint64, key commitment.Key) error

	Commit() error
	Rollback() error
}
