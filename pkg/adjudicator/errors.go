package adjudicator

import "errors"

// Hard failures. These abort a submission with no observable state change and
// no outcome record; they are caller or infrastructure errors, never
// adjudication outcomes.
var (
	ErrPaused         = errors.New("adjudicator: submissions paused")
	ErrBadProvider    = errors.New("adjudicator: missing caller principal")
	ErrBadPatient     = errors.New("adjudicator: zero patient token")
	ErrYearOutOfRange = errors.New("adjudicator: service year out of range")

	// ErrSettlement wraps a payment failure after all checks passed. The
	// submission's staged state has been rolled back in full.
	ErrSettlement = errors.New("adjudicator: settlement failed")

	// ErrNotOwner guards administrative mutation.
	ErrNotOwner = errors.New("adjudicator: caller is not the owner")

	// ErrNoSuchClaim is returned by claim record lookups for unknown ids.
	ErrNoSuchClaim = errors.New("adjudicator: no such claim")
)
