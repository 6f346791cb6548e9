package adjudicator

import (
	"github.com/Mindburn-Labs/veris/pkg/commitment"
	"github.com/Mindburn-Labs/veris/pkg/identity"
)

// Reason is one of the six fixed policy rejection reasons. Rejections are
// first-class outcomes, not errors: they complete normally and mutate nothing.
type Reason string

const (
	ReasonProviderInactive Reason = "provider inactive"
	ReasonNotCovered       Reason = "not covered"
	ReasonCodeDisabled     Reason = "code disabled/price=0"
	ReasonMaxPerYear       Reason = "max per year reached"
	ReasonDuplicate        Reason = "duplicate"
	ReasonUnderfunded      Reason = "bank underfunded"
)

// Paid is the outcome record of a successful settlement.
// It never carries the patient token.
type Paid struct {
	ID         uint64             `json:"id"`
	Key        commitment.Key     `json:"commitment_key"`
	Provider   identity.Principal `json:"provider"`
	Code       uint16             `json:"code"`
	Year       uint16             `json:"year"`
	Amount     int64              `json:"amount"`
	VisitIndex uint64             `json:"visit_index"`
}

// Rejected is the outcome record of a policy rejection.
// Its key is derived from the current (unincremented) counter, so it never
// collides with the key a later settlement of the same visit would use.
// It never carries the patient token.
type Rejected struct {
	Key      commitment.Key     `json:"commitment_key"`
	Provider identity.Principal `json:"provider"`
	Code     uint16             `json:"code"`
	Year     uint16             `json:"year"`
	Reason   Reason             `json:"reason"`
}

// Observer receives outcome records as they are emitted. Observers run after
// the outcome is durable; they must not block for long.
type Observer interface {
	ClaimPaid(p Paid)
	ClaimRejected(r Rejected)
}
