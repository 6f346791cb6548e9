// Package treasury implements the payment authority: a bounded value reservoir
// that disburses fixed amounts to providers.
//
// The reservoir enforces its own sufficiency check on every Pay call.
// Callers may consult Balance as a hint, but Pay is the only enforcement point.
package treasury

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/veris/pkg/finance"
	"github.com/Mindburn-Labs/veris/pkg/identity"
)

var (
	// ErrInsufficient means the reservoir cannot cover the requested amount.
	ErrInsufficient = errors.New("treasury: insufficient funds")
	// ErrBadAmount means the amount is zero or negative.
	ErrBadAmount = errors.New("treasury: amount must be positive")
)

// Authority is the payment contract consumed by the adjudication engine.
type Authority interface {
	// Pay transfers amount (minor units) to the recipient, tagged with the
	// caller's reference. It fails with ErrInsufficient when underfunded.
	Pay(ctx context.Context, to identity.Principal, amount int64, reference uint64) error
	// Balance reports the current reservoir balance.
	Balance(ctx context.Context) (int64, error)
}

// Transfer is the durable record of one executed disbursement.
type Transfer struct {
	ID        string             `json:"id"`
	To        identity.Principal `json:"to"`
	Value     finance.Money      `json:"value"`
	Reference uint64             `json:"reference"`
	Timestamp time.Time          `json:"timestamp"`
}

// Reservoir is an in-memory Authority. Balance mutations are mutex-guarded and
// every disbursement leaves a Transfer record.
type Reservoir struct {
	mu        sync.Mutex
	balance   int64
	currency  string
	transfers []Transfer
	clock     func() time.Time
}

// NewReservoir creates a reservoir holding the given opening balance.
func NewReservoir(balance int64) *Reservoir {
	return &Reservoir{
		balance:  balance,
		currency: "USD",
		clock:    time.Now,
	}
}

// WithCurrency sets the ISO 4217 code stamped on transfers.
func (r *Reservoir) WithCurrency(code string) *Reservoir {
	if code != "" {
		r.currency = code
	}
	return r
}

// WithClock overrides the clock for testing.
func (r *Reservoir) WithClock(clock func() time.Time) *Reservoir {
	r.clock = clock
	return r
}

// Fund tops up the reservoir.
func (r *Reservoir) Fund(amount int64) error {
	if amount <= 0 {
		return ErrBadAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balance += amount
	return nil
}

// Pay debits the reservoir. The sufficiency check here is authoritative
// regardless of any balance hint the caller saw.
func (r *Reservoir) Pay(_ context.Context, to identity.Principal, amount int64, reference uint64) error {
	if amount <= 0 {
		return ErrBadAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balance < amount {
		return ErrInsufficient
	}
	r.balance -= amount
	r.transfers = append(r.transfers, Transfer{
		ID:        uuid.New().String(),
		To:        to,
		Value:     finance.NewMoney(amount, r.currency),
		Reference: reference,
		Timestamp: r.clock().UTC(),
	})
	return nil
}

// Balance reports the current balance.
func (r *Reservoir) Balance(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balance, nil
}

// Holdings reports the balance as denominated money.
func (r *Reservoir) Holdings(_ context.Context) (finance.Money, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return finance.NewMoney(r.balance, r.currency), nil
}

// Transfers returns a copy of the disbursement history.
func (r *Reservoir) Transfers() []Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transfer, len(r.transfers))
	copy(out, r.transfers)
	return out
}
