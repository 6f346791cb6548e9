package treasury_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/veris/pkg/finance"
	"github.com/Mindburn-Labs/veris/pkg/treasury"
)

func TestPayDebitsAndRecords(t *testing.T) {
	ctx := context.Background()
	r := treasury.NewReservoir(1_000_000)

	require.NoError(t, r.Pay(ctx, "prov:mercy-west", 250000, 1))

	bal, err := r.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(750000), bal)

	transfers := r.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, finance.NewMoney(250000, "USD"), transfers[0].Value)
	assert.Equal(t, uint64(1), transfers[0].Reference)
	assert.NotEmpty(t, transfers[0].ID)
}

func TestHoldingsCarryCurrency(t *testing.T) {
	ctx := context.Background()
	r := treasury.NewReservoir(123456).WithCurrency("EUR")

	holdings, err := r.Holdings(ctx)
	require.NoError(t, err)
	assert.Equal(t, finance.NewMoney(123456, "EUR"), holdings)
	assert.Equal(t, "1234.56 EUR", holdings.String())

	require.NoError(t, r.Pay(ctx, "prov:mercy-west", 3456, 1))
	assert.Equal(t, "EUR", r.Transfers()[0].Value.Currency)
}

func TestPayEnforcesSufficiency(t *testing.T) {
	ctx := context.Background()
	r := treasury.NewReservoir(100)

	err := r.Pay(ctx, "prov:mercy-west", 250000, 1)
	assert.ErrorIs(t, err, treasury.ErrInsufficient)

	// A failed pay leaves the balance and history untouched.
	bal, err := r.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)
	assert.Empty(t, r.Transfers())
}

func TestPayRejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	r := treasury.NewReservoir(1000)

	assert.ErrorIs(t, r.Pay(ctx, "prov:mercy-west", 0, 1), treasury.ErrBadAmount)
	assert.ErrorIs(t, r.Pay(ctx, "prov:mercy-west", -5, 1), treasury.ErrBadAmount)
}

func TestFund(t *testing.T) {
	ctx := context.Background()
	r := treasury.NewReservoir(0)

	assert.ErrorIs(t, r.Fund(0), treasury.ErrBadAmount)
	require.NoError(t, r.Fund(500000))

	bal, err := r.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500000), bal)
}

func TestExactDrain(t *testing.T) {
	ctx := context.Background()
	r := treasury.NewReservoir(250000)

	require.NoError(t, r.Pay(ctx, "prov:mercy-west", 250000, 1))
	bal, err := r.Balance(ctx)
	require.NoError(t, err)
	assert.Zero(t, bal)

	assert.ErrorIs(t, r.Pay(ctx, "prov:mercy-west", 1, 2), treasury.ErrInsufficient)
}
