package finance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/veris/pkg/finance"
)

func TestMoneyArithmetic(t *testing.T) {
	a := finance.NewMoney(250000, "USD")
	b := finance.NewMoney(500000, "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(750000), sum.AmountMinor)

	diff, err := b.Sub(a)
	require.NoError(t, err)
	assert.Equal(t, int64(250000), diff.AmountMinor)
	assert.True(t, diff.IsPositive())

	neg, err := a.Sub(b)
	require.NoError(t, err)
	assert.True(t, neg.IsNegative())
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	a := finance.NewMoney(100, "USD")
	b := finance.NewMoney(100, "EUR")

	_, err := a.Add(b)
	assert.Error(t, err)

	_, err = a.Sub(b)
	assert.Error(t, err)
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "2500.00 USD", finance.NewMoney(250000, "USD").String())
	assert.Equal(t, "0.05 USD", finance.NewMoney(5, "USD").String())
	assert.Equal(t, "-1.25 USD", finance.NewMoney(-125, "USD").String())
	assert.True(t, finance.NewMoney(0, "USD").IsZero())
}
