package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromString(t *testing.T) {
	m, err := FromString("49.99", "CAD")
	require.NoError(t, err)
	assert.Equal(t, int64(4999), m.Amount())
	assert.Equal(t, "CAD", m.Currency())
	assert.Equal(t, "49.99 CAD", m.String())
}

func TestFromString_RejectsFinerPrecision(t *testing.T) {
	_, err := FromString("49.999", "USD")
	assert.ErrorIs(t, err, ErrPrecisionTooFine)
}

func TestFromString_RejectsNegative(t *testing.T) {
	_, err := FromString("-1.00", "USD")
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestNew_RejectsInvalidCurrency(t *testing.T) {
	_, err := New(100, "")
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = New(100, "us")
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = New(100, "U5D")
	assert.ErrorIs(t, err, ErrInvalidCurrency)
}

func TestNew_NormalizesCurrency(t *testing.T) {
	m, err := New(100, " usd ")
	require.NoError(t, err)
	assert.Equal(t, "USD", m.Currency())
}

func TestFromDecimal(t *testing.T) {
	m, err := FromDecimal(decimal.RequireFromString("10.50"), "EUR")
	require.NoError(t, err)
	assert.Equal(t, int64(1050), m.Amount())
}

func TestAdd(t *testing.T) {
	a := MustNew(1050, "USD")
	b := MustNew(450, "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), sum.Amount())
}

func TestAdd_CurrencyMismatch(t *testing.T) {
	a := MustNew(100, "USD")
	b := MustNew(100, "CAD")

	_, err := a.Add(b)
	var mismatch *CurrencyMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "USD", mismatch.Left)
	assert.Equal(t, "CAD", mismatch.Right)
}

func TestSub(t *testing.T) {
	a := MustNew(1000, "USD")
	b := MustNew(250, "USD")

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, int64(750), diff.Amount())
}

func TestSub_NeverUnderflows(t *testing.T) {
	a := MustNew(100, "USD")
	b := MustNew(200, "USD")

	_, err := a.Sub(b)
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestSub_CurrencyMismatch(t *testing.T) {
	a := MustNew(100, "USD")
	b := MustNew(50, "GBP")

	_, err := a.Sub(b)
	var mismatch *CurrencyMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestCmp(t *testing.T) {
	a := MustNew(100, "USD")
	b := MustNew(200, "USD")

	got, err := a.Cmp(b)
	require.NoError(t, err)
	assert.Equal(t, -1, got)

	got, err = b.Cmp(a)
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = a.Cmp(a)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestJSONRoundTrip(t *testing.T) {
	m := MustNew(4999, "CAD")

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"49.99","currency":"CAD"}`, string(data))

	var decoded Money
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, m.Equal(decoded))
}
