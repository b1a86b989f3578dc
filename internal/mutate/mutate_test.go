package mutate_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneta/money-transfer/internal/domain"
	"github.com/moneta/money-transfer/internal/mutate"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func account(t *testing.T, id, balance, currency string) domain.Account {
	t.Helper()
	return domain.Account{ID: id, Owner: "owner-" + id, Balance: dec(t, balance), Currency: currency}
}

func TestTransfer_ExactDecimalArithmetic(t *testing.T) {
	from := account(t, "3", "500.0000", "EUR")
	to := account(t, "4", "500.0000", "EUR")

	newFrom, newTo, err := mutate.Transfer(from, to, domain.TransferRequest{
		Currency: "EUR", Amount: dec(t, "50.0123"), FromAccount: "3", ToAccount: "4",
	})
	require.NoError(t, err)

	assert.True(t, newFrom.Equal(dec(t, "449.9877")), "got %s", newFrom)
	assert.True(t, newTo.Equal(dec(t, "550.0123")), "got %s", newTo)
}

func TestTransfer_Conservation(t *testing.T) {
	from := account(t, "a", "123.4567", "USD")
	to := account(t, "b", "0.0001", "USD")
	amount := dec(t, "99.9999")

	newFrom, newTo, err := mutate.Transfer(from, to, domain.TransferRequest{
		Currency: "USD", Amount: amount, FromAccount: "a", ToAccount: "b",
	})
	require.NoError(t, err)

	before := from.Balance.Add(to.Balance)
	after := newFrom.Add(newTo)
	assert.True(t, before.Equal(after), "before=%s after=%s", before, after)
}

func TestTransfer_RequestCurrencyMismatch(t *testing.T) {
	from := account(t, "a", "100", "EUR")
	to := account(t, "b", "100", "EUR")

	_, _, err := mutate.Transfer(from, to, domain.TransferRequest{
		Currency: "USD", Amount: dec(t, "10"), FromAccount: "a", ToAccount: "b",
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindCurrencyMismatch))
}

func TestTransfer_AccountCurrencyMismatch(t *testing.T) {
	from := account(t, "a", "100", "USD")
	to := account(t, "b", "100", "EUR")

	_, _, err := mutate.Transfer(from, to, domain.TransferRequest{
		Currency: "USD", Amount: dec(t, "10"), FromAccount: "a", ToAccount: "b",
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindCurrencyMismatch))
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	from := account(t, "a", "10.0000", "USD")
	to := account(t, "b", "0", "USD")

	_, _, err := mutate.Transfer(from, to, domain.TransferRequest{
		Currency: "USD", Amount: dec(t, "20.0000"), FromAccount: "a", ToAccount: "b",
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInsufficientFunds))
}

func TestTransfer_ExactDrainIsAllowed(t *testing.T) {
	from := account(t, "a", "20.0000", "USD")
	to := account(t, "b", "0", "USD")

	newFrom, _, err := mutate.Transfer(from, to, domain.TransferRequest{
		Currency: "USD", Amount: dec(t, "20.0000"), FromAccount: "a", ToAccount: "b",
	})
	require.NoError(t, err)
	assert.True(t, newFrom.IsZero())
}

func TestTransfer_SelfTransferIsValidatedNoOp(t *testing.T) {
	acc := account(t, "a", "100.0000", "USD")

	newFrom, newTo, err := mutate.Transfer(acc, acc, domain.TransferRequest{
		Currency: "USD", Amount: dec(t, "40"), FromAccount: "a", ToAccount: "a",
	})
	require.NoError(t, err)
	assert.True(t, newFrom.Equal(acc.Balance))
	assert.True(t, newTo.Equal(acc.Balance))

	// The funds check still applies to the degenerate case.
	_, _, err = mutate.Transfer(acc, acc, domain.TransferRequest{
		Currency: "USD", Amount: dec(t, "100.0001"), FromAccount: "a", ToAccount: "a",
	})
	assert.True(t, domain.IsKind(err, domain.KindInsufficientFunds))
}

func TestAdjust(t *testing.T) {
	acc := account(t, "a", "50.5000", "USD")

	got, err := mutate.Adjust(acc, dec(t, "-50.5000"))
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = mutate.Adjust(acc, dec(t, "0.0001"))
	require.NoError(t, err)
	assert.True(t, got.Equal(dec(t, "50.5001")))

	_, err = mutate.Adjust(acc, dec(t, "-50.5001"))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInsufficientFunds))
}
