// Package mutate computes post-transfer balances and checks the invariants
// that guard them. It performs no I/O and takes no locks, so the rules are
// testable without a store.
package mutate

import (
	"github.com/shopspring/decimal"

	"github.com/moneta/money-transfer/internal/domain"
)

// Transfer validates a transfer against the two locked accounts and returns
// the post-transfer balances. Validation order matches the storage layer the
// engine replaced: request currency vs source, source vs destination, funds.
func Transfer(from, to domain.Account, req domain.TransferRequest) (newFrom, newTo decimal.Decimal, err error) {
	if from.Currency != req.Currency {
		return decimal.Zero, decimal.Zero, domain.Errf(domain.KindCurrencyMismatch,
			"transfer currency %s differs from source account %s (%s)", req.Currency, from.ID, from.Currency)
	}
	if from.Currency != to.Currency {
		return decimal.Zero, decimal.Zero, domain.Errf(domain.KindCurrencyMismatch,
			"source account %s (%s) and destination account %s (%s) are in different currencies",
			from.ID, from.Currency, to.ID, to.Currency)
	}

	newFrom = from.Balance.Sub(req.Amount)
	if newFrom.IsNegative() {
		return decimal.Zero, decimal.Zero, domain.Errf(domain.KindInsufficientFunds,
			"account %s holds %s, cannot cover %s", from.ID, from.Balance, req.Amount)
	}

	if from.ID == to.ID {
		// Self-transfer: debit and credit cancel out. The funds check above
		// still applies so the degenerate case behaves like the normal path.
		return from.Balance, to.Balance, nil
	}

	newTo = to.Balance.Add(req.Amount)
	return newFrom, newTo, nil
}

// Adjust validates a single-account delta and returns the new balance.
func Adjust(acc domain.Account, delta decimal.Decimal) (decimal.Decimal, error) {
	newBalance := acc.Balance.Add(delta)
	if newBalance.IsNegative() {
		return decimal.Zero, domain.Errf(domain.KindInsufficientFunds,
			"account %s holds %s, adjustment %s would go negative", acc.ID, acc.Balance, delta)
	}
	return newBalance, nil
}
