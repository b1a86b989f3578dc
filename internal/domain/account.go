package domain

import "github.com/shopspring/decimal"

// BalanceScale is the number of fractional digits balances are stored and
// rendered with. Arithmetic is exact; the scale only bounds request precision.
const BalanceScale = 4

// Account is a ledger row: owner, balance, currency.
type Account struct {
	ID       string          `json:"id"`
	Owner    string          `json:"owner"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

// Clone returns a copy safe to hand outside the store.
func (a Account) Clone() Account {
	return Account{ID: a.ID, Owner: a.Owner, Balance: a.Balance.Copy(), Currency: a.Currency}
}
