package domain

import "github.com/shopspring/decimal"

// TransferRequest represents a transfer command from the API or the queue.
// Amount travels as a decimal string on the wire to avoid floating point issues.
type TransferRequest struct {
	TransactionID string          `json:"transaction_id"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	FromAccount   string          `json:"from_account"`
	ToAccount     string          `json:"to_account"`
}

// AdjustRequest represents a single-account balance adjustment. Delta may be
// negative (a withdrawal) as long as the resulting balance stays non-negative.
type AdjustRequest struct {
	AccountID string          `json:"account_id"`
	Delta     decimal.Decimal `json:"delta"`
}
