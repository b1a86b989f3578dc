// Package store holds the account table and its durable journal.
package store

import (
	"github.com/shopspring/decimal"

	"github.com/moneta/money-transfer/internal/domain"
	"github.com/moneta/money-transfer/internal/uow"
)

// AccountStore is the persistence contract the engine mutates through. Get and
// List return snapshots; Write stages a balance change inside the caller's
// unit of work and never commits on its own. Callers must hold the account's
// row lock before calling Write or reading for a subsequent write.
type AccountStore interface {
	Get(id string) (domain.Account, error)
	List() []domain.Account
	Create(acc domain.Account) error
	Write(u *uow.UnitOfWork, id string, newBalance decimal.Decimal) error
	Delete(id string) error
}
