package store

import (
	"sort"

	"github.com/sasha-s/go-deadlock"
	"github.com/shopspring/decimal"

	"github.com/moneta/money-transfer/internal/domain"
	"github.com/moneta/money-transfer/internal/uow"
)

// MemStore is the in-memory account table. The RWMutex only guards the map
// structure; balance consistency across reads and writes comes from the row
// locks the engine holds around every mutation.
type MemStore struct {
	mu    deadlock.RWMutex
	accts map[string]*domain.Account
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{accts: make(map[string]*domain.Account)}
}

// Get returns a snapshot of the account, or AccountNotFound.
func (s *MemStore) Get(id string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accts[id]
	if !ok {
		return domain.Account{}, domain.Errf(domain.KindAccountNotFound, "account %s does not exist", id)
	}
	return a.Clone(), nil
}

// List returns a point-in-time snapshot of all accounts, ordered by id.
func (s *MemStore) List() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.accts))
	for _, a := range s.accts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Create inserts a new account. The id must not already exist.
func (s *MemStore) Create(acc domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accts[acc.ID]; exists {
		return domain.Errf(domain.KindInvalidRequest, "account %s already exists", acc.ID)
	}
	cp := acc.Clone()
	s.accts[acc.ID] = &cp
	return nil
}

// Write applies a new balance and stages the inverse in the unit of work, so
// a later Rollback restores the pre-call balance. The caller must hold the
// account's row lock.
func (s *MemStore) Write(u *uow.UnitOfWork, id string, newBalance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accts[id]
	if !ok {
		return domain.Errf(domain.KindAccountNotFound, "account %s does not exist", id)
	}

	prev := a.Balance
	u.OnRollback(func() {
		s.mu.Lock()
		if cur, still := s.accts[id]; still {
			cur.Balance = prev
		}
		s.mu.Unlock()
	})

	a.Balance = newBalance
	return nil
}

// Delete removes the account, or reports AccountNotFound.
func (s *MemStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accts[id]; !ok {
		return domain.Errf(domain.KindAccountNotFound, "account %s does not exist", id)
	}
	delete(s.accts, id)
	return nil
}
