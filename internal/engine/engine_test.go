package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneta/money-transfer/internal/domain"
	"github.com/moneta/money-transfer/internal/engine"
	"github.com/moneta/money-transfer/internal/locker"
	"github.com/moneta/money-transfer/internal/store"
	"github.com/moneta/money-transfer/internal/uow"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func seed(t *testing.T, s store.AccountStore, id, balance, currency string) {
	t.Helper()
	require.NoError(t, s.Create(domain.Account{
		ID: id, Owner: "owner-" + id, Balance: dec(t, balance), Currency: currency,
	}))
}

func newTestEngine(t *testing.T, wait time.Duration) (*engine.Engine, *store.MemStore, *locker.Coordinator) {
	t.Helper()
	s := store.NewMemStore()
	coord := locker.NewCoordinator(locker.NewTable(), wait)
	return engine.New(s, coord, nil, domain.DefaultCurrencies(), nil), s, coord
}

func transfer(currency, amount, from, to string) domain.TransferRequest {
	return domain.TransferRequest{
		TransactionID: "txn-test",
		Currency:      currency,
		Amount:        decimal.RequireFromString(amount),
		FromAccount:   from,
		ToAccount:     to,
	}
}

func balanceOf(t *testing.T, eng *engine.Engine, id string) decimal.Decimal {
	t.Helper()
	acc, err := eng.GetAccount(id)
	require.NoError(t, err)
	return acc.Balance
}

func TestTransfer_SingleScenario(t *testing.T) {
	eng, s, _ := newTestEngine(t, time.Second)
	seed(t, s, "3", "500.0000", "EUR")
	seed(t, s, "4", "500.0000", "EUR")

	err := eng.Transfer(context.Background(), transfer("EUR", "50.0123", "3", "4"))
	require.NoError(t, err)

	assert.Equal(t, "449.9877", balanceOf(t, eng, "3").StringFixed(domain.BalanceScale))
	assert.Equal(t, "550.0123", balanceOf(t, eng, "4").StringFixed(domain.BalanceScale))
}

func TestTransfer_InsufficientFundsLeavesBalancesUntouched(t *testing.T) {
	eng, s, _ := newTestEngine(t, time.Second)
	seed(t, s, "a", "10.0000", "USD")
	seed(t, s, "b", "5.0000", "USD")

	err := eng.Transfer(context.Background(), transfer("USD", "20.0000", "a", "b"))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInsufficientFunds))

	assert.Equal(t, "10.0000", balanceOf(t, eng, "a").StringFixed(domain.BalanceScale))
	assert.Equal(t, "5.0000", balanceOf(t, eng, "b").StringFixed(domain.BalanceScale))
}

func TestTransfer_CurrencyGuard(t *testing.T) {
	eng, s, _ := newTestEngine(t, time.Second)
	seed(t, s, "a", "100", "USD")
	seed(t, s, "b", "100", "EUR")
	seed(t, s, "c", "100", "USD")

	// Request currency differs from the source account.
	err := eng.Transfer(context.Background(), transfer("EUR", "10", "a", "c"))
	assert.True(t, domain.IsKind(err, domain.KindCurrencyMismatch))

	// Source and destination disagree with each other.
	err = eng.Transfer(context.Background(), transfer("USD", "10", "a", "b"))
	assert.True(t, domain.IsKind(err, domain.KindCurrencyMismatch))

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, "100.0000", balanceOf(t, eng, id).StringFixed(domain.BalanceScale))
	}
}

func TestTransfer_AccountNotFound(t *testing.T) {
	eng, s, _ := newTestEngine(t, time.Second)
	seed(t, s, "a", "100", "USD")

	err := eng.Transfer(context.Background(), transfer("USD", "10", "a", "ghost"))
	assert.True(t, domain.IsKind(err, domain.KindAccountNotFound))

	err = eng.Transfer(context.Background(), transfer("USD", "10", "ghost", "a"))
	assert.True(t, domain.IsKind(err, domain.KindAccountNotFound))

	assert.Equal(t, "100.0000", balanceOf(t, eng, "a").StringFixed(domain.BalanceScale))
}

func TestTransfer_InvalidRequests(t *testing.T) {
	eng, s, _ := newTestEngine(t, time.Second)
	seed(t, s, "a", "100", "USD")
	seed(t, s, "b", "100", "USD")

	tests := []struct {
		name string
		req  domain.TransferRequest
	}{
		{"zero amount", transfer("USD", "0", "a", "b")},
		{"negative amount", transfer("USD", "-5", "a", "b")},
		{"unrecognized currency", transfer("XXX", "5", "a", "b")},
		{"empty from", transfer("USD", "5", "", "b")},
		{"empty to", transfer("USD", "5", "a", " ")},
		{"excess precision", transfer("USD", "5.00001", "a", "b")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := eng.Transfer(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.KindInvalidRequest), "got %v", err)
		})
	}

	assert.Equal(t, "100.0000", balanceOf(t, eng, "a").StringFixed(domain.BalanceScale))
	assert.Equal(t, "100.0000", balanceOf(t, eng, "b").StringFixed(domain.BalanceScale))
}

func TestTransfer_SelfTransfer(t *testing.T) {
	eng, s, _ := newTestEngine(t, time.Second)
	seed(t, s, "a", "100.0000", "USD")

	// Covered by funds: committed as a no-op success.
	require.NoError(t, eng.Transfer(context.Background(), transfer("USD", "40", "a", "a")))
	assert.Equal(t, "100.0000", balanceOf(t, eng, "a").StringFixed(domain.BalanceScale))

	// Not covered: fails like a normal transfer would.
	err := eng.Transfer(context.Background(), transfer("USD", "100.0001", "a", "a"))
	assert.True(t, domain.IsKind(err, domain.KindInsufficientFunds))
	assert.Equal(t, "100.0000", balanceOf(t, eng, "a").StringFixed(domain.BalanceScale))

	// The single lock must be free afterwards.
	require.NoError(t, eng.Transfer(context.Background(), transfer("USD", "1", "a", "a")))
}

func TestTransfer_ContentionExactlyFiftySucceed(t *testing.T) {
	eng, s, _ := newTestEngine(t, 5*time.Second)
	seed(t, s, "drain", "100.0000", "USD")
	seed(t, s, "sink", "0.0000", "USD")

	const callers = 100
	results := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- eng.Transfer(context.Background(), transfer("USD", "2.0000", "drain", "sink"))
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, insufficient int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case domain.IsKind(err, domain.KindInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error under contention: %v", err)
		}
	}

	assert.Equal(t, 50, succeeded)
	assert.Equal(t, 50, insufficient)
	assert.Equal(t, "0.0000", balanceOf(t, eng, "drain").StringFixed(domain.BalanceScale))
	assert.Equal(t, "100.0000", balanceOf(t, eng, "sink").StringFixed(domain.BalanceScale))
}

func TestTransfer_OpposedDirectionsAreDeadlockFree(t *testing.T) {
	eng, s, _ := newTestEngine(t, 5*time.Second)
	seed(t, s, "1", "1000.0000", "USD")
	seed(t, s, "2", "1000.0000", "USD")

	const iterations = 100
	var wg sync.WaitGroup
	run := func(from, to string) {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			err := eng.Transfer(context.Background(), transfer("USD", "1.0000", from, to))
			if err != nil && !domain.IsKind(err, domain.KindInsufficientFunds) {
				t.Error(err)
				return
			}
		}
	}

	wg.Add(2)
	go run("1", "2")
	go run("2", "1")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("opposed transfers did not complete; likely deadlocked")
	}

	// Conservation across the pair regardless of interleaving.
	total := balanceOf(t, eng, "1").Add(balanceOf(t, eng, "2"))
	assert.Equal(t, "2000.0000", total.StringFixed(domain.BalanceScale))
}

func TestTransfer_LockTimeout(t *testing.T) {
	eng, s, coord := newTestEngine(t, 50*time.Millisecond)
	seed(t, s, "held", "100.0000", "USD")
	seed(t, s, "free", "100.0000", "USD")

	// Hold the source account's lock past the engine's wait bound.
	holder := uow.Begin()
	require.NoError(t, coord.Acquire(context.Background(), holder, "held"))

	err := eng.Transfer(context.Background(), transfer("USD", "10", "held", "free"))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindLockTimeout))

	assert.Equal(t, "100.0000", balanceOf(t, eng, "held").StringFixed(domain.BalanceScale))
	assert.Equal(t, "100.0000", balanceOf(t, eng, "free").StringFixed(domain.BalanceScale))

	holder.Rollback()

	// The failed attempt must not have leaked either lock.
	require.NoError(t, eng.Transfer(context.Background(), transfer("USD", "10", "held", "free")))
}

// failingStore fails writes after a configured number of successes, to model
// a storage fault in the middle of the two-write sequence.
type failingStore struct {
	*store.MemStore
	allowed int
	writes  int
}

func (f *failingStore) Write(u *uow.UnitOfWork, id string, balance decimal.Decimal) error {
	if f.writes >= f.allowed {
		return errors.New("disk full")
	}
	f.writes++
	return f.MemStore.Write(u, id, balance)
}

func TestTransfer_StorageFailureRollsBackFirstWrite(t *testing.T) {
	mem := store.NewMemStore()
	seed(t, mem, "a", "100.0000", "USD")
	seed(t, mem, "b", "100.0000", "USD")

	failing := &failingStore{MemStore: mem, allowed: 1}
	coord := locker.NewCoordinator(locker.NewTable(), time.Second)
	eng := engine.New(failing, coord, nil, domain.DefaultCurrencies(), nil)

	err := eng.Transfer(context.Background(), transfer("USD", "30", "a", "b"))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindStorageFailure))

	// The debit that succeeded before the fault must be undone.
	assert.Equal(t, "100.0000", balanceOf(t, eng, "a").StringFixed(domain.BalanceScale))
	assert.Equal(t, "100.0000", balanceOf(t, eng, "b").StringFixed(domain.BalanceScale))
}

func TestAdjustBalance(t *testing.T) {
	eng, s, _ := newTestEngine(t, time.Second)
	seed(t, s, "a", "50.0000", "USD")

	require.NoError(t, eng.AdjustBalance(context.Background(), domain.AdjustRequest{
		AccountID: "a", Delta: dec(t, "25.5000"),
	}))
	assert.Equal(t, "75.5000", balanceOf(t, eng, "a").StringFixed(domain.BalanceScale))

	require.NoError(t, eng.AdjustBalance(context.Background(), domain.AdjustRequest{
		AccountID: "a", Delta: dec(t, "-75.5000"),
	}))
	assert.Equal(t, "0.0000", balanceOf(t, eng, "a").StringFixed(domain.BalanceScale))

	err := eng.AdjustBalance(context.Background(), domain.AdjustRequest{
		AccountID: "a", Delta: dec(t, "-0.0001"),
	})
	assert.True(t, domain.IsKind(err, domain.KindInsufficientFunds))

	err = eng.AdjustBalance(context.Background(), domain.AdjustRequest{
		AccountID: "ghost", Delta: dec(t, "1"),
	})
	assert.True(t, domain.IsKind(err, domain.KindAccountNotFound))

	err = eng.AdjustBalance(context.Background(), domain.AdjustRequest{
		AccountID: " ", Delta: dec(t, "1"),
	})
	assert.True(t, domain.IsKind(err, domain.KindInvalidRequest))
}

func TestCreateListDeleteAccounts(t *testing.T) {
	eng, _, _ := newTestEngine(t, time.Second)

	acc, err := eng.CreateAccount("alice", dec(t, "100.0000"), "eur")
	require.NoError(t, err)
	assert.NotEmpty(t, acc.ID)
	assert.Equal(t, "EUR", acc.Currency)

	_, err = eng.CreateAccount("bob", dec(t, "-1"), "EUR")
	assert.True(t, domain.IsKind(err, domain.KindInvalidRequest))

	_, err = eng.CreateAccount("bob", dec(t, "1"), "???")
	assert.True(t, domain.IsKind(err, domain.KindInvalidRequest))

	got, err := eng.GetAccount(acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)

	require.Len(t, eng.ListAccounts(), 1)

	require.NoError(t, eng.DeleteAccount(context.Background(), acc.ID))
	assert.Empty(t, eng.ListAccounts())

	err = eng.DeleteAccount(context.Background(), acc.ID)
	assert.True(t, domain.IsKind(err, domain.KindAccountNotFound))
}

func TestDeleteAccount_JournalFailureLeavesAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	journal, err := store.OpenJournal(path)
	require.NoError(t, err)

	s := store.NewMemStore()
	coord := locker.NewCoordinator(locker.NewTable(), time.Second)
	eng := engine.New(s, coord, journal, domain.DefaultCurrencies(), nil)

	acc, err := eng.CreateAccount("alice", dec(t, "100.0000"), "EUR")
	require.NoError(t, err)

	// Closing the journal makes every subsequent append fail.
	require.NoError(t, journal.Close())

	err = eng.DeleteAccount(context.Background(), acc.ID)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindStorageFailure))

	// The failed delete must be fully undone: the account is still readable
	// and a restart from the journal would agree with memory.
	got, err := eng.GetAccount(acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.0000", got.Balance.StringFixed(domain.BalanceScale))
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, "EUR", got.Currency)

	journal2, err := store.OpenJournal(path)
	require.NoError(t, err)
	defer journal2.Close()

	s2 := store.NewMemStore()
	require.NoError(t, journal2.Replay(s2))
	replayed, err := s2.Get(acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.0000", replayed.Balance.StringFixed(domain.BalanceScale))

	// The row lock must be free again.
	u := uow.Begin()
	require.NoError(t, coord.Acquire(context.Background(), u, acc.ID))
	u.Rollback()
}

func TestEngine_JournalSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	journal, err := store.OpenJournal(path)
	require.NoError(t, err)

	s := store.NewMemStore()
	coord := locker.NewCoordinator(locker.NewTable(), time.Second)
	eng := engine.New(s, coord, journal, domain.DefaultCurrencies(), nil)

	alice, err := eng.CreateAccount("alice", dec(t, "500.0000"), "EUR")
	require.NoError(t, err)
	bob, err := eng.CreateAccount("bob", dec(t, "500.0000"), "EUR")
	require.NoError(t, err)

	require.NoError(t, eng.Transfer(context.Background(), domain.TransferRequest{
		TransactionID: "txn-1",
		Currency:      "EUR",
		Amount:        dec(t, "50.0123"),
		FromAccount:   alice.ID,
		ToAccount:     bob.ID,
	}))
	require.NoError(t, eng.AdjustBalance(context.Background(), domain.AdjustRequest{
		AccountID: bob.ID, Delta: dec(t, "-0.0123"),
	}))
	require.NoError(t, journal.Close())

	// Restart: replay into a fresh store.
	journal2, err := store.OpenJournal(path)
	require.NoError(t, err)
	defer journal2.Close()

	s2 := store.NewMemStore()
	require.NoError(t, journal2.Replay(s2))

	a, err := s2.Get(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "449.9877", a.Balance.StringFixed(domain.BalanceScale))

	b, err := s2.Get(bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "550.0000", b.Balance.StringFixed(domain.BalanceScale))
}
