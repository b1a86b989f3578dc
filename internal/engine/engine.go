// Package engine orchestrates validation, locking, mutation and commit for
// balance changes. It is the only component allowed to mutate account
// balances, and it always does so while holding the accounts' row locks
// inside a unit of work.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/moneta/money-transfer/internal/domain"
	"github.com/moneta/money-transfer/internal/locker"
	"github.com/moneta/money-transfer/internal/mutate"
	"github.com/moneta/money-transfer/internal/store"
	"github.com/moneta/money-transfer/internal/telemetry"
	"github.com/moneta/money-transfer/internal/uow"
)

const (
	CommandSubject = "transfer.commands"
	EventSubject   = "transfer.completed"
)

// Engine executes transfers and single-account adjustments atomically under
// concurrent callers. Locks are acquired in canonical order through the
// coordinator; every failure after lock acquisition rolls the unit of work
// back before the error surfaces, so accounts are never left locked or
// partially mutated.
type Engine struct {
	store      store.AccountStore
	locks      *locker.Coordinator
	journal    *store.Journal // nil disables durability (tests)
	currencies *domain.CurrencyRegistry

	natsConn     *nats.Conn
	subscription *nats.Subscription
	wg           sync.WaitGroup
	mu           sync.Mutex // guards stopping and wg.Add against Stop
	stopping     bool
	stopOnce     sync.Once
}

// New creates an engine over the given collaborators. journal and natsConn
// may be nil for embedded or test use.
func New(st store.AccountStore, locks *locker.Coordinator, journal *store.Journal, currencies *domain.CurrencyRegistry, natsConn *nats.Conn) *Engine {
	if currencies == nil {
		currencies = domain.DefaultCurrencies()
	}
	return &Engine{
		store:      st,
		locks:      locks,
		journal:    journal,
		currencies: currencies,
		natsConn:   natsConn,
	}
}

// Transfer moves req.Amount from the source to the destination account.
// The whole operation commits or nothing does; read-after-failure shows
// pre-call balances.
func (e *Engine) Transfer(ctx context.Context, req domain.TransferRequest) (err error) {
	start := time.Now()

	if telemetry.Tracer != nil {
		var span trace.Span
		ctx, span = telemetry.Tracer.Start(ctx, "engine.Transfer",
			trace.WithAttributes(
				attribute.String("transaction_id", req.TransactionID),
				attribute.String("from_account", req.FromAccount),
				attribute.String("to_account", req.ToAccount),
				attribute.String("amount", req.Amount.String()),
				attribute.String("currency", req.Currency),
			),
		)
		defer func() { finishSpan(span, err); span.End() }()
	}
	defer func() {
		telemetry.TransferProcessingDuration.Observe(time.Since(start).Seconds())
		telemetry.TransfersTotal.WithLabelValues(outcome(err)).Inc()
	}()

	// Cheap checks first; nothing is locked yet so failing here needs no rollback.
	if err = e.validateTransfer(req); err != nil {
		return err
	}

	u := uow.Begin()
	defer u.Rollback() // no-op once committed

	if err = e.acquire(ctx, u, req.FromAccount, req.ToAccount); err != nil {
		return err
	}

	from, err := e.store.Get(req.FromAccount)
	if err != nil {
		return err
	}
	to, err := e.store.Get(req.ToAccount)
	if err != nil {
		return err
	}

	newFrom, newTo, err := mutate.Transfer(from, to, req)
	if err != nil {
		return err
	}

	if from.ID == to.ID {
		// Self-transfer nets to zero; validated above, committed as a no-op.
		u.Commit()
		return nil
	}

	if err = e.write(u, from.ID, newFrom); err != nil {
		return err
	}
	if err = e.write(u, to.ID, newTo); err != nil {
		return err
	}

	if err = e.appendJournal(
		store.Record{Type: store.RecordBalanceWritten, TransactionID: req.TransactionID, Account: from.ID, Balance: newFrom, At: time.Now().UTC()},
		store.Record{Type: store.RecordBalanceWritten, TransactionID: req.TransactionID, Account: to.ID, Balance: newTo, At: time.Now().UTC()},
	); err != nil {
		return err
	}

	u.Commit()

	slog.InfoContext(ctx, "transfer committed",
		"transaction_id", req.TransactionID,
		"from", from.ID, "to", to.ID,
		"amount", req.Amount.StringFixed(domain.BalanceScale),
		"currency", req.Currency,
	)
	e.publishCompleted(req)
	return nil
}

// AdjustBalance applies a delta to a single account: deposits with a positive
// delta, withdrawals with a negative one. Rejected if the result would be
// negative.
func (e *Engine) AdjustBalance(ctx context.Context, req domain.AdjustRequest) (err error) {
	if telemetry.Tracer != nil {
		var span trace.Span
		ctx, span = telemetry.Tracer.Start(ctx, "engine.AdjustBalance",
			trace.WithAttributes(
				attribute.String("account", req.AccountID),
				attribute.String("delta", req.Delta.String()),
			),
		)
		defer func() { finishSpan(span, err); span.End() }()
	}
	defer func() {
		telemetry.AdjustmentsTotal.WithLabelValues(outcome(err)).Inc()
	}()

	if strings.TrimSpace(req.AccountID) == "" {
		return domain.Errf(domain.KindInvalidRequest, "account id is required")
	}
	if req.Delta.Exponent() < -domain.BalanceScale {
		return domain.Errf(domain.KindInvalidRequest, "delta has more than %d fractional digits", domain.BalanceScale)
	}

	u := uow.Begin()
	defer u.Rollback()

	if err = e.acquire(ctx, u, req.AccountID); err != nil {
		return err
	}

	acc, err := e.store.Get(req.AccountID)
	if err != nil {
		return err
	}

	newBalance, err := mutate.Adjust(acc, req.Delta)
	if err != nil {
		return err
	}

	if err = e.write(u, acc.ID, newBalance); err != nil {
		return err
	}

	if err = e.appendJournal(store.Record{
		Type: store.RecordBalanceWritten, Account: acc.ID, Balance: newBalance, At: time.Now().UTC(),
	}); err != nil {
		return err
	}

	u.Commit()
	return nil
}

// CreateAccount registers a new account with an initial balance.
func (e *Engine) CreateAccount(owner string, balance decimal.Decimal, currency string) (domain.Account, error) {
	if strings.TrimSpace(owner) == "" {
		return domain.Account{}, domain.Errf(domain.KindInvalidRequest, "owner is required")
	}
	if balance.IsNegative() {
		return domain.Account{}, domain.Errf(domain.KindInvalidRequest, "initial balance must not be negative")
	}
	if !e.currencies.Recognized(currency) {
		return domain.Account{}, domain.Errf(domain.KindInvalidRequest, "currency %q is not recognized", currency)
	}

	acc := domain.Account{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Owner:    strings.TrimSpace(owner),
		Balance:  balance,
		Currency: strings.ToUpper(strings.TrimSpace(currency)),
	}
	if err := e.store.Create(acc); err != nil {
		return domain.Account{}, err
	}

	if err := e.appendJournal(store.Record{
		Type: store.RecordAccountCreated, Account: acc.ID, Owner: acc.Owner,
		Currency: acc.Currency, Balance: acc.Balance, At: time.Now().UTC(),
	}); err != nil {
		// The row exists only in memory at this point; undo so a restart
		// cannot disagree with the journal.
		_ = e.store.Delete(acc.ID)
		return domain.Account{}, err
	}

	telemetry.AccountCount.Set(float64(len(e.store.List())))
	return acc, nil
}

// DeleteAccount removes an account. The row lock is taken so an in-flight
// transfer cannot lose its counterparty mid-commit.
func (e *Engine) DeleteAccount(ctx context.Context, id string) (err error) {
	u := uow.Begin()
	defer u.Rollback()

	if err = e.acquire(ctx, u, id); err != nil {
		return err
	}
	acc, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if err = e.store.Delete(id); err != nil {
		return err
	}
	// The journal append can still fail; keep the delete undoable until commit
	// so a failure surfaces with the account fully restored.
	u.OnRollback(func() { _ = e.store.Create(acc) })

	if err = e.appendJournal(store.Record{
		Type: store.RecordAccountDeleted, Account: id, At: time.Now().UTC(),
	}); err != nil {
		return err
	}

	u.Commit()
	telemetry.AccountCount.Set(float64(len(e.store.List())))
	return nil
}

// GetAccount returns a snapshot of one account.
func (e *Engine) GetAccount(id string) (domain.Account, error) {
	return e.store.Get(id)
}

// ListAccounts returns a point-in-time snapshot of all accounts.
func (e *Engine) ListAccounts() []domain.Account {
	return e.store.List()
}

func (e *Engine) validateTransfer(req domain.TransferRequest) error {
	if strings.TrimSpace(req.FromAccount) == "" || strings.TrimSpace(req.ToAccount) == "" {
		return domain.Errf(domain.KindInvalidRequest, "both account ids are required")
	}
	if !req.Amount.IsPositive() {
		return domain.Errf(domain.KindInvalidRequest, "amount must be greater than zero")
	}
	if req.Amount.Exponent() < -domain.BalanceScale {
		return domain.Errf(domain.KindInvalidRequest, "amount has more than %d fractional digits", domain.BalanceScale)
	}
	if !e.currencies.Recognized(req.Currency) {
		return domain.Errf(domain.KindInvalidRequest, "currency %q is not recognized", req.Currency)
	}
	return nil
}

func (e *Engine) acquire(ctx context.Context, u *uow.UnitOfWork, ids ...string) error {
	lockStart := time.Now()
	err := e.locks.Acquire(ctx, u, ids...)
	telemetry.LockWaitDuration.Observe(time.Since(lockStart).Seconds())
	if domain.IsKind(err, domain.KindLockTimeout) {
		telemetry.LockTimeoutsTotal.Inc()
	}
	return err
}

// write stages a balance write, normalizing unexpected store errors to
// StorageFailure so the caller's taxonomy stays closed.
func (e *Engine) write(u *uow.UnitOfWork, id string, balance decimal.Decimal) error {
	if err := e.store.Write(u, id, balance); err != nil {
		if domain.KindOf(err) != "" {
			return err
		}
		return domain.WrapErr(domain.KindStorageFailure, err, "failed to write balance for account %s", id)
	}
	return nil
}

func (e *Engine) appendJournal(records ...store.Record) error {
	if e.journal == nil {
		return nil
	}
	start := time.Now()
	if err := e.journal.Append(records...); err != nil {
		return domain.WrapErr(domain.KindStorageFailure, err, "journal append failed")
	}
	telemetry.JournalWriteDuration.Observe(time.Since(start).Seconds())
	for _, rec := range records {
		telemetry.JournalRecordsTotal.WithLabelValues(rec.Type).Inc()
	}
	return nil
}

// outcome maps an error to the status label used by the attempt counters.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if kind := domain.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func finishSpan(span trace.Span, err error) {
	if !span.IsRecording() {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
