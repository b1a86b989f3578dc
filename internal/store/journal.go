package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moneta/money-transfer/internal/domain"
)

// Record types written to the journal.
const (
	RecordAccountCreated = "account_created"
	RecordBalanceWritten = "balance_written"
	RecordAccountDeleted = "account_deleted"
)

// Record is one committed change, line-delimited JSON on disk.
type Record struct {
	Type          string          `json:"type"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Account       string          `json:"account"`
	Owner         string          `json:"owner,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	Balance       decimal.Decimal `json:"balance"`
	At            time.Time       `json:"at"`
}

// Journal provides append-only durable storage for committed account changes.
// It is written only after a unit of work has fully validated and applied its
// writes, so replaying it can never reproduce a partial transfer.
type Journal struct {
	filePath string
	file     *os.File
	mu       sync.Mutex
}

// OpenJournal opens (or creates) the journal file at the given path.
func OpenJournal(filePath string) (*Journal, error) {
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &Journal{filePath: filePath, file: file}, nil
}

// Append writes a batch of records and syncs once. The batch is the set of
// changes from a single committed unit of work.
func (j *Journal) Append(records ...Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to serialize journal record: %w", err)
		}

		data = append(data, '\n')
		if _, err := j.file.Write(data); err != nil {
			return fmt.Errorf("failed to write journal record: %w", err)
		}
	}

	// Ensure durability
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}

	return nil
}

// LoadAll reads every record from the journal.
func (j *Journal) LoadAll() ([]Record, error) {
	file, err := os.Open(j.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("failed to open journal for reading: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode journal record at line %d: %w", lineNum, err)
		}

		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading journal: %w", err)
	}

	return records, nil
}

// Replay rebuilds the store's account table from the journal.
func (j *Journal) Replay(s *MemStore) error {
	records, err := j.LoadAll()
	if err != nil {
		return err
	}

	for _, rec := range records {
		switch rec.Type {
		case RecordAccountCreated:
			if err := s.Create(domain.Account{
				ID:       rec.Account,
				Owner:    rec.Owner,
				Balance:  rec.Balance,
				Currency: rec.Currency,
			}); err != nil {
				return fmt.Errorf("replay: %w", err)
			}
		case RecordBalanceWritten:
			s.mu.Lock()
			if a, ok := s.accts[rec.Account]; ok {
				a.Balance = rec.Balance
			}
			s.mu.Unlock()
		case RecordAccountDeleted:
			s.mu.Lock()
			delete(s.accts, rec.Account)
			s.mu.Unlock()
		}
	}

	return nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		return j.file.Close()
	}
	return nil
}
