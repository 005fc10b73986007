// Package kvstore is the record store the risk engine reads users and
// transactions from and writes computed facts to.
//
// Records are loosely typed maps grouped into named sets. Every backend strips
// nil fields before writing (see Clean), so callers never special-case nulls.
package kvstore

import (
	"context"
	"errors"
)

// Set names used by the engine.
const (
	SetUsers        = "users"
	SetTransactions = "transactions"
	SetAccountFacts = "account_facts"
	SetDeviceFacts  = "device_facts"
	SetFlagged      = "flagged_accounts"
	SetJobHistory   = "job_history"
)

var (
	ErrNotFound    = errors.New("kvstore: record not found")
	ErrUnavailable = errors.New("kvstore: store unavailable")
)

// Record is a single stored record: field name → value.
type Record map[string]any

// Entry pairs a record with its id within a set.
type Entry struct {
	ID     string
	Record Record
}

// BatchResult reports the outcome of a BatchPut. Failed lists the ids that
// were not written.
type BatchResult struct {
	Succeeded int      `json:"succeeded"`
	Failed    []string `json:"failed,omitempty"`
}

// FailedCount returns the number of entries that were not written.
func (r BatchResult) FailedCount() int {
	return len(r.Failed)
}

// Store is the minimal key-value surface the engine depends on.
type Store interface {
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Scan returns every record in a set, ordered by id. A value that cannot
	// be decoded comes back as a placeholder record; see Corrupt.
	Scan(ctx context.Context, set string) ([]Entry, error)

	// BatchGet fetches many records in one round-trip. Every requested id is
	// present in the result; missing records map to nil and undecodable
	// ones to a placeholder record.
	BatchGet(ctx context.Context, set string, ids []string) (map[string]Record, error)

	// BatchPut upserts many records in one round-trip. Per-entry failures are
	// reported in the result; the error is reserved for failures that kept the
	// batch from being attempted at all.
	BatchPut(ctx context.Context, set string, entries []Entry) (BatchResult, error)

	// Get returns ErrNotFound when the record does not exist.
	Get(ctx context.Context, set, id string) (Record, error)
	Put(ctx context.Context, set, id string, rec Record) error

	// Truncate removes every record in a set.
	Truncate(ctx context.Context, set string) error
}
