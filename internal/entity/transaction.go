package entity

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskwatch/internal/kvstore"
)

// Direction of a transaction relative to its account.
type Direction string

const (
	DirectionOut Direction = "out"
	DirectionIn  Direction = "in"
)

const monthLayout = "2006-01"

// Transaction is one immutable money movement.
type Transaction struct {
	ID           string
	AccountID    string
	Amount       decimal.Decimal
	Direction    Direction
	Counterparty string
	Timestamp    time.Time
	Type         string
	Method       string
	Location     string
	Status       string
}

// Outgoing reports whether money left the account.
func (t Transaction) Outgoing() bool {
	return t.Direction == DirectionOut
}

// TransactionRecord groups one account's transactions for one calendar month.
type TransactionRecord struct {
	AccountID    string
	Month        string // YYYY-MM
	Transactions []Transaction
}

// TransactionKey is the store id of the record holding accountID's
// transactions for the month containing t.
func TransactionKey(accountID string, t time.Time) string {
	return accountID + ":" + t.UTC().Format(monthLayout)
}

// MonthsBetween returns the first instant of every calendar month (UTC)
// overlapping [from, to], oldest first.
func MonthsBetween(from, to time.Time) []time.Time {
	from, to = from.UTC(), to.UTC()
	if to.Before(from) {
		return nil
	}
	cur := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []time.Time
	for !cur.After(to) {
		out = append(out, cur)
		cur = cur.AddDate(0, 1, 0)
	}
	return out
}

// DecodeTransactionRecord builds a TransactionRecord from its stored form.
// Entries without a usable timestamp are dropped. The result is sorted by
// timestamp.
func DecodeTransactionRecord(id string, rec kvstore.Record) (*TransactionRecord, error) {
	if rec == nil {
		return nil, errEmptyRecord
	}
	if err := kvstore.Corrupt(rec); err != nil {
		return nil, err
	}

	tr := &TransactionRecord{
		AccountID: asString(rec["account_id"]),
		Month:     asString(rec["month"]),
	}
	if tr.AccountID == "" || tr.Month == "" {
		if i := strings.LastIndex(id, ":"); i > 0 {
			if tr.AccountID == "" {
				tr.AccountID = id[:i]
			}
			if tr.Month == "" {
				tr.Month = id[i+1:]
			}
		}
	}

	for key, v := range asMap(rec["transactions"]) {
		m := asMap(v)
		if m == nil {
			continue
		}
		ts, ok := asTime(m["timestamp"])
		if !ok {
			if ts, ok = asTime(key); !ok {
				continue
			}
		}
		txn := Transaction{
			ID:           asString(m["txn_id"]),
			AccountID:    tr.AccountID,
			Amount:       asDecimal(m["amount"]).Abs(),
			Direction:    Direction(strings.ToLower(asString(m["direction"]))),
			Counterparty: asString(m["counterparty"]),
			Timestamp:    ts,
			Type:         asString(m["type"]),
			Method:       asString(m["method"]),
			Location:     asString(m["location"]),
			Status:       asString(m["status"]),
		}
		if txn.ID == "" {
			txn.ID = asString(m["id"])
		}
		tr.Transactions = append(tr.Transactions, txn)
	}

	SortTransactions(tr.Transactions)
	return tr, nil
}

// SortTransactions orders by timestamp, then id, so results are stable.
func SortTransactions(txns []Transaction) {
	sort.Slice(txns, func(i, j int) bool {
		if !txns[i].Timestamp.Equal(txns[j].Timestamp) {
			return txns[i].Timestamp.Before(txns[j].Timestamp)
		}
		return txns[i].ID < txns[j].ID
	})
}

// Record returns the stored form of the record.
func (r *TransactionRecord) Record() kvstore.Record {
	txns := make(map[string]any, len(r.Transactions))
	for _, t := range r.Transactions {
		base := t.Timestamp.UTC().Format(time.RFC3339Nano)
		key := base
		// equal timestamps would collide on the map key
		for n := 1; txns[key] != nil; n++ {
			key = base + "#" + strconv.Itoa(n)
		}
		txns[key] = map[string]any{
			"txn_id":       t.ID,
			"amount":       t.Amount.String(),
			"direction":    string(t.Direction),
			"counterparty": t.Counterparty,
			"timestamp":    t.Timestamp.UTC().Format(time.RFC3339Nano),
			"type":         t.Type,
			"method":       t.Method,
			"location":     t.Location,
			"status":       t.Status,
		}
	}
	return kvstore.Record{
		"account_id":   r.AccountID,
		"month":        r.Month,
		"transactions": txns,
	}
}

// GroupByMonth splits transactions into per-month records keyed by
// TransactionKey. Used by ingestion tooling and tests to seed the store.
func GroupByMonth(accountID string, txns []Transaction) map[string]*TransactionRecord {
	out := make(map[string]*TransactionRecord)
	for _, t := range txns {
		key := TransactionKey(accountID, t.Timestamp)
		rec, ok := out[key]
		if !ok {
			rec = &TransactionRecord{AccountID: accountID, Month: t.Timestamp.UTC().Format(monthLayout)}
			out[key] = rec
		}
		rec.Transactions = append(rec.Transactions, t)
	}
	return out
}
