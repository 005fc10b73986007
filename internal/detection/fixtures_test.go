package detection

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskwatch/internal/entity"
	"github.com/mbd888/riskwatch/internal/kvstore"
	"github.com/mbd888/riskwatch/internal/risk"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("job-%03d", n)
	}
}

type fixture struct {
	mem     *kvstore.MemoryStore
	store   *kvstore.Instrumented
	configs *risk.ConfigStore
	clock   *fakeClock
	runner  *Runner
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mem := kvstore.NewMemoryStore()
	configs, err := risk.NewConfigStore(risk.DefaultConfig())
	require.NoError(t, err)
	f := &fixture{
		mem:     mem,
		store:   kvstore.Instrument(mem),
		configs: configs,
		clock:   &fakeClock{t: testNow},
	}
	opts = append([]Option{WithClock(f.clock.Now), WithIDGenerator(sequentialIDs())}, opts...)
	f.runner = NewRunner(f.store, configs, nil, opts...)
	return f
}

// seed writes three users:
//
//	u1 owns a1 and a2 and uses d1. a1 pays one familiar recipient 150 times.
//	u2 owns a3 and uses d1 and d2. a3 is quiet.
//	u3 owns a4, a fraud-flagged account, and uses d2.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	users := map[string]kvstore.Record{
		"u1": {
			"name":      "Ada",
			"kyc_level": "full",
			"accounts": map[string]any{
				"a1": map[string]any{"account_type": "checking", "created_date": "2024-01-01"},
				"a2": map[string]any{"account_type": "savings", "created_date": "2024-01-01"},
			},
			"devices": map[string]any{"d1": map[string]any{"device_type": "mobile"}},
		},
		"u2": {
			"name":     "Bo",
			"accounts": map[string]any{"a3": map[string]any{"created_date": "2025-06-01"}},
			"devices": map[string]any{
				"d1": map[string]any{},
				"d2": map[string]any{},
			},
		},
		"u3": {
			"name":     "Cy",
			"accounts": map[string]any{"a4": map[string]any{"created_date": "2025-06-01", "fraud_flag": true}},
			"devices":  map[string]any{"d2": map[string]any{}},
		},
	}
	for id, rec := range users {
		require.NoError(t, f.mem.Put(ctx, kvstore.SetUsers, id, rec))
	}

	txns := []entity.Transaction{outTxn("prior", testNow.AddDate(0, 0, -11), 100, "landlord")}
	start := testNow.AddDate(0, 0, -7).Add(time.Hour)
	for i := 0; i < 150; i++ {
		txns = append(txns, outTxn(fmt.Sprintf("t%03d", i), start.Add(time.Duration(i)*time.Hour), 100, "landlord"))
	}
	f.putTransactions(t, "a1", txns)
	f.putTransactions(t, "a3", []entity.Transaction{
		outTxn("q1", testNow.AddDate(0, 0, -2), 40, "grocer"),
	})
}

func (f *fixture) putTransactions(t *testing.T, accountID string, txns []entity.Transaction) {
	t.Helper()
	for key, tr := range entity.GroupByMonth(accountID, txns) {
		require.NoError(t, f.mem.Put(context.Background(), kvstore.SetTransactions, key, tr.Record()))
	}
}

func outTxn(id string, at time.Time, amount int64, to string) entity.Transaction {
	return entity.Transaction{
		ID:           id,
		Amount:       decimal.NewFromInt(amount),
		Direction:    entity.DirectionOut,
		Counterparty: to,
		Timestamp:    at,
	}
}

func (f *fixture) accountFact(t *testing.T, id string) *entity.AccountFact {
	t.Helper()
	rec, err := f.mem.Get(context.Background(), kvstore.SetAccountFacts, id)
	require.NoError(t, err)
	fact, err := entity.DecodeAccountFact(rec)
	require.NoError(t, err)
	return fact
}

func (f *fixture) deviceFact(t *testing.T, id string) *entity.DeviceFact {
	t.Helper()
	rec, err := f.mem.Get(context.Background(), kvstore.SetDeviceFacts, id)
	require.NoError(t, err)
	fact, err := entity.DecodeDeviceFact(rec)
	require.NoError(t, err)
	return fact
}

func (f *fixture) user(t *testing.T, id string) (*entity.User, kvstore.Record) {
	t.Helper()
	rec, err := f.mem.Get(context.Background(), kvstore.SetUsers, id)
	require.NoError(t, err)
	u, err := entity.DecodeUser(id, rec)
	require.NoError(t, err)
	return u, rec
}
