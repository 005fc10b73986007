package features

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskwatch/internal/entity"
	"github.com/mbd888/riskwatch/internal/kvstore"
	"github.com/mbd888/riskwatch/internal/relcache"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func testCache(created string) *relcache.Cache {
	acct := map[string]any{}
	if created != "" {
		acct["created_date"] = created
	}
	return relcache.Build([]kvstore.Entry{{ID: "u1", Record: kvstore.Record{
		"accounts": map[string]any{"a1": acct},
		"devices":  map[string]any{"d1": map[string]any{}},
	}}})
}

func out(at time.Time, amount int64, to string) entity.Transaction {
	return entity.Transaction{
		ID:           fmt.Sprintf("%s-%d-%s", to, at.Unix(), decimal.NewFromInt(amount)),
		Amount:       decimal.NewFromInt(amount),
		Direction:    entity.DirectionOut,
		Counterparty: to,
		Timestamp:    at,
	}
}

func in(at time.Time, amount int64) entity.Transaction {
	return entity.Transaction{
		ID:        fmt.Sprintf("in-%d", at.Unix()),
		Amount:    decimal.NewFromInt(amount),
		Direction: entity.DirectionIn,
		Timestamp: at,
	}
}

func TestComputeAccount_NoTransactions(t *testing.T) {
	f, err := ComputeAccount(AccountInput{
		AccountID:  "a1",
		Cache:      testCache("2025-01-01"),
		WindowDays: 7,
		Now:        testNow,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, f.TxnOutCount)
	assert.Equal(t, 0, f.MaxTxnPerDay)
	assert.Zero(t, f.AvgTxnPerDay)
	assert.Zero(t, f.AvgOutAmount)
	assert.Zero(t, f.MaxOutAmount)
	assert.Equal(t, 0, f.UniqueRecipients)
	assert.Zero(t, f.NewRecipientRatio)
	assert.Zero(t, f.RecipientEntropy)
	assert.Zero(t, f.VelocityZScore)
	assert.Zero(t, f.AmountZScore)
	assert.Zero(t, f.FirstTxnDelayDays)
	assert.Equal(t, 1, f.DeviceCount)
	assert.Equal(t, testNow, f.LastComputed)
}

func TestComputeAccount_Velocity(t *testing.T) {
	day := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	txns := []entity.Transaction{
		out(day, 10, "r1"),
		out(day.Add(10*time.Minute), 10, "r1"),
		out(day.Add(20*time.Minute), 10, "r1"),
		out(day.Add(2*time.Hour), 10, "r1"),
		out(day.Add(24*time.Hour), 10, "r1"),
		in(day.Add(time.Hour), 500),
		out(testNow.Add(time.Hour), 10, "r1"),    // future
		out(testNow.AddDate(0, 0, -8), 10, "r1"), // before window
		out(WindowStart(testNow, 7), 10, "r1"),   // inclusive start
	}

	f, err := ComputeAccount(AccountInput{
		AccountID:    "a1",
		Transactions: txns,
		Cache:        testCache("2025-01-01"),
		WindowDays:   7,
		Now:          testNow,
	})
	require.NoError(t, err)

	assert.Equal(t, 6, f.TxnOutCount)
	assert.Equal(t, 4, f.MaxTxnPerDay)
	assert.Equal(t, 3, f.MaxTxnPerHour)
	assert.InDelta(t, 6.0/7, f.AvgTxnPerDay, 1e-4)
}

func TestComputeAccount_Amounts(t *testing.T) {
	base := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	txns := []entity.Transaction{
		out(base, 100, "r1"),
		out(base.Add(time.Hour), 250, "r2"),
		out(base.Add(2*time.Hour), 50, "r1"),
		in(base.Add(3*time.Hour), 10000),
	}

	f, err := ComputeAccount(AccountInput{
		AccountID:    "a1",
		Transactions: txns,
		Cache:        testCache("2025-01-01"),
		WindowDays:   7,
		Now:          testNow,
	})
	require.NoError(t, err)

	assert.Equal(t, 400.0, f.TotalOutAmount)
	assert.InDelta(t, 133.33, f.AvgOutAmount, 0.001)
	assert.Equal(t, 250.0, f.MaxOutAmount)
}

func TestComputeAccount_Counterparty(t *testing.T) {
	base := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	txns := []entity.Transaction{
		out(base.AddDate(0, 0, -10), 5, "r1"), // known before the window
		out(base.AddDate(0, 0, -9), 5, "r2"),
		out(base, 5, "r1"),
		out(base.Add(time.Hour), 5, "r3"),
		out(base.Add(2*time.Hour), 5, "r4"),
		out(base.Add(3*time.Hour), 5, "r2"),
	}

	f, err := ComputeAccount(AccountInput{
		AccountID:    "a1",
		Transactions: txns,
		Cache:        testCache("2025-01-01"),
		WindowDays:   7,
		Now:          testNow,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, f.UniqueRecipients)
	assert.InDelta(t, 0.5, f.NewRecipientRatio, 1e-9)
	assert.InDelta(t, 2.0, f.RecipientEntropy, 1e-9)
}

func TestComputeAccount_SingleRecipientZeroEntropy(t *testing.T) {
	base := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	f, err := ComputeAccount(AccountInput{
		AccountID:    "a1",
		Transactions: []entity.Transaction{out(base, 5, "r1"), out(base.Add(time.Minute), 5, "r1")},
		Cache:        testCache("2025-01-01"),
		WindowDays:   7,
		Now:          testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.UniqueRecipients)
	assert.Zero(t, f.RecipientEntropy)
	assert.Equal(t, 1.0, f.NewRecipientRatio)
}

func TestComputeAccount_BaselinesAndZScores(t *testing.T) {
	base := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	var txns []entity.Transaction
	for i := 0; i < 20; i++ {
		txns = append(txns, out(base.Add(time.Duration(i)*time.Hour), 200, "r1"))
	}
	prev := &entity.AccountFact{HistTxnMean: 10, HistAmountMean: 100, HistAmountStd: 20}

	f, err := ComputeAccount(AccountInput{
		AccountID:    "a1",
		Transactions: txns,
		Previous:     prev,
		Cache:        testCache("2025-01-01"),
		WindowDays:   7,
		Now:          testNow,
	})
	require.NoError(t, err)

	// (20 - 10) / max(1, 10*0.5)
	assert.InDelta(t, 2.0, f.VelocityZScore, 1e-9)
	// (200 - 100) / 20
	assert.InDelta(t, 5.0, f.AmountZScore, 1e-9)

	assert.InDelta(t, 11.0, f.HistTxnMean, 1e-9)
	assert.InDelta(t, 110.0, f.HistAmountMean, 1e-9)
	// sqrt(0.9*20^2 + 0.1*90^2)
	assert.InDelta(t, 34.2053, f.HistAmountStd, 1e-3)
}

func TestComputeAccount_FirstRunBaselines(t *testing.T) {
	base := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	f, err := ComputeAccount(AccountInput{
		AccountID:    "a1",
		Transactions: []entity.Transaction{out(base, 300, "r1"), out(base.Add(time.Hour), 100, "r2")},
		Cache:        testCache("2025-01-01"),
		WindowDays:   7,
		Now:          testNow,
	})
	require.NoError(t, err)

	assert.Zero(t, f.VelocityZScore, "no baseline is neutral")
	assert.Zero(t, f.AmountZScore)
	assert.Equal(t, 2.0, f.HistTxnMean)
	assert.Equal(t, 200.0, f.HistAmountMean)
	assert.Equal(t, 1.0, f.HistAmountStd)
}

func TestComputeAccount_Lifecycle(t *testing.T) {
	f, err := ComputeAccount(AccountInput{
		AccountID: "a1",
		Transactions: []entity.Transaction{
			in(time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), 100),
			out(time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), 10, "r1"),
		},
		Cache:      testCache("2026-10-15T00:00:00Z"),
		WindowDays: 7,
		Now:        testNow,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, f.AccountAgeDays)
	assert.Equal(t, 1.0, f.FirstTxnDelayDays)
}

func TestComputeAccount_UnknownCreationDate(t *testing.T) {
	f, err := ComputeAccount(AccountInput{
		AccountID:    "a1",
		Transactions: []entity.Transaction{out(time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), 10, "r1")},
		Cache:        testCache(""),
		WindowDays:   7,
		Now:          testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, f.AccountAgeDays)
	assert.Zero(t, f.FirstTxnDelayDays)
	assert.True(t, f.CreationUnknown)
}

func TestComputeAccount_DeviceExposure(t *testing.T) {
	cache := relcache.Build([]kvstore.Entry{
		{ID: "u1", Record: kvstore.Record{
			"accounts": map[string]any{"a1": map[string]any{}, "a2": map[string]any{}},
			"devices":  map[string]any{"d1": map[string]any{}, "d2": map[string]any{}},
		}},
		{ID: "u2", Record: kvstore.Record{
			"accounts": map[string]any{"b1": map[string]any{}},
			"devices":  map[string]any{"d2": map[string]any{}},
		}},
	})

	f, err := ComputeAccount(AccountInput{AccountID: "a1", Cache: cache, WindowDays: 7, Now: testNow})
	require.NoError(t, err)
	assert.Equal(t, 2, f.DeviceCount)
	assert.Equal(t, 2, f.SharedDeviceCount)
}

func TestComputeAccount_Errors(t *testing.T) {
	cache := testCache("")

	_, err := ComputeAccount(AccountInput{Cache: cache, WindowDays: 7, Now: testNow})
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = ComputeAccount(AccountInput{AccountID: "a1", Cache: cache, WindowDays: 0, Now: testNow})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = ComputeAccount(AccountInput{AccountID: "a1", WindowDays: 7, Now: testNow})
	assert.ErrorIs(t, err, ErrMissingCache)
}
