// Package features computes account and device features for one job run.
// Both computers are pure: they read the relationship cache and the records
// already fetched for the entity, and never touch the store.
package features

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskwatch/internal/entity"
	"github.com/mbd888/riskwatch/internal/relcache"
)

// DefaultWindowDays is the sliding window used when a caller gives none.
const DefaultWindowDays = 7

var (
	ErrMissingID     = errors.New("features: entity id is required")
	ErrInvalidWindow = errors.New("features: window days must be positive")
	ErrMissingCache  = errors.New("features: relationship cache is required")
)

// AccountInput is everything ComputeAccount needs for one account.
type AccountInput struct {
	AccountID string

	// Transactions fetched for the account. Entries before the window are
	// used only to learn previously known recipients; entries after Now are
	// ignored.
	Transactions []entity.Transaction

	// Previous is the stored fact from the last run; nil means no baseline.
	Previous *entity.AccountFact

	Cache      *relcache.Cache
	WindowDays int
	Now        time.Time
}

// WindowStart returns the inclusive start of the window ending at now.
func WindowStart(now time.Time, windowDays int) time.Time {
	return now.Add(-time.Duration(windowDays) * 24 * time.Hour)
}

// ComputeAccount derives the account's features for the window ending at
// in.Now and rolls its historical baselines forward. Risk fields are left
// for the scorer.
func ComputeAccount(in AccountInput) (*entity.AccountFact, error) {
	if in.AccountID == "" {
		return nil, ErrMissingID
	}
	if in.WindowDays <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWindow, in.WindowDays)
	}
	if in.Cache == nil {
		return nil, ErrMissingCache
	}

	now := in.Now.UTC()
	start := WindowStart(now, in.WindowDays)

	var (
		outCount   int
		perDay     = make(map[string]int)
		perHour    = make(map[int64]int)
		total      = decimal.Zero
		maxAmount  = decimal.Zero
		recipients = make(map[string]int)
		known      = make(map[string]bool)
		firstTxn   time.Time
	)

	for _, t := range in.Transactions {
		ts := t.Timestamp.UTC()
		if ts.After(now) {
			continue
		}
		if ts.Before(start) {
			if t.Outgoing() && t.Counterparty != "" {
				known[t.Counterparty] = true
			}
			continue
		}
		if firstTxn.IsZero() || ts.Before(firstTxn) {
			firstTxn = ts
		}
		if !t.Outgoing() {
			continue
		}

		outCount++
		perDay[ts.Format("2006-01-02")]++
		perHour[ts.Truncate(time.Hour).Unix()]++
		total = total.Add(t.Amount)
		if t.Amount.GreaterThan(maxAmount) {
			maxAmount = t.Amount
		}
		if t.Counterparty != "" {
			recipients[t.Counterparty]++
		}
	}

	f := &entity.AccountFact{
		AccountID:    in.AccountID,
		TxnOutCount:  outCount,
		MaxTxnPerDay: maxCount(perDay),
		AvgTxnPerDay: round(float64(outCount)/float64(in.WindowDays), 4),
		LastComputed: now,
	}
	for _, n := range perHour {
		if n > f.MaxTxnPerHour {
			f.MaxTxnPerHour = n
		}
	}

	// amount
	f.TotalOutAmount = total.Round(2).InexactFloat64()
	f.MaxOutAmount = maxAmount.Round(2).InexactFloat64()
	if outCount > 0 {
		f.AvgOutAmount = total.Div(decimal.NewFromInt(int64(outCount))).Round(2).InexactFloat64()
	}

	// counterparty
	f.UniqueRecipients = len(recipients)
	if len(recipients) > 0 {
		fresh := 0
		counts := make([]int, 0, len(recipients))
		for r, n := range recipients {
			if !known[r] {
				fresh++
			}
			counts = append(counts, n)
		}
		sort.Ints(counts)
		f.NewRecipientRatio = round(float64(fresh)/float64(len(recipients)), 4)
		f.RecipientEntropy = round(Entropy(counts), 4)
	}

	// device exposure
	f.DeviceCount = in.Cache.DeviceCount(in.AccountID)
	f.SharedDeviceCount = len(in.Cache.SharedDeviceAccounts(in.AccountID))

	// lifecycle
	if age, ok := in.Cache.AccountAgeDays(in.AccountID, now); ok {
		f.AccountAgeDays = age
		if !firstTxn.IsZero() {
			created := in.Cache.AccountCreated[in.AccountID]
			f.FirstTxnDelayDays = round(math.Max(0, firstTxn.Sub(created).Hours()/24), 2)
		}
	} else {
		f.CreationUnknown = true
	}

	// z-scores are taken against the baselines from the previous run
	var prevTxnMean, prevAmtMean, prevAmtStd float64
	if in.Previous != nil {
		prevTxnMean = in.Previous.HistTxnMean
		prevAmtMean = in.Previous.HistAmountMean
		prevAmtStd = in.Previous.HistAmountStd
	}
	if prevTxnMean > 0 {
		f.VelocityZScore = round(ZScore(float64(outCount), prevTxnMean, math.Max(1, prevTxnMean*0.5)), 4)
	}
	f.AmountZScore = round(ZScore(f.MaxOutAmount, prevAmtMean, prevAmtStd), 4)

	f.HistTxnMean = round(EMAMean(prevTxnMean, float64(outCount)), 4)
	f.HistAmountMean = round(EMAMean(prevAmtMean, f.AvgOutAmount), 4)
	f.HistAmountStd = round(EMAStd(prevAmtStd, f.AvgOutAmount, f.HistAmountMean), 4)

	return f, nil
}

func maxCount(m map[string]int) int {
	best := 0
	for _, n := range m {
		if n > best {
			best = n
		}
	}
	return best
}
