package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/riskwatch/internal/entity"
	"github.com/mbd888/riskwatch/internal/features"
	"github.com/mbd888/riskwatch/internal/kvstore"
	"github.com/mbd888/riskwatch/internal/logging"
	"github.com/mbd888/riskwatch/internal/metrics"
	"github.com/mbd888/riskwatch/internal/relcache"
	"github.com/mbd888/riskwatch/internal/risk"
	"github.com/mbd888/riskwatch/internal/traces"
)

// accountOutcome is one slot of the account compute loop.
type accountOutcome struct {
	fact *entity.AccountFact
	err  error
}

func (r *Runner) runFeatures(ctx context.Context, res *JobResult, windowDays int) error {
	ctx, span := traces.StartSpan(ctx, "detection.FeatureJob",
		traces.JobID(res.JobID), traces.JobType(string(JobFeatures)), traces.WindowDays(windowDays))
	defer span.End()
	log := logging.L(ctx)

	cfg := r.configs.Current()
	res.ConfigVersion = cfg.Version
	now := res.StartedAt

	if err := r.store.Ping(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}

	// 1. relationship cache
	cache, err := r.loadCache(ctx)
	if err != nil {
		return err
	}
	accounts := cache.AccountIDs

	// 2. transactions for every known account, covering the window and the
	// lookback used to learn known recipients
	months := entity.MonthsBetween(features.WindowStart(now, 2*windowDays), now)
	keys := make([]string, 0, len(accounts)*len(months))
	for _, acc := range accounts {
		for _, m := range months {
			keys = append(keys, entity.TransactionKey(acc, m))
		}
	}
	txnRecs, err := r.store.BatchGet(ctx, kvstore.SetTransactions, keys)
	if err != nil {
		return fmt.Errorf("batch read transactions: %w", err)
	}

	// 3. existing facts, for the baselines
	prevRecs, err := r.store.BatchGet(ctx, kvstore.SetAccountFacts, accounts)
	if err != nil {
		return fmt.Errorf("batch read account facts: %w", err)
	}

	// 4. compute and score every account
	outcomes := make([]accountOutcome, len(accounts))
	features.ForEachSharded(accounts, r.workers, func(i int, acc string) {
		var fact *entity.AccountFact
		err := safely(func() error {
			var err error
			fact, err = r.computeAccount(ctx, acc, months, txnRecs, prevRecs[acc], cache, windowDays, now, cfg)
			return err
		})
		outcomes[i] = accountOutcome{fact: fact, err: err}
	})

	fresh := make(map[string]*entity.AccountFact, len(accounts))
	accountEntries := make([]kvstore.Entry, 0, len(accounts))
	for i, acc := range accounts {
		o := outcomes[i]
		if o.err == nil {
			var rec kvstore.Record
			rec, o.err = o.fact.Record()
			if o.err == nil {
				fresh[acc] = o.fact
				accountEntries = append(accountEntries, kvstore.Entry{ID: acc, Record: rec})
				continue
			}
		}
		res.addError(KindAccount, acc, o.err)
		metrics.EntityErrorsTotal.WithLabelValues(KindAccount).Inc()
		log.Warn("account skipped", "account_id", acc, "error", o.err)
	}
	res.AccountsProcessed = len(fresh)
	metrics.EntitiesProcessedTotal.WithLabelValues(KindAccount).Add(float64(len(fresh)))

	// 5. persist account facts
	r.writeBatch(ctx, res, kvstore.SetAccountFacts, accountEntries)

	// 6. device features from this run's account facts
	devices := cache.DeviceIDs
	deviceFacts := make([]*entity.DeviceFact, len(devices))
	deviceErrs := make([]error, len(devices))
	features.ForEachSharded(devices, r.workers, func(i int, dev string) {
		deviceErrs[i] = safely(func() error {
			fact, err := features.ComputeDevice(features.DeviceInput{
				DeviceID:   dev,
				Cache:      cache,
				Accounts:   fresh,
				WindowDays: windowDays,
				Now:        now,
			})
			if err != nil {
				return err
			}
			risk.FlagDevice(fact, cfg.Device)
			deviceFacts[i] = fact
			return nil
		})
	})

	deviceEntries := make([]kvstore.Entry, 0, len(devices))
	for i, dev := range devices {
		err := deviceErrs[i]
		if err == nil {
			var rec kvstore.Record
			rec, err = deviceFacts[i].Record()
			if err == nil {
				deviceEntries = append(deviceEntries, kvstore.Entry{ID: dev, Record: rec})
				continue
			}
		}
		res.addError(KindDevice, dev, err)
		metrics.EntityErrorsTotal.WithLabelValues(KindDevice).Inc()
		log.Warn("device skipped", "device_id", dev, "error", err)
	}
	res.DevicesProcessed = len(deviceEntries)
	metrics.EntitiesProcessedTotal.WithLabelValues(KindDevice).Add(float64(len(deviceEntries)))

	// 7. persist device facts
	r.writeBatch(ctx, res, kvstore.SetDeviceFacts, deviceEntries)

	span.SetAttributes(traces.EntityCount(len(accounts) + len(devices)))
	return nil
}

// loadCache scans every user record and indexes it.
func (r *Runner) loadCache(ctx context.Context) (*relcache.Cache, error) {
	users, err := r.store.Scan(ctx, kvstore.SetUsers)
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	cache := relcache.Build(users)
	log := logging.L(ctx)
	if cache.Skipped > 0 {
		log.Warn("malformed user records skipped", "count", cache.Skipped)
	}
	if len(cache.DuplicateAccounts) > 0 {
		log.Warn("accounts owned by more than one user", "account_ids", cache.DuplicateAccounts)
	}
	log.Debug("relationship cache built",
		"users", len(cache.Users),
		"accounts", len(cache.AccountIDs),
		"devices", len(cache.DeviceIDs))
	return cache, nil
}

// computeAccount decodes one account's fetched records, computes its
// features, and embeds the risk assessment.
func (r *Runner) computeAccount(
	ctx context.Context,
	acc string,
	months []time.Time,
	txnRecs map[string]kvstore.Record,
	prevRec kvstore.Record,
	cache *relcache.Cache,
	windowDays int,
	now time.Time,
	cfg risk.Config,
) (*entity.AccountFact, error) {
	var txns []entity.Transaction
	for _, m := range months {
		key := entity.TransactionKey(acc, m)
		rec := txnRecs[key]
		if rec == nil {
			continue
		}
		tr, err := entity.DecodeTransactionRecord(key, rec)
		if err != nil {
			return nil, fmt.Errorf("decode transactions %s: %w", key, err)
		}
		txns = append(txns, tr.Transactions...)
	}

	var prev *entity.AccountFact
	if prevRec != nil {
		p, err := entity.DecodeAccountFact(prevRec)
		if err != nil {
			// an unreadable baseline is treated as none
			logging.L(ctx).Warn("stored account fact unreadable", "account_id", acc, "error", err)
		} else {
			prev = p
		}
	}

	fact, err := features.ComputeAccount(features.AccountInput{
		AccountID:    acc,
		Transactions: txns,
		Previous:     prev,
		Cache:        cache,
		WindowDays:   windowDays,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}

	a := risk.Score(fact, cfg)
	fact.RiskScore = a.RiskScore
	fact.RiskFactors = a.RiskFactors
	return fact, nil
}
