package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/riskwatch/internal/entity"
	"github.com/mbd888/riskwatch/internal/kvstore"
	"github.com/mbd888/riskwatch/internal/logging"
	"github.com/mbd888/riskwatch/internal/pagination"
	"github.com/mbd888/riskwatch/internal/risk"
)

var (
	ErrAccountNotFound = errors.New("detection: account fact not found")
	ErrUserNotFound    = errors.New("detection: user not found")
)

// AssessAccount scores the stored fact of one account under the active
// config. Nothing is written.
func (r *Runner) AssessAccount(ctx context.Context, accountID string) (*risk.Assessment, error) {
	rec, err := r.store.Get(ctx, kvstore.SetAccountFacts, accountID)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account fact: %w", err)
	}
	fact, err := entity.DecodeAccountFact(rec)
	if err != nil {
		return nil, err
	}
	if fact.AccountID == "" {
		fact.AccountID = accountID
	}
	a := risk.Score(fact, r.configs.Current())
	return &a, nil
}

// AssessUser aggregates the stored facts of one user's accounts under the
// active config. Nothing is written.
func (r *Runner) AssessUser(ctx context.Context, userID string) (*risk.UserAssessment, error) {
	rec, err := r.store.Get(ctx, kvstore.SetUsers, userID)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u, err := entity.DecodeUser(userID, rec)
	if err != nil {
		return nil, err
	}

	accounts := u.AccountIDs()
	facts, err := r.store.BatchGet(ctx, kvstore.SetAccountFacts, accounts)
	if err != nil {
		return nil, fmt.Errorf("batch read account facts: %w", err)
	}

	cfg := r.configs.Current()
	assessments := make([]risk.Assessment, 0, len(accounts))
	for _, acc := range accounts {
		if facts[acc] == nil {
			continue
		}
		fact, err := entity.DecodeAccountFact(facts[acc])
		if err != nil {
			logging.L(ctx).Warn("unreadable account fact", "account_id", acc, "error", err)
			continue
		}
		if fact.AccountID == "" {
			fact.AccountID = acc
		}
		assessments = append(assessments, risk.Score(fact, cfg))
	}
	ua := risk.AggregateUser(u.ID, assessments)
	return &ua, nil
}

// ListFlagged returns review-queue entries, most recently flagged first.
func (r *Runner) ListFlagged(ctx context.Context, limit int, cursor string) ([]*entity.FlaggedAccount, string, error) {
	c, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}
	entries, err := r.store.Scan(ctx, kvstore.SetFlagged)
	if err != nil {
		return nil, "", fmt.Errorf("scan flagged accounts: %w", err)
	}

	flagged := make([]*entity.FlaggedAccount, 0, len(entries))
	for _, e := range entries {
		f, err := entity.DecodeFlaggedAccount(e.Record)
		if err != nil {
			logging.L(ctx).Warn("unreadable flagged entry", "user_id", e.ID, "error", err)
			continue
		}
		if f.UserID == "" {
			f.UserID = e.ID
		}
		flagged = append(flagged, f)
	}

	page, next := pagination.Page(flagged, limit, c, func(f *entity.FlaggedAccount) (time.Time, string) {
		return f.FlaggedAt, f.UserID
	})
	return page, next, nil
}
