package detection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mbd888/riskwatch/internal/entity"
	"github.com/mbd888/riskwatch/internal/features"
	"github.com/mbd888/riskwatch/internal/kvstore"
	"github.com/mbd888/riskwatch/internal/logging"
	"github.com/mbd888/riskwatch/internal/metrics"
	"github.com/mbd888/riskwatch/internal/risk"
	"github.com/mbd888/riskwatch/internal/traces"
)

// Eligible reports whether a user last evaluated at last may be evaluated
// again at now. A user never evaluated is always eligible.
func Eligible(last *time.Time, now time.Time, cooldownDays int) bool {
	if last == nil || cooldownDays <= 0 {
		return true
	}
	return now.Sub(*last) >= time.Duration(cooldownDays)*24*time.Hour
}

// userOutcome is one slot of the user evaluation loop.
type userOutcome struct {
	user      *entity.User
	ua        risk.UserAssessment
	flagged   *entity.FlaggedAccount
	scored    int
	acctErrs  []EntityError
	err       error
	evaluated bool
}

func (r *Runner) runDetection(ctx context.Context, res *JobResult, skipCooldown bool) error {
	ctx, span := traces.StartSpan(ctx, "detection.DetectionJob",
		traces.JobID(res.JobID), traces.JobType(string(JobDetection)))
	defer span.End()
	log := logging.L(ctx)

	cfg := r.configs.Current()
	res.ConfigVersion = cfg.Version
	now := res.StartedAt
	cooldown := cfg.CooldownDays
	if skipCooldown {
		cooldown = 0
	}

	if err := r.store.Ping(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}

	cache, err := r.loadCache(ctx)
	if err != nil {
		return err
	}

	userIDs := make([]string, 0, len(cache.Users))
	for id := range cache.Users {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	var eligible, accounts []string
	for _, id := range userIDs {
		if !Eligible(cache.Users[id].LastEvaluated, now, cooldown) {
			res.UsersSkipped++
			continue
		}
		eligible = append(eligible, id)
		accounts = append(accounts, cache.UserAccounts[id]...)
	}
	log.Info("users selected for evaluation",
		"eligible", len(eligible),
		"cooldown_skipped", res.UsersSkipped,
		"cooldown_days", cooldown)

	factRecs, err := r.store.BatchGet(ctx, kvstore.SetAccountFacts, accounts)
	if err != nil {
		return fmt.Errorf("batch read account facts: %w", err)
	}

	outcomes := make([]userOutcome, len(eligible))
	features.ForEachSharded(eligible, r.workers, func(i int, uid string) {
		o := &outcomes[i]
		o.err = safely(func() error {
			r.evaluateUser(o, cache.Users[uid], cache.UserAccounts[uid], factRecs, now, cfg)
			return nil
		})
	})

	var userEntries, flaggedEntries []kvstore.Entry
	for i, uid := range eligible {
		o := outcomes[i]
		for _, e := range o.acctErrs {
			res.Errors = append(res.Errors, e)
			metrics.EntityErrorsTotal.WithLabelValues(KindAccount).Inc()
			log.Warn("account fact skipped", "account_id", e.EntityID, "user_id", uid, "error", e.Message)
		}
		if o.err != nil || !o.evaluated {
			if o.err == nil {
				o.err = fmt.Errorf("user %s not evaluated", uid)
			}
			res.addError(KindUser, uid, o.err)
			metrics.EntityErrorsTotal.WithLabelValues(KindUser).Inc()
			log.Warn("user skipped", "user_id", uid, "error", o.err)
			continue
		}

		res.UsersEvaluated++
		res.AccountsProcessed += o.scored
		userEntries = append(userEntries, kvstore.Entry{ID: uid, Record: o.user.Record()})
		if o.flagged == nil {
			continue
		}
		rec, err := o.flagged.Record()
		if err != nil {
			res.addError(KindUser, uid, err)
			continue
		}
		res.UsersFlagged++
		flaggedEntries = append(flaggedEntries, kvstore.Entry{ID: uid, Record: rec})
		log.Info("user flagged for review",
			"user_id", uid,
			"risk_score", o.ua.RiskScore,
			"highest_risk_account", o.flagged.HighestRiskAccount)
	}
	metrics.EntitiesProcessedTotal.WithLabelValues(KindUser).Add(float64(res.UsersEvaluated))
	metrics.UsersFlaggedTotal.Add(float64(res.UsersFlagged))

	r.writeBatch(ctx, res, kvstore.SetUsers, userEntries)
	r.writeBatch(ctx, res, kvstore.SetFlagged, flaggedEntries)

	span.SetAttributes(traces.EntityCount(len(eligible)))
	return nil
}

// evaluateUser scores one user's stored account facts and updates the
// user's evaluation metadata. The user value is a private copy.
func (r *Runner) evaluateUser(
	o *userOutcome,
	cached *entity.User,
	accounts []string,
	factRecs map[string]kvstore.Record,
	now time.Time,
	cfg risk.Config,
) {
	u := *cached
	o.user = &u

	assessments := make([]risk.Assessment, 0, len(accounts))
	for _, acc := range accounts {
		rec := factRecs[acc]
		if rec == nil {
			// not computed yet
			continue
		}
		fact, err := entity.DecodeAccountFact(rec)
		if err != nil {
			o.acctErrs = append(o.acctErrs, EntityError{EntityID: acc, Kind: KindAccount, Message: err.Error()})
			continue
		}
		if fact.AccountID == "" {
			fact.AccountID = acc
		}
		assessments = append(assessments, risk.Score(fact, cfg))
	}
	o.scored = len(assessments)

	o.ua = risk.AggregateUser(u.ID, assessments)
	u.MarkEvaluated(now, o.ua.RiskScore)
	o.evaluated = true

	if o.ua.HighestRiskAccount == nil || o.ua.RiskScore < cfg.RiskThreshold {
		return
	}
	u.WorkflowStatus = entity.WorkflowPendingReview
	o.flagged = &entity.FlaggedAccount{
		UserID:             u.ID,
		RiskScore:          o.ua.RiskScore,
		RiskFactors:        o.ua.RiskFactors,
		Reason:             o.ua.HighestRiskAccount.Reason,
		HighestRiskAccount: o.ua.HighestRiskAccount.AccountID,
		Status:             entity.WorkflowPendingReview,
		FlaggedAt:          now,
		ConfigVersion:      cfg.Version,
	}
}
