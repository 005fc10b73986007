package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/riskwatch/internal/kvstore"
	"github.com/mbd888/riskwatch/internal/logging"
	"github.com/mbd888/riskwatch/internal/pagination"
)

// recordHistory writes res to the job history. A failure is logged; it never
// changes the job's outcome.
func (r *Runner) recordHistory(ctx context.Context, res *JobResult) {
	rec, err := res.Record()
	if err == nil {
		err = r.store.Put(ctx, kvstore.SetJobHistory, res.JobID, rec)
	}
	if err != nil {
		logging.L(ctx).Warn("failed to record job history", "error", err)
	}
}

// History returns up to limit job results, most recent first, starting
// after cursor. The second return value is the cursor for the next page.
func (r *Runner) History(ctx context.Context, limit int, cursor string) ([]*JobResult, string, error) {
	c, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}
	entries, err := r.store.Scan(ctx, kvstore.SetJobHistory)
	if err != nil {
		return nil, "", fmt.Errorf("scan job history: %w", err)
	}

	results := make([]*JobResult, 0, len(entries))
	for _, e := range entries {
		res, err := DecodeJobResult(e.Record)
		if err != nil {
			logging.L(ctx).Warn("unreadable job history entry", "job_id", e.ID, "error", err)
			continue
		}
		if res.JobID == "" {
			res.JobID = e.ID
		}
		results = append(results, res)
	}

	page, next := pagination.Page(results, limit, c, func(res *JobResult) (time.Time, string) {
		return res.StartedAt, res.JobID
	})
	return page, next, nil
}
