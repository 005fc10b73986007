package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/mbd888/riskwatch/internal/detection"
)

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printJob(j detection.JobResult) {
	rows := [][2]string{
		{"job_id", j.JobID},
		{"type", string(j.JobType)},
		{"status", string(j.Status)},
		{"started_at", j.StartedAt.Format(time.RFC3339)},
		{"duration", fmt.Sprintf("%.2fs", j.DurationSeconds)},
	}
	switch j.JobType {
	case detection.JobFeatures:
		rows = append(rows,
			[2]string{"window_days", strconv.Itoa(j.WindowDays)},
			[2]string{"accounts", strconv.Itoa(j.AccountsProcessed)},
			[2]string{"devices", strconv.Itoa(j.DevicesProcessed)},
		)
	case detection.JobDetection:
		rows = append(rows,
			[2]string{"evaluated", strconv.Itoa(j.UsersEvaluated)},
			[2]string{"skipped", strconv.Itoa(j.UsersSkipped)},
			[2]string{"flagged", strconv.Itoa(j.UsersFlagged)},
		)
	}
	rows = append(rows,
		[2]string{"write_failures", strconv.Itoa(j.WriteFailures)},
		[2]string{"entity_errors", strconv.Itoa(len(j.Errors))},
	)
	if j.Error != "" {
		rows = append(rows, [2]string{"error", j.Error})
	}
	printKV(rows)
}

func printHistory(h historyResponse) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tTYPE\tSTATUS\tSTARTED\tDURATION\tERRORS")
	for _, j := range h.Jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2fs\t%d\n",
			j.JobID, j.JobType, j.Status, j.StartedAt.Format(time.RFC3339), j.DurationSeconds, len(j.Errors))
	}
	_ = w.Flush()
	if h.NextCursor != "" {
		fmt.Printf("next: --cursor %s\n", h.NextCursor)
	}
}

func printFlagged(f flaggedResponse) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "USER\tSCORE\tACCOUNT\tFLAGGED\tREASON")
	for _, e := range f.Flagged {
		_, _ = fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\t%s\n",
			e.UserID, e.RiskScore, e.HighestRiskAccount, e.FlaggedAt.Format(time.RFC3339), e.Reason)
	}
	_ = w.Flush()
	if f.NextCursor != "" {
		fmt.Printf("next: --cursor %s\n", f.NextCursor)
	}
}
