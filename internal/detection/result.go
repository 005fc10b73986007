package detection

import (
	"time"

	"github.com/mbd888/riskwatch/internal/entity"
	"github.com/mbd888/riskwatch/internal/kvstore"
)

// JobType names the two batch jobs the runner executes.
type JobType string

const (
	JobFeatures  JobType = "feature_computation"
	JobDetection JobType = "detection"
)

// Status is the outcome of a finished job.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// State is the runner's lifecycle: Idle until the first job, Running while a
// job holds the runner, then Completed or Failed after the last job.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Entity kinds reported in EntityError.
const (
	KindAccount = "account"
	KindDevice  = "device"
	KindUser    = "user"
)

// EntityError records one entity that was skipped.
type EntityError struct {
	EntityID string `json:"entity_id"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// JobResult summarizes one job run. It is also the job history entry.
type JobResult struct {
	JobID           string    `json:"job_id"`
	JobType         JobType   `json:"job_type"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`

	WindowDays   int  `json:"window_days,omitempty"`
	SkipCooldown bool `json:"skip_cooldown,omitempty"`

	AccountsProcessed int `json:"accounts_processed"`
	DevicesProcessed  int `json:"devices_processed"`
	UsersEvaluated    int `json:"users_evaluated"`
	UsersSkipped      int `json:"users_skipped"`
	UsersFlagged      int `json:"users_flagged"`

	// WriteFailures counts records a batch write did not persist.
	WriteFailures int `json:"write_failures"`

	// Errors lists entities skipped because of a compute or decode error.
	// It may be non-empty on a completed job.
	Errors []EntityError `json:"errors"`

	// Error is set only on a failed job.
	Error string `json:"error,omitempty"`

	ConfigVersion int64 `json:"config_version"`
}

func (r *JobResult) addError(kind, id string, err error) {
	r.Errors = append(r.Errors, EntityError{EntityID: id, Kind: kind, Message: err.Error()})
}

// Record returns the history entry form of the result.
func (r *JobResult) Record() (kvstore.Record, error) {
	return entity.ToRecord(r)
}

// DecodeJobResult reads a stored history entry.
func DecodeJobResult(rec kvstore.Record) (*JobResult, error) {
	var r JobResult
	if err := entity.FromRecord(rec, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
