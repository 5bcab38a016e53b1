package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus is the outcome of the most recent run of a batch job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSkipped   JobStatus = "skipped"
)

// JobRun is the persisted record of one batch job, keyed by job name.
// Used for observability and for overlap/staleness checks.
type JobRun struct {
	Name        string          `json:"name"`
	LastRunAt   time.Time       `json:"last_run_at"`
	Processed   int             `json:"processed"`
	Errors      int             `json:"errors"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Duration    time.Duration   `json:"duration"`
	Status      JobStatus       `json:"status"`
}

// TickResult aggregates one run of a daily tick.
type TickResult struct {
	Processed   int             `json:"processed"`
	Released    int             `json:"released"`
	Failed      int             `json:"failed"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// UnlockResult aggregates one run of the commission unlock sweep.
type UnlockResult struct {
	Promoted     int             `json:"promoted"`
	StillPending int             `json:"still_pending"`
	Failed       int             `json:"failed"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}
