package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusOK      RunStatus = "ok"
	RunStatusError   RunStatus = "error"
)

type StepStatus string

const (
	StepStatusOK                 StepStatus = "ok"
	StepStatusError              StepStatus = "error"
	StepStatusSkippedWhen        StepStatus = "skipped_when"
	StepStatusSkippedUnsupported StepStatus = "skipped_unsupported"
)

// RunKey identifies one JobRun: a job at one scheduled UTC minute. The
// store enforces uniqueness on this pair.
type RunKey struct {
	JobID        primitive.ObjectID
	ScheduledFor time.Time
}

// StepLog is the persisted record of one step within a run.
type StepLog struct {
	Index          int        `bson:"index"`
	Name           string     `bson:"name"`
	Status         StepStatus `bson:"status"`
	StatusCode     int        `bson:"status_code,omitempty"`
	ElapsedMS      int64      `bson:"elapsed_ms,omitempty"`
	Attempts       int        `bson:"attempts,omitempty"`
	ResponseSample string     `bson:"response_sample,omitempty"`
	Error          string     `bson:"error,omitempty"`
}

// JobRun is the claim-and-result record for one (job, scheduled minute).
// At most one claimed_by is ever set for a given key.
type JobRun struct {
	JobID                 primitive.ObjectID `bson:"job_id"`
	ScheduledFor          time.Time          `bson:"scheduled_for"`
	ClaimedBy             string             `bson:"claimed_by,omitempty"`
	ClaimedAt             *time.Time         `bson:"claimed_at,omitempty"`
	ExecutedOrderValue    int                `bson:"executed_order_value,omitempty"`
	ExecutedOrderPosition int                `bson:"executed_order_position,omitempty"`
	Status                RunStatus          `bson:"status,omitempty"`
	Steps                 []StepLog          `bson:"steps,omitempty"`
	StartAt               *time.Time         `bson:"start_at,omitempty"`
	EndAt                 *time.Time         `bson:"end_at,omitempty"`
}
