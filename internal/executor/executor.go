// Package executor sequences the steps of one claimed job run and records
// the step log.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetcron/fleetcron/internal/domain"
	"github.com/fleetcron/fleetcron/internal/httpstep"
	"github.com/fleetcron/fleetcron/internal/repository"
)

// StepRunner is satisfied by *httpstep.Runner.
type StepRunner interface {
	Run(ctx context.Context, step *domain.Step, defaults httpstep.Defaults, secrets map[string]string) (httpstep.Outcome, httpstep.Info)
}

type Executor struct {
	runner StepRunner
	runs   repository.RunStore
	logger *slog.Logger
}

func New(runner StepRunner, runs repository.RunStore, logger *slog.Logger) *Executor {
	return &Executor{
		runner: runner,
		runs:   runs,
		logger: logger.With("component", "executor"),
	}
}

// Execute runs the job's action chain in order. Non-http steps and steps
// whose when-predicate rejects the current local time are recorded as
// skipped. A failed step aborts the remainder unless continue_on_failure
// is set. A flat job is treated as a one-step chain.
//
// Each step log entry is appended to the persisted run as soon as the step
// finishes; a store failure there is logged but does not stop the chain.
func (e *Executor) Execute(
	ctx context.Context,
	key domain.RunKey,
	job *domain.Job,
	nowLocal time.Time,
	globalDefaults httpstep.Defaults,
	secrets map[string]string,
) (domain.RunStatus, []domain.StepLog) {
	jobDefaults := globalDefaults.Merge(job.TimeoutSec, job.Retry)

	status := domain.RunStatusOK
	var logs []domain.StepLog

	for idx, step := range job.Steps() {
		if !step.IsHTTP() {
			logs = append(logs, e.record(ctx, key, domain.StepLog{
				Index:  idx,
				Name:   step.DisplayName(),
				Status: domain.StepStatusSkippedUnsupported,
			}))
			continue
		}
		if !step.When.Matches(nowLocal) {
			logs = append(logs, e.record(ctx, key, domain.StepLog{
				Index:  idx,
				Name:   step.DisplayName(),
				Status: domain.StepStatusSkippedWhen,
			}))
			continue
		}

		outcome, info := e.runner.Run(ctx, &step, jobDefaults, secrets)

		entry := domain.StepLog{
			Index:          idx,
			Name:           step.DisplayName(),
			StatusCode:     info.StatusCode,
			ElapsedMS:      info.ElapsedMS,
			Attempts:       info.Attempts,
			ResponseSample: info.ResponseSample,
		}
		if outcome == httpstep.OutcomeOK {
			entry.Status = domain.StepStatusOK
		} else {
			entry.Status = domain.StepStatusError
			entry.Error = info.Error
		}
		logs = append(logs, e.record(ctx, key, entry))

		if outcome != httpstep.OutcomeOK {
			status = domain.RunStatusError
			if !step.ContinueOnFailure {
				break
			}
		}
	}

	return status, logs
}

func (e *Executor) record(ctx context.Context, key domain.RunKey, entry domain.StepLog) domain.StepLog {
	if err := e.runs.AppendStep(ctx, key, entry); err != nil {
		e.logger.Error("append step log", "step", entry.Index, "error", err)
	}
	return entry
}
