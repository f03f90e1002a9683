// Package coordinator elects a single executor per scheduled minute across
// the fleet, using only per-machine heartbeats and the atomic run claim.
//
// The staircase delay ((position-1) x 5s) gives earlier machines a window
// to heartbeat before later machines check; the unique-claim upsert then
// resolves any residual race. A crashed higher-priority machine yields
// naturally because its last_online_minute never advances.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fleetcron/fleetcron/internal/clock"
	"github.com/fleetcron/fleetcron/internal/domain"
	"github.com/fleetcron/fleetcron/internal/httpstep"
	"github.com/fleetcron/fleetcron/internal/jobindex"
	"github.com/fleetcron/fleetcron/internal/metrics"
	"github.com/fleetcron/fleetcron/internal/notify"
	"github.com/fleetcron/fleetcron/internal/repository"
)

// OffsetStepSec is the per-position staircase delay.
const OffsetStepSec = 5

// ChainExecutor is satisfied by *executor.Executor.
type ChainExecutor interface {
	Execute(ctx context.Context, key domain.RunKey, job *domain.Job, nowLocal time.Time,
		defaults httpstep.Defaults, secrets map[string]string) (domain.RunStatus, []domain.StepLog)
}

// Placement is this agent's standing for one scheduled minute.
type Placement struct {
	OrderValue int
	Position   int
	Wait       time.Duration
	Abandoned  bool
}

// ExecEnv is the per-tick configuration snapshot Execute runs under.
type ExecEnv struct {
	Defaults httpstep.Defaults
	Secrets  map[string]string
	Notifier notify.Notifier
}

type Coordinator struct {
	machines repository.MachineStore
	jobs     repository.JobStore
	runs     repository.RunStore
	index    *jobindex.Index
	exec     ChainExecutor
	logger   *slog.Logger

	machineID  string
	hostname   string
	offsetStep time.Duration
}

func New(
	machines repository.MachineStore,
	jobs repository.JobStore,
	runs repository.RunStore,
	index *jobindex.Index,
	exec ChainExecutor,
	machineID, hostname string,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		machines:   machines,
		jobs:       jobs,
		runs:       runs,
		index:      index,
		exec:       exec,
		machineID:  machineID,
		hostname:   hostname,
		offsetStep: OffsetStepSec * time.Second,
		logger:     logger.With("component", "coordinator"),
	}
}

// position returns this agent's 1-based index and coalesced order value in
// the fleet sorted by (order_value, machine_id). An unknown machine ranks
// first rather than aborting the minute.
func (c *Coordinator) position(machines []*domain.Machine) (int, int) {
	for idx, m := range machines {
		if m.MachineID == c.machineID {
			return idx + 1, m.OrderValue
		}
	}
	return 1, domain.DefaultOrderValue
}

// PhaseA runs at second 0 of the scheduled minute: heartbeat, compute
// position, decide between immediate execution (Wait == 0), a deferred
// re-check, or abandoning the minute entirely when the position exceeds
// the active cap.
func (c *Coordinator) PhaseA(ctx context.Context, minuteLocal time.Time, maxActive int) (*Placement, error) {
	minuteUTC := clock.ToUTCMinute(minuteLocal)

	if err := c.machines.UpdateHeartbeat(ctx, c.machineID, minuteUTC); err != nil {
		metrics.HeartbeatFailuresTotal.Inc()
		return nil, err
	}

	machines, err := c.machines.ListMachinesSorted(ctx)
	if err != nil {
		return nil, err
	}

	pos, orderValue := c.position(machines)
	metrics.TickPosition.Set(float64(pos))

	p := &Placement{OrderValue: orderValue, Position: pos}
	if maxActive > 0 && pos > maxActive {
		p.Abandoned = true
		metrics.TicksSkippedTotal.WithLabelValues("over_cap").Inc()
		c.logger.Info("position over active cap, abandoning minute",
			"position", pos, "max_active", maxActive)
		return p, nil
	}

	p.Wait = time.Duration(pos-1) * c.offsetStep
	return p, nil
}

// PhaseB runs after the staircase wait: re-fetch the fleet, recompute the
// position, and stand down when any earlier machine has heartbeat-reported
// for this minute (it will execute).
func (c *Coordinator) PhaseB(ctx context.Context, minuteLocal time.Time, p *Placement) (bool, error) {
	minuteUTC := clock.ToUTCMinute(minuteLocal)

	machines, err := c.machines.ListMachinesSorted(ctx)
	if err != nil {
		return false, err
	}

	pos, orderValue := c.position(machines)
	p.Position = pos
	p.OrderValue = orderValue

	for _, m := range machines[:pos-1] {
		if m.OnlineAt(minuteUTC) {
			metrics.TicksSkippedTotal.WithLabelValues("earlier_online").Inc()
			c.logger.Info("earlier machine online this minute, standing down",
				"earlier", m.MachineID, "position", pos)
			return false, nil
		}
	}
	return true, nil
}

// Execute is Phase C: claim and run every job due at the scheduled minute.
// Per-job failures never abort the loop over the remaining jobs.
func (c *Coordinator) Execute(ctx context.Context, minuteLocal time.Time, p *Placement, env ExecEnv) {
	minuteUTC := clock.ToUTCMinute(minuteLocal)

	due := c.index.ListFor(minuteLocal.Hour(), minuteLocal.Minute())
	if len(due) == 0 {
		c.logger.Info("no jobs due this minute")
		return
	}

	for _, stale := range due {
		// Re-read: the job may have been deleted or disabled since the
		// index was loaded.
		job, err := c.jobs.GetEnabled(ctx, stale.ID)
		if err != nil {
			if errors.Is(err, domain.ErrJobNotFound) {
				c.logger.Info("job gone or disabled, skipping", "job", stale.DisplayName())
			} else {
				c.logger.Error("refresh job", "job", stale.DisplayName(), "error", err)
			}
			continue
		}

		key := domain.RunKey{JobID: job.ID, ScheduledFor: minuteUTC}

		claimed, err := c.runs.ClaimRun(ctx, key, c.machineID, p.OrderValue, p.Position)
		if err != nil {
			c.logger.Error("claim run", "job", job.DisplayName(), "error", err)
			continue
		}
		if !claimed {
			metrics.ClaimsTotal.WithLabelValues("lost").Inc()
			c.logger.Info("run claimed by another machine, skipping", "job", job.DisplayName())
			continue
		}
		metrics.ClaimsTotal.WithLabelValues("won").Inc()

		c.runOne(ctx, key, job, minuteLocal, p, env)
	}
}

func (c *Coordinator) runOne(ctx context.Context, key domain.RunKey, job *domain.Job, minuteLocal time.Time, p *Placement, env ExecEnv) {
	c.logger.Info("executing job", "job", job.DisplayName())
	start := time.Now().UTC()

	status, steps := c.exec.Execute(ctx, key, job, minuteLocal, env.Defaults, env.Secrets)

	end := time.Now().UTC()
	if err := c.runs.FinalizeRun(ctx, key, status, start, end); err != nil {
		c.logger.Error("finalize run", "job", job.DisplayName(), "error", err)
	}
	metrics.RunsCompletedTotal.WithLabelValues(string(status)).Inc()
	c.logger.Info("job finished", "job", job.DisplayName(), "status", string(status), "duration", end.Sub(start))

	if env.Notifier == nil {
		return
	}
	report := buildReport(job, minuteLocal, c.hostname, p, status, steps, end.Sub(start))
	if err := env.Notifier.RunFinished(ctx, report); err != nil {
		c.logger.Warn("notify run finished", "job", job.DisplayName(), "error", err)
	}
}

func buildReport(job *domain.Job, minuteLocal time.Time, hostname string, p *Placement,
	status domain.RunStatus, steps []domain.StepLog, duration time.Duration) notify.RunReport {
	report := notify.RunReport{
		JobName:        job.DisplayName(),
		ScheduledLocal: minuteLocal,
		Host:           hostname,
		OrderValue:     p.OrderValue,
		Position:       p.Position,
		Duration:       duration,
		StepCount:      len(steps),
		Status:         status,
	}
	for _, s := range steps {
		if s.Status == domain.StepStatusError {
			report.FailedStepName = s.Name
			report.FailedStepError = s.Error
			report.FailedAttempts = s.Attempts
			break
		}
	}
	return report
}
