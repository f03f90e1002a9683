// Package agent drives the tick loop: wait for the next fire, coordinate
// the minute, execute what is claimed.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/fleetcron/fleetcron/config"
	"github.com/fleetcron/fleetcron/internal/clock"
	"github.com/fleetcron/fleetcron/internal/coordinator"
	"github.com/fleetcron/fleetcron/internal/domain"
	"github.com/fleetcron/fleetcron/internal/httpstep"
	"github.com/fleetcron/fleetcron/internal/jobindex"
	ctxlog "github.com/fleetcron/fleetcron/internal/log"
	"github.com/fleetcron/fleetcron/internal/metrics"
	"github.com/fleetcron/fleetcron/internal/notify"
	"github.com/fleetcron/fleetcron/internal/repository"
)

// maxIdleSleep caps any single wait so new jobs are picked up even while
// the next known fire is hours away.
const maxIdleSleep = 30 * time.Minute

// State is the swappable runtime snapshot: config, the clock derived from
// its timezone, and the notifier derived from its channels. reload_config
// replaces the whole value; each tick reads exactly one.
type State struct {
	Cfg      *config.Config
	Clk      *clock.Clock
	Notifier notify.Notifier
}

type Agent struct {
	state atomic.Pointer[State]

	index         *jobindex.Index
	coord         *coordinator.Coordinator
	notifications repository.NotificationStore
	logger        *slog.Logger

	machineID string
	hostname  string
}

func New(
	initial *State,
	index *jobindex.Index,
	coord *coordinator.Coordinator,
	notifications repository.NotificationStore,
	machineID, hostname string,
	logger *slog.Logger,
) *Agent {
	a := &Agent{
		index:         index,
		coord:         coord,
		notifications: notifications,
		machineID:     machineID,
		hostname:      hostname,
		logger:        logger.With("component", "agent"),
	}
	a.state.Store(initial)
	return a
}

// State returns the current runtime snapshot.
func (a *Agent) State() *State { return a.state.Load() }

// Run is the main loop. It owns all claiming and execution; only timed
// sleeps and blocking store/HTTP calls suspend it. Errors inside one tick
// never abort the loop.
func (a *Agent) Run(ctx context.Context) {
	a.logger.Info("agent started", "machine_id", a.machineID, "host", a.hostname)
	metrics.AgentStartTime.SetToCurrentTime()

	for ctx.Err() == nil {
		st := a.state.Load()
		now := st.Clk.NowLocal()

		next, ok := a.index.NextFireAfter(now)
		if !ok {
			target := nextHalfHour(now)
			a.logger.Info("no jobs scheduled, re-checking at half hour", "at", target.Format("15:04"))
			if !sleepCtx(ctx, target.Sub(now)) {
				break
			}
			a.reloadIndex(ctx)
			continue
		}

		if next.Sub(now) > maxIdleSleep {
			a.logger.Info("next fire beyond 30m, sleeping and re-checking", "next", next.Format("15:04"))
			if !sleepCtx(ctx, maxIdleSleep) {
				break
			}
			a.reloadIndex(ctx)
			continue
		}

		if d := next.Sub(now); d > 0 {
			a.logger.Info("waiting for next fire", "next", next.Format("15:04"), "wait", d.Round(time.Second))
			if !sleepCtx(ctx, d) {
				break
			}
		}

		a.tick(ctx, next)
	}

	a.logger.Info("agent shut down")
}

// tick covers exactly one scheduled minute. Panics are contained here so a
// bad job cannot take the agent down.
func (a *Agent) tick(ctx context.Context, minuteLocal time.Time) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("tick panicked", "panic", r, "stack", string(debug.Stack()))
			sleepCtx(ctx, 5*time.Second)
		}
	}()

	st := a.state.Load()
	metrics.TicksTotal.Inc()
	ctx = ctxlog.WithTick(ctx, ctxlog.TickInfo{ScheduledFor: clock.ToUTCMinute(minuteLocal)})

	// Refresh the job list right before running the minute.
	a.reloadIndex(ctx)

	p, err := a.coord.PhaseA(ctx, minuteLocal, st.Cfg.MaxActive())
	if err != nil {
		a.logger.Error("phase a failed, abandoning minute", "error", err)
		return
	}
	if p.Abandoned {
		return
	}

	env := coordinator.ExecEnv{
		Defaults: defaultsFrom(st.Cfg),
		Secrets:  st.Cfg.Secrets,
		Notifier: st.Notifier,
	}

	if p.Wait == 0 {
		a.coord.Execute(ctx, minuteLocal, p, env)
		return
	}

	a.logger.Info("deferring to earlier machines", "position", p.Position, "wait", p.Wait)
	if !sleepCtx(ctx, p.Wait) {
		return
	}

	proceed, err := a.coord.PhaseB(ctx, minuteLocal, p)
	if err != nil {
		a.logger.Error("phase b failed, abandoning minute", "error", err)
		return
	}
	if proceed {
		a.coord.Execute(ctx, minuteLocal, p, env)
	}
}

// ReloadJobs handles the reload_jobs command.
func (a *Agent) ReloadJobs(ctx context.Context) {
	a.reloadIndex(ctx)
}

// ReloadConfig handles the reload_config command: re-read the file,
// rebuild clock and notifier, swap the snapshot, reload the index.
func (a *Agent) ReloadConfig(ctx context.Context) {
	cfg, err := config.Load()
	if err != nil {
		a.logger.Error("reload config", "error", err)
		return
	}

	tg, err := a.notifications.GetNotificationConfig(ctx)
	if err != nil && !errors.Is(err, domain.ErrNoNotificationConfig) {
		a.logger.Warn("read notification config", "error", err)
	}

	clk := clock.New(cfg.TZ, a.logger)
	a.state.Store(&State{
		Cfg: cfg,
		Clk: clk,
		Notifier: notify.NewNotifier(cfg.Env, tg, notify.EmailSettings{
			APIKey: cfg.Notify.ResendAPIKey,
			From:   cfg.Notify.ResendFrom,
			To:     cfg.Notify.EmailTo,
		}, a.logger),
	})
	a.logger.Info("config reloaded", "tz", cfg.TZ)

	a.reloadIndex(ctx)
}

func (a *Agent) reloadIndex(ctx context.Context) {
	if err := a.index.Reload(ctx); err != nil {
		a.logger.Error("reload job index", "error", err)
	}
}

// Status describes the agent for the local status endpoint.
type Status struct {
	MachineID    string     `json:"machine_id"`
	Hostname     string     `json:"hostname"`
	TZ           string     `json:"tz"`
	IndexEntries int        `json:"index_entries"`
	NextFire     *time.Time `json:"next_fire,omitempty"`
}

func (a *Agent) Status() Status {
	st := a.state.Load()
	s := Status{
		MachineID:    a.machineID,
		Hostname:     a.hostname,
		TZ:           st.Cfg.TZ,
		IndexEntries: a.index.Size(),
	}
	if next, ok := a.index.NextFireAfter(st.Clk.NowLocal()); ok {
		s.NextFire = &next
	}
	return s
}

func defaultsFrom(cfg *config.Config) httpstep.Defaults {
	return httpstep.Defaults{
		TimeoutSec: cfg.HTTPDefaults.TimeoutSec,
		Retries:    cfg.HTTPDefaults.Retry.Retries,
		DelaySec:   cfg.HTTPDefaults.Retry.DelaySec,
		Backoff:    cfg.HTTPDefaults.Retry.Backoff,
	}
}

// nextHalfHour returns the next :00 or :30 boundary strictly after t.
func nextHalfHour(t time.Time) time.Time {
	base := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	if t.Minute() < 30 {
		return base.Add(30 * time.Minute)
	}
	return base.Add(time.Hour)
}

// sleepCtx waits for d; returns false when ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
