package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetcron/fleetcron/internal/domain"
	"github.com/fleetcron/fleetcron/internal/metrics"
	"github.com/fleetcron/fleetcron/internal/repository"
)

// pollInterval is the control-channel poll cadence.
const pollInterval = 5 * time.Second

// Watcher polls the commands collection for reload signals addressed to
// this machine (or "all") and dispatches them in creation order. It only
// touches the thread-safe job index and the atomic config snapshot, so it
// can run alongside the main loop.
type Watcher struct {
	commands  repository.CommandStore
	machineID string
	interval  time.Duration
	logger    *slog.Logger

	reloadJobs   func(ctx context.Context)
	reloadConfig func(ctx context.Context)
}

func NewWatcher(
	commands repository.CommandStore,
	machineID string,
	reloadJobs, reloadConfig func(ctx context.Context),
	logger *slog.Logger,
) *Watcher {
	return &Watcher{
		commands:     commands,
		machineID:    machineID,
		interval:     pollInterval,
		reloadJobs:   reloadJobs,
		reloadConfig: reloadConfig,
		logger:       logger.With("component", "watcher"),
	}
}

func (w *Watcher) Start(ctx context.Context) {
	// Commands created before startup are stale; start the watermark just
	// behind now.
	watermark := time.Now().UTC().Add(-time.Second)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("command watcher started", "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("command watcher shut down")
			return
		case <-ticker.C:
			watermark = w.poll(ctx, watermark)
		}
	}
}

// poll fetches and dispatches pending commands, advancing the watermark
// past each one as it is consumed. Errors never stop polling.
func (w *Watcher) poll(ctx context.Context, watermark time.Time) time.Time {
	cmds, err := w.commands.PollCommandsSince(ctx, watermark, w.machineID)
	if err != nil {
		w.logger.Error("poll commands", "error", err)
		return watermark
	}

	for _, cmd := range cmds {
		watermark = cmd.CreatedAt
		metrics.CommandsTotal.WithLabelValues(string(cmd.Type)).Inc()

		switch cmd.Type {
		case domain.CommandReloadJobs:
			w.logger.Info("reload_jobs command received")
			w.reloadJobs(ctx)
		case domain.CommandReloadConfig:
			w.logger.Info("reload_config command received")
			w.reloadConfig(ctx)
		default:
			w.logger.Warn("unknown command type", "type", string(cmd.Type))
		}
	}
	return watermark
}
