// Package notify reports finished job runs to outbound channels. Delivery
// failures are never fatal to a tick.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fleetcron/fleetcron/internal/domain"
	"github.com/fleetcron/fleetcron/internal/metrics"
)

// RunReport is everything a channel needs to describe a finished run.
type RunReport struct {
	JobName        string
	ScheduledLocal time.Time
	Host           string
	OrderValue     int
	Position       int
	Duration       time.Duration
	StepCount      int
	Status         domain.RunStatus

	// First failing step, when Status is error.
	FailedStepName  string
	FailedStepError string
	FailedAttempts  int
}

// Failed reports whether the run ended in error.
func (r RunReport) Failed() bool { return r.Status == domain.RunStatusError }

// Message renders the human-readable notification text.
func (r RunReport) Message() string {
	var b strings.Builder
	if r.Failed() {
		fmt.Fprintf(&b, "❌ %s failed\n", r.JobName)
	} else {
		fmt.Fprintf(&b, "✅ %s ok\n", r.JobName)
	}
	fmt.Fprintf(&b, "scheduled: %s\n", r.ScheduledLocal.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "host: %s (order %d, position %d)\n", r.Host, r.OrderValue, r.Position)
	fmt.Fprintf(&b, "duration: %s, steps: %d", r.Duration.Round(time.Millisecond), r.StepCount)
	if r.Failed() && r.FailedStepError != "" {
		fmt.Fprintf(&b, "\nfailed step: %s\nerror: %s (attempts %d)",
			r.FailedStepName, r.FailedStepError, r.FailedAttempts)
	}
	return b.String()
}

// Notifier delivers a run report to one channel.
type Notifier interface {
	RunFinished(ctx context.Context, report RunReport) error
}

// LogNotifier logs reports instead of sending them — used in ENV=local and
// as the fallback when no channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) RunFinished(_ context.Context, report RunReport) error {
	n.logger.Info("run finished",
		"job", report.JobName,
		"status", string(report.Status),
		"duration", report.Duration,
		"steps", report.StepCount,
	)
	return nil
}

// MultiNotifier fans one report out to several channels; the first error
// is returned after all channels were tried.
type MultiNotifier []Notifier

func (m MultiNotifier) RunFinished(ctx context.Context, report RunReport) error {
	var firstErr error
	for _, n := range m {
		if err := n.RunFinished(ctx, report); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EmailSettings configures the optional Resend channel.
type EmailSettings struct {
	APIKey string
	From   string
	To     string
}

// NewNotifier selects channels: LogNotifier for ENV=local or when nothing
// is configured; otherwise Telegram (when the singleton config exists) plus
// email (when fully configured).
func NewNotifier(env string, tg *domain.NotificationConfig, email EmailSettings, logger *slog.Logger) Notifier {
	if env == "local" {
		return NewLogNotifier(logger)
	}

	var channels MultiNotifier
	if tg != nil && tg.Token != "" {
		channels = append(channels, NewTelegramNotifier(*tg))
	}
	if email.APIKey != "" && email.From != "" && email.To != "" {
		channels = append(channels, NewEmailNotifier(email.APIKey, email.From, email.To))
	}
	if len(channels) == 0 {
		return NewLogNotifier(logger)
	}
	return channels
}

// observe records the delivery outcome for a channel.
func observe(channel string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.NotificationsTotal.WithLabelValues(channel, outcome).Inc()
}
