// Package repository defines the store interfaces the agent depends on.
// Components depend on these, not on the Mongo implementations, so tests
// can pass fakes and the database could be swapped without touching the
// coordination logic.
package repository

import (
	"context"
	"time"

	"github.com/fleetcron/fleetcron/internal/domain"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MachineStore interface {
	// EnsureMachine upserts the machine row: on insert it seeds the order
	// value with the default sentinel; on every call it refreshes hostname
	// and last_seen. Returns the current document.
	EnsureMachine(ctx context.Context, machineID, hostname string) (*domain.Machine, error)

	// UpdateHeartbeat asserts liveness for the scheduled minute.
	UpdateHeartbeat(ctx context.Context, machineID string, minuteUTC time.Time) error

	// ListMachinesSorted returns the whole fleet ordered by
	// (order_value ASC, machine_id ASC).
	ListMachinesSorted(ctx context.Context) ([]*domain.Machine, error)
}

type JobStore interface {
	ListEnabled(ctx context.Context) ([]*domain.Job, error)

	// GetEnabled re-reads one job right before execution; returns
	// domain.ErrJobNotFound when it was deleted or disabled.
	GetEnabled(ctx context.Context, id primitive.ObjectID) (*domain.Job, error)
}

type RunStore interface {
	// ClaimRun atomically reserves the (job, minute) run for claimant.
	// Returns true iff the post-condition has claimed_by == claimant.
	// A duplicate-key race is a lost claim, not an error.
	ClaimRun(ctx context.Context, key domain.RunKey, claimant string, orderValue, position int) (bool, error)

	AppendStep(ctx context.Context, key domain.RunKey, step domain.StepLog) error

	FinalizeRun(ctx context.Context, key domain.RunKey, status domain.RunStatus, start, end time.Time) error
}

type CommandStore interface {
	// PollCommandsSince returns commands addressed to machineID or "all"
	// created strictly after the watermark, oldest first.
	PollCommandsSince(ctx context.Context, watermark time.Time, machineID string) ([]*domain.Command, error)

	InsertCommand(ctx context.Context, cmdType domain.CommandType, target string) error
}

type NotificationStore interface {
	// GetNotificationConfig reads the singleton document; returns
	// domain.ErrNoNotificationConfig when absent.
	GetNotificationConfig(ctx context.Context) (*domain.NotificationConfig, error)
}
