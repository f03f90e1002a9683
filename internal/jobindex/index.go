// Package jobindex keeps the in-memory minute-of-day map of enabled jobs
// and answers next-fire lookups for the tick scheduler.
package jobindex

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetcron/fleetcron/internal/domain"
	"github.com/fleetcron/fleetcron/internal/repository"
)

type minuteKey struct {
	Hour   int
	Minute int
}

// Index is safe for concurrent use: the main loop reads while the command
// watcher reloads. Readers get a snapshot slice, never the bucket itself.
type Index struct {
	jobs   repository.JobStore
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[minuteKey][]*domain.Job
}

func New(jobs repository.JobStore, logger *slog.Logger) *Index {
	return &Index{
		jobs:    jobs,
		logger:  logger.With("component", "jobindex"),
		buckets: map[minuteKey][]*domain.Job{},
	}
}

// Reload replaces the map atomically from the enabled-jobs query.
func (i *Index) Reload(ctx context.Context) error {
	jobs, err := i.jobs.ListEnabled(ctx)
	if err != nil {
		return err
	}

	buckets := map[minuteKey][]*domain.Job{}
	for _, j := range jobs {
		if len(j.Schedules) > 0 {
			for _, sch := range j.Schedules {
				addTo(buckets, j, sch.Hour, sch.Minute)
			}
			continue
		}
		minute := 0
		if j.Minute != nil {
			minute = *j.Minute
		}
		addTo(buckets, j, j.Hour, minute)
	}

	i.mu.Lock()
	i.buckets = buckets
	i.mu.Unlock()

	total := 0
	for _, b := range buckets {
		total += len(b)
	}
	i.logger.Info("job index reloaded", "jobs", len(jobs), "entries", total)
	return nil
}

// addTo registers the job at (hour, minute); a nil hour expands to all 24
// hours at the given minute.
func addTo(buckets map[minuteKey][]*domain.Job, j *domain.Job, hour *int, minute int) {
	if hour == nil {
		for h := 0; h < 24; h++ {
			k := minuteKey{Hour: h, Minute: minute}
			buckets[k] = append(buckets[k], j)
		}
		return
	}
	k := minuteKey{Hour: *hour, Minute: minute}
	buckets[k] = append(buckets[k], j)
}

// ListFor returns a snapshot of the jobs due at (hour, minute).
func (i *Index) ListFor(hour, minute int) []*domain.Job {
	i.mu.Lock()
	defer i.mu.Unlock()
	bucket := i.buckets[minuteKey{Hour: hour, Minute: minute}]
	out := make([]*domain.Job, len(bucket))
	copy(out, bucket)
	return out
}

// Size returns the number of (hour, minute) entries currently indexed.
func (i *Index) Size() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, b := range i.buckets {
		n += len(b)
	}
	return n
}

// NextFireAfter returns the smallest scheduled (hour, minute) strictly
// after t's wall minute, today if possible, else tomorrow. Seconds and
// sub-seconds of the result are zero. ok is false iff the index is empty.
func (i *Index) NextFireAfter(t time.Time) (time.Time, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.buckets) == 0 {
		return time.Time{}, false
	}

	// Rest of today.
	for h := t.Hour(); h < 24; h++ {
		for m := 0; m < 60; m++ {
			if h == t.Hour() && m <= t.Minute() {
				continue
			}
			if _, ok := i.buckets[minuteKey{Hour: h, Minute: m}]; ok {
				return time.Date(t.Year(), t.Month(), t.Day(), h, m, 0, 0, t.Location()), true
			}
		}
	}

	// First slot tomorrow.
	for h := 0; h < 24; h++ {
		for m := 0; m < 60; m++ {
			if _, ok := i.buckets[minuteKey{Hour: h, Minute: m}]; ok {
				return time.Date(t.Year(), t.Month(), t.Day()+1, h, m, 0, 0, t.Location()), true
			}
		}
	}

	return time.Time{}, false
}
