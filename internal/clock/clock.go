// Package clock provides wall time in the configured cron zone. The zone
// defines the semantic meaning of a job's (hour, minute).
package clock

import (
	"log/slog"
	"time"
)

// seoulOffset is the fixed fallback for the default zone when the IANA
// database is unavailable on the host (KST has no DST).
const seoulOffset = 9 * 60 * 60

// Clock resolves the configured zone once and hands out local/UTC time.
type Clock struct {
	loc *time.Location
}

// New resolves name with fallbacks: IANA lookup, a fixed offset for the
// well-known default zone, then the system zone.
func New(name string, logger *slog.Logger) *Clock {
	if loc, err := time.LoadLocation(name); err == nil {
		return &Clock{loc: loc}
	}
	if name == "Asia/Seoul" {
		logger.Warn("tz database missing Asia/Seoul, using fixed KST offset")
		return &Clock{loc: time.FixedZone("KST", seoulOffset)}
	}
	logger.Warn("unknown timezone, falling back to system zone", "tz", name)
	if time.Local != nil {
		return &Clock{loc: time.Local}
	}
	return &Clock{loc: time.UTC}
}

func (c *Clock) Location() *time.Location { return c.loc }

func (c *Clock) NowLocal() time.Time { return time.Now().In(c.loc) }

func (c *Clock) NowUTC() time.Time { return time.Now().UTC() }

// ToUTCMinute zeroes seconds and sub-seconds of a local instant and
// converts it to UTC. The result is the scheduled-minute key used for
// heartbeats and run claims.
func ToUTCMinute(local time.Time) time.Time {
	t := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, local.Location())
	return t.UTC()
}
