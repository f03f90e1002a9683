// Package httpstep executes one HTTP step with merged timeout/retry
// configuration and bounded retry with backoff.
package httpstep

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fleetcron/fleetcron/internal/domain"
	"github.com/fleetcron/fleetcron/internal/metrics"
	"github.com/fleetcron/fleetcron/internal/templates"
)

type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// ResponseSampleMax is the maximum number of code points kept from a
// response body.
const ResponseSampleMax = 2000

// Info carries the observable result of the last attempt.
type Info struct {
	StatusCode     int
	ElapsedMS      int64
	ResponseSample string
	Attempts       int
	Error          string
}

// Defaults is the fully-resolved retry/timeout configuration for one step.
// Precedence, low to high: global http_defaults, job-level overrides,
// step-level overrides — each level overriding per field.
type Defaults struct {
	TimeoutSec int
	Retries    int
	DelaySec   float64
	Backoff    float64
}

// Merge applies a partial override level on top of d.
func (d Defaults) Merge(timeoutSec *int, retry *domain.RetryPolicy) Defaults {
	out := d
	if timeoutSec != nil {
		out.TimeoutSec = *timeoutSec
	}
	if retry != nil {
		if retry.Retries != nil {
			out.Retries = *retry.Retries
		}
		if retry.DelaySec != nil {
			out.DelaySec = *retry.DelaySec
		}
		if retry.Backoff != nil {
			out.Backoff = *retry.Backoff
		}
	}
	return out
}

// Runner executes steps over one of three transports, selected per step.
type Runner struct {
	standard  Transport
	challenge Transport
	curl      Transport
	logger    *slog.Logger

	// sleep is swappable in tests; returns false when ctx was cancelled.
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewRunner(caBundle string, logger *slog.Logger) (*Runner, error) {
	standard, err := NewStandardTransport(caBundle)
	if err != nil {
		return nil, fmt.Errorf("standard transport: %w", err)
	}

	r := &Runner{
		standard: standard,
		curl:     NewCurlTransport(caBundle),
		logger:   logger.With("component", "httpstep"),
		sleep:    sleepCtx,
	}

	// Challenge-tolerant transport is best-effort; fall back to standard
	// when it cannot be constructed.
	if challenge, err := NewChallengeTransport(caBundle); err == nil {
		r.challenge = challenge
	} else {
		r.logger.Warn("challenge transport unavailable, using standard", "error", err)
		r.challenge = standard
	}

	return r, nil
}

// challengeURLToken marks hosts that sit behind bot challenges.
const challengeURLToken = "render.com"

func (r *Runner) transportFor(step *domain.Step, method string) Transport {
	if step.UseCurl && method == http.MethodGet {
		return r.curl
	}
	if step.UseCloudscraper || strings.Contains(step.URL, challengeURLToken) {
		return r.challenge
	}
	return r.standard
}

// Run performs up to retries+1 attempts of the step. Templates are
// resolved against the secret map on every attempt; between failed
// attempts it sleeps the configured delay, scaled by backoff when
// backoff > 1. Returns ok on the first 2xx response.
func (r *Runner) Run(ctx context.Context, step *domain.Step, defaults Defaults, secrets map[string]string) (Outcome, Info) {
	plan := defaults.Merge(step.TimeoutSec, step.Retry)

	method := strings.ToUpper(step.Method)
	if method == "" {
		method = http.MethodGet
	}
	transport := r.transportFor(step, method)
	timeout := time.Duration(plan.TimeoutSec) * time.Second

	delay := plan.DelaySec
	attempts := 0
	var last Info

	for {
		attempts++
		req := &Request{
			Method:  method,
			URL:     templates.ResolveString(step.URL, secrets),
			Headers: resolveStringMap(step.Headers, secrets),
			Params:  resolveStringMap(step.Params, secrets),
			Body:    templates.Resolve(step.Body, secrets),
			Timeout: timeout,
		}

		start := time.Now()
		resp, err := transport.Send(ctx, req)
		elapsed := time.Since(start)

		metrics.StepAttemptsTotal.Inc()

		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			metrics.StepDuration.WithLabelValues("ok").Observe(elapsed.Seconds())
			return OutcomeOK, Info{
				StatusCode:     resp.StatusCode,
				ElapsedMS:      elapsed.Milliseconds(),
				ResponseSample: truncateSample(resp.Body),
				Attempts:       attempts,
			}
		}

		metrics.StepDuration.WithLabelValues("error").Observe(elapsed.Seconds())
		if err != nil {
			last = Info{Error: err.Error(), ElapsedMS: elapsed.Milliseconds()}
		} else {
			last = Info{
				Error:          fmt.Sprintf("http %d", resp.StatusCode),
				StatusCode:     resp.StatusCode,
				ElapsedMS:      elapsed.Milliseconds(),
				ResponseSample: truncateSample(resp.Body),
			}
		}

		if attempts > plan.Retries {
			last.Attempts = attempts
			return OutcomeError, last
		}

		r.logger.Warn("step attempt failed, will retry",
			"url", step.URL,
			"attempt", attempts,
			"max_attempts", plan.Retries+1,
			"delay_sec", delay,
			"error", last.Error,
		)

		if !r.sleep(ctx, time.Duration(delay*float64(time.Second))) {
			last.Attempts = attempts
			return OutcomeError, last
		}
		if plan.Backoff > 1 {
			delay *= plan.Backoff
		}
	}
}

func resolveStringMap(m map[string]string, secrets map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = templates.ResolveString(v, secrets)
	}
	return out
}

// truncateSample caps s at ResponseSampleMax code points.
func truncateSample(s string) string {
	runes := []rune(s)
	if len(runes) <= ResponseSampleMax {
		return s
	}
	return string(runes[:ResponseSampleMax])
}

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
