package executor_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/fleetcron/fleetcron/internal/domain"
	"github.com/fleetcron/fleetcron/internal/executor"
	"github.com/fleetcron/fleetcron/internal/httpstep"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ---- fakes ----

type fakeRunner struct {
	// outcomes maps step URL to the outcome to return; anything else is ok.
	outcomes map[string]httpstep.Outcome
	ran      []string
}

func (r *fakeRunner) Run(_ context.Context, step *domain.Step, _ httpstep.Defaults, _ map[string]string) (httpstep.Outcome, httpstep.Info) {
	r.ran = append(r.ran, step.URL)
	if out, ok := r.outcomes[step.URL]; ok && out == httpstep.OutcomeError {
		return httpstep.OutcomeError, httpstep.Info{StatusCode: 500, Attempts: 1, Error: "http 500"}
	}
	return httpstep.OutcomeOK, httpstep.Info{StatusCode: 200, Attempts: 1}
}

type fakeRunStore struct {
	appended []domain.StepLog
}

func (s *fakeRunStore) ClaimRun(context.Context, domain.RunKey, string, int, int) (bool, error) {
	return true, nil
}

func (s *fakeRunStore) AppendStep(_ context.Context, _ domain.RunKey, entry domain.StepLog) error {
	s.appended = append(s.appended, entry)
	return nil
}

func (s *fakeRunStore) FinalizeRun(context.Context, domain.RunKey, domain.RunStatus, time.Time, time.Time) error {
	return nil
}

// ---- helpers ----

var noon = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func newKey() domain.RunKey {
	return domain.RunKey{JobID: primitive.NewObjectID(), ScheduledFor: noon}
}

func httpStep(name, url string) domain.Step {
	return domain.Step{Type: "http", Name: name, Method: "GET", URL: url}
}

func run(t *testing.T, job *domain.Job, runner *fakeRunner, store *fakeRunStore) (domain.RunStatus, []domain.StepLog) {
	t.Helper()
	exec := executor.New(runner, store, slog.Default())
	return exec.Execute(context.Background(), newKey(), job, noon, httpstep.Defaults{TimeoutSec: 10}, nil)
}

// ---- tests ----

func TestExecute_AllStepsOK(t *testing.T) {
	job := &domain.Job{Name: "chain", Actions: []domain.Step{
		httpStep("a", "https://a"),
		httpStep("b", "https://b"),
	}}
	runner := &fakeRunner{}
	store := &fakeRunStore{}

	status, logs := run(t, job, runner, store)

	if status != domain.RunStatusOK {
		t.Fatalf("expected ok, got %s", status)
	}
	if len(logs) != 2 || len(store.appended) != 2 {
		t.Fatalf("expected 2 step logs, got %d in-memory / %d stored", len(logs), len(store.appended))
	}
	for i, l := range logs {
		if l.Status != domain.StepStatusOK || l.Index != i {
			t.Fatalf("step %d: %+v", i, l)
		}
	}
}

func TestExecute_FailureAbortsChain(t *testing.T) {
	job := &domain.Job{Name: "chain", Actions: []domain.Step{
		httpStep("a", "https://a"),
		httpStep("b", "https://b"),
		httpStep("c", "https://c"),
	}}
	runner := &fakeRunner{outcomes: map[string]httpstep.Outcome{"https://b": httpstep.OutcomeError}}
	store := &fakeRunStore{}

	status, logs := run(t, job, runner, store)

	if status != domain.RunStatusError {
		t.Fatalf("expected error, got %s", status)
	}
	if len(runner.ran) != 2 {
		t.Fatalf("step c should not run after b failed; ran %v", runner.ran)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 step logs, got %d", len(logs))
	}
	last := logs[1]
	if last.Status != domain.StepStatusError || last.Error != "http 500" || last.StatusCode != 500 {
		t.Fatalf("failed step log wrong: %+v", last)
	}
}

func TestExecute_ContinueOnFailure(t *testing.T) {
	failing := httpStep("b", "https://b")
	failing.ContinueOnFailure = true
	job := &domain.Job{Name: "chain", Actions: []domain.Step{
		httpStep("a", "https://a"),
		failing,
		httpStep("c", "https://c"),
	}}
	runner := &fakeRunner{outcomes: map[string]httpstep.Outcome{"https://b": httpstep.OutcomeError}}
	store := &fakeRunStore{}

	status, logs := run(t, job, runner, store)

	if len(runner.ran) != 3 {
		t.Fatalf("expected chain to continue past b; ran %v", runner.ran)
	}
	// The errored step still makes the whole run an error.
	if status != domain.RunStatusError {
		t.Fatalf("expected error status, got %s", status)
	}
	if logs[2].Status != domain.StepStatusOK {
		t.Fatalf("step c should have run ok: %+v", logs[2])
	}
}

func TestExecute_SkipsNonHTTPSteps(t *testing.T) {
	job := &domain.Job{Name: "chain", Actions: []domain.Step{
		{Type: "shell", Name: "nope"},
		httpStep("a", "https://a"),
	}}
	runner := &fakeRunner{}
	store := &fakeRunStore{}

	status, logs := run(t, job, runner, store)

	if status != domain.RunStatusOK {
		t.Fatalf("expected ok, got %s", status)
	}
	if logs[0].Status != domain.StepStatusSkippedUnsupported {
		t.Fatalf("expected skipped_unsupported, got %s", logs[0].Status)
	}
	if len(runner.ran) != 1 || runner.ran[0] != "https://a" {
		t.Fatalf("only the http step should run; ran %v", runner.ran)
	}
}

func TestExecute_SkipsWhenPredicateRejects(t *testing.T) {
	gated := httpStep("gated", "https://gated")
	gated.When = &domain.When{HourIn: []int{3}} // now is noon
	job := &domain.Job{Name: "chain", Actions: []domain.Step{gated}}
	runner := &fakeRunner{}
	store := &fakeRunStore{}

	status, logs := run(t, job, runner, store)

	if status != domain.RunStatusOK {
		t.Fatalf("a skipped step must not fail the run, got %s", status)
	}
	if logs[0].Status != domain.StepStatusSkippedWhen {
		t.Fatalf("expected skipped_when, got %s", logs[0].Status)
	}
	if len(runner.ran) != 0 {
		t.Fatalf("gated step must not run; ran %v", runner.ran)
	}
}

func TestExecute_EmptyWhenListRejectsAll(t *testing.T) {
	gated := httpStep("gated", "https://gated")
	gated.When = &domain.When{HourIn: []int{}}
	job := &domain.Job{Name: "chain", Actions: []domain.Step{gated}}
	runner := &fakeRunner{}

	_, logs := run(t, job, runner, &fakeRunStore{})

	if logs[0].Status != domain.StepStatusSkippedWhen {
		t.Fatalf("present-but-empty hour_in must reject, got %s", logs[0].Status)
	}
}

func TestExecute_FlatJobRunsAsOneStep(t *testing.T) {
	job := &domain.Job{Name: "flat", Method: "GET", URL: "https://flat"}
	runner := &fakeRunner{}
	store := &fakeRunStore{}

	status, logs := run(t, job, runner, store)

	if status != domain.RunStatusOK {
		t.Fatalf("expected ok, got %s", status)
	}
	if len(logs) != 1 || logs[0].Name != "flat" {
		t.Fatalf("expected one step named after the job, got %+v", logs)
	}
	if len(runner.ran) != 1 || runner.ran[0] != "https://flat" {
		t.Fatalf("flat url should run; ran %v", runner.ran)
	}
}
