package coordinator_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/fleetcron/fleetcron/internal/clock"
	"github.com/fleetcron/fleetcron/internal/coordinator"
	"github.com/fleetcron/fleetcron/internal/domain"
	"github.com/fleetcron/fleetcron/internal/httpstep"
	"github.com/fleetcron/fleetcron/internal/jobindex"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ---- fakes ----

type fakeMachineStore struct {
	machines   []*domain.Machine
	heartbeats []time.Time
}

func (s *fakeMachineStore) EnsureMachine(_ context.Context, machineID, hostname string) (*domain.Machine, error) {
	return &domain.Machine{MachineID: machineID, Hostname: hostname, OrderValue: domain.DefaultOrderValue}, nil
}

func (s *fakeMachineStore) UpdateHeartbeat(_ context.Context, machineID string, minuteUTC time.Time) error {
	s.heartbeats = append(s.heartbeats, minuteUTC)
	for _, m := range s.machines {
		if m.MachineID == machineID {
			t := minuteUTC
			m.LastOnlineMinute = &t
		}
	}
	return nil
}

func (s *fakeMachineStore) ListMachinesSorted(_ context.Context) ([]*domain.Machine, error) {
	return s.machines, nil
}

type fakeJobStore struct {
	jobs []*domain.Job
}

func (s *fakeJobStore) ListEnabled(_ context.Context) ([]*domain.Job, error) {
	return s.jobs, nil
}

func (s *fakeJobStore) GetEnabled(_ context.Context, id primitive.ObjectID) (*domain.Job, error) {
	for _, j := range s.jobs {
		if j.ID == id && j.Enabled {
			return j, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

type fakeRunStore struct {
	claimResult bool
	claims      []domain.RunKey
	finalized   []domain.RunStatus
}

func (s *fakeRunStore) ClaimRun(_ context.Context, key domain.RunKey, _ string, _, _ int) (bool, error) {
	s.claims = append(s.claims, key)
	return s.claimResult, nil
}

func (s *fakeRunStore) AppendStep(context.Context, domain.RunKey, domain.StepLog) error { return nil }

func (s *fakeRunStore) FinalizeRun(_ context.Context, _ domain.RunKey, status domain.RunStatus, _, _ time.Time) error {
	s.finalized = append(s.finalized, status)
	return nil
}

type fakeExec struct {
	executed []string
	status   domain.RunStatus
}

func (e *fakeExec) Execute(_ context.Context, _ domain.RunKey, job *domain.Job, _ time.Time,
	_ httpstep.Defaults, _ map[string]string) (domain.RunStatus, []domain.StepLog) {
	e.executed = append(e.executed, job.Name)
	if e.status == "" {
		return domain.RunStatusOK, nil
	}
	return e.status, nil
}

// ---- helpers ----

const selfID = "machine-self"

func intPtr(v int) *int { return &v }

func machine(id string, order int, online *time.Time) *domain.Machine {
	return &domain.Machine{MachineID: id, OrderValue: order, LastOnlineMinute: online}
}

func jobDue(name string, hour, minute int) *domain.Job {
	return &domain.Job{
		ID:      primitive.NewObjectID(),
		Name:    name,
		Enabled: true,
		Hour:    intPtr(hour),
		Minute:  intPtr(minute),
		Method:  "GET",
		URL:     "https://example.com/" + name,
	}
}

// minuteLocal is the scheduled minute every test ticks at.
var minuteLocal = time.Date(2026, 8, 24, 10, 5, 0, 0, time.UTC)

type harness struct {
	machines *fakeMachineStore
	jobs     *fakeJobStore
	runs     *fakeRunStore
	exec     *fakeExec
	coord    *coordinator.Coordinator
}

func newHarness(t *testing.T, machines []*domain.Machine, jobs ...*domain.Job) *harness {
	t.Helper()
	h := &harness{
		machines: &fakeMachineStore{machines: machines},
		jobs:     &fakeJobStore{jobs: jobs},
		runs:     &fakeRunStore{claimResult: true},
		exec:     &fakeExec{},
	}
	index := jobindex.New(h.jobs, slog.Default())
	if err := index.Reload(context.Background()); err != nil {
		t.Fatalf("reload index: %v", err)
	}
	h.coord = coordinator.New(h.machines, h.jobs, h.runs, index, h.exec, selfID, "host-self", slog.Default())
	return h
}

func (h *harness) env() coordinator.ExecEnv {
	return coordinator.ExecEnv{Defaults: httpstep.Defaults{TimeoutSec: 10}}
}

// ---- PhaseA ----

func TestPhaseA_FirstPositionExecutesImmediately(t *testing.T) {
	h := newHarness(t, []*domain.Machine{
		machine(selfID, 1, nil),
		machine("machine-b", 2, nil),
	}, jobDue("ping", 10, 5))

	p, err := h.coord.PhaseA(context.Background(), minuteLocal, 10)
	if err != nil {
		t.Fatalf("phase a: %v", err)
	}
	if p.Abandoned {
		t.Fatal("first machine must not abandon")
	}
	if p.Position != 1 || p.Wait != 0 {
		t.Fatalf("expected position 1 wait 0, got position %d wait %s", p.Position, p.Wait)
	}
	if len(h.machines.heartbeats) != 1 || !h.machines.heartbeats[0].Equal(clock.ToUTCMinute(minuteLocal)) {
		t.Fatalf("heartbeat not recorded for the scheduled minute: %v", h.machines.heartbeats)
	}
}

func TestPhaseA_StaircaseWait(t *testing.T) {
	h := newHarness(t, []*domain.Machine{
		machine("machine-a", 1, nil),
		machine("machine-b", 2, nil),
		machine(selfID, 3, nil),
	})

	p, err := h.coord.PhaseA(context.Background(), minuteLocal, 10)
	if err != nil {
		t.Fatalf("phase a: %v", err)
	}
	if p.Position != 3 {
		t.Fatalf("expected position 3, got %d", p.Position)
	}
	if want := 2 * coordinator.OffsetStepSec * time.Second; p.Wait != want {
		t.Fatalf("expected wait %s, got %s", want, p.Wait)
	}
}

func TestPhaseA_AbandonsBeyondActiveCap(t *testing.T) {
	h := newHarness(t, []*domain.Machine{
		machine("machine-a", 1, nil),
		machine("machine-b", 2, nil),
		machine(selfID, 3, nil),
	})

	p, err := h.coord.PhaseA(context.Background(), minuteLocal, 2)
	if err != nil {
		t.Fatalf("phase a: %v", err)
	}
	if !p.Abandoned {
		t.Fatal("position 3 with cap 2 must abandon the minute")
	}
}

func TestPhaseA_UnknownMachineRanksFirst(t *testing.T) {
	h := newHarness(t, []*domain.Machine{
		machine("machine-a", 1, nil),
	})

	p, err := h.coord.PhaseA(context.Background(), minuteLocal, 10)
	if err != nil {
		t.Fatalf("phase a: %v", err)
	}
	if p.Position != 1 || p.OrderValue != domain.DefaultOrderValue {
		t.Fatalf("unknown machine should rank first with the default order, got %+v", p)
	}
}

// ---- PhaseB ----

func TestPhaseB_StandsDownWhenEarlierMachineOnline(t *testing.T) {
	minuteUTC := clock.ToUTCMinute(minuteLocal)
	h := newHarness(t, []*domain.Machine{
		machine("machine-a", 1, &minuteUTC),
		machine(selfID, 2, nil),
	})

	proceed, err := h.coord.PhaseB(context.Background(), minuteLocal, &coordinator.Placement{Position: 2})
	if err != nil {
		t.Fatalf("phase b: %v", err)
	}
	if proceed {
		t.Fatal("must stand down when an earlier machine heartbeat this minute")
	}
}

func TestPhaseB_ProceedsPastDeadEarlierMachine(t *testing.T) {
	stale := clock.ToUTCMinute(minuteLocal.Add(-3 * time.Minute))
	h := newHarness(t, []*domain.Machine{
		machine("machine-a", 1, &stale), // crashed: heartbeat is minutes old
		machine(selfID, 2, nil),
	})

	proceed, err := h.coord.PhaseB(context.Background(), minuteLocal, &coordinator.Placement{Position: 2})
	if err != nil {
		t.Fatalf("phase b: %v", err)
	}
	if !proceed {
		t.Fatal("a stale earlier heartbeat must not block execution")
	}
}

func TestPhaseB_RecomputesPosition(t *testing.T) {
	// A new machine with a lower order joined between phases.
	minuteUTC := clock.ToUTCMinute(minuteLocal)
	h := newHarness(t, []*domain.Machine{
		machine("machine-new", 1, &minuteUTC),
		machine(selfID, 2, nil),
	})

	p := &coordinator.Placement{Position: 1, OrderValue: 2}
	proceed, err := h.coord.PhaseB(context.Background(), minuteLocal, p)
	if err != nil {
		t.Fatalf("phase b: %v", err)
	}
	if proceed {
		t.Fatal("newly-ranked earlier machine should win the minute")
	}
	if p.Position != 2 {
		t.Fatalf("placement not recomputed: %+v", p)
	}
}

// ---- Execute ----

func TestExecute_ClaimsAndRunsDueJobs(t *testing.T) {
	h := newHarness(t, nil, jobDue("ping", 10, 5), jobDue("other-minute", 10, 6))

	h.coord.Execute(context.Background(), minuteLocal, &coordinator.Placement{Position: 1}, h.env())

	if len(h.exec.executed) != 1 || h.exec.executed[0] != "ping" {
		t.Fatalf("expected only the due job to run, got %v", h.exec.executed)
	}
	if len(h.runs.claims) != 1 {
		t.Fatalf("expected one claim, got %d", len(h.runs.claims))
	}
	wantKey := clock.ToUTCMinute(minuteLocal)
	if !h.runs.claims[0].ScheduledFor.Equal(wantKey) {
		t.Fatalf("claim keyed to %s, want %s", h.runs.claims[0].ScheduledFor, wantKey)
	}
	if len(h.runs.finalized) != 1 || h.runs.finalized[0] != domain.RunStatusOK {
		t.Fatalf("expected one ok finalize, got %v", h.runs.finalized)
	}
}

func TestExecute_LostClaimSkipsExecution(t *testing.T) {
	h := newHarness(t, nil, jobDue("ping", 10, 5))
	h.runs.claimResult = false

	h.coord.Execute(context.Background(), minuteLocal, &coordinator.Placement{Position: 1}, h.env())

	if len(h.runs.claims) != 1 {
		t.Fatalf("claim must still be attempted, got %d", len(h.runs.claims))
	}
	if len(h.exec.executed) != 0 {
		t.Fatalf("lost claim must not execute, ran %v", h.exec.executed)
	}
	if len(h.runs.finalized) != 0 {
		t.Fatalf("lost claim must not finalize, got %v", h.runs.finalized)
	}
}

func TestExecute_SkipsDisabledJobOnRefresh(t *testing.T) {
	job := jobDue("ping", 10, 5)
	h := newHarness(t, nil, job)

	// Disabled after the index was loaded; the pre-claim refresh must catch it.
	job.Enabled = false

	h.coord.Execute(context.Background(), minuteLocal, &coordinator.Placement{Position: 1}, h.env())

	if len(h.runs.claims) != 0 {
		t.Fatalf("disabled job must not be claimed, got %d claims", len(h.runs.claims))
	}
	if len(h.exec.executed) != 0 {
		t.Fatalf("disabled job must not run, ran %v", h.exec.executed)
	}
}

func TestExecute_FailedRunFinalizedAsError(t *testing.T) {
	h := newHarness(t, nil, jobDue("ping", 10, 5))
	h.exec.status = domain.RunStatusError

	h.coord.Execute(context.Background(), minuteLocal, &coordinator.Placement{Position: 1}, h.env())

	if len(h.runs.finalized) != 1 || h.runs.finalized[0] != domain.RunStatusError {
		t.Fatalf("expected error finalize, got %v", h.runs.finalized)
	}
}
