package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tick / coordination metrics

	TicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetcron",
		Name:      "ticks_total",
		Help:      "Scheduled minutes this agent woke up for.",
	})

	TickPosition = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetcron",
		Name:      "tick_position",
		Help:      "This agent's 1-based fleet position at the last tick.",
	})

	TicksSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetcron",
		Name:      "ticks_skipped_total",
		Help:      "Minutes abandoned without executing, by reason.",
	}, []string{"reason"})

	HeartbeatFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetcron",
		Name:      "heartbeat_failures_total",
		Help:      "Heartbeat writes that failed.",
	})

	// Claim metrics

	ClaimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetcron",
		Name:      "claims_total",
		Help:      "Run-claim attempts, by outcome.",
	}, []string{"outcome"})

	// Execution metrics

	RunsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetcron",
		Name:      "runs_completed_total",
		Help:      "Job runs finished by this agent, by status.",
	}, []string{"status"})

	StepAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetcron",
		Name:      "step_attempts_total",
		Help:      "HTTP step attempts performed, including retries.",
	})

	StepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fleetcron",
		Name:      "step_duration_seconds",
		Help:      "Duration of one HTTP step attempt.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"status"})

	// Control / notification metrics

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetcron",
		Name:      "commands_total",
		Help:      "Control commands consumed, by type.",
	}, []string{"type"})

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetcron",
		Name:      "notifications_total",
		Help:      "Run notifications sent, by channel and outcome.",
	}, []string{"channel", "outcome"})

	// Agent lifecycle

	AgentStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetcron",
		Name:      "agent_start_time_seconds",
		Help:      "Unix timestamp when the agent started.",
	})
)

func Register() {
	prometheus.MustRegister(
		TicksTotal,
		TickPosition,
		TicksSkippedTotal,
		HeartbeatFailuresTotal,
		ClaimsTotal,
		RunsCompletedTotal,
		StepAttemptsTotal,
		StepDuration,
		CommandsTotal,
		NotificationsTotal,
		AgentStartTime,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
