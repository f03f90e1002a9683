package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetcron/fleetcron/config"
	"github.com/fleetcron/fleetcron/internal/agent"
	"github.com/fleetcron/fleetcron/internal/clock"
	"github.com/fleetcron/fleetcron/internal/coordinator"
	"github.com/fleetcron/fleetcron/internal/domain"
	"github.com/fleetcron/fleetcron/internal/executor"
	"github.com/fleetcron/fleetcron/internal/health"
	"github.com/fleetcron/fleetcron/internal/httpstep"
	"github.com/fleetcron/fleetcron/internal/identity"
	mongostore "github.com/fleetcron/fleetcron/internal/infrastructure/mongo"
	"github.com/fleetcron/fleetcron/internal/jobindex"
	ctxlog "github.com/fleetcron/fleetcron/internal/log"
	"github.com/fleetcron/fleetcron/internal/metrics"
	"github.com/fleetcron/fleetcron/internal/notify"
	httptransport "github.com/fleetcron/fleetcron/internal/transport/http"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

// Exit codes: 0 normal, 1 missing config or connection prerequisites,
// 2 no available position (active cap reached).
func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 {
		target := domain.CommandTargetAll
		if len(args) > 1 {
			target = args[1]
		}
		switch args[0] {
		case "reload", "refresh":
			return sendCommand(domain.CommandReloadJobs, target)
		case "reload-config", "rc":
			return sendCommand(domain.CommandReloadConfig, target)
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\nusage: fleetcron [reload|refresh|reload-config|rc] [target]\n", args[0])
			return 1
		}
	}
	return runAgent()
}

// sendCommand inserts a control command for the fleet and exits.
func sendCommand(cmdType domain.CommandType, target string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := mongostore.Connect(ctx, cfg.MongoDBURI, cfg.DBName, config.AppName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "db: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close(context.Background()) }()

	if err := mongostore.NewCommandRepository(db).InsertCommand(ctx, cmdType, target); err != nil {
		fmt.Fprintf(os.Stderr, "insert command: %v\n", err)
		return 1
	}
	fmt.Printf("%s command sent (target=%s)\n", cmdType, target)
	return 0
}

func runAgent() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	homeDir, err := config.HomeDir()
	if err != nil {
		logger.Error("home dir", "error", err)
		return 1
	}

	lock, err := identity.AcquireLock(homeDir)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			logger.Error("agent already running on this machine")
		} else {
			logger.Error("acquire lock", "error", err)
		}
		return 1
	}
	defer func() { _ = lock.Release() }()

	machineID, err := identity.LoadOrCreateMachineID(homeDir)
	if err != nil {
		logger.Error("machine id", "error", err)
		return 1
	}
	hostname, _ := os.Hostname()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := mongostore.Connect(ctx, cfg.MongoDBURI, cfg.DBName, config.AppName)
	if err != nil {
		logger.Error("db connect", "error", err)
		return 1
	}
	defer func() { _ = db.Close(context.Background()) }()
	logger.Info("db connected", "db", cfg.DBName)

	if err := mongostore.EnsureIndexes(ctx, db); err != nil {
		logger.Error("ensure indexes", "error", err)
		return 1
	}

	machineRepo := mongostore.NewMachineRepository(db, cfg.OrderAliases(), cfg.DefaultOrder)
	jobRepo := mongostore.NewJobRepository(db)
	runRepo := mongostore.NewRunRepository(db)
	commandRepo := mongostore.NewCommandRepository(db)
	notificationRepo := mongostore.NewNotificationRepository(db)

	self, err := machineRepo.EnsureMachine(ctx, machineID, hostname)
	if err != nil {
		logger.Error("register machine", "error", err)
		return 1
	}

	// Startup position guard: a machine ranked beyond the active cap will
	// never execute; refuse to run rather than idle forever.
	fleet, err := machineRepo.ListMachinesSorted(ctx)
	if err != nil {
		logger.Error("list machines", "error", err)
		return 1
	}
	for idx, m := range fleet {
		if m.MachineID == machineID && idx+1 > cfg.MaxActive() {
			logger.Error("no available position",
				"position", idx+1, "max_active", cfg.MaxActive())
			return 2
		}
	}

	logger.Info("machine registered",
		"machine_id", machineID,
		"host", hostname,
		"order", self.OrderValue,
		"tz", cfg.TZ,
	)

	metrics.Register()
	checker := health.NewChecker(db, logger, prometheus.DefaultRegisterer)

	clk := clock.New(cfg.TZ, logger)

	index := jobindex.New(jobRepo, logger)
	if err := index.Reload(ctx); err != nil {
		logger.Error("initial job load", "error", err)
	}

	runner, err := httpstep.NewRunner(cfg.CABundle, logger)
	if err != nil {
		logger.Error("http runner", "error", err)
		return 1
	}

	exec := executor.New(runner, runRepo, logger)
	coord := coordinator.New(machineRepo, jobRepo, runRepo, index, exec, machineID, hostname, logger)

	tg, err := notificationRepo.GetNotificationConfig(ctx)
	if err != nil && !errors.Is(err, domain.ErrNoNotificationConfig) {
		logger.Warn("read notification config", "error", err)
	}
	notifier := notify.NewNotifier(cfg.Env, tg, notify.EmailSettings{
		APIKey: cfg.Notify.ResendAPIKey,
		From:   cfg.Notify.ResendFrom,
		To:     cfg.Notify.EmailTo,
	}, logger)

	ag := agent.New(
		&agent.State{Cfg: cfg, Clk: clk, Notifier: notifier},
		index, coord, notificationRepo, machineID, hostname, logger,
	)

	watcher := agent.NewWatcher(commandRepo, machineID, ag.ReloadJobs, ag.ReloadConfig, logger)
	go watcher.Start(ctx)

	var servers []*http.Server
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr)
		servers = append(servers, srv)
		go func() {
			logger.Info("metrics server started", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
	}
	if cfg.StatusAddr != "" {
		srv := httptransport.NewServer(cfg.StatusAddr, logger, checker, ag)
		servers = append(servers, srv)
		go func() {
			logger.Info("status server started", "addr", cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server", "error", err)
			}
		}()
	}

	ag.Run(ctx)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}

	return 0
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
