package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/casarerpa/orchestrator/internal/adminapi"
	"github.com/casarerpa/orchestrator/internal/audit"
	authjwt "github.com/casarerpa/orchestrator/internal/auth/jwt"
	"github.com/casarerpa/orchestrator/internal/authz/casbin"
	"github.com/casarerpa/orchestrator/internal/changestream"
	"github.com/casarerpa/orchestrator/internal/cmdutil"
	"github.com/casarerpa/orchestrator/internal/config"
	"github.com/casarerpa/orchestrator/internal/dispatcher"
	"github.com/casarerpa/orchestrator/internal/domain"
	"github.com/casarerpa/orchestrator/internal/logsink"
	"github.com/casarerpa/orchestrator/internal/metrics"
	"github.com/casarerpa/orchestrator/internal/protocol"
	"github.com/casarerpa/orchestrator/internal/queue"
	"github.com/casarerpa/orchestrator/internal/registry"
	"github.com/casarerpa/orchestrator/internal/repository/sqlite"
	"github.com/casarerpa/orchestrator/internal/scheduler"
	"github.com/casarerpa/orchestrator/internal/triggerbus"
)

var flagMappings = map[string]string{
	"websocket-port":    "websocket_port",
	"webhook-port":      "webhook_port",
	"admin-api-port":    "admin_api_port",
	"sqlite-path":       "sqlite_path",
	"log-level":         "log_level",
	"admin-jwt-secret":  "admin_jwt_secret",
	"admin-policy-path": "admin_policy_path",
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().Int("websocket-port", 0, "robot websocket server port")
	cmd.Flags().Int("webhook-port", 0, "trigger webhook server port")
	cmd.Flags().Int("admin-api-port", 0, "admin API port")
	cmd.Flags().String("sqlite-path", "", "path to the SQLite database file")
	cmd.Flags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().String("admin-jwt-secret", "", "HMAC signing key for Admin API bearer tokens")
	cmd.Flags().String("admin-policy-path", "", "path to the Casbin CSV policy file")

	return cmd
}

// serverSender defers wiring the dispatcher's outbound path: the
// dispatcher needs a Sender at construction time, but the protocol
// server that implements SendTo needs the dispatcher (wrapped by
// logsink.Handlers) as its inbound Handlers. srv is set once both sides
// exist.
type serverSender struct {
	srv *protocol.Server
}

func (s *serverSender) SendTo(robotID string, env protocol.Envelope) error {
	if s.srv == nil {
		return errors.New("protocol server not yet wired")
	}
	return s.srv.SendTo(robotID, env)
}

func runServe(cmd *cobra.Command, configPath string) error {
	loader := config.NewLoader("CASARERPA")
	if err := loader.LoadWithDefaults(config.Defaults(), configPath); err != nil {
		return err
	}
	if err := loader.LoadFlags(cmd.Flags(), flagMappings); err != nil {
		return err
	}
	var cfg config.Config
	if err := loader.UnmarshalAndValidate(&cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cmdutil.SetupLogger(cfg.LogLevel)
	logger.Info("starting casarerpa orchestrator",
		"websocket_port", cfg.WebsocketPort, "webhook_port", cfg.WebhookPort, "admin_api_port", cfg.AdminAPIPort)

	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	jobs := sqlite.NewJobRepository(db)
	robots := sqlite.NewRobotRepository(db)
	workflows := sqlite.NewWorkflowRepository(db)
	schedules := sqlite.NewScheduleRepository(db)
	triggers := sqlite.NewTriggerRepository(db)
	assignments := sqlite.NewAssignmentRepository(db)
	auditRepo := sqlite.NewAuditRepository(db)

	metricsRegistry := metrics.New(prometheus.DefaultRegisterer)

	reg := registry.New(logger, cfg.HeartbeatTimeout())
	q := queue.New(nil)
	sink := logsink.New(cfg.LogBufferSize, 30*24*time.Hour, logger)
	sink.SetDroppedCounter(metricsRegistry.LogsDroppedTotal)
	changes := changestream.New(logger)
	auditRecorder := audit.New(auditRepo, logger, nil, nil)

	sender := &serverSender{}
	d := dispatcher.New(jobs, assignments, reg, q, sender, logger)
	d.SetMetrics(metricsRegistry)

	protoSrv := protocol.New(protocol.DefaultConfig(), reg, logsink.Handlers{Handlers: d, Sink: sink}, logger)
	sender.srv = protoSrv
	protoSrv.OnDisconnect(func(stale registry.StaleRobot) {
		d.SweepStaleRobots(context.Background(), []registry.StaleRobot{stale}, workflows, time.Now())
	})

	bus := triggerbus.New(triggers, workflows, q, logger)
	sched := scheduler.New(schedules, workflows, q, logger, nil)

	var authz *casbin.Enforcer
	if cfg.AdminPolicyPath != "" {
		authz, err = casbin.New(cfg.AdminPolicyPath, logger)
		if err != nil {
			return fmt.Errorf("load casbin policy: %w", err)
		}
	}

	adminSrv := adminapi.New(adminapi.Deps{
		Jobs: jobs, Robots: robots, Schedules: schedules, Workflows: workflows, Triggers: triggers,
		Queue: q, Registry: reg, Dispatcher: d, Audit: auditRecorder, Changes: changes, Authz: authz, Logger: logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reg.Run(ctx, cfg.HeartbeatSweepInterval(), func(stale []registry.StaleRobot) {
		d.SweepStaleRobots(ctx, stale, workflows, time.Now())
	})
	go d.Run(ctx, cfg.DispatchInterval())
	go sched.Run(ctx, cfg.SchedulerTick())
	go sink.Run(ctx)
	go runJobTimeoutSweep(ctx, d, jobs, cfg.DefaultJobTimeout())
	go runMetricsSampler(ctx, metricsRegistry, q, reg)

	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", protoSrv)
	wsMux.Handle("/metrics", promhttp.Handler())
	wsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.WebsocketPort), Handler: wsMux}

	webhookMux := http.NewServeMux()
	webhookMux.HandleFunc("/webhook/", bus.HTTPHandler())
	webhookServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.WebhookPort), Handler: webhookMux}

	adminHandler := adminSrv.Handler(authjwt.Config{SigningKey: []byte(cfg.AdminJWTSecret)})
	adminMux := http.NewServeMux()
	adminMux.Handle("/admin/", adminHandler)
	adminServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.AdminAPIPort), Handler: adminMux}

	errCh := make(chan error, 3)
	go func() { errCh <- runHTTP(wsServer, "websocket") }()
	go func() { errCh <- runHTTP(webhookServer, "webhook") }()
	go func() { errCh <- runHTTP(adminServer, "admin API") }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = wsServer.Shutdown(shutdownCtx)
	_ = webhookServer.Shutdown(shutdownCtx)
	_ = adminServer.Shutdown(shutdownCtx)

	return nil
}

func runHTTP(srv *http.Server, name string) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// runJobTimeoutSweep periodically checks Running jobs against their job
// timeout, handing expired ones to the dispatcher's cancel-request path.
func runJobTimeoutSweep(ctx context.Context, d *dispatcher.Dispatcher, jobs interface {
	ByStatus(ctx context.Context, status domain.Status) ([]*domain.Job, error)
}, timeout time.Duration) {
	if timeout <= 0 {
		timeout = dispatcher.DefaultJobTimeout
	}
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			running, err := jobs.ByStatus(ctx, domain.StatusRunning)
			if err != nil {
				continue
			}
			d.SweepJobTimeouts(ctx, running, now)
		}
	}
}

// runMetricsSampler periodically records queue-depth and robot-count
// gauges; these are point-in-time samples rather than counters, so
// unlike the dispatcher's event counters they need a poller.
func runMetricsSampler(ctx context.Context, m *metrics.Registry, q *queue.Queue, reg *registry.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SampleQueue(q.CountByPriority())
			m.SampleRobots(reg.Snapshot())
		}
	}
}

