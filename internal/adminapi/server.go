// Package adminapi exposes the orchestrator's operator-facing HTTP
// surface: submit/cancel jobs, list fleet state, and manage
// schedules/triggers/robots, mirroring the teacher's cluster-gateway
// server shape (plain net/http.ServeMux, pattern-based routing, no web
// framework). Every mutating route is wrapped with JWT authentication
// (internal/auth/jwt), Casbin authorization (internal/authz/casbin), and
// an audit record of the action taken.
package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/casarerpa/orchestrator/internal/audit"
	"github.com/casarerpa/orchestrator/internal/authz/casbin"
	authjwt "github.com/casarerpa/orchestrator/internal/auth/jwt"
	"github.com/casarerpa/orchestrator/internal/changestream"
	"github.com/casarerpa/orchestrator/internal/dispatcher"
	"github.com/casarerpa/orchestrator/internal/queue"
	"github.com/casarerpa/orchestrator/internal/registry"
	"github.com/casarerpa/orchestrator/internal/repository"
)

// Server holds every dependency the Admin API's handlers need. It owns
// no goroutines of its own; callers mount it with http.ListenAndServe.
type Server struct {
	jobs        repository.JobRepository
	robots      repository.RobotRepository
	schedules   repository.ScheduleRepository
	workflows   repository.WorkflowRepository
	triggers    repository.TriggerRepository
	queue       *queue.Queue
	registry    *registry.Registry
	dispatcher  *dispatcher.Dispatcher
	audit       *audit.Recorder
	changes     *changestream.Publisher
	logger      *slog.Logger
	validate    *validator.Validate
	newID       func() string
	clock       func() time.Time
	authz       *casbin.Enforcer
}

// Deps groups Server's constructor arguments so call sites don't carry a
// twelve-argument New call.
type Deps struct {
	Jobs       repository.JobRepository
	Robots     repository.RobotRepository
	Schedules  repository.ScheduleRepository
	Workflows  repository.WorkflowRepository
	Triggers   repository.TriggerRepository
	Queue      *queue.Queue
	Registry   *registry.Registry
	Dispatcher *dispatcher.Dispatcher
	Audit      *audit.Recorder
	Changes    *changestream.Publisher
	Authz      *casbin.Enforcer
	Logger     *slog.Logger
}

// New constructs a Server from deps.
func New(deps Deps) *Server {
	return &Server{
		jobs:       deps.Jobs,
		robots:     deps.Robots,
		schedules:  deps.Schedules,
		workflows:  deps.Workflows,
		triggers:   deps.Triggers,
		queue:      deps.Queue,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		audit:      deps.Audit,
		changes:    deps.Changes,
		authz:      deps.Authz,
		logger:     deps.Logger.With("component", "adminapi"),
		validate:   validator.New(),
		newID:      uuid.NewString,
		clock:      time.Now,
	}
}

// Handler builds the routed, authenticated, authorized mux. jwtConfig
// configures the bearer-token layer wrapped around every route.
func (s *Server) Handler(jwtConfig authjwt.Config) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /admin/jobs", s.authorize("job", "submit", http.HandlerFunc(s.handleSubmitJob)))
	mux.Handle("GET /admin/jobs", s.authorize("job", "list", http.HandlerFunc(s.handleListJobs)))
	mux.Handle("POST /admin/jobs/{id}/cancel", s.authorize("job", "cancel", http.HandlerFunc(s.handleCancelJob)))

	mux.Handle("GET /admin/robots", s.authorize("robot", "list", http.HandlerFunc(s.handleListRobots)))
	mux.Handle("POST /admin/robots/{id}/pause", s.authorize("robot", "pause", http.HandlerFunc(s.handlePauseRobot)))
	mux.Handle("POST /admin/robots/{id}/resume", s.authorize("robot", "resume", http.HandlerFunc(s.handleResumeRobot)))
	mux.Handle("POST /admin/robots/{id}/shutdown", s.authorize("robot", "shutdown", http.HandlerFunc(s.handleShutdownRobot)))

	mux.Handle("GET /admin/schedules", s.authorize("schedule", "list", http.HandlerFunc(s.handleListSchedules)))
	mux.Handle("POST /admin/schedules", s.authorize("schedule", "create", http.HandlerFunc(s.handleCreateSchedule)))
	mux.Handle("PUT /admin/schedules/{id}", s.authorize("schedule", "update", http.HandlerFunc(s.handleUpdateSchedule)))
	mux.Handle("POST /admin/schedules/{id}/enable", s.authorize("schedule", "enable", http.HandlerFunc(s.handleEnableSchedule)))
	mux.Handle("POST /admin/schedules/{id}/disable", s.authorize("schedule", "disable", http.HandlerFunc(s.handleDisableSchedule)))

	mux.Handle("POST /admin/triggers", s.authorize("trigger", "create", http.HandlerFunc(s.handleCreateTrigger)))
	mux.Handle("PUT /admin/triggers/{id}", s.authorize("trigger", "update", http.HandlerFunc(s.handleUpdateTrigger)))

	mux.Handle("GET /admin/fleet", s.authorize("fleet", "read", http.HandlerFunc(s.handleFleetSnapshot)))
	mux.Handle("GET /admin/changes", s.authorize("fleet", "read", http.HandlerFunc(s.changes.ServeHTTP)))

	return authjwt.Middleware(jwtConfig)(mux)
}

// authorize wraps next with a Casbin check for (subject, resource,
// action), the subject coming from the JWT claims the auth/jwt
// middleware already validated. A nil Enforcer (e.g. in tests) disables
// authorization entirely.
func (s *Server) authorize(resource, action string, next http.Handler) http.Handler {
	if s.authz == nil {
		return next
	}
	return casbin.Require(s.authz, resource, action)(next)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
