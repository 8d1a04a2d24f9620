package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casarerpa/orchestrator/internal/audit"
	authjwt "github.com/casarerpa/orchestrator/internal/auth/jwt"
	"github.com/casarerpa/orchestrator/internal/authz/casbin"
	"github.com/casarerpa/orchestrator/internal/changestream"
	"github.com/casarerpa/orchestrator/internal/dispatcher"
	"github.com/casarerpa/orchestrator/internal/domain"
	"github.com/casarerpa/orchestrator/internal/protocol"
	"github.com/casarerpa/orchestrator/internal/queue"
	"github.com/casarerpa/orchestrator/internal/registry"
	"github.com/casarerpa/orchestrator/internal/repository/memory"
)

const testSecret = "admin-api-test-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type noopSender struct{}

func (noopSender) SendTo(string, protocol.Envelope) error { return nil }

func writePolicy(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func testServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	ctx := context.Background()

	jobs := memory.NewJobRepository()
	robots := memory.NewRobotRepository()
	schedules := memory.NewScheduleRepository()
	workflows := memory.NewWorkflowRepository()
	triggers := memory.NewTriggerRepository()
	assignments := memory.NewAssignmentRepository()
	auditRepo := memory.NewAuditRepository()

	require.NoError(t, workflows.Save(ctx, &domain.Workflow{ID: "wf1", Status: domain.WorkflowPublished, Definition: []byte("{}")}))

	q := queue.New(nil)
	reg := registry.New(discardLogger(), time.Minute)
	d := dispatcher.New(jobs, assignments, reg, q, noopSender{}, discardLogger())
	rec := audit.New(auditRepo, discardLogger(), func() string { return "audit-1" }, func() time.Time { return time.Unix(0, 0) })
	changes := changestream.New(discardLogger())

	policyPath := writePolicy(t, "p, operator, job, submit\np, operator, job, list\np, operator, job, cancel\np, operator, robot, list\np, operator, robot, pause\np, operator, robot, resume\np, operator, robot, shutdown\np, operator, schedule, list\np, operator, schedule, create\np, operator, schedule, update\np, operator, schedule, enable\np, operator, schedule, disable\np, operator, trigger, create\np, operator, trigger, update\np, operator, fleet, read\ng, alice, operator\n")
	authz, err := casbin.New(policyPath, discardLogger())
	require.NoError(t, err)

	srv := New(Deps{
		Jobs: jobs, Robots: robots, Schedules: schedules, Workflows: workflows, Triggers: triggers,
		Queue: q, Registry: reg, Dispatcher: d, Audit: rec, Changes: changes, Authz: authz, Logger: discardLogger(),
	})
	srv.newID = func() string { return "job-1" }
	srv.clock = func() time.Time { return time.Unix(1700000000, 0) }

	handler := srv.Handler(authjwt.Config{SigningKey: []byte(testSecret)})
	return srv, handler
}

func bearerFor(subject string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, _ := token.SignedString([]byte(testSecret))
	return s
}

func TestSubmitJobEnqueuesAndReturnsJob(t *testing.T) {
	_, handler := testServer(t)

	body, _ := json.Marshal(submitJobRequest{WorkflowID: "wf1", Priority: "high"})
	req := httptest.NewRequest(http.MethodPost, "/admin/jobs", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+bearerFor("alice"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Equal(t, domain.PriorityHigh, got.Priority)
}

func TestSubmitJobWithSameIdempotencyKeyReturnsExistingJobWhileRunning(t *testing.T) {
	srv, handler := testServer(t)

	body, _ := json.Marshal(submitJobRequest{WorkflowID: "wf1", IdempotencyKey: "dup-key"})
	first := httptest.NewRequest(http.MethodPost, "/admin/jobs", bytes.NewReader(body))
	first.Header.Set("Authorization", "Bearer "+bearerFor("alice"))
	firstRec := httptest.NewRecorder()
	handler.ServeHTTP(firstRec, first)
	require.Equal(t, http.StatusCreated, firstRec.Code)
	var created domain.Job
	require.NoError(t, json.Unmarshal(firstRec.Body.Bytes(), &created))

	// Advance the job past the queue's own dedup window (Pop deletes its
	// byKey entry the moment a job goes Running) to prove the Admin API's
	// dedup check, not the queue's, is what still catches the resubmit.
	popped := srv.queue.Pop()
	require.NotNil(t, popped)
	require.NoError(t, popped.Start(time.Now()))
	require.NoError(t, srv.jobs.Save(context.Background(), popped))

	second := httptest.NewRequest(http.MethodPost, "/admin/jobs", bytes.NewReader(body))
	second.Header.Set("Authorization", "Bearer "+bearerFor("alice"))
	secondRec := httptest.NewRecorder()
	handler.ServeHTTP(secondRec, second)

	require.Equal(t, http.StatusOK, secondRec.Code)
	var got domain.Job
	require.NoError(t, json.Unmarshal(secondRec.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, domain.StatusRunning, got.Status)
}

func TestSubmitJobRejectsUnknownWorkflow(t *testing.T) {
	_, handler := testServer(t)

	body, _ := json.Marshal(submitJobRequest{WorkflowID: "ghost"})
	req := httptest.NewRequest(http.MethodPost, "/admin/jobs", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+bearerFor("alice"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitJobForbidsUnauthorizedSubject(t *testing.T) {
	_, handler := testServer(t)

	body, _ := json.Marshal(submitJobRequest{WorkflowID: "wf1"})
	req := httptest.NewRequest(http.MethodPost, "/admin/jobs", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+bearerFor("mallory"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCancelJobTransitionsQueuedJobToCancelled(t *testing.T) {
	srv, handler := testServer(t)
	ctx := context.Background()
	now := time.Now()

	job := domain.NewJob("j1", "wf1", nil, domain.PriorityNormal, "", now)
	require.NoError(t, srv.queue.Enqueue(job, now))
	require.NoError(t, srv.jobs.Save(ctx, job))

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/j1/cancel", nil)
	req.Header.Set("Authorization", "Bearer "+bearerFor("alice"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestPauseRobotMovesToMaintenance(t *testing.T) {
	srv, handler := testServer(t)
	now := time.Now()
	srv.registry.Register(domain.NewRobot("r1", "Robot 1", "prod", 1, nil), now)

	req := httptest.NewRequest(http.MethodPost, "/admin/robots/r1/pause", nil)
	req.Header.Set("Authorization", "Bearer "+bearerFor("alice"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Robot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, domain.RobotMaintenance, got.Status)
}

func TestFleetSnapshotReportsQueueAndRobots(t *testing.T) {
	srv, handler := testServer(t)
	now := time.Now()
	srv.registry.Register(domain.NewRobot("r1", "Robot 1", "prod", 1, nil), now)

	req := httptest.NewRequest(http.MethodGet, "/admin/fleet", nil)
	req.Header.Set("Authorization", "Bearer "+bearerFor("alice"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got fleetSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Robots, 1)
}
