package adminapi

import (
	"net/http"

	authjwt "github.com/casarerpa/orchestrator/internal/auth/jwt"
	"github.com/casarerpa/orchestrator/internal/changestream"
	"github.com/casarerpa/orchestrator/internal/domain"
	"github.com/casarerpa/orchestrator/internal/protocol"
)

// handleListRobots returns the live fleet snapshot.
func (s *Server) handleListRobots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

func (s *Server) mutateRobot(w http.ResponseWriter, r *http.Request, action domain.AuditAction, mutate func(*domain.Robot) error) bool {
	robotID := r.PathValue("id")
	if err := s.registry.Mutate(robotID, mutate); err != nil {
		writeError(w, statusFor(err), err.Error())
		return false
	}
	robot, ok := s.registry.Get(robotID)
	if !ok {
		writeError(w, http.StatusNotFound, "robot not found")
		return false
	}

	s.audit.Record(r.Context(), action, authjwt.Subject(r), "robot", robotID, "")
	s.changes.Publish(changestream.Event{Type: changestream.EventRobotUpdated, Payload: robot})

	writeJSON(w, http.StatusOK, robot)
	return true
}

// handlePauseRobot moves a robot to Maintenance, making it ineligible for
// new assignments; in-flight jobs keep running. The robot is also notified
// over the wire so it can stop pulling new work locally.
func (s *Server) handlePauseRobot(w http.ResponseWriter, r *http.Request) {
	robotID := r.PathValue("id")
	if s.mutateRobot(w, r, domain.AuditRobotPaused, func(robot *domain.Robot) error {
		return robot.Pause()
	}) {
		s.notifyRobot(robotID, protocol.TypePause, false)
	}
}

// handleResumeRobot clears a robot's administrative Maintenance hold.
func (s *Server) handleResumeRobot(w http.ResponseWriter, r *http.Request) {
	robotID := r.PathValue("id")
	if s.mutateRobot(w, r, domain.AuditRobotResumed, func(robot *domain.Robot) error {
		return robot.Resume()
	}) {
		s.notifyRobot(robotID, protocol.TypeResume, false)
	}
}

// handleShutdownRobot marks a robot Offline administratively and asks the
// robot to shut down gracefully (finish its current node, then disconnect).
func (s *Server) handleShutdownRobot(w http.ResponseWriter, r *http.Request) {
	robotID := r.PathValue("id")
	if s.mutateRobot(w, r, domain.AuditRobotShutdown, func(robot *domain.Robot) error {
		robot.Shutdown()
		return nil
	}) {
		s.notifyRobot(robotID, protocol.TypeShutdown, true)
	}
}

// notifyRobot best-effort sends a pause/resume/shutdown control message to
// robotID's live connection. A disconnected or unreachable robot still has
// its local state updated by mutateRobot above; the wire notification is a
// courtesy for a robot that is still connected, not a requirement for the
// state transition to take effect.
func (s *Server) notifyRobot(robotID string, msgType protocol.MessageType, graceful bool) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Notify(robotID, msgType, graceful); err != nil {
		s.logger.Warn("failed to notify robot of control message", "robot_id", robotID, "type", msgType, "error", err)
	}
}
