package protocol

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/casarerpa/orchestrator/internal/domain"
	"github.com/casarerpa/orchestrator/internal/registry"
)

// Config holds the knobs the websocket loop needs.
type Config struct {
	HeartbeatInterval  time.Duration // ping cadence
	HeartbeatTimeout   time.Duration // read-deadline refresh window
	RateLimitWindow    time.Duration
	RateLimitMaxEvents int
}

// DefaultConfig returns the documented default protocol-server settings.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:  30 * time.Second,
		HeartbeatTimeout:   90 * time.Second,
		RateLimitWindow:    60 * time.Second,
		RateLimitMaxEvents: 100,
	}
}

// Handlers is implemented by the Dispatcher (job_accept..job_cancelled)
// and Log sink (log_entry/log_batch); the Server routes by message type
// and never interprets payloads itself, keeping wire framing separate
// from message semantics.
type Handlers interface {
	OnJobAccept(robotID string, env Envelope, payload JobAcceptPayload)
	OnJobReject(robotID string, env Envelope, payload JobRejectPayload)
	OnJobProgress(robotID string, payload JobProgressPayload)
	OnJobComplete(robotID string, payload JobCompletePayload)
	OnJobFailed(robotID string, payload JobFailedPayload)
	OnJobCancelled(robotID string, jobID string)
	OnLogEntry(robotID string, payload LogEntryPayload)
	OnLogBatch(robotID string, payload LogBatchPayload)
	OnStatusResponse(robotID string, payload json.RawMessage)
}

// Server is the WebSocket endpoint robots dial into.
type Server struct {
	config      Config
	upgrader    websocket.Upgrader
	registry    *registry.Registry
	handlers    Handlers
	logger      *slog.Logger
	onDisconnect func(registry.StaleRobot)

	mu    sync.RWMutex
	conns map[string]*Connection // by robot id, once registered
}

// New constructs a Server bound to reg for liveness tracking and h for
// dispatching inbound job/log messages.
func New(cfg Config, reg *registry.Registry, h Handlers, logger *slog.Logger) *Server {
	return &Server{
		config: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registry: reg,
		handlers: h,
		logger:   logger.With("component", "protocol-server"),
		conns:    make(map[string]*Connection),
	}
}

// OnDisconnect registers a callback invoked with the disconnecting
// robot's in-flight job ids whenever a connection closes gracefully or
// drops, so the caller (the dispatcher, via main wiring) can release
// those jobs immediately rather than waiting for the next liveness
// sweep (spec.md §4.9's graceful-close requirement).
func (s *Server) OnDisconnect(fn func(registry.StaleRobot)) {
	s.onDisconnect = fn
}

// ServeHTTP upgrades the request to a websocket and hands the connection
// to its own read/write goroutines.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	c := newConnection(conn)
	go c.writeLoop()
	go s.readLoop(c)
}

// SendTo delivers an envelope to robotID's active connection, if any.
func (s *Server) SendTo(robotID string, env Envelope) error {
	s.mu.RLock()
	c, ok := s.conns[robotID]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}
	return c.Send(env)
}

func (s *Server) readLoop(c *Connection) {
	limiter := newConnRateLimiter(s.config.RateLimitWindow, s.config.RateLimitMaxEvents)
	defer s.unregister(c)

	if err := c.conn.SetReadDeadline(time.Now().Add(s.config.HeartbeatTimeout)); err != nil {
		s.logger.Warn("failed to set initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.config.HeartbeatTimeout))
	})

	pingTicker := time.NewTicker(s.config.HeartbeatInterval)
	defer pingTicker.Stop()
	go func() {
		for range pingTicker.C {
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("websocket error", "robot_id", c.RobotID, "error", err)
			} else {
				s.logger.Info("robot disconnected", "robot_id", c.RobotID)
			}
			return
		}

		if !limiter.Allow(time.Now()) {
			s.logger.Warn("robot exceeded input rate limit, dropping frame", "robot_id", c.RobotID)
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("malformed envelope", "robot_id", c.RobotID, "error", err)
			continue
		}
		s.dispatch(c, env)
	}
}

func (s *Server) dispatch(c *Connection, env Envelope) {
	switch env.Type {
	case TypeRegister:
		s.handleRegister(c, env)
	case TypeHeartbeat:
		s.handleHeartbeat(c, env)
	case TypeJobAccept:
		var p JobAcceptPayload
		if decode(s, env, &p) {
			s.handlers.OnJobAccept(c.RobotID, env, p)
		}
	case TypeJobReject:
		var p JobRejectPayload
		if decode(s, env, &p) {
			s.handlers.OnJobReject(c.RobotID, env, p)
		}
	case TypeJobProgress:
		var p JobProgressPayload
		if decode(s, env, &p) {
			s.handlers.OnJobProgress(c.RobotID, p)
		}
	case TypeJobComplete:
		var p JobCompletePayload
		if decode(s, env, &p) {
			s.handlers.OnJobComplete(c.RobotID, p)
		}
	case TypeJobFailed:
		var p JobFailedPayload
		if decode(s, env, &p) {
			s.handlers.OnJobFailed(c.RobotID, p)
		}
	case TypeJobCancelled:
		var p JobCancelPayload
		if decode(s, env, &p) {
			s.handlers.OnJobCancelled(c.RobotID, p.JobID)
		}
	case TypeLogEntry:
		var p LogEntryPayload
		if decode(s, env, &p) {
			s.handlers.OnLogEntry(c.RobotID, p)
		}
	case TypeLogBatch:
		var p LogBatchPayload
		if decode(s, env, &p) {
			s.handlers.OnLogBatch(c.RobotID, p)
		}
	case TypeStatusResponse:
		s.handlers.OnStatusResponse(c.RobotID, env.Payload)
	case TypeError:
		s.logger.Warn("robot reported protocol error", "robot_id", c.RobotID, "payload", string(env.Payload))
	default:
		s.logger.Warn("unknown message type", "robot_id", c.RobotID, "type", env.Type)
	}
}

func decode[T any](s *Server, env Envelope, out *T) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		s.logger.Warn("failed to decode payload", "type", env.Type, "error", err)
		return false
	}
	return true
}

func (s *Server) handleRegister(c *Connection, env Envelope) {
	var p RegisterPayload
	if !decode(s, env, &p) {
		return
	}
	c.setState(connRegistering)

	caps := make([]domain.Capability, 0, len(p.Capabilities))
	for _, cap := range p.Capabilities {
		caps = append(caps, domain.Capability(cap))
	}
	robot := domain.NewRobot(p.RobotID, p.Name, p.Environment, p.MaxConcurrentJobs, caps)
	robot.TenantID = p.TenantID

	s.registry.Register(robot, time.Now())
	c.setRobotID(p.RobotID)
	c.setState(connActive)

	s.mu.Lock()
	s.conns[p.RobotID] = c
	s.mu.Unlock()

	ack, _ := json.Marshal(RegisterAckPayload{OK: true})
	if err := c.Send(Envelope{Type: TypeRegisterAck, Payload: ack, CorrelationID: env.ID}); err != nil {
		s.logger.Warn("failed to send register_ack", "robot_id", p.RobotID, "error", err)
	}
}

func (s *Server) handleHeartbeat(c *Connection, env Envelope) {
	var p HeartbeatPayload
	if !decode(s, env, &p) {
		return
	}
	robotID := p.RobotID
	if robotID == "" {
		robotID = c.RobotID
	}
	s.registry.Heartbeat(robotID, time.Now())
	ack, _ := json.Marshal(struct{}{})
	_ = c.Send(Envelope{Type: TypeHeartbeatAck, Payload: ack, CorrelationID: env.ID})
}

func (s *Server) unregister(c *Connection) {
	c.Close()
	if c.RobotID == "" {
		return
	}
	s.mu.Lock()
	if existing, ok := s.conns[c.RobotID]; ok && existing.ID == c.ID {
		delete(s.conns, c.RobotID)
	}
	s.mu.Unlock()

	if stale, ok := s.registry.Disconnect(c.RobotID); ok && s.onDisconnect != nil {
		s.onDisconnect(stale)
	}
}
