// Package changestream fans Job/Robot/Schedule mutations out to operator
// UI subscribers over websocket, mirroring the teacher's connection
// registry: each subscriber gets its own bounded send queue, and a slow
// subscriber is disconnected rather than allowed to block publishers.
package changestream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// EventType names a change published on the stream.
type EventType string

const (
	EventJobUpdated      EventType = "job.updated"
	EventRobotUpdated    EventType = "robot.updated"
	EventScheduleFired   EventType = "schedule.fired"
	EventScheduleUpdated EventType = "schedule.updated"
)

// Event is one fan-out message. Payload is whatever entity snapshot
// triggered it (a domain.Job, domain.Robot, or domain.Schedule), encoded
// as-is by json.Marshal.
type Event struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// subscriberQueueDepth bounds how many undelivered events a subscriber
// may accumulate before it is dropped, the same soft-cap discipline as
// the robot protocol's per-connection send queue.
const subscriberQueueDepth = 64

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *subscriber) writeLoop() {
	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// Publisher is the fan-out hub: Publish is called by core components
// after a mutation commits, ServeHTTP is mounted on the Admin API's
// change-stream path for UI subscribers to dial into.
type Publisher struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

// New constructs a Publisher with no subscribers.
func New(logger *slog.Logger) *Publisher {
	return &Publisher{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:      logger.With("component", "changestream"),
		subscribers: make(map[string]*subscriber),
	}
}

// ServeHTTP upgrades the request and registers the connection as a
// subscriber until it disconnects.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Error("changestream upgrade failed", "error", err)
		return
	}
	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, subscriberQueueDepth),
		done: make(chan struct{}),
	}

	p.mu.Lock()
	p.subscribers[sub.id] = sub
	p.mu.Unlock()

	go sub.writeLoop()

	// Subscribers are write-only from this side; draining reads here
	// exists only to notice disconnects and discard client frames
	// (pings, stray messages) without growing the OS socket buffer.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	p.mu.Lock()
	delete(p.subscribers, sub.id)
	p.mu.Unlock()
	sub.close()
}

// Publish delivers event to every connected subscriber. Delivery is
// best-effort and non-blocking: a subscriber whose queue is already full
// is disconnected rather than allowed to stall the publisher.
func (p *Publisher) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal change event", "type", event.Type, "error", err)
		return
	}

	p.mu.RLock()
	subs := make([]*subscriber, 0, len(p.subscribers))
	for _, s := range p.subscribers {
		subs = append(subs, s)
	}
	p.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.send <- data:
		default:
			p.logger.Warn("changestream subscriber queue full, disconnecting", "subscriber_id", s.id)
			p.mu.Lock()
			delete(p.subscribers, s.id)
			p.mu.Unlock()
			s.close()
		}
	}
}

// SubscriberCount reports how many operator UIs are currently connected.
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}
