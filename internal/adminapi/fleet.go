package adminapi

import "net/http"

// fleetSnapshot is the Admin API's consolidated operator dashboard view:
// live robots plus queue depth by priority.
type fleetSnapshot struct {
	Robots            []any         `json:"robots"`
	QueueSize         int           `json:"queue_size"`
	QueueByPriority   map[string]int `json:"queue_by_priority"`
	ChangeSubscribers int           `json:"change_subscribers"`
}

// handleFleetSnapshot reports the live robot fleet and queue depth in one
// call, for the operator UI's landing dashboard.
func (s *Server) handleFleetSnapshot(w http.ResponseWriter, r *http.Request) {
	robots := s.registry.Snapshot()
	asAny := make([]any, len(robots))
	for i, rb := range robots {
		asAny[i] = rb
	}

	byPriority := map[string]int{}
	for priority, count := range s.queue.CountByPriority() {
		byPriority[priority.String()] = count
	}

	writeJSON(w, http.StatusOK, fleetSnapshot{
		Robots:            asAny,
		QueueSize:         s.queue.Size(),
		QueueByPriority:   byPriority,
		ChangeSubscribers: s.changes.SubscriberCount(),
	})
}
