package services

import (
	"sync"
	"time"

	"github.com/flightops/opsync/internal/models"
	"github.com/flightops/opsync/pkg/logger"
	"github.com/google/uuid"
)

// EventKind enumerates the live update kinds pushed to subscribers.
type EventKind string

const (
	EventWaypointsUpdated  EventKind = "waypoints_updated"
	EventPermissionUpdated EventKind = "permission_updated"
	EventChatMessage       EventKind = "chat_message"
	EventUserJoined        EventKind = "user_joined"
	EventUserLeft          EventKind = "user_left"
	EventStatusChanged     EventKind = "status_changed"
)

// Event is one ordered update of a single operation. Events of the same
// operation reach every subscriber channel in the order they were committed;
// no order is guaranteed across operations.
type Event struct {
	OperationID uint                `json:"operation_id"`
	Kind        EventKind           `json:"kind"`
	Revision    uint                `json:"revision,omitempty"`
	UserID      uint                `json:"user_id,omitempty"`
	Role        string              `json:"role,omitempty"`
	Status      string              `json:"status,omitempty"`
	Message     *models.ChatMessage `json:"message,omitempty"`
	At          time.Time           `json:"at"`
}

// CatchUp is the payload returned on subscribe. A reconnecting client
// reconciles purely from the head revision number carried here.
type CatchUp struct {
	OperationID  uint                `json:"operation_id"`
	Status       string              `json:"status"`
	Waypoints    []models.Waypoint   `json:"waypoints"`
	HeadRevision uint                `json:"head_revision"`
	Members      []models.Membership `json:"members"`
}

// Session is one connected client. Ephemeral: created on connect, destroyed
// on disconnect, never persisted, never authoritative for document content.
type Session struct {
	ID       string
	UserID   uint
	Username string
	Events   chan Event

	subs map[uint]Role // operation id -> cached effective role
}

// Hub is the session registry and per-operation event fan-out. Delivery is
// at-most-once per live connection: a slow subscriber drops events and
// repairs on resubscribe via the catch-up payload.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byOp     map[uint]map[string]*Session
	buffer   int
}

// NewHub creates a hub with the given per-session event buffer size.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 100
	}
	return &Hub{
		sessions: make(map[string]*Session),
		byOp:     make(map[uint]map[string]*Session),
		buffer:   buffer,
	}
}

// Register creates a session for a connected client.
func (h *Hub) Register(userID uint, username string) *Session {
	s := &Session{
		ID:       uuid.New().String(),
		UserID:   userID,
		Username: username,
		Events:   make(chan Event, h.buffer),
		subs:     make(map[uint]Role),
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	logger.Debug().Str("session_id", s.ID).Uint("user_id", userID).Msg("session registered")
	return s
}

// Unregister removes a session, drops all its subscriptions and announces
// user_left on each of them.
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, sessionID)

	var left []uint
	for opID := range s.subs {
		if subs, ok := h.byOp[opID]; ok {
			delete(subs, sessionID)
			if len(subs) == 0 {
				delete(h.byOp, opID)
			}
		}
		left = append(left, opID)
	}
	close(s.Events)
	h.mu.Unlock()

	for _, opID := range left {
		h.Publish(opID, Event{
			OperationID: opID,
			Kind:        EventUserLeft,
			UserID:      s.UserID,
			At:          time.Now(),
		})
	}
}

// Subscribe attaches a session to an operation's event stream with the given
// cached effective role. The caller is responsible for the role check and for
// assembling the catch-up payload.
func (h *Hub) Subscribe(sessionID string, opID uint, role Role) bool {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	s.subs[opID] = role
	if h.byOp[opID] == nil {
		h.byOp[opID] = make(map[string]*Session)
	}
	h.byOp[opID][sessionID] = s
	h.mu.Unlock()

	h.Publish(opID, Event{
		OperationID: opID,
		Kind:        EventUserJoined,
		UserID:      s.UserID,
		At:          time.Now(),
	})
	return true
}

// Unsubscribe detaches a session from one operation.
func (h *Hub) Unsubscribe(sessionID string, opID uint) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if ok {
		delete(s.subs, opID)
	}
	if subs, ok := h.byOp[opID]; ok {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(h.byOp, opID)
		}
	}
	h.mu.Unlock()
}

// Publish enqueues an event to every subscriber of the operation. Callers on
// mutation paths invoke it while still holding the operation's sequencer
// slot, which makes the enqueue order equal the commit order for every
// subscriber. The send itself is non-blocking; a full buffer drops the event.
func (h *Hub) Publish(opID uint, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.byOp[opID] {
		select {
		case s.Events <- event:
		default:
			logger.Warn().
				Str("session_id", s.ID).
				Uint("operation_id", opID).
				Str("kind", string(event.Kind)).
				Msg("subscriber buffer full, event dropped")
		}
	}
}

// UpdateRole refreshes the cached effective role of a user's live
// subscriptions on one operation. A role below viewer detaches the session.
func (h *Hub) UpdateRole(opID, userID uint, role Role) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, s := range h.byOp[opID] {
		if s.UserID != userID {
			continue
		}
		if role.AtLeast(RoleViewer) {
			s.subs[opID] = role
			continue
		}
		delete(s.subs, opID)
		delete(h.byOp[opID], id)
	}
	if len(h.byOp[opID]) == 0 {
		delete(h.byOp, opID)
	}
}

// SessionsFor returns the current subscriber sessions of an operation.
func (h *Hub) SessionsFor(opID uint) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.byOp[opID]
	out := make([]*Session, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
