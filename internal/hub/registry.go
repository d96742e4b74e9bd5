// Package hub tracks which sessions watch which routes and fans events out to them.
package hub

import (
	"sync"

	"github.com/sirupsen/logrus"

	"bus_tracker/internal/events"
)

// Session is one live connection as the registry sees it.
type Session interface {
	ID() string
	// Send queues a frame without blocking. It returns false when the frame was dropped.
	Send(frame []byte) bool
	Close() error
}

// Metrics receives registry gauges. A nil Metrics is allowed.
type Metrics interface {
	SessionsSet(n int)
	RoomsSet(n int)
	BroadcastObserve(delivered, dropped int)
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Sessions int
	Rooms    int
}

// Registry is the room bookkeeping for every live session.
// A session is in a room iff it joined since connecting and has not disconnected.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	rooms    map[string]map[string]Session  // route id -> session id -> session
	joined   map[string]map[string]struct{} // session id -> route ids
	metrics  Metrics
}

// NewRegistry returns an empty registry.
func NewRegistry(m Metrics) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		rooms:    make(map[string]map[string]Session),
		joined:   make(map[string]map[string]struct{}),
		metrics:  m,
	}
}

// Connect registers a new session. It belongs to no room yet.
func (r *Registry) Connect(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	r.joined[s.ID()] = make(map[string]struct{})
	r.publishGaugesLocked()
	logrus.WithField("session_id", s.ID()).Debug("Session connected to hub.")
}

// Disconnect removes s from every room and forgets it.
func (r *Registry) Disconnect(s Session) {
	r.LeaveAll(s)

	r.mu.Lock()
	delete(r.sessions, s.ID())
	delete(r.joined, s.ID())
	r.publishGaugesLocked()
	r.mu.Unlock()

	logrus.WithField("session_id", s.ID()).Debug("Session disconnected from hub.")
}

// Join adds s to the room for routeID. Joining twice is a no-op.
func (r *Registry) Join(s Session, routeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[routeID]
	if !ok {
		room = make(map[string]Session)
		r.rooms[routeID] = room
	}
	room[s.ID()] = s

	set, ok := r.joined[s.ID()]
	if !ok {
		set = make(map[string]struct{})
		r.joined[s.ID()] = set
	}
	set[routeID] = struct{}{}
	r.publishGaugesLocked()

	logrus.WithFields(logrus.Fields{
		"session_id": s.ID(),
		"route_id":   routeID,
	}).Info("Session joined route room.")
}

// Leave removes s from the room for routeID.
func (r *Registry) Leave(s Session, routeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(s.ID(), routeID)
	r.publishGaugesLocked()
}

// LeaveAll removes s from every room it joined.
func (r *Registry) LeaveAll(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for routeID := range r.joined[s.ID()] {
		r.leaveLocked(s.ID(), routeID)
	}
	r.publishGaugesLocked()
}

func (r *Registry) leaveLocked(sessionID, routeID string) {
	if room, ok := r.rooms[routeID]; ok {
		delete(room, sessionID)
		if len(room) == 0 {
			delete(r.rooms, routeID)
			logrus.WithField("route_id", routeID).Debug("Removed route room as no sessions are left.")
		}
	}
	if set, ok := r.joined[sessionID]; ok {
		delete(set, routeID)
	}
}

// Broadcast sends ev to every session currently in the room for routeID and
// returns how many accepted it. Sessions that are gone or backed up miss it.
func (r *Registry) Broadcast(routeID string, ev events.Outbound) int {
	frame, err := events.Marshal(ev)
	if err != nil {
		logrus.WithError(err).WithField("route_id", routeID).Error("Failed to encode broadcast event.")
		return 0
	}

	r.mu.RLock()
	targets := make([]Session, 0, len(r.rooms[routeID]))
	for _, s := range r.rooms[routeID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, s := range targets {
		if s.Send(frame) {
			delivered++
			continue
		}
		dropped++
		logrus.WithFields(logrus.Fields{
			"route_id":   routeID,
			"session_id": s.ID(),
			"event":      ev.EventName(),
		}).Warn("Session send buffer full, dropping event.")
	}
	if r.metrics != nil {
		r.metrics.BroadcastObserve(delivered, dropped)
	}
	return delivered
}

// Rooms returns the route ids s has joined.
func (r *Registry) Rooms(s Session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.joined[s.ID()]))
	for id := range r.joined[s.ID()] {
		out = append(out, id)
	}
	return out
}

// Members returns the number of sessions in the room for routeID.
func (r *Registry) Members(routeID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[routeID])
}

// Stats returns how many sessions are connected and how many rooms have members.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statsLocked()
}

func (r *Registry) statsLocked() Stats {
	return Stats{Sessions: len(r.sessions), Rooms: len(r.rooms)}
}

// Close disconnects every session. The registry is empty afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]Session)
	r.rooms = make(map[string]map[string]Session)
	r.joined = make(map[string]map[string]struct{})
	r.publishGaugesLocked()
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			logrus.WithError(err).WithField("session_id", s.ID()).Warn("Error closing session during hub shutdown.")
		}
	}
	logrus.WithField("sessions", len(sessions)).Info("Hub closed.")
}

func (r *Registry) publishGaugesLocked() {
	if r.metrics == nil {
		return
	}
	st := r.statsLocked()
	r.metrics.SessionsSet(st.Sessions)
	r.metrics.RoomsSet(st.Rooms)
}
