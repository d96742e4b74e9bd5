// Package tracking turns publisher events into persisted route state and
// room broadcasts.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bus_tracker/internal/events"
	"bus_tracker/internal/hub"
	"bus_tracker/internal/models"
	"bus_tracker/internal/stops"
	"bus_tracker/internal/store"
	"bus_tracker/internal/trip"
)

// ErrInvalidSample marks samples rejected before touching the store.
var ErrInvalidSample = errors.New("invalid location sample")

// Drop reasons reported to Metrics.
const (
	DropInvalid      = "invalid"
	DropUnknownRoute = "unknown_route"
	DropLookupFailed = "lookup_failed"
	DropPersistFail  = "persist_failed"
)

// Store is the persistence collaborator.
type Store interface {
	Route(ctx context.Context, id string) (*models.Route, error)
	UpsertLocation(ctx context.Context, st models.RouteState) error
	UpsertStatus(ctx context.Context, routeID, status string, active bool) error
}

// Rooms is the part of the room registry the handler drives.
type Rooms interface {
	Join(s hub.Session, routeID string)
	Leave(s hub.Session, routeID string)
	Broadcast(routeID string, ev events.Outbound) int
}

// Mirror receives a copy of every committed broadcast (e.g. a message bus relay).
type Mirror interface {
	Mirror(ev events.Outbound)
}

// Metrics receives ingestion counters. A nil Metrics is allowed.
type Metrics interface {
	SampleIngested()
	SampleDropped(reason string)
	PersistObserve(d time.Duration)
	TripTransition(status string)
}

// Handler is the location ingestion handler and trip command entry point.
type Handler struct {
	store   Store
	rooms   Rooms
	mirrors []Mirror
	metrics Metrics
	now     func() time.Time
}

type Option func(*Handler)

func WithMetrics(m Metrics) Option { return func(h *Handler) { h.metrics = m } }

func WithMirror(m Mirror) Option {
	return func(h *Handler) {
		if m != nil {
			h.mirrors = append(h.mirrors, m)
		}
	}
}

// WithClock overrides the arrival-time clock used for samples without capturedAt.
func WithClock(now func() time.Time) Option { return func(h *Handler) { h.now = now } }

func NewHandler(s Store, rooms Rooms, opts ...Option) *Handler {
	h := &Handler{store: s, rooms: rooms, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Ingest processes one location sample: infer stops, apply the sample
// transition, upsert, and only after a successful commit broadcast
// receive-location to the route room. Errors are for logging and tests; the
// publisher never sees them.
func (h *Handler) Ingest(ctx context.Context, s events.UpdateLocation) error {
	log := logrus.WithFields(logrus.Fields{
		"route_id": s.RouteID,
		"lat":      s.Lat,
		"lng":      s.Lng,
	})

	if err := events.Validate(s); err != nil {
		log.WithError(err).Warn("Dropping invalid location sample.")
		h.dropped(DropInvalid)
		return fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	if s.CapturedAt.IsZero() {
		s.CapturedAt = h.now()
	}
	capturedAt := s.CapturedAt.UTC()

	route, err := h.store.Route(ctx, s.RouteID)
	if err != nil {
		if errors.Is(err, store.ErrRouteNotFound) {
			log.Warn("Dropping location sample for unknown route.")
			h.dropped(DropUnknownRoute)
		} else {
			log.WithError(err).Error("Failed to load route for location sample.")
			h.dropped(DropLookupFailed)
		}
		return err
	}

	inferred := stops.Infer(stops.Point{Lat: s.Lat, Lng: s.Lng}, route.Stops)
	next := trip.SampleReceived()

	state := models.RouteState{
		RouteID:       route.ID,
		Status:        string(next.Status),
		IsActive:      next.IsActive,
		LastLat:       s.Lat,
		LastLng:       s.Lng,
		LastUpdatedAt: &capturedAt,
		CurrentStop:   inferred.CurrentStop,
		NextStop:      inferred.NextStop,
	}

	start := time.Now()
	err = h.store.UpsertLocation(ctx, state)
	if h.metrics != nil {
		h.metrics.PersistObserve(time.Since(start))
	}
	if err != nil {
		log.WithError(err).Error("Failed to persist location sample, not broadcasting.")
		h.dropped(DropPersistFail)
		return err
	}

	delivered := h.broadcast(events.ReceiveLocation{
		RouteID:     route.ID,
		Lat:         s.Lat,
		Lng:         s.Lng,
		CapturedAt:  capturedAt,
		CurrentStop: inferred.CurrentStop,
		NextStop:    inferred.NextStop,
	})
	if h.metrics != nil {
		h.metrics.SampleIngested()
	}

	log.WithFields(logrus.Fields{
		"current_stop": deref(inferred.CurrentStop),
		"next_stop":    deref(inferred.NextStop),
		"captured_at":  capturedAt.Format(time.RFC3339Nano),
		"delivered":    delivered,
	}).Debug("Location sample persisted and broadcast.")
	return nil
}

// StartTrip marks the route on-time and active, then broadcasts status-update.
func (h *Handler) StartTrip(ctx context.Context, routeID string) error {
	return h.transition(ctx, routeID, trip.Start(), events.NameStartTrip)
}

// StopTrip marks the route offline and inactive, then broadcasts status-update.
func (h *Handler) StopTrip(ctx context.Context, routeID string) error {
	return h.transition(ctx, routeID, trip.Stop(), events.NameStopTrip)
}

func (h *Handler) transition(ctx context.Context, routeID string, next trip.State, cause string) error {
	log := logrus.WithFields(logrus.Fields{"route_id": routeID, "command": cause})

	if _, err := h.store.Route(ctx, routeID); err != nil {
		if errors.Is(err, store.ErrRouteNotFound) {
			log.Warn("Ignoring trip command for unknown route.")
		} else {
			log.WithError(err).Error("Failed to load route for trip command.")
		}
		return err
	}

	if err := h.store.UpsertStatus(ctx, routeID, string(next.Status), next.IsActive); err != nil {
		log.WithError(err).Error("Failed to persist trip status, not broadcasting.")
		return err
	}

	h.broadcast(events.StatusUpdate{
		RouteID:  routeID,
		Status:   string(next.Status),
		IsActive: next.IsActive,
	})
	if h.metrics != nil {
		h.metrics.TripTransition(string(next.Status))
	}
	log.WithField("status", next.Status).Info("Trip status changed.")
	return nil
}

// Dispatch routes one decoded inbound event from session s. It is called
// sequentially per connection, so a session's events are handled in order.
func (h *Handler) Dispatch(ctx context.Context, s hub.Session, ev events.Inbound) error {
	switch ev := ev.(type) {
	case events.JoinRoute:
		h.rooms.Join(s, ev.RouteID)
		return nil
	case events.LeaveRoute:
		h.rooms.Leave(s, ev.RouteID)
		return nil
	case events.StartTrip:
		// The publisher joins its own room so it sees its status updates.
		h.rooms.Join(s, ev.RouteID)
		return h.StartTrip(ctx, ev.RouteID)
	case events.StopTrip:
		return h.StopTrip(ctx, ev.RouteID)
	case events.UpdateLocation:
		return h.Ingest(ctx, ev)
	default:
		return fmt.Errorf("%w: %T", events.ErrUnknownEvent, ev)
	}
}

func (h *Handler) broadcast(ev events.Outbound) int {
	n := h.rooms.Broadcast(ev.Route(), ev)
	for _, m := range h.mirrors {
		m.Mirror(ev)
	}
	return n
}

func (h *Handler) dropped(reason string) {
	if h.metrics != nil {
		h.metrics.SampleDropped(reason)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
