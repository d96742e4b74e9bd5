// Package events defines the closed set of messages exchanged over a route
// session and their JSON envelope.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Event names on the wire.
const (
	NameJoinRoute       = "join-route"
	NameLeaveRoute      = "leave-route"
	NameStartTrip       = "start-trip"
	NameUpdateLocation  = "update-location"
	NameStopTrip        = "stop-trip"
	NameStatusUpdate    = "status-update"
	NameReceiveLocation = "receive-location"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed event payload")
)

var validate = validator.New()

// Event is anything that can be framed in an Envelope.
type Event interface {
	EventName() string
}

// Inbound is a message a session sends to the server.
type Inbound interface {
	Event
	inbound()
}

// Outbound is a message the server fans out to a room.
type Outbound interface {
	Event
	outbound()
	Route() string
}

// Envelope is the frame every message travels in.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type JoinRoute struct {
	RouteID string `json:"routeId" validate:"required"`
}

type LeaveRoute struct {
	RouteID string `json:"routeId" validate:"required"`
}

type StartTrip struct {
	RouteID string `json:"routeId" validate:"required"`
}

type StopTrip struct {
	RouteID string `json:"routeId" validate:"required"`
}

// UpdateLocation is one GPS sample from a publisher. CapturedAt is zero when
// the sender did not supply one.
type UpdateLocation struct {
	RouteID    string    `json:"routeId" validate:"required"`
	Lat        float64   `json:"lat" validate:"gte=-90,lte=90"`
	Lng        float64   `json:"lng" validate:"gte=-180,lte=180"`
	CapturedAt time.Time `json:"capturedAt"`
}

type StatusUpdate struct {
	RouteID  string `json:"routeId"`
	Status   string `json:"status"`
	IsActive bool   `json:"isActive"`
}

type ReceiveLocation struct {
	RouteID     string    `json:"routeId"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	CapturedAt  time.Time `json:"capturedAt"`
	CurrentStop *string   `json:"currentStop"`
	NextStop    *string   `json:"nextStop"`
}

func (JoinRoute) EventName() string       { return NameJoinRoute }
func (LeaveRoute) EventName() string      { return NameLeaveRoute }
func (StartTrip) EventName() string       { return NameStartTrip }
func (StopTrip) EventName() string        { return NameStopTrip }
func (UpdateLocation) EventName() string  { return NameUpdateLocation }
func (StatusUpdate) EventName() string    { return NameStatusUpdate }
func (ReceiveLocation) EventName() string { return NameReceiveLocation }

func (JoinRoute) inbound()      {}
func (LeaveRoute) inbound()     {}
func (StartTrip) inbound()      {}
func (StopTrip) inbound()       {}
func (UpdateLocation) inbound() {}

func (StatusUpdate) outbound()    {}
func (ReceiveLocation) outbound() {}

func (e StatusUpdate) Route() string    { return e.RouteID }
func (e ReceiveLocation) Route() string { return e.RouteID }

// Validate checks struct tags on an event.
func Validate(ev any) error {
	if err := validate.Struct(ev); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Marshal frames ev in an Envelope.
func Marshal(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: ev.EventName(), Data: data})
}

// DecodeInbound parses and validates one client frame.
func DecodeInbound(frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var ev Inbound
	var err error
	switch env.Event {
	case NameJoinRoute:
		var id string
		id, err = decodeRouteID(env.Data)
		ev = JoinRoute{RouteID: id}
	case NameLeaveRoute:
		var id string
		id, err = decodeRouteID(env.Data)
		ev = LeaveRoute{RouteID: id}
	case NameStartTrip:
		var id string
		id, err = decodeRouteID(env.Data)
		ev = StartTrip{RouteID: id}
	case NameStopTrip:
		var id string
		id, err = decodeRouteID(env.Data)
		ev = StopTrip{RouteID: id}
	case NameUpdateLocation:
		var loc UpdateLocation
		err = json.Unmarshal(env.Data, &loc)
		ev = loc
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
	}
	if err := Validate(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// DecodeOutbound parses one server frame. Used by publishers and tests.
func DecodeOutbound(frame []byte) (Outbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Event {
	case NameStatusUpdate:
		var ev StatusUpdate
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return ev, nil
	case NameReceiveLocation:
		var ev ReceiveLocation
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// decodeRouteID accepts either a bare JSON string or {"routeId": "..."}.
func decodeRouteID(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return "", err
		}
		return strings.TrimSpace(id), nil
	}
	var obj struct {
		RouteID string `json:"routeId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	return strings.TrimSpace(obj.RouteID), nil
}
