// Package trip holds the lifecycle rules for a route's broadcastable status.
package trip

import (
	"fmt"
	"time"
)

// Status is the broadcast status of a route.
type Status string

const (
	Offline  Status = "offline"
	OnTime   Status = "on-time"
	Delayed  Status = "delayed"
	Arriving Status = "arriving"
	Departed Status = "departed"
)

// DefaultStaleAfter is how old a last location may be before readers treat the route as offline.
const DefaultStaleAfter = 5 * time.Minute

// State is the {status, isActive} pair a transition produces.
type State struct {
	Status   Status
	IsActive bool
}

// Start is the explicit start-trip transition.
func Start() State {
	return State{Status: OnTime, IsActive: true}
}

// Stop is the explicit stop-trip transition.
func Stop() State {
	return State{Status: Offline, IsActive: false}
}

// SampleReceived is applied for every location sample that gets processed.
// A fresh position re-asserts on-time, including over delayed, arriving and
// departed set by the administrative path.
func SampleReceived() State {
	return State{Status: OnTime, IsActive: true}
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case Offline, OnTime, Delayed, Arriving, Departed:
		return st, nil
	case "":
		return Offline, nil
	default:
		return "", fmt.Errorf("unknown trip status %q", s)
	}
}

func (s Status) String() string { return string(s) }

// IsStale reports whether a last-known location is too old to trust.
// A route that never reported is stale. This never changes the stored status.
func IsStale(lastUpdated *time.Time, now time.Time, threshold time.Duration) bool {
	if lastUpdated == nil {
		return true
	}
	if threshold <= 0 {
		threshold = DefaultStaleAfter
	}
	return now.Sub(*lastUpdated) > threshold
}
