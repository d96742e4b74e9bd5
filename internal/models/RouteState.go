package models

import (
	"time"
)

// RouteState is the persisted live state of a route, upserted by RouteID.
type RouteState struct {
	RouteID  string `gorm:"primaryKey;size:64" json:"route_id"`
	Status   string `gorm:"size:16;default:offline" json:"status"`
	IsActive bool   `gorm:"default:false" json:"is_active"`

	// Last known location; LastUpdatedAt is nil until the first sample lands.
	LastLat       float64    `json:"-"`
	LastLng       float64    `json:"-"`
	LastUpdatedAt *time.Time `json:"-"`
	LastPoint     []byte     `gorm:"type:bytea" json:"-"` // WKB POINT

	CurrentStop *string `json:"current_stop"`
	NextStop    *string `json:"next_stop"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Location is the JSON view of the last known position.
type Location struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LastLocation returns nil when no sample has been recorded.
func (s *RouteState) LastLocation() *Location {
	if s == nil || s.LastUpdatedAt == nil {
		return nil
	}
	return &Location{Lat: s.LastLat, Lng: s.LastLng, UpdatedAt: *s.LastUpdatedAt}
}
