package models

import (
	"time"
)

// Route is a trackable bus service: a named run with an ordered list of stops
// and a broadcastable state. Routes are created by the seed tool or the
// administrative layer; the tracking core only reads them.
type Route struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name   string `json:"name"`
	Number string `gorm:"uniqueIndex" json:"number"`
	From   string `gorm:"column:route_from" json:"route_from"`
	To     string `gorm:"column:route_to" json:"route_to"`

	// Geometry stored as WKB (SRID 4326 LINESTRING). Seed files provide GeoJSON.
	Geometry []byte `gorm:"type:bytea" json:"-"`

	Stops []Stop      `gorm:"foreignKey:RouteID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"stops,omitempty"`
	State *RouteState `gorm:"foreignKey:RouteID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"state,omitempty"`
}
