package models

// Stop is a named waypoint along a route.
// Order is unique per route and ascending, but not necessarily contiguous.
type Stop struct {
	ID      uint    `gorm:"primaryKey" json:"-"`
	RouteID string  `gorm:"index;size:64" json:"-"`
	Name    string  `json:"name" yaml:"name" validate:"required"`
	Lat     float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lng     float64 `json:"lng" yaml:"lng" validate:"gte=-180,lte=180"`
	Order   int     `gorm:"column:stop_order" json:"order" yaml:"order" validate:"gt=0"`
}
