// Package stops infers where a bus is along its route from a raw coordinate.
package stops

import (
	"math"

	"bus_tracker/internal/models"
)

// EarthRadiusKm is the mean Earth radius used for haversine distances.
const EarthRadiusKm = 6371.0

const (
	// TripCompleted is reported as the next stop when the bus is nearest the final stop.
	TripCompleted = "Trip Completed"
	// Destination is the fallback when the nearest stop has no direct successor.
	Destination = "Destination"
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Result holds the inferred stops. Both are nil when the route has no stops.
type Result struct {
	CurrentStop *string
	NextStop    *string
}

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// Nearest returns the index of the stop closest to p, or -1 for an empty list.
// Ties resolve to the first stop in input order.
func Nearest(p Point, list []models.Stop) int {
	best := -1
	bestDist := math.Inf(1)
	for i, s := range list {
		d := Distance(p, Point{Lat: s.Lat, Lng: s.Lng})
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Infer treats the nearest stop as the last one passed and looks up the stop
// whose order directly follows it. Proximity is taken as arrival; there is no
// heading or timing check.
func Infer(p Point, list []models.Stop) Result {
	i := Nearest(p, list)
	if i < 0 {
		return Result{}
	}
	nearest := list[i]
	current := nearest.Name

	maxOrder := nearest.Order
	var next *string
	for j := range list {
		if list[j].Order > maxOrder {
			maxOrder = list[j].Order
		}
		if next == nil && list[j].Order == nearest.Order+1 {
			name := list[j].Name
			next = &name
		}
	}
	if next == nil {
		fallback := Destination
		if nearest.Order == maxOrder {
			fallback = TripCompleted
		}
		next = &fallback
	}

	return Result{CurrentStop: &current, NextStop: next}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
