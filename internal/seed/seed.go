// Package seed loads route definitions from YAML and writes them to the store.
package seed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"bus_tracker/internal/models"
	"bus_tracker/internal/store"
)

// File is the on-disk seed format.
type File struct {
	Routes []RouteSpec `yaml:"routes" validate:"required,min=1,dive"`
}

type RouteSpec struct {
	ID       string        `yaml:"id" validate:"required,max=64"`
	Name     string        `yaml:"name" validate:"required"`
	Number   string        `yaml:"number" validate:"required"`
	From     string        `yaml:"from"`
	To       string        `yaml:"to"`
	Geometry string        `yaml:"geometry"` // GeoJSON LineString
	Stops    []models.Stop `yaml:"stops" validate:"dive"`
}

// RouteSaver persists one route with its stops.
type RouteSaver interface {
	SaveRoute(ctx context.Context, route *models.Route) error
}

var validate = validator.New()

// Load reads and validates a seed file.
func Load(path string) ([]models.Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	routes, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return routes, nil
}

// Parse decodes seed YAML into routes.
func Parse(data []byte) ([]models.Route, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	for i := range f.Routes {
		f.Routes[i].ID = strings.TrimSpace(f.Routes[i].ID)
	}
	if err := validate.Struct(f); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(f.Routes))
	routes := make([]models.Route, 0, len(f.Routes))
	for _, rs := range f.Routes {
		if seen[rs.ID] {
			return nil, fmt.Errorf("route %q defined twice", rs.ID)
		}
		seen[rs.ID] = true

		r, err := rs.toModel()
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", rs.ID, err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func (rs RouteSpec) toModel() (models.Route, error) {
	orders := make(map[int]bool, len(rs.Stops))
	for _, s := range rs.Stops {
		if orders[s.Order] {
			return models.Route{}, fmt.Errorf("stop order %d used twice", s.Order)
		}
		orders[s.Order] = true
	}

	geometry, err := store.ParseGeometry(rs.Geometry)
	if err != nil {
		return models.Route{}, fmt.Errorf("geometry: %w", err)
	}

	stops := make([]models.Stop, len(rs.Stops))
	copy(stops, rs.Stops)
	return models.Route{
		ID:       rs.ID,
		Name:     rs.Name,
		Number:   rs.Number,
		From:     rs.From,
		To:       rs.To,
		Geometry: geometry,
		Stops:    stops,
	}, nil
}

// Apply saves every route. Existing routes are replaced, stops included.
func Apply(ctx context.Context, s RouteSaver, routes []models.Route) error {
	for i := range routes {
		r := &routes[i]
		if err := s.SaveRoute(ctx, r); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"route_id": r.ID,
			"number":   r.Number,
			"stops":    len(r.Stops),
		}).Info("Route seeded.")
	}
	return nil
}
