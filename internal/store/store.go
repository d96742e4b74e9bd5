// Package store is the gorm/postgres persistence collaborator for routes,
// their stops and their live state.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bus_tracker/internal/models"
)

// ErrRouteNotFound is returned for route ids the store does not know.
var ErrRouteNotFound = errors.New("route not found")

// GormStore reads routes and upserts route state keyed by route id.
type GormStore struct {
	db *gorm.DB
}

func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the tables this store uses.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&models.Route{}, &models.Stop{}, &models.RouteState{})
}

// Route loads a route with its stops (ascending order) and current state.
func (s *GormStore) Route(ctx context.Context, id string) (*models.Route, error) {
	var route models.Route
	err := s.db.WithContext(ctx).
		Preload("Stops", func(db *gorm.DB) *gorm.DB { return db.Order("stop_order ASC") }).
		Preload("State").
		Where("id = ?", id).
		First(&route).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load route %s: %w", id, err)
	}
	return &route, nil
}

// UpsertLocation writes the full live state produced by an ingested sample.
// Concurrent writers race; the last commit wins.
func (s *GormStore) UpsertLocation(ctx context.Context, st models.RouteState) error {
	if st.LastUpdatedAt != nil {
		point, err := EncodePoint(st.LastLat, st.LastLng)
		if err != nil {
			return fmt.Errorf("encode last location: %w", err)
		}
		st.LastPoint = point
	}
	st.UpdatedAt = time.Now().UTC()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "route_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "is_active",
			"last_lat", "last_lng", "last_updated_at", "last_point",
			"current_stop", "next_stop", "updated_at",
		}),
	}).Create(&st).Error
	if err != nil {
		return fmt.Errorf("upsert route state %s: %w", st.RouteID, err)
	}
	return nil
}

// UpsertStatus writes only status and isActive, leaving the last location alone.
func (s *GormStore) UpsertStatus(ctx context.Context, routeID, status string, active bool) error {
	st := models.RouteState{
		RouteID:   routeID,
		Status:    status,
		IsActive:  active,
		UpdatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "route_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "is_active", "updated_at"}),
	}).Create(&st).Error
	if err != nil {
		return fmt.Errorf("upsert route status %s: %w", routeID, err)
	}
	return nil
}

// SaveRoute creates or replaces a route and its stops in one transaction.
// Existing live state is kept.
func (s *GormStore) SaveRoute(ctx context.Context, route *models.Route) error {
	stops := route.Stops
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := *route
		row.Stops = nil
		row.State = nil
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "number", "route_from", "route_to", "geometry", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("save route %s: %w", route.ID, err)
		}

		if err := tx.Where("route_id = ?", route.ID).Delete(&models.Stop{}).Error; err != nil {
			return fmt.Errorf("clear stops for %s: %w", route.ID, err)
		}
		for i := range stops {
			stops[i].ID = 0
			stops[i].RouteID = route.ID
		}
		if len(stops) > 0 {
			if err := tx.Create(&stops).Error; err != nil {
				return fmt.Errorf("create stops for %s: %w", route.ID, err)
			}
		}
		route.Stops = stops
		return nil
	})
}

// Ping checks the underlying connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
