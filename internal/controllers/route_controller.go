package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bus_tracker/internal/models"
	"bus_tracker/internal/store"
	"bus_tracker/internal/trip"
)

// RouteReader loads a route with its stops and state.
type RouteReader interface {
	Route(ctx context.Context, id string) (*models.Route, error)
}

// ViewerCounter reports how many sessions are watching a route.
type ViewerCounter interface {
	Members(routeID string) int
}

// RouteStateResponse is the API view of a route and its live state.
type RouteStateResponse struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Number       string           `json:"number"`
	From         string           `json:"route_from"`
	To           string           `json:"route_to"`
	Geometry     string           `json:"geometry,omitempty"` // GeoJSON
	Stops        []models.Stop    `json:"stops"`
	Status       string           `json:"status"`
	IsActive     bool             `json:"is_active"`
	LastLocation *models.Location `json:"last_location"`
	CurrentStop  *string          `json:"current_stop"`
	NextStop     *string          `json:"next_stop"`
	Stale        bool             `json:"stale"`
	Viewers      int              `json:"viewers"`
}

// toRouteStateResponse converts a models.Route to a RouteStateResponse
func toRouteStateResponse(route *models.Route, now time.Time, staleAfter time.Duration) RouteStateResponse {
	jsonGeom, err := store.GeometryToGeoJSON(route.Geometry)
	if err != nil {
		logrus.WithError(err).WithField("route_id", route.ID).Warn("Stored route geometry is not valid WKB.")
	}

	resp := RouteStateResponse{
		ID:       route.ID,
		Name:     route.Name,
		Number:   route.Number,
		From:     route.From,
		To:       route.To,
		Geometry: jsonGeom,
		Stops:    route.Stops,
		Status:   string(trip.Offline),
	}
	if resp.Stops == nil {
		resp.Stops = []models.Stop{}
	}

	var lastUpdated *time.Time
	if st := route.State; st != nil {
		status, err := trip.ParseStatus(st.Status)
		if err != nil {
			logrus.WithError(err).WithField("route_id", route.ID).Warn("Stored route status is unknown, reporting offline.")
			status = trip.Offline
		}
		resp.Status = string(status)
		resp.IsActive = st.IsActive
		resp.LastLocation = st.LastLocation()
		resp.CurrentStop = st.CurrentStop
		resp.NextStop = st.NextStop
		lastUpdated = st.LastUpdatedAt
	}
	resp.Stale = trip.IsStale(lastUpdated, now, staleAfter)
	return resp
}

// RouteController serves the read side of route tracking.
type RouteController struct {
	routes     RouteReader
	viewers    ViewerCounter
	staleAfter time.Duration
	now        func() time.Time
}

// NewRouteController serves state from r. v may be nil, in which case viewers is always zero.
func NewRouteController(r RouteReader, v ViewerCounter, staleAfter time.Duration) *RouteController {
	return &RouteController{routes: r, viewers: v, staleAfter: staleAfter, now: time.Now}
}

// GetRouteState returns a route, its stops and its persisted live state.
// @Summary Get live route state
// @Produce json
// @Param id path string true "Route ID"
// @Success 200 {object} RouteStateResponse
// @Router /api/routes/{id}/state [get]
// @Tags Routes
func (rc *RouteController) GetRouteState(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "route id is required"})
		return
	}

	route, err := rc.routes.Route(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRouteNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
			return
		}
		logrus.WithError(err).WithField("route_id", id).Error("Failed to load route state.")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load route"})
		return
	}

	resp := toRouteStateResponse(route, rc.now(), rc.staleAfter)
	if rc.viewers != nil {
		resp.Viewers = rc.viewers.Members(route.ID)
	}
	c.JSON(http.StatusOK, resp)
}
