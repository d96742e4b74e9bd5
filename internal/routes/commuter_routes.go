package routes

import (
	"github.com/gin-gonic/gin"

	"bus_tracker/internal/controllers"
)

// CommuterRoutes is the read side used by route viewers.
func CommuterRoutes(r *gin.Engine, rc *controllers.RouteController) {
	api := r.Group("/api/routes")
	{
		api.GET("/:id/state", rc.GetRouteState)
	}
}
