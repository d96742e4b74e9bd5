package routes

import (
	ginlog "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"

	"bus_tracker/internal/controllers"
)

// Deps are the controllers the router mounts.
type Deps struct {
	Socket *controllers.SocketController
	Routes *controllers.RouteController
	DB     controllers.Pinger
	Hub    controllers.HubStats
}

func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Request logging middleware
	r.Use(ginlog.SetLogger(
		ginlog.WithUTC(true),
		ginlog.WithSkipPath([]string{"/healthz"}),
	))

	r.GET("/healthz", controllers.Health(d.DB, d.Hub))
	WebSocketRoutes(r, d.Socket)
	CommuterRoutes(r, d.Routes)

	return r
}
