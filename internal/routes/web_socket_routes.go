package routes

import (
	"github.com/gin-gonic/gin"

	"bus_tracker/internal/controllers"
)

func WebSocketRoutes(r *gin.Engine, sc *controllers.SocketController) {
	wsRoutes := r.Group("/ws")
	{
		wsRoutes.GET("/routes", sc.HandleRouteSocket)
	}
}
