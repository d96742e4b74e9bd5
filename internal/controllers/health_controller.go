package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bus_tracker/internal/hub"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HubStats interface {
	Stats() hub.Stats
}

// Health reports 503 when the database does not answer within two seconds.
// Live session and room counts are included either way.
func Health(db Pinger, h HubStats) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		body := gin.H{"status": "ok"}
		if h != nil {
			st := h.Stats()
			body["sessions"], body["rooms"] = st.Sessions, st.Rooms
		}

		if err := db.Ping(ctx); err != nil {
			logrus.WithError(err).Warn("Health check: database unreachable.")
			body["status"], body["database"] = "unavailable", err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	}
}
