package controllers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bus_tracker/internal/events"
	"bus_tracker/internal/hub"
	"bus_tracker/internal/middleware"
)

// SessionRegistry tracks live sessions.
type SessionRegistry interface {
	Connect(s hub.Session)
	Disconnect(s hub.Session)
	Rooms(s hub.Session) []string
}

// Dispatcher handles one inbound event for a session.
type Dispatcher interface {
	Dispatch(ctx context.Context, s hub.Session, ev events.Inbound) error
}

// SocketController serves the route tracking websocket.
type SocketController struct {
	registry   SessionRegistry
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	sendBuffer int
}

func NewSocketController(reg SessionRegistry, d Dispatcher, origins middleware.Origins, sendBuffer int) *SocketController {
	return &SocketController{
		registry:   reg,
		dispatcher: d,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
	}
}

// HandleRouteSocket upgrades the request and serves events until the peer
// goes away. Disconnecting removes the session from every room.
// @Summary Route tracking WebSocket
// @Description Publishers send start-trip, update-location and stop-trip; viewers join-route and receive status-update and receive-location.
// @Router /ws/routes [get]
// @Tags WebSocket
func (sc *SocketController) HandleRouteSocket(c *gin.Context) {
	ws, err := sc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade WebSocket connection.")
		return
	}

	conn := hub.NewConn(ws, sc.sendBuffer)
	log := logrus.WithFields(logrus.Fields{
		"session_id":  conn.ID(),
		"remote_addr": c.Request.RemoteAddr,
	})

	sc.registry.Connect(conn)
	defer func() {
		rooms := sc.registry.Rooms(conn)
		sc.registry.Disconnect(conn)
		conn.Close()
		log.WithField("rooms", rooms).Info("WebSocket session closed.")
	}()
	go conn.WritePump()

	log.Info("WebSocket session established.")

	ctx := c.Request.Context()
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Warn("Error reading WebSocket message.")
			}
			return
		}

		ev, err := events.DecodeInbound(frame)
		if err != nil {
			log.WithError(err).WithField("payload", truncate(frame, 256)).Warn("Ignoring malformed frame.")
			continue
		}

		// The handler logs and counts its own drops.
		if err := sc.dispatcher.Dispatch(ctx, conn, ev); err != nil {
			log.WithError(err).WithField("event", ev.EventName()).Debug("Event not applied.")
		}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

