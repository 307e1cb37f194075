package realtime

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/copad/copad/pkg/logger"
	"github.com/copad/copad/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TicketValidator resolves a connect ticket to the authenticated subject.
type TicketValidator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// RegisterWS mounts the websocket endpoint. With a validator configured the
// ticket query parameter is mandatory; without one (dev, tests) the client
// identifies itself via the user query parameter.
func RegisterWS(r gin.IRouter, hub *Hub, tickets TicketValidator) {
	r.GET("/ws", func(c *gin.Context) {
		var userID string
		if tickets != nil {
			sub, err := tickets.Validate(c.Request.Context(), c.Query("ticket"))
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid ticket"})
				return
			}
			userID = sub
		} else {
			userID = c.Query("user")
			if userID == "" {
				userID = c.Query("ticket")
			}
		}
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warnf("ws: upgrade failed for %s: %v", userID, err)
			return
		}
		metrics.WSConnections.Inc()
		client := newClient(hub, ws, userID)
		go client.writePump()
		go client.readPump()
	})
}
