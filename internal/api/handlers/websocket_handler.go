package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"agri-trace-api-server/internal/auth"
	"agri-trace-api-server/internal/socket"
)

// Maximum wait for any client frame before the connection is considered dead.
const pongWait = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	Hub    *socket.Hub
	Issuer *auth.Issuer
	Logger *zap.Logger
}

// ServeWs subscribes the connection to events for ?batchId= (all batches
// when omitted). With auth on, a ?token= is required.
func (h *WebSocketHandler) ServeWs(c *gin.Context) {
	logger := orNop(h.Logger)
	if h.Issuer.Enabled() {
		tokenString := c.Query("token")
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Token is required"})
			return
		}
		if _, err := h.Issuer.Parse(tokenString); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	clientID := h.Hub.Subscribe(c.Query("batchId"), conn)
	defer h.Hub.Unsubscribe(clientID)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	// gorilla answers pings itself; any ping extends the deadline
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket closed unexpectedly", zap.String("client_id", clientID), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
