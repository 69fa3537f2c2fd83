package handler

import (
	"net/http"
	"time"

	"optqueue/internal/ws"
	"optqueue/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades clients onto the event stream
type WebSocketHandler struct {
	registry     *ws.Registry
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

// NewWebSocketHandler creates websocket handler
func NewWebSocketHandler(registry *ws.Registry, writeTimeout time.Duration) *WebSocketHandler {
	return &WebSocketHandler{
		registry:     registry,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Connect upgrades the request. The client id comes from the client_id query
// parameter or is generated.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WarnCtx(c.Request.Context(), "websocket upgrade failed, client_id: %s, error: %v", clientID, err)
		return
	}

	h.registry.Serve(c.Request.Context(), clientID, ws.NewSocket(conn, h.writeTimeout))
}
