package websocket

import (
	"github.com/gin-gonic/gin"

	"github.com/flexops/flexops/internal/common/logger"
	ws "github.com/flexops/flexops/pkg/websocket"
)

// Gateway bundles the WebSocket hub, dispatcher and connection handler.
type Gateway struct {
	Hub        *Hub
	Dispatcher *ws.Dispatcher
	Handler    *Handler
	logger     *logger.Logger
}

// NewGateway creates the gateway with the health and query handlers
// registered.
func NewGateway(queries TaskQueries, status StatusReporter, log *logger.Logger) *Gateway {
	dispatcher := ws.NewDispatcher()
	hub := NewHub(dispatcher, log)
	handler := NewHandler(hub, log)

	RegisterHealthHandler(dispatcher)
	RegisterQueryHandlers(dispatcher, queries, status)

	return &Gateway{
		Hub:        hub,
		Dispatcher: dispatcher,
		Handler:    handler,
		logger:     log,
	}
}

// SetupRoutes adds the WebSocket routes to the Gin engine
func (g *Gateway) SetupRoutes(router *gin.Engine) {
	router.GET("/ws", g.Handler.HandleConnection)
}
