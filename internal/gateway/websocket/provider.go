package websocket

import "github.com/flexops/flexops/internal/common/logger"

// Provide creates the WebSocket gateway.
func Provide(queries TaskQueries, status StatusReporter, log *logger.Logger) (*Gateway, error) {
	gateway := NewGateway(queries, status, log)
	return gateway, nil
}
