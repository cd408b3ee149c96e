package main

import (
	"github.com/flexops/flexops/internal/common/config"
	"github.com/flexops/flexops/internal/common/logger"
	"github.com/flexops/flexops/internal/events"
	"github.com/flexops/flexops/internal/events/bus"
)

func provideEventBus(cfg *config.Config, log *logger.Logger) (bus.EventBus, func() error, error) {
	provider, cleanup, err := events.Provide(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return provider.Bus, cleanup, nil
}
