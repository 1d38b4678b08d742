package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/labflow/pkg/channels/gochannel"
	"github.com/dukex/labflow/pkg/channels/kafka"
	"github.com/dukex/labflow/pkg/eventbus"
	"github.com/google/uuid"
)

// NewEventBus connects the bus carrying scenario events. The in-process
// bus only reaches this host; kafka reaches every coordinator.
func NewEventBus(provider, brokers string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, err
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	case "kafka":
		group := "labflow-" + uuid.NewString()[:8]

		pub, sub, err := kafka.CreateChannel(wmLogger, strings.Split(brokers, ","), group)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	default:
		return nil, fmt.Errorf("%w: unsupported event bus %q", ErrInvalidOption, provider)
	}
}
