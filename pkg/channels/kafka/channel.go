// Package kafka provides the event transport shared by coordinators running
// on several hosts.
package kafka

import (
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
)

var ErrNoBrokers = errors.New("no kafka brokers configured")

// CreateChannel connects a publisher and a subscriber to brokers. Every
// coordinator needs to see every stop request, so consumerGroup should be
// unique per host.
func CreateChannel(logger watermill.LoggerAdapter, brokers []string, consumerGroup string) (*kafka.Publisher, *kafka.Subscriber, error) {
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, nil, ErrNoBrokers
	}

	saramaSubscriberConfig := kafka.DefaultSaramaSubscriberConfig()
	saramaSubscriberConfig.Consumer.Offsets.Initial = sarama.OffsetNewest

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaSubscriberConfig,
			ConsumerGroup:         consumerGroup,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create kafka subscriber: %w", err)
	}

	saramaPublisherConfig := sarama.NewConfig()
	saramaPublisherConfig.Producer.Return.Successes = true

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaPublisherConfig,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		_ = subscriber.Close()

		return nil, nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	return publisher, subscriber, nil
}
