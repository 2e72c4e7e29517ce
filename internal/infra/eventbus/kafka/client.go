package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/trace"

	"github.com/NIRALUser/clusterpost/pkg/common"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
)

// ClientConfig contains all configuration needed for Kafka client setup
type ClientConfig struct {
	Brokers  []string
	ClientID string
}

// NewClient creates a Kafka client configured for both producing and
// consuming lifecycle events.
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID

	// Consumer settings
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second

	// Producer settings
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Version = sarama.V3_6_0_0

	return sarama.NewClient(cfg.Brokers, config)
}

// ConnectEventBus dials Kafka and builds an EventBus, retrying while the
// brokers are unavailable. An empty GroupID yields a publish-only bus.
func ConnectEventBus(
	ctx context.Context,
	clientCfg *ClientConfig,
	busCfg *EventBusConfig,
	log *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	var bus *EventBus

	operation := func() error {
		client, err := NewClient(clientCfg)
		if err != nil {
			return fmt.Errorf("creating client: %w", err)
		}

		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			client.Close()
			return fmt.Errorf("creating producer: %w", err)
		}

		var group sarama.ConsumerGroup
		if busCfg.GroupID != "" {
			if group, err = sarama.NewConsumerGroupFromClient(busCfg.GroupID, client); err != nil {
				producer.Close()
				client.Close()
				return fmt.Errorf("creating consumer group: %w", err)
			}
		}

		bus, err = NewEventBus(producer, group, busCfg, log, metrics, tracer)
		if err != nil {
			producer.Close()
			if group != nil {
				group.Close()
			}
			client.Close()
			return fmt.Errorf("creating event bus: %w", err)
		}
		bus.client = client
		return nil
	}

	if err := common.RetryWithBackoff(ctx, log, "kafka_connect", common.DefaultConnectRetry, operation); err != nil {
		return nil, fmt.Errorf("failed to connect event bus after retries: %w", err)
	}
	return bus, nil
}
