package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
)

// Consumer reads session events published by other ledger instances so their
// commits reach live subscribers connected here.
type Consumer struct {
	consumer sarama.ConsumerGroup
	topics   []string
	origin   string
	log      *logger.Logger
}

func NewConsumer(brokers []string, groupID, topic, origin string, log *logger.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	consumer, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	log.LogKafka("SUBSCRIBED", topic, fmt.Sprintf("Consumer group %s joined", groupID))
	return &Consumer{
		consumer: consumer,
		topics:   []string{topic},
		origin:   origin,
		log:      log,
	}, nil
}

func (c *Consumer) ConsumeEvents(ctx context.Context, handler func(*models.SessionEvent) error) error {
	consumerHandler := &SessionEventHandler{Handler: handler, Origin: c.origin, Log: c.log}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.consumer.Consume(ctx, c.topics, consumerHandler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				c.log.Error("KAFKA", fmt.Sprintf("Error consuming messages: %v", err))
				return err
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}

// SessionEventHandler decodes session events and hands them to Handler,
// skipping events this instance published itself.
type SessionEventHandler struct {
	Handler func(*models.SessionEvent) error
	Origin  string
	Log     *logger.Logger
}

func (h *SessionEventHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *SessionEventHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *SessionEventHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var event models.SessionEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			h.Log.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal message at offset %d: %v", message.Offset, err))
			session.MarkMessage(message, "")
			continue
		}

		if h.Origin != "" && event.Origin == h.Origin {
			session.MarkMessage(message, "")
			continue
		}

		if err := h.Handler(&event); err != nil {
			h.Log.Error("KAFKA", fmt.Sprintf("Failed to handle %s for session %s: %v", event.Type, event.SessionID, err))
			continue
		}

		session.MarkMessage(message, "")
	}

	return nil
}
