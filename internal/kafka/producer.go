package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
)

type Producer struct {
	producer sarama.SyncProducer
	topic    string
	mockMode bool
	log      *logger.Logger
}

func NewProducer(brokers []string, topic string, mockMode bool, log *logger.Logger) (*Producer, error) {
	if mockMode {
		log.LogKafka("MOCK_MODE", topic, "Running in mock mode - no actual Kafka connection")
		return &Producer{topic: topic, mockMode: true, log: log}, nil
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	log.LogKafka("CONNECTED", topic, fmt.Sprintf("Connected to Kafka brokers: %v", brokers))
	return NewProducerFromSync(producer, topic, log), nil
}

// NewProducerFromSync wraps an existing sarama producer.
func NewProducerFromSync(producer sarama.SyncProducer, topic string, log *logger.Logger) *Producer {
	return &Producer{producer: producer, topic: topic, log: log}
}

// PublishSessionEvent sends event keyed by session id, so every event of a
// session lands on the same partition in commit order.
func (p *Producer) PublishSessionEvent(event *models.SessionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if p.mockMode {
		p.log.LogKafka("MOCK_PUBLISH", p.topic, fmt.Sprintf("Mock publishing event: %s for session: %s", event.Type, event.SessionID))
		return nil
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.SessionID),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.log.Error("KAFKA", fmt.Sprintf("Failed to send message to topic %s: %v", p.topic, err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.log.LogKafka("PUBLISHED", p.topic, fmt.Sprintf("%s sent to partition %d at offset %d for session %s",
		event.Type, partition, offset, event.SessionID))
	return nil
}

func (p *Producer) Close() error {
	if p.mockMode {
		p.log.LogKafka("MOCK_CLOSE", p.topic, "Mock producer closed")
		return nil
	}

	if p.producer != nil {
		p.log.LogKafka("CLOSING", p.topic, "Closing Kafka producer connection")
		return p.producer.Close()
	}
	return nil
}
