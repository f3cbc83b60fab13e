package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/banking/sar-governance/internal/config"
	"github.com/banking/sar-governance/internal/domain"
)

// CaseEventPublisher writes case lifecycle events to Kafka, keyed by case id
// so the events of one case stay ordered within a partition
type CaseEventPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewCaseEventPublisher(cfg config.KafkaConfig) (*CaseEventPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return newCaseEventPublisher(producer, cfg.CaseEventsTopic), nil
}

func newCaseEventPublisher(producer sarama.SyncProducer, topic string) *CaseEventPublisher {
	return &CaseEventPublisher{producer: producer, topic: topic}
}

func producerConfig(cfg config.KafkaConfig) *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 5
	if cfg.EnableIdempotent {
		config.Producer.Idempotent = true
		config.Net.MaxOpenRequests = 1
	}
	return config
}

// PublishCaseEvent sends the event and waits for the broker acknowledgement
func (p *CaseEventPublisher) PublishCaseEvent(ctx context.Context, event domain.CaseEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal case event: %w", err)
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.CaseID.String()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish case event: %w", err)
	}
	return nil
}

func (p *CaseEventPublisher) Close() error {
	return p.producer.Close()
}
